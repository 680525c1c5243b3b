package services

import (
	"context"
	"fmt"

	"github.com/clearspend/backend/internal/audit"
	"github.com/clearspend/backend/internal/clock"
	"github.com/clearspend/backend/internal/models"
	"github.com/clearspend/backend/internal/repository"
	"github.com/clearspend/backend/internal/security"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// BusinessService is the caller-facing entry point for business status, limits and fund
// movements. Every method checks the caller's permissions before touching the store.
type BusinessService struct {
	store    repository.Store
	tx       txRunner
	accounts *AccountService
	clock    clock.Clock
	audit    *audit.Logger
	logger   *zap.Logger
}

func NewBusinessService(store repository.Store, publisher Publisher, accounts *AccountService, clk clock.Clock, auditLogger *audit.Logger, logger *zap.Logger) *BusinessService {
	return &BusinessService{
		store:    store,
		tx:       txRunner{store: store, publisher: publisher},
		accounts: accounts,
		clock:    clk,
		audit:    auditLogger,
		logger:   logger,
	}
}

type BusinessRecord struct {
	Business    *models.Business `json:"business"`
	RootAccount *models.Account  `json:"root_account"`
}

// CreateBusiness opens an ACTIVE business with the default limits and a root allocation account
// in its currency.
func (s *BusinessService) CreateBusiness(ctx context.Context, perms security.Permissions, legalName string, currency models.Currency) (*BusinessRecord, error) {
	if err := security.RequireGlobal(perms, security.GlobalApplication); err != nil {
		return nil, err
	}
	if legalName == "" || currency == "" {
		return nil, fmt.Errorf("%w: legal name and currency are required", models.ErrInvalidInput)
	}

	var record *BusinessRecord
	err := s.tx.run(ctx, func(ctx context.Context, tx *Tx) error {
		now := s.clock.Now()
		business := &models.Business{
			ID:        uuid.New(),
			LegalName: legalName,
			Currency:  currency,
			Status:    models.BusinessStatusActive,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := tx.CreateBusiness(ctx, business); err != nil {
			return err
		}
		if err := tx.ReplaceBusinessSettings(ctx, models.DefaultBusinessSettings(business.ID)); err != nil {
			return err
		}

		root, err := s.accounts.createAccount(ctx, tx, business.ID, models.AccountTypeAllocation, uuid.New(), uuid.NullUUID{}, currency)
		if err != nil {
			return err
		}

		record = &BusinessRecord{Business: business, RootAccount: root}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("business created",
		zap.String("business_id", record.Business.ID.String()),
		zap.String("currency", string(currency)))
	return record, nil
}

func (s *BusinessService) RetrieveBusiness(ctx context.Context, perms security.Permissions, businessID uuid.UUID) (*models.Business, error) {
	if err := security.Require(perms, businessID, security.PermissionRead); err != nil {
		return nil, err
	}
	return s.store.GetBusiness(ctx, businessID)
}

// UpdateBusinessStatus sets the status directly. Only the application may do this.
func (s *BusinessService) UpdateBusinessStatus(ctx context.Context, perms security.Permissions, businessID uuid.UUID, status models.BusinessStatus) (*models.Business, error) {
	if err := security.RequireGlobal(perms, security.GlobalApplication); err != nil {
		return nil, err
	}
	if !status.Valid() {
		return nil, fmt.Errorf("%w: unknown business status %q", models.ErrInvalidInput, status)
	}

	var business *models.Business
	err := s.tx.run(ctx, func(ctx context.Context, tx *Tx) error {
		var err error
		business, err = tx.LockBusiness(ctx, businessID)
		if err != nil {
			return err
		}
		if business.Status == status {
			return nil
		}
		if err := tx.UpdateBusinessStatus(ctx, businessID, status); err != nil {
			return err
		}
		from := business.Status
		tx.AfterCommit(func() {
			s.audit.LogOperation(audit.EventStatusChange, businessID, uuid.Nil, map[string]string{
				"from": string(from),
				"to":   string(status),
			})
		})
		business.Status = status
		return nil
	})
	return business, err
}

// RetrieveBusinessSettings returns the business's limits. A business without limits gets empty
// settings.
func (s *BusinessService) RetrieveBusinessSettings(ctx context.Context, perms security.Permissions, businessID uuid.UUID) (*models.BusinessSettings, error) {
	if err := security.Require(perms, businessID, security.PermissionRead); err != nil {
		return nil, err
	}
	if _, err := s.store.GetBusiness(ctx, businessID); err != nil {
		return nil, err
	}

	settings, err := s.store.GetBusinessSettings(ctx, businessID)
	if err != nil {
		return nil, err
	}
	if settings == nil {
		settings = models.BusinessSettingsFromRows(businessID, nil)
	}
	return settings, nil
}

// UpdateBusinessSettings replaces every limit of the business.
func (s *BusinessService) UpdateBusinessSettings(ctx context.Context, perms security.Permissions, settings *models.BusinessSettings) error {
	if err := security.Require(perms, settings.BusinessID, security.PermissionManageFunds); err != nil {
		return err
	}
	if err := validateSettings(settings); err != nil {
		return err
	}

	return s.tx.run(ctx, func(ctx context.Context, tx *Tx) error {
		if _, err := tx.LockBusiness(ctx, settings.BusinessID); err != nil {
			return err
		}
		if err := tx.ReplaceBusinessSettings(ctx, settings); err != nil {
			return err
		}
		tx.AfterCommit(func() {
			s.audit.LogOperation(audit.EventLimitsChange, settings.BusinessID, uuid.Nil, nil)
		})
		return nil
	})
}

// ReallocateBusinessFunds moves funds between two accounts of businessID.
func (s *BusinessService) ReallocateBusinessFunds(ctx context.Context, perms security.Permissions, businessID, fromAccountID, toAccountID uuid.UUID, amount models.Amount) (*AccountReallocateFundsRecord, error) {
	if err := security.Require(perms, businessID, security.PermissionManageFunds); err != nil {
		return nil, err
	}

	var record *AccountReallocateFundsRecord
	err := s.tx.run(ctx, func(ctx context.Context, tx *Tx) error {
		business, err := tx.GetBusiness(ctx, businessID)
		if err != nil {
			return err
		}
		if business.Status != models.BusinessStatusActive {
			return fmt.Errorf("%w: business %s is %s", models.ErrInvalidState, businessID, business.Status)
		}

		record, err = s.accounts.reallocateFunds(ctx, tx, businessID, fromAccountID, toAccountID, amount)
		return err
	})
	if err != nil {
		return nil, err
	}
	return record, nil
}

func (s *BusinessService) RetrieveBusinessAccounts(ctx context.Context, perms security.Permissions, businessID uuid.UUID) ([]*models.Account, error) {
	if err := security.Require(perms, businessID, security.PermissionRead); err != nil {
		return nil, err
	}
	return s.accounts.RetrieveBusinessAccounts(ctx, businessID, true)
}

func validateSettings(settings *models.BusinessSettings) error {
	if settings.BusinessID == uuid.Nil {
		return fmt.Errorf("%w: settings without business id", models.ErrInvalidInput)
	}
	for currency, byType := range settings.Limits {
		for limitType, byPeriod := range byType {
			if !limitType.Valid() {
				return fmt.Errorf("%w: unknown limit type %q", models.ErrInvalidInput, limitType)
			}
			for period, value := range byPeriod {
				if !period.Valid() {
					return fmt.Errorf("%w: unknown limit period %q", models.ErrInvalidInput, period)
				}
				if value.IsNegative() {
					return fmt.Errorf("%w: %s %s %s limit is negative", models.ErrInvalidAmount, currency, limitType, period)
				}
			}
		}
	}
	for currency, byType := range settings.OperationLimits {
		for limitType, byPeriod := range byType {
			if !limitType.Valid() {
				return fmt.Errorf("%w: unknown limit type %q", models.ErrInvalidInput, limitType)
			}
			for period, value := range byPeriod {
				if !period.Valid() {
					return fmt.Errorf("%w: unknown limit period %q", models.ErrInvalidInput, period)
				}
				if value < 0 {
					return fmt.Errorf("%w: %s %s %s operation limit is negative", models.ErrInvalidInput, currency, limitType, period)
				}
			}
		}
	}
	return nil
}
