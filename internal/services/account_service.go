package services

import (
	"context"
	"fmt"
	"time"

	"github.com/clearspend/backend/internal/audit"
	"github.com/clearspend/backend/internal/clock"
	"github.com/clearspend/backend/internal/events"
	"github.com/clearspend/backend/internal/models"
	"github.com/clearspend/backend/internal/repository"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// AccountService owns customer account balances and holds. Each public method is one store
// transaction: accounts are read under a row lock, checked, and written back with a version check.
// Callers are other services, which check permissions themselves.
type AccountService struct {
	store        repository.Store
	tx           txRunner
	adjustments  *AdjustmentService
	ledger       *LedgerService
	limits       *LimitService
	clock        clock.Clock
	audit        *audit.Logger
	logger       *zap.Logger
	standardHold time.Duration
}

type AccountServiceConfig struct {
	StandardHold time.Duration
}

func NewAccountService(
	store repository.Store,
	publisher Publisher,
	adjustments *AdjustmentService,
	ledger *LedgerService,
	limits *LimitService,
	clk clock.Clock,
	auditLogger *audit.Logger,
	logger *zap.Logger,
	cfg AccountServiceConfig,
) *AccountService {
	return &AccountService{
		store:        store,
		tx:           txRunner{store: store, publisher: publisher},
		adjustments:  adjustments,
		ledger:       ledger,
		limits:       limits,
		clock:        clk,
		audit:        auditLogger,
		logger:       logger,
		standardHold: cfg.StandardHold,
	}
}

type AdjustmentRecord struct {
	Account    *models.Account
	Adjustment *models.Adjustment
}

type AdjustmentAndHoldRecord struct {
	Account    *models.Account
	Adjustment *models.Adjustment
	Hold       *models.Hold
}

type HoldRecord struct {
	Account *models.Account
	Hold    *models.Hold
}

type AccountReallocateFundsRecord struct {
	FromAccount           *models.Account
	ToAccount             *models.Account
	ReallocateFundsRecord *ReallocateFundsRecord
}

// CreateAccount opens a zero-balance account backed by a new ledger account. Card accounts carry
// the card id and the allocation they belong to.
func (s *AccountService) CreateAccount(ctx context.Context, businessID uuid.UUID, accountType models.AccountType, allocationID uuid.UUID, cardID uuid.NullUUID, currency models.Currency) (*models.Account, error) {
	var account *models.Account
	err := s.tx.run(ctx, func(ctx context.Context, tx *Tx) error {
		var err error
		account, err = s.createAccount(ctx, tx, businessID, accountType, allocationID, cardID, currency)
		return err
	})
	return account, err
}

func (s *AccountService) createAccount(ctx context.Context, tx *Tx, businessID uuid.UUID, accountType models.AccountType, allocationID uuid.UUID, cardID uuid.NullUUID, currency models.Currency) (*models.Account, error) {
	if accountType == models.AccountTypeCard && !cardID.Valid {
		return nil, fmt.Errorf("%w: card account requires a card id", models.ErrInvalidInput)
	}

	ledgerAccount, err := s.ledger.CreateLedgerAccount(ctx, tx, accountType.LedgerAccountType(), currency)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	account := &models.Account{
		ID:              uuid.New(),
		BusinessID:      businessID,
		AllocationID:    uuid.NullUUID{UUID: allocationID, Valid: allocationID != uuid.Nil},
		CardID:          cardID,
		LedgerAccountID: ledgerAccount.ID,
		Type:            accountType,
		LedgerBalance:   models.ZeroAmount(currency),
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := tx.CreateAccount(ctx, account); err != nil {
		return nil, err
	}
	account.SetHolds(nil)
	return account, nil
}

// DepositFunds books a bank deposit and places a hold for the deposited amount. A standard hold
// restricts the funds for the configured period; otherwise the hold expires immediately.
func (s *AccountService) DepositFunds(ctx context.Context, businessID, accountID uuid.UUID, amount models.Amount, standardHold bool) (*AdjustmentAndHoldRecord, error) {
	if err := amount.EnsureNonNegative(); err != nil {
		return nil, err
	}

	var record *AdjustmentAndHoldRecord
	err := s.tx.run(ctx, func(ctx context.Context, tx *Tx) error {
		account, err := s.lockBusinessAccount(ctx, tx, businessID, accountID, amount)
		if err != nil {
			return err
		}

		if err := s.limits.EnsureWithinDepositLimit(ctx, tx, businessID, amount); err != nil {
			return err
		}

		now := s.clock.Now()
		expiration := now
		if standardHold {
			expiration = now.Add(s.standardHold)
		}

		adjustment, err := s.adjustments.RecordDepositFunds(ctx, tx, account, amount, now)
		if err != nil {
			return err
		}
		if err := s.applyToBalance(ctx, tx, account, adjustment.Amount); err != nil {
			return err
		}

		hold, err := s.placeHold(ctx, tx, account, amount.Negate(), expiration)
		if err != nil {
			return err
		}
		if err := s.loadHolds(ctx, tx, account); err != nil {
			return err
		}

		tx.AfterCommit(func() {
			s.audit.LogMovement(audit.EventDeposit, businessID, account.ID, adjustment.JournalEntryID, amount.String(), nil)
		})
		record = &AdjustmentAndHoldRecord{Account: account, Adjustment: adjustment, Hold: hold}
		return nil
	})
	return record, err
}

// WithdrawFunds books a bank withdrawal. The available balance must cover the amount.
func (s *AccountService) WithdrawFunds(ctx context.Context, businessID, accountID uuid.UUID, amount models.Amount) (*AdjustmentAndHoldRecord, error) {
	if err := amount.EnsureNonNegative(); err != nil {
		return nil, err
	}

	var record *AdjustmentAndHoldRecord
	err := s.tx.run(ctx, func(ctx context.Context, tx *Tx) error {
		account, err := s.lockBusinessAccount(ctx, tx, businessID, accountID, amount)
		if err != nil {
			return err
		}
		if err := s.loadHolds(ctx, tx, account); err != nil {
			return err
		}

		if account.AvailableBalance.IsLessThan(amount) {
			return &models.InsufficientFundsError{
				Owner:          "Account",
				OwnerID:        account.ID,
				AdjustmentType: models.AdjustmentTypeWithdraw,
				Amount:         amount,
				Available:      account.AvailableBalance,
			}
		}

		if err := s.limits.EnsureWithinWithdrawLimit(ctx, tx, businessID, amount); err != nil {
			return err
		}

		adjustment, err := s.adjustments.RecordWithdrawFunds(ctx, tx, account, amount)
		if err != nil {
			return err
		}
		if err := s.applyToBalance(ctx, tx, account, adjustment.Amount); err != nil {
			return err
		}

		tx.AfterCommit(func() {
			s.audit.LogMovement(audit.EventWithdraw, businessID, account.ID, adjustment.JournalEntryID, amount.String(), nil)
		})
		record = &AdjustmentAndHoldRecord{Account: account, Adjustment: adjustment}
		return nil
	})
	return record, err
}

// ReallocateFunds moves amount between two accounts of the same business in one journal entry.
func (s *AccountService) ReallocateFunds(ctx context.Context, fromAccountID, toAccountID uuid.UUID, amount models.Amount) (*AccountReallocateFundsRecord, error) {
	var record *AccountReallocateFundsRecord
	err := s.tx.run(ctx, func(ctx context.Context, tx *Tx) error {
		var err error
		record, err = s.reallocateFunds(ctx, tx, uuid.Nil, fromAccountID, toAccountID, amount)
		return err
	})
	return record, err
}

// reallocateFunds checks ownership, currency and funds before anything is booked. A non-nil
// businessID requires both accounts to belong to it.
func (s *AccountService) reallocateFunds(ctx context.Context, tx *Tx, businessID, fromAccountID, toAccountID uuid.UUID, amount models.Amount) (*AccountReallocateFundsRecord, error) {
	if err := amount.EnsureNonNegative(); err != nil {
		return nil, err
	}
	if fromAccountID == toAccountID {
		return nil, fmt.Errorf("%w: fromAccountId equals toAccountId: %s", models.ErrInvalidInput, fromAccountID)
	}

	// Lock accounts in consistent order to prevent deadlocks
	firstID, secondID := fromAccountID, toAccountID
	if firstID.String() > secondID.String() {
		firstID, secondID = secondID, firstID
	}
	first, err := tx.LockAccount(ctx, firstID)
	if err != nil {
		return nil, err
	}
	second, err := tx.LockAccount(ctx, secondID)
	if err != nil {
		return nil, err
	}
	from, to := first, second
	if firstID != fromAccountID {
		from, to = second, first
	}

	if businessID != uuid.Nil && from.BusinessID != businessID {
		return nil, &models.IDMismatchError{IDType: models.IDTypeBusinessID, Expected: businessID, Actual: from.BusinessID}
	}
	if from.BusinessID != to.BusinessID {
		return nil, &models.IDMismatchError{IDType: models.IDTypeBusinessID, Expected: from.BusinessID, Actual: to.BusinessID}
	}
	if from.Currency() != amount.Currency || to.Currency() != amount.Currency {
		return nil, fmt.Errorf("%w: cannot move %s between %s and %s accounts",
			models.ErrInvalidInput, amount, from.Currency(), to.Currency())
	}

	if err := s.loadHolds(ctx, tx, from); err != nil {
		return nil, err
	}
	if err := s.loadHolds(ctx, tx, to); err != nil {
		return nil, err
	}
	if from.AvailableBalance.IsLessThan(amount) {
		return nil, &models.InsufficientFundsError{
			Owner:          "Account",
			OwnerID:        from.ID,
			AdjustmentType: models.AdjustmentTypeReallocate,
			Amount:         amount,
			Available:      from.AvailableBalance,
		}
	}

	reallocation, err := s.adjustments.ReallocateFunds(ctx, tx, from, to, amount)
	if err != nil {
		return nil, err
	}
	if err := s.applyToBalance(ctx, tx, from, reallocation.FromAdjustment.Amount); err != nil {
		return nil, err
	}
	if err := s.applyToBalance(ctx, tx, to, reallocation.ToAdjustment.Amount); err != nil {
		return nil, err
	}

	tx.AfterCommit(func() {
		s.audit.LogMovement(audit.EventReallocate, from.BusinessID, from.ID, reallocation.JournalEntry.ID, amount.String(),
			map[string]string{"to_account": to.ID.String()})
	})
	return &AccountReallocateFundsRecord{FromAccount: from, ToAccount: to, ReallocateFundsRecord: reallocation}, nil
}

// ApplyFee debits the account by amount whatever its available balance.
func (s *AccountService) ApplyFee(ctx context.Context, accountID uuid.UUID, amount models.Amount) (*AdjustmentRecord, error) {
	if err := amount.EnsureNonNegative(); err != nil {
		return nil, err
	}

	var record *AdjustmentRecord
	err := s.tx.run(ctx, func(ctx context.Context, tx *Tx) error {
		account, err := s.lockAccount(ctx, tx, accountID, amount)
		if err != nil {
			return err
		}

		adjustment, err := s.adjustments.RecordApplyFee(ctx, tx, account, amount)
		if err != nil {
			return err
		}
		if err := s.applyToBalance(ctx, tx, account, adjustment.Amount); err != nil {
			return err
		}
		if err := s.loadHolds(ctx, tx, account); err != nil {
			return err
		}

		tx.AfterCommit(func() {
			s.audit.LogMovement(audit.EventFee, account.BusinessID, account.ID, adjustment.JournalEntryID, amount.String(), nil)
		})
		record = &AdjustmentRecord{Account: account, Adjustment: adjustment}
		return nil
	})
	return record, err
}

// RecordNetworkHold restricts funds for a card authorization. amount must be negative.
func (s *AccountService) RecordNetworkHold(ctx context.Context, accountID uuid.UUID, amount models.Amount, expirationDate time.Time) (*HoldRecord, error) {
	if err := amount.EnsureNegative(); err != nil {
		return nil, err
	}

	var record *HoldRecord
	err := s.tx.run(ctx, func(ctx context.Context, tx *Tx) error {
		account, err := s.lockAccount(ctx, tx, accountID, amount)
		if err != nil {
			return err
		}

		hold, err := s.placeHold(ctx, tx, account, amount, expirationDate)
		if err != nil {
			return err
		}
		if err := s.loadHolds(ctx, tx, account); err != nil {
			return err
		}

		record = &HoldRecord{Account: account, Hold: hold}
		return nil
	})
	return record, err
}

// RecordNetworkAdjustment books a card network settlement of a signed amount: negative amounts
// debit the account, positive amounts credit it. A valid allocationID is recorded on the
// adjustment in place of the account's own allocation.
func (s *AccountService) RecordNetworkAdjustment(ctx context.Context, allocationID uuid.NullUUID, accountID uuid.UUID, amount models.Amount) (*AdjustmentRecord, error) {
	creditOrDebit := models.Credit
	if amount.IsNegative() {
		creditOrDebit = models.Debit
	}
	if err := amount.Abs().EnsurePositive(); err != nil {
		return nil, err
	}

	var record *AdjustmentRecord
	err := s.tx.run(ctx, func(ctx context.Context, tx *Tx) error {
		account, err := s.lockAccount(ctx, tx, accountID, amount)
		if err != nil {
			return err
		}

		adjusted := *account
		if allocationID.Valid {
			adjusted.AllocationID = allocationID
		}
		adjustment, err := s.adjustments.RecordNetworkAdjustment(ctx, tx, &adjusted, creditOrDebit, amount.Abs())
		if err != nil {
			return err
		}
		if err := s.applyToBalance(ctx, tx, account, adjustment.Amount); err != nil {
			return err
		}
		if err := s.loadHolds(ctx, tx, account); err != nil {
			return err
		}

		tx.AfterCommit(func() {
			s.audit.LogMovement(audit.EventNetwork, account.BusinessID, account.ID, adjustment.JournalEntryID, adjustment.Amount.String(),
				map[string]string{"credit_or_debit": string(creditOrDebit)})
		})
		record = &AdjustmentRecord{Account: account, Adjustment: adjustment}
		return nil
	})
	return record, err
}

// RecordNetworkDecline stores a refused authorization. No balance changes.
func (s *AccountService) RecordNetworkDecline(ctx context.Context, accountID uuid.UUID, cardID uuid.NullUUID, amount models.Amount, reasons []string) (*models.Decline, error) {
	var decline *models.Decline
	err := s.tx.run(ctx, func(ctx context.Context, tx *Tx) error {
		account, err := tx.GetAccount(ctx, accountID)
		if err != nil {
			return err
		}

		decline = &models.Decline{
			ID:         uuid.New(),
			BusinessID: account.BusinessID,
			AccountID:  account.ID,
			CardID:     cardID,
			Amount:     amount,
			Reasons:    reasons,
			CreatedAt:  s.clock.Now(),
		}
		if err := tx.CreateDecline(ctx, decline); err != nil {
			return err
		}

		tx.AfterCommit(func() {
			s.audit.LogOperation(audit.EventDecline, account.BusinessID, account.ID, map[string]string{"amount": amount.String()})
		})
		return nil
	})
	return decline, err
}

// RecordManualAdjustment books a signed support correction against the MANUAL account and returns
// the account with its available balance recalculated.
func (s *AccountService) RecordManualAdjustment(ctx context.Context, accountID uuid.UUID, amount models.Amount) (*AdjustmentRecord, error) {
	if amount.IsZero() {
		return nil, fmt.Errorf("%w: manual adjustment of zero", models.ErrInvalidAmount)
	}

	var record *AdjustmentRecord
	err := s.tx.run(ctx, func(ctx context.Context, tx *Tx) error {
		account, err := s.lockAccount(ctx, tx, accountID, amount)
		if err != nil {
			return err
		}

		adjustment, err := s.adjustments.RecordManualAdjustment(ctx, tx, account, amount)
		if err != nil {
			return err
		}
		if err := s.applyToBalance(ctx, tx, account, adjustment.Amount); err != nil {
			return err
		}
		if err := s.loadHolds(ctx, tx, account); err != nil {
			return err
		}

		tx.AfterCommit(func() {
			s.audit.LogMovement(audit.EventManual, account.BusinessID, account.ID, adjustment.JournalEntryID, amount.String(), nil)
		})
		record = &AdjustmentRecord{Account: account, Adjustment: adjustment}
		return nil
	})
	return record, err
}

// ReleaseHold moves a PLACED hold to RELEASED. Released holds cannot be released again.
func (s *AccountService) ReleaseHold(ctx context.Context, holdID uuid.UUID) (*HoldRecord, error) {
	var record *HoldRecord
	err := s.tx.run(ctx, func(ctx context.Context, tx *Tx) error {
		placed, err := tx.GetHold(ctx, holdID)
		if err != nil {
			return err
		}
		account, err := tx.LockAccount(ctx, placed.AccountID)
		if err != nil {
			return err
		}
		// Status is only trusted once the account row is locked.
		hold, err := tx.GetHold(ctx, holdID)
		if err != nil {
			return err
		}
		if hold.Status != models.HoldStatusPlaced {
			return fmt.Errorf("%w: hold %s is %s", models.ErrInvalidState, hold.ID, hold.Status)
		}

		if err := tx.UpdateHoldStatus(ctx, hold.ID, models.HoldStatusReleased); err != nil {
			return err
		}
		hold.Status = models.HoldStatusReleased
		if err := s.loadHolds(ctx, tx, account); err != nil {
			return err
		}

		tx.AfterCommit(func() {
			s.audit.LogOperation(audit.EventHoldReleased, hold.BusinessID, account.ID, map[string]string{"hold_id": hold.ID.String()})
		})
		record = &HoldRecord{Account: account, Hold: hold}
		return nil
	})
	return record, err
}

func (s *AccountService) RetrieveAccount(ctx context.Context, accountID uuid.UUID, fetchHolds bool) (*models.Account, error) {
	account, err := s.store.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if fetchHolds {
		if err := s.loadHolds(ctx, s.store, account); err != nil {
			return nil, err
		}
	}
	return account, nil
}

func (s *AccountService) RetrieveAllocationAccount(ctx context.Context, businessID uuid.UUID, currency models.Currency, allocationID uuid.UUID, fetchHolds bool) (*models.Account, error) {
	account, err := s.store.FindAllocationAccount(ctx, businessID, currency, allocationID)
	if err != nil {
		return nil, err
	}
	if fetchHolds {
		if err := s.loadHolds(ctx, s.store, account); err != nil {
			return nil, err
		}
	}
	return account, nil
}

func (s *AccountService) RetrieveBusinessAccounts(ctx context.Context, businessID uuid.UUID, fetchHolds bool) ([]*models.Account, error) {
	return s.retrieveBusinessAccounts(ctx, s.store, businessID, fetchHolds)
}

func (s *AccountService) retrieveBusinessAccounts(ctx context.Context, q repository.Querier, businessID uuid.UUID, fetchHolds bool) ([]*models.Account, error) {
	accounts, err := q.ListBusinessAccounts(ctx, businessID)
	if err != nil {
		return nil, err
	}
	if fetchHolds {
		for _, account := range accounts {
			if err := s.loadHolds(ctx, q, account); err != nil {
				return nil, err
			}
		}
	}
	return accounts, nil
}

// lockAccount locks the account and checks that amount is in its currency.
func (s *AccountService) lockAccount(ctx context.Context, tx *Tx, accountID uuid.UUID, amount models.Amount) (*models.Account, error) {
	account, err := tx.LockAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if account.Currency() != amount.Currency {
		return nil, fmt.Errorf("%w: %s account %s cannot take %s", models.ErrInvalidInput, account.Currency(), account.ID, amount)
	}
	return account, nil
}

func (s *AccountService) lockBusinessAccount(ctx context.Context, tx *Tx, businessID, accountID uuid.UUID, amount models.Amount) (*models.Account, error) {
	account, err := s.lockAccount(ctx, tx, accountID, amount)
	if err != nil {
		return nil, err
	}
	if account.BusinessID != businessID {
		return nil, &models.IDMismatchError{IDType: models.IDTypeBusinessID, Expected: businessID, Actual: account.BusinessID}
	}
	return account, nil
}

// applyToBalance adds delta to the ledger balance and persists it against the version read.
func (s *AccountService) applyToBalance(ctx context.Context, tx *Tx, account *models.Account, delta models.Amount) error {
	balance := account.LedgerBalance.Add(delta)
	if err := tx.UpdateAccountBalance(ctx, account.ID, balance, account.Version); err != nil {
		return err
	}
	account.LedgerBalance = balance
	account.Version++
	account.RecalculateAvailableBalance()
	return nil
}

func (s *AccountService) placeHold(ctx context.Context, tx *Tx, account *models.Account, amount models.Amount, expirationDate time.Time) (*models.Hold, error) {
	hold := &models.Hold{
		ID:             uuid.New(),
		BusinessID:     account.BusinessID,
		AccountID:      account.ID,
		Status:         models.HoldStatusPlaced,
		Amount:         amount,
		ExpirationDate: expirationDate,
		CreatedAt:      s.clock.Now(),
	}
	if err := tx.CreateHold(ctx, hold); err != nil {
		return nil, err
	}

	tx.Emit(events.HoldCreatedEvent{BusinessID: account.BusinessID, AccountID: account.ID, HoldID: hold.ID})
	tx.AfterCommit(func() {
		s.audit.LogOperation(audit.EventHoldPlaced, account.BusinessID, account.ID, map[string]string{
			"hold_id":    hold.ID.String(),
			"amount":     amount.String(),
			"expiration": expirationDate.Format(time.RFC3339),
		})
	})
	return hold, nil
}

// loadHolds attaches the holds active now and recomputes the available balance.
func (s *AccountService) loadHolds(ctx context.Context, q repository.Querier, account *models.Account) error {
	holds, err := q.ListActiveHolds(ctx, account.ID, s.clock.Now())
	if err != nil {
		return fmt.Errorf("load holds for account %s: %w", account.ID, err)
	}
	account.SetHolds(holds)
	return nil
}
