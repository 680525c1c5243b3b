package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/clearspend/backend/internal/audit"
	"github.com/clearspend/backend/internal/clock"
	"github.com/clearspend/backend/internal/events"
	"github.com/clearspend/backend/internal/lock"
	"github.com/clearspend/backend/internal/models"
	"github.com/clearspend/backend/internal/repository"
	"github.com/clearspend/backend/internal/scheduler"
	"github.com/clearspend/backend/internal/security"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// CorrectionJobKind is the scheduler kind of deferred negative balance corrections. Jobs are
// keyed by business id.
const CorrectionJobKind = "negative-balance-correction"

type VerificationAction string

const (
	ActionNone                VerificationAction = "NONE"
	ActionSkipped             VerificationAction = "SKIPPED"
	ActionSuspended           VerificationAction = "SUSPENDED"
	ActionRestored            VerificationAction = "RESTORED"
	ActionCorrectionScheduled VerificationAction = "CORRECTION_SCHEDULED"
	ActionAlreadyScheduled    VerificationAction = "CORRECTION_ALREADY_SCHEDULED"
)

type VerificationResult struct {
	BusinessID     uuid.UUID             `json:"business_id"`
	Status         models.BusinessStatus `json:"status"`
	TotalAvailable models.Amount         `json:"total_available"`
	HasNegative    bool                  `json:"has_negative"`
	Action         VerificationAction    `json:"action"`
	ScheduledAt    *time.Time            `json:"scheduled_at,omitempty"`
}

type Transfer struct {
	FromAccountID uuid.UUID     `json:"from_account_id"`
	ToAccountID   uuid.UUID     `json:"to_account_id"`
	Amount        models.Amount `json:"amount"`
}

type CorrectionResult struct {
	BusinessID uuid.UUID  `json:"business_id"`
	Suspended  bool       `json:"suspended"`
	Transfers  []Transfer `json:"transfers"`
	Stalled    bool       `json:"stalled"`
}

type NegativeBalanceConfig struct {
	// Delay between detecting a recoverable negative balance and correcting it.
	Delay time.Duration
}

// NegativeBalanceService watches business totals. A business whose total available balance goes
// negative is suspended; one with a negative account but a healthy total gets a correction job
// that moves funds between its own accounts.
type NegativeBalanceService struct {
	tx        txRunner
	accounts  *AccountService
	scheduler scheduler.Scheduler
	locker    lock.Locker
	clock     clock.Clock
	audit     *audit.Logger
	logger    *zap.Logger
	cfg       NegativeBalanceConfig

	// transfer books one correction step.
	transfer func(ctx context.Context, tx *Tx, businessID, fromAccountID, toAccountID uuid.UUID, amount models.Amount) (*AccountReallocateFundsRecord, error)
}

func NewNegativeBalanceService(
	store repository.Store,
	publisher Publisher,
	accounts *AccountService,
	sched scheduler.Scheduler,
	locker lock.Locker,
	clk clock.Clock,
	auditLogger *audit.Logger,
	logger *zap.Logger,
	cfg NegativeBalanceConfig,
) *NegativeBalanceService {
	s := &NegativeBalanceService{
		tx:        txRunner{store: store, publisher: publisher},
		accounts:  accounts,
		scheduler: sched,
		locker:    locker,
		clock:     clk,
		audit:     auditLogger,
		logger:    logger.Named("negative-balance"),
		cfg:       cfg,
		transfer:  accounts.reallocateFunds,
	}
	sched.Handle(CorrectionJobKind, s.runCorrectionJob)
	return s
}

// HandleEvent is the post-commit subscriber. Failures are logged and never reach the caller whose
// transaction produced the event.
func (s *NegativeBalanceService) HandleEvent(ctx context.Context, e events.Event) {
	persisted, ok := e.(events.AdjustmentPersistedEvent)
	if !ok {
		return
	}
	adj := persisted.Adjustment
	if adj.Type == models.AdjustmentTypeReallocate || adj.EffectiveDate.After(s.clock.Now()) {
		return
	}

	result, err := s.VerifyBusinessNegativeBalance(ctx, security.Application(), adj.BusinessID)
	if err != nil {
		s.logger.Error("negative balance verification failed",
			zap.String("business_id", adj.BusinessID.String()),
			zap.String("adjustment_id", adj.ID.String()),
			zap.Error(err))
		return
	}
	if result.Action != ActionNone {
		s.logger.Info("negative balance verified",
			zap.String("business_id", adj.BusinessID.String()),
			zap.String("action", string(result.Action)))
	}
}

// VerifyBusinessNegativeBalance recomputes the business total and applies the status rules.
func (s *NegativeBalanceService) VerifyBusinessNegativeBalance(ctx context.Context, perms security.Permissions, businessID uuid.UUID) (*VerificationResult, error) {
	if err := security.RequireGlobal(perms, security.GlobalApplication); err != nil {
		return nil, err
	}

	var result *VerificationResult
	err := s.tx.run(ctx, func(ctx context.Context, tx *Tx) error {
		business, err := tx.LockBusiness(ctx, businessID)
		if err != nil {
			return err
		}
		accounts, err := s.businessAccounts(ctx, tx, business)
		if err != nil {
			return err
		}

		total, hasNegative := summarize(business.Currency, accounts)
		result = &VerificationResult{
			BusinessID:     businessID,
			Status:         business.Status,
			TotalAvailable: total,
			HasNegative:    hasNegative,
			Action:         ActionNone,
		}

		switch business.Status {
		case models.BusinessStatusActive:
			if !hasNegative {
				return nil
			}
			if total.IsNegative() {
				result.Action = ActionSuspended
				return s.setStatus(ctx, tx, business, models.BusinessStatusSuspendedExpenditure, result)
			}
			result.Action = ActionCorrectionScheduled
		case models.BusinessStatusSuspendedExpenditure:
			if total.IsNegative() || hasNegative {
				return nil
			}
			result.Action = ActionRestored
			return s.setStatus(ctx, tx, business, models.BusinessStatusActive, result)
		default:
			s.logger.Info("skipping negative balance verification",
				zap.String("business_id", businessID.String()),
				zap.String("status", string(business.Status)))
			result.Action = ActionSkipped
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	job := scheduler.Job{Kind: CorrectionJobKind, Key: businessID.String()}
	switch result.Action {
	case ActionRestored:
		if err := s.scheduler.Cancel(ctx, job); err != nil {
			return result, fmt.Errorf("cancel correction job: %w", err)
		}
	case ActionCorrectionScheduled:
		exists, err := s.scheduler.Exists(ctx, job)
		if err != nil {
			return result, fmt.Errorf("check correction job: %w", err)
		}
		if exists {
			result.Action = ActionAlreadyScheduled
			return result, nil
		}
		at := s.clock.Now().Add(s.cfg.Delay)
		if err := s.scheduler.ScheduleOnce(ctx, job, at); err != nil {
			return result, fmt.Errorf("schedule correction job: %w", err)
		}
		result.ScheduledAt = &at
		s.logger.Info("scheduled negative balance correction",
			zap.String("business_id", businessID.String()),
			zap.Time("at", at))
	}
	return result, nil
}

// CorrectNegativeBalances moves funds from the most positive accounts to the most negative ones
// until no account is negative. It only runs on ACTIVE businesses and suspends the business
// instead when the total is negative.
func (s *NegativeBalanceService) CorrectNegativeBalances(ctx context.Context, perms security.Permissions, businessID uuid.UUID) (*CorrectionResult, error) {
	if err := security.RequireGlobal(perms, security.GlobalApplication); err != nil {
		return nil, err
	}

	result := &CorrectionResult{BusinessID: businessID}
	err := s.locker.WithLock(ctx, "lock:negative-balance:"+businessID.String(), func(ctx context.Context) error {
		return s.tx.run(ctx, func(ctx context.Context, tx *Tx) error {
			return s.correct(ctx, tx, businessID, result)
		})
	})
	if err != nil {
		return nil, err
	}

	if result.Stalled {
		return result, fmt.Errorf("business %s: %w", businessID, models.ErrCorrectionStalled)
	}
	return result, nil
}

func (s *NegativeBalanceService) correct(ctx context.Context, tx *Tx, businessID uuid.UUID, result *CorrectionResult) error {
	business, err := tx.LockBusiness(ctx, businessID)
	if err != nil {
		return err
	}
	if business.Status != models.BusinessStatusActive {
		s.logger.Info("skipping correction of inactive business",
			zap.String("business_id", businessID.String()),
			zap.String("status", string(business.Status)))
		return nil
	}

	accounts, err := s.businessAccounts(ctx, tx, business)
	if err != nil {
		return err
	}
	total, hasNegative := summarize(business.Currency, accounts)
	if !hasNegative {
		return nil
	}
	if total.IsNegative() {
		result.Suspended = true
		return s.setStatus(ctx, tx, business, models.BusinessStatusSuspendedExpenditure, nil)
	}

	sort.SliceStable(accounts, func(i, j int) bool {
		return accounts[i].AvailableBalance.IsLessThan(accounts[j].AvailableBalance)
	})

	negativeIndex, positiveIndex := 0, len(accounts)-1
	for negativeIndex < positiveIndex && accounts[negativeIndex].AvailableBalance.IsNegative() {
		to, from := accounts[negativeIndex], accounts[positiveIndex]
		amount := from.AvailableBalance.Min(to.AvailableBalance.Abs())

		if amount.IsPositive() {
			record, err := s.transfer(ctx, tx, businessID, from.ID, to.ID, amount)
			if err != nil {
				return fmt.Errorf("reallocate %s from %s to %s: %w", amount, from.ID, to.ID, err)
			}
			accounts[positiveIndex] = record.FromAccount
			accounts[negativeIndex] = record.ToAccount
			result.Transfers = append(result.Transfers, Transfer{FromAccountID: from.ID, ToAccountID: to.ID, Amount: amount})
		}

		moved := false
		if accounts[positiveIndex].AvailableBalance.IsZero() {
			positiveIndex--
			moved = true
		}
		if !accounts[negativeIndex].AvailableBalance.IsNegative() {
			negativeIndex++
			moved = true
		}
		if !moved {
			s.logger.Error("negative balance correction made no progress",
				zap.String("business_id", businessID.String()),
				zap.Int("negative_index", negativeIndex),
				zap.Int("positive_index", positiveIndex),
				zap.String("negative_available", accounts[negativeIndex].AvailableBalance.String()),
				zap.String("positive_available", accounts[positiveIndex].AvailableBalance.String()))
			result.Stalled = true
			break
		}
	}
	return nil
}

func (s *NegativeBalanceService) runCorrectionJob(ctx context.Context, key string) error {
	businessID, err := uuid.Parse(key)
	if err != nil {
		return fmt.Errorf("correction job key %q: %w", key, err)
	}

	result, err := s.CorrectNegativeBalances(ctx, security.Application(), businessID)
	if err != nil {
		if errors.Is(err, models.ErrCorrectionStalled) {
			s.audit.LogError(businessID, uuid.Nil, "negative_balance_correction", err)
		}
		return err
	}
	s.logger.Info("negative balance correction finished",
		zap.String("business_id", businessID.String()),
		zap.Int("transfers", len(result.Transfers)),
		zap.Bool("suspended", result.Suspended))
	return nil
}

// businessAccounts returns the business's accounts in its own currency, with holds.
func (s *NegativeBalanceService) businessAccounts(ctx context.Context, tx *Tx, business *models.Business) ([]*models.Account, error) {
	all, err := s.accounts.retrieveBusinessAccounts(ctx, tx, business.ID, true)
	if err != nil {
		return nil, err
	}
	accounts := make([]*models.Account, 0, len(all))
	for _, a := range all {
		if a.Currency() == business.Currency {
			accounts = append(accounts, a)
		}
	}
	return accounts, nil
}

func (s *NegativeBalanceService) setStatus(ctx context.Context, tx *Tx, business *models.Business, status models.BusinessStatus, result *VerificationResult) error {
	if err := tx.UpdateBusinessStatus(ctx, business.ID, status); err != nil {
		return err
	}
	from := business.Status
	tx.AfterCommit(func() {
		s.audit.LogOperation(audit.EventStatusChange, business.ID, uuid.Nil, map[string]string{
			"from": string(from),
			"to":   string(status),
		})
	})
	business.Status = status
	if result != nil {
		result.Status = status
	}
	return nil
}

// summarize returns the total available balance and whether any account is negative.
func summarize(currency models.Currency, accounts []*models.Account) (models.Amount, bool) {
	total := models.ZeroAmount(currency)
	hasNegative := false
	for _, a := range accounts {
		total = total.Add(a.AvailableBalance)
		if a.AvailableBalance.IsNegative() {
			hasNegative = true
		}
	}
	return total, hasNegative
}
