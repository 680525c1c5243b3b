package services

import (
	"context"
	"time"

	"github.com/clearspend/backend/internal/clock"
	"github.com/clearspend/backend/internal/events"
	"github.com/clearspend/backend/internal/models"
	"github.com/clearspend/backend/internal/repository"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// AdjustmentService records the business-facing side of journal entries: one Adjustment per
// posting against a customer account.
type AdjustmentService struct {
	store  repository.Store
	ledger *LedgerService
	clock  clock.Clock
	logger *zap.Logger
}

func NewAdjustmentService(store repository.Store, ledger *LedgerService, clk clock.Clock, logger *zap.Logger) *AdjustmentService {
	return &AdjustmentService{store: store, ledger: ledger, clock: clk, logger: logger}
}

type ReallocateFundsRecord struct {
	JournalEntry   *models.JournalEntry
	FromAdjustment *models.Adjustment
	ToAdjustment   *models.Adjustment
}

// RecordDepositFunds books a bank deposit. A zero effectiveDate means now. The hold placed
// alongside a deposit restricts the funds; it does not move the effective date.
func (s *AdjustmentService) RecordDepositFunds(ctx context.Context, tx *Tx, account *models.Account, amount models.Amount, effectiveDate time.Time) (*models.Adjustment, error) {
	entry, err := s.ledger.RecordDepositFunds(ctx, tx, account.LedgerAccountID, amount)
	if err != nil {
		return nil, err
	}
	return s.persist(ctx, tx, account, entry.JournalEntry, entry.AccountPosting, models.AdjustmentTypeDeposit, effectiveDate)
}

func (s *AdjustmentService) RecordWithdrawFunds(ctx context.Context, tx *Tx, account *models.Account, amount models.Amount) (*models.Adjustment, error) {
	entry, err := s.ledger.RecordWithdrawFunds(ctx, tx, account.LedgerAccountID, amount)
	if err != nil {
		return nil, err
	}
	return s.persist(ctx, tx, account, entry.JournalEntry, entry.AccountPosting, models.AdjustmentTypeWithdraw, time.Time{})
}

// ReallocateFunds books one journal entry and an adjustment for each side.
func (s *AdjustmentService) ReallocateFunds(ctx context.Context, tx *Tx, from, to *models.Account, amount models.Amount) (*ReallocateFundsRecord, error) {
	entry, err := s.ledger.RecordReallocateFunds(ctx, tx, from.LedgerAccountID, to.LedgerAccountID, amount)
	if err != nil {
		return nil, err
	}

	fromAdjustment, err := s.persist(ctx, tx, from, entry.JournalEntry, entry.FromPosting, models.AdjustmentTypeReallocate, time.Time{})
	if err != nil {
		return nil, err
	}
	toAdjustment, err := s.persist(ctx, tx, to, entry.JournalEntry, entry.ToPosting, models.AdjustmentTypeReallocate, time.Time{})
	if err != nil {
		return nil, err
	}

	return &ReallocateFundsRecord{
		JournalEntry:   entry.JournalEntry,
		FromAdjustment: fromAdjustment,
		ToAdjustment:   toAdjustment,
	}, nil
}

// RecordNetworkAdjustment books a card network settlement. amount must be positive; the
// adjustment carries the signed amount posted to the account.
func (s *AdjustmentService) RecordNetworkAdjustment(ctx context.Context, tx *Tx, account *models.Account, creditOrDebit models.CreditOrDebit, amount models.Amount) (*models.Adjustment, error) {
	entry, err := s.ledger.RecordNetworkAdjustment(ctx, tx, account.LedgerAccountID, creditOrDebit, amount)
	if err != nil {
		return nil, err
	}
	return s.persist(ctx, tx, account, entry.JournalEntry, entry.AccountPosting, models.AdjustmentTypeNetwork, time.Time{})
}

func (s *AdjustmentService) RecordManualAdjustment(ctx context.Context, tx *Tx, account *models.Account, amount models.Amount) (*models.Adjustment, error) {
	entry, err := s.ledger.RecordManualAdjustment(ctx, tx, account.LedgerAccountID, amount)
	if err != nil {
		return nil, err
	}
	return s.persist(ctx, tx, account, entry.JournalEntry, entry.AccountPosting, models.AdjustmentTypeManual, time.Time{})
}

func (s *AdjustmentService) RecordApplyFee(ctx context.Context, tx *Tx, account *models.Account, amount models.Amount) (*models.Adjustment, error) {
	entry, err := s.ledger.RecordApplyFee(ctx, tx, account.LedgerAccountID, amount)
	if err != nil {
		return nil, err
	}
	return s.persist(ctx, tx, account, entry.JournalEntry, entry.AccountPosting, models.AdjustmentTypeFee, time.Time{})
}

func (s *AdjustmentService) RetrieveAdjustment(ctx context.Context, id uuid.UUID) (*models.Adjustment, error) {
	return s.store.GetAdjustment(ctx, id)
}

// RetrieveBusinessAdjustments returns adjustments of the given types effective after since.
func (s *AdjustmentService) RetrieveBusinessAdjustments(ctx context.Context, businessID uuid.UUID, types []models.AdjustmentType, since time.Time) ([]models.Adjustment, error) {
	return s.store.ListBusinessAdjustments(ctx, businessID, types, since)
}

func (s *AdjustmentService) persist(ctx context.Context, tx *Tx, account *models.Account, je *models.JournalEntry, posting models.Posting, adjustmentType models.AdjustmentType, effectiveDate time.Time) (*models.Adjustment, error) {
	now := s.clock.Now()
	if effectiveDate.IsZero() {
		effectiveDate = now
	}

	adj := &models.Adjustment{
		ID:              uuid.New(),
		BusinessID:      account.BusinessID,
		AllocationID:    account.AllocationID,
		AccountID:       account.ID,
		LedgerAccountID: account.LedgerAccountID,
		JournalEntryID:  je.ID,
		PostingID:       posting.ID,
		Type:            adjustmentType,
		EffectiveDate:   effectiveDate,
		Amount:          posting.Amount,
		CreatedAt:       now,
	}
	if err := tx.CreateAdjustment(ctx, adj); err != nil {
		return nil, err
	}

	tx.Emit(events.AdjustmentPersistedEvent{Adjustment: *adj})
	return adj, nil
}
