package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/clearspend/backend/internal/clock"
	"github.com/clearspend/backend/internal/models"
	"github.com/clearspend/backend/internal/repository"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// LedgerService writes balanced journal entries. Every method runs on the caller's querier so
// the entry commits or rolls back with the surrounding transaction.
type LedgerService struct {
	clock  clock.Clock
	logger *zap.Logger
}

func NewLedgerService(clk clock.Clock, logger *zap.Logger) *LedgerService {
	return &LedgerService{clock: clk, logger: logger}
}

// TwoLegEntry moves money between a customer ledger account and a system counter account.
type TwoLegEntry struct {
	JournalEntry   *models.JournalEntry
	AccountPosting models.Posting
	CounterPosting models.Posting
}

type ReallocationEntry struct {
	JournalEntry *models.JournalEntry
	FromPosting  models.Posting
	ToPosting    models.Posting
}

type leg struct {
	ledgerAccountID uuid.UUID
	amount          models.Amount
}

func (s *LedgerService) CreateLedgerAccount(ctx context.Context, q repository.Querier, t models.LedgerAccountType, currency models.Currency) (*models.LedgerAccount, error) {
	if !t.IsCreatable() {
		return nil, fmt.Errorf("%w: ledger account type %s cannot be created", models.ErrInvalidInput, t)
	}
	return s.insertLedgerAccount(ctx, q, t, currency)
}

// GetOrCreateLedgerAccount returns the system ledger account of type t for currency, creating it
// on first use.
func (s *LedgerService) GetOrCreateLedgerAccount(ctx context.Context, q repository.Querier, t models.LedgerAccountType, currency models.Currency) (*models.LedgerAccount, error) {
	la, err := q.FindLedgerAccount(ctx, t, currency)
	if err == nil {
		return la, nil
	}
	if !errors.Is(err, models.ErrRecordNotFound) {
		return nil, err
	}

	s.logger.Info("creating system ledger account", zap.String("type", string(t)), zap.String("currency", string(currency)))
	return s.insertLedgerAccount(ctx, q, t, currency)
}

func (s *LedgerService) insertLedgerAccount(ctx context.Context, q repository.Querier, t models.LedgerAccountType, currency models.Currency) (*models.LedgerAccount, error) {
	la := &models.LedgerAccount{
		ID:        uuid.New(),
		Type:      t,
		Currency:  currency,
		CreatedAt: s.clock.Now(),
	}
	if err := q.CreateLedgerAccount(ctx, la); err != nil {
		return nil, err
	}
	return la, nil
}

// RecordDepositFunds credits ledgerAccountID with amount against the BANK account.
func (s *LedgerService) RecordDepositFunds(ctx context.Context, q repository.Querier, ledgerAccountID uuid.UUID, amount models.Amount) (*TwoLegEntry, error) {
	return s.recordAgainst(ctx, q, models.LedgerAccountTypeBank, ledgerAccountID, amount)
}

// RecordWithdrawFunds is a deposit of the negated amount.
func (s *LedgerService) RecordWithdrawFunds(ctx context.Context, q repository.Querier, ledgerAccountID uuid.UUID, amount models.Amount) (*TwoLegEntry, error) {
	return s.RecordDepositFunds(ctx, q, ledgerAccountID, amount.Negate())
}

func (s *LedgerService) RecordReallocateFunds(ctx context.Context, q repository.Querier, fromLedgerAccountID, toLedgerAccountID uuid.UUID, amount models.Amount) (*ReallocationEntry, error) {
	je, err := s.saveJournalEntry(ctx, q,
		leg{fromLedgerAccountID, amount.Negate()},
		leg{toLedgerAccountID, amount},
	)
	if err != nil {
		return nil, err
	}
	return &ReallocationEntry{JournalEntry: je, FromPosting: je.Postings[0], ToPosting: je.Postings[1]}, nil
}

// RecordNetworkAdjustment posts amount, which must be positive, against the NETWORK account. A
// debit takes money from the account and a credit gives it back.
func (s *LedgerService) RecordNetworkAdjustment(ctx context.Context, q repository.Querier, ledgerAccountID uuid.UUID, creditOrDebit models.CreditOrDebit, amount models.Amount) (*TwoLegEntry, error) {
	if err := amount.EnsurePositive(); err != nil {
		return nil, err
	}

	switch creditOrDebit {
	case models.Debit:
		return s.recordAgainst(ctx, q, models.LedgerAccountTypeNetwork, ledgerAccountID, amount.Negate())
	case models.Credit:
		return s.recordAgainst(ctx, q, models.LedgerAccountTypeNetwork, ledgerAccountID, amount)
	default:
		return nil, fmt.Errorf("%w: unknown credit or debit %q", models.ErrInvalidInput, creditOrDebit)
	}
}

// RecordManualAdjustment posts a signed amount against the MANUAL account.
func (s *LedgerService) RecordManualAdjustment(ctx context.Context, q repository.Querier, ledgerAccountID uuid.UUID, amount models.Amount) (*TwoLegEntry, error) {
	return s.recordAgainst(ctx, q, models.LedgerAccountTypeManual, ledgerAccountID, amount)
}

// RecordApplyFee moves amount from the account to the PLATFORM account.
func (s *LedgerService) RecordApplyFee(ctx context.Context, q repository.Querier, ledgerAccountID uuid.UUID, amount models.Amount) (*TwoLegEntry, error) {
	return s.recordAgainst(ctx, q, models.LedgerAccountTypePlatform, ledgerAccountID, amount.Negate())
}

func (s *LedgerService) RetrieveJournalEntry(ctx context.Context, q repository.Querier, id uuid.UUID) (*models.JournalEntry, error) {
	return q.GetJournalEntry(ctx, id)
}

// recordAgainst posts accountAmount to ledgerAccountID and its negation to the system account.
func (s *LedgerService) recordAgainst(ctx context.Context, q repository.Querier, counter models.LedgerAccountType, ledgerAccountID uuid.UUID, accountAmount models.Amount) (*TwoLegEntry, error) {
	counterAccount, err := s.GetOrCreateLedgerAccount(ctx, q, counter, accountAmount.Currency)
	if err != nil {
		return nil, err
	}

	je, err := s.saveJournalEntry(ctx, q,
		leg{ledgerAccountID, accountAmount},
		leg{counterAccount.ID, accountAmount.Negate()},
	)
	if err != nil {
		return nil, err
	}
	return &TwoLegEntry{JournalEntry: je, AccountPosting: je.Postings[0], CounterPosting: je.Postings[1]}, nil
}

// saveJournalEntry checks that the legs balance and touch each ledger account once, then writes
// the entry with one posting per leg, in order.
func (s *LedgerService) saveJournalEntry(ctx context.Context, q repository.Querier, legs ...leg) (*models.JournalEntry, error) {
	if len(legs) < 2 {
		return nil, fmt.Errorf("%w: journal entry needs at least two postings", models.ErrUnbalancedEntry)
	}

	now := s.clock.Now()
	je := &models.JournalEntry{ID: uuid.New(), CreatedAt: now}
	currency := legs[0].amount.Currency
	seen := make(map[uuid.UUID]bool, len(legs))
	sum := decimal.Zero

	for _, l := range legs {
		if l.amount.Currency != currency {
			return nil, fmt.Errorf("%w: mixed currencies %s and %s", models.ErrInvalidInput, currency, l.amount.Currency)
		}
		if seen[l.ledgerAccountID] {
			return nil, fmt.Errorf("%w: ledger account %s posted twice", models.ErrInvalidInput, l.ledgerAccountID)
		}
		seen[l.ledgerAccountID] = true
		sum = sum.Add(l.amount.Amount)

		je.Postings = append(je.Postings, models.Posting{
			ID:              uuid.New(),
			JournalEntryID:  je.ID,
			LedgerAccountID: l.ledgerAccountID,
			Amount:          l.amount,
			CreatedAt:       now,
		})
	}

	if !sum.IsZero() {
		return nil, fmt.Errorf("%w: postings sum to %s", models.ErrUnbalancedEntry, sum)
	}

	if err := q.CreateJournalEntry(ctx, je); err != nil {
		return nil, fmt.Errorf("save journal entry: %w", err)
	}
	return je, nil
}
