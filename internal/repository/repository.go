// Package repository defines the persistence contract of the ledger. Implementations must give
// Store.WithinTx full ACID semantics: either every write made through the Querier is committed,
// or none is.
package repository

import (
	"context"
	"time"

	"github.com/clearspend/backend/internal/models"
	"github.com/google/uuid"
)

// Querier is the set of reads and writes available inside and outside a transaction.
type Querier interface {
	// Ledger accounts and journal
	CreateLedgerAccount(ctx context.Context, la *models.LedgerAccount) error
	GetLedgerAccount(ctx context.Context, id uuid.UUID) (*models.LedgerAccount, error)
	FindLedgerAccount(ctx context.Context, t models.LedgerAccountType, currency models.Currency) (*models.LedgerAccount, error)
	CreateJournalEntry(ctx context.Context, je *models.JournalEntry) error
	GetJournalEntry(ctx context.Context, id uuid.UUID) (*models.JournalEntry, error)

	// Accounts
	CreateAccount(ctx context.Context, a *models.Account) error
	GetAccount(ctx context.Context, id uuid.UUID) (*models.Account, error)
	// LockAccount reads the account and holds a row lock on it until the transaction ends.
	LockAccount(ctx context.Context, id uuid.UUID) (*models.Account, error)
	FindAllocationAccount(ctx context.Context, businessID uuid.UUID, currency models.Currency, allocationID uuid.UUID) (*models.Account, error)
	ListBusinessAccounts(ctx context.Context, businessID uuid.UUID) ([]*models.Account, error)
	// UpdateAccountBalance writes the ledger balance if the stored version still matches and
	// increments the version. A stale version yields models.ErrOptimisticLock.
	UpdateAccountBalance(ctx context.Context, id uuid.UUID, balance models.Amount, version int) error

	// Holds
	CreateHold(ctx context.Context, h *models.Hold) error
	GetHold(ctx context.Context, id uuid.UUID) (*models.Hold, error)
	UpdateHoldStatus(ctx context.Context, id uuid.UUID, status models.HoldStatus) error
	// ListActiveHolds returns PLACED holds whose expiration date is after now.
	ListActiveHolds(ctx context.Context, accountID uuid.UUID, now time.Time) ([]models.Hold, error)

	// Adjustments and declines
	CreateAdjustment(ctx context.Context, adj *models.Adjustment) error
	GetAdjustment(ctx context.Context, id uuid.UUID) (*models.Adjustment, error)
	ListBusinessAdjustments(ctx context.Context, businessID uuid.UUID, types []models.AdjustmentType, after time.Time) ([]models.Adjustment, error)
	CreateDecline(ctx context.Context, d *models.Decline) error

	// Businesses and limits
	CreateBusiness(ctx context.Context, b *models.Business) error
	GetBusiness(ctx context.Context, id uuid.UUID) (*models.Business, error)
	LockBusiness(ctx context.Context, id uuid.UUID) (*models.Business, error)
	UpdateBusinessStatus(ctx context.Context, id uuid.UUID, status models.BusinessStatus) error
	// GetBusinessSettings returns nil settings and no error when the business has no limits.
	GetBusinessSettings(ctx context.Context, businessID uuid.UUID) (*models.BusinessSettings, error)
	ReplaceBusinessSettings(ctx context.Context, settings *models.BusinessSettings) error
}

// Store is a Querier that can also open a transaction.
type Store interface {
	Querier
	WithinTx(ctx context.Context, fn func(ctx context.Context, q Querier) error) error
	Ping(ctx context.Context) error
	Close() error
}
