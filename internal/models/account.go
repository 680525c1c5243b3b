package models

import (
	"time"

	"github.com/google/uuid"
)

// AccountType is the owner kind of a customer-facing account.
type AccountType string

const (
	AccountTypeAllocation AccountType = "ALLOCATION"
	AccountTypeCard       AccountType = "CARD"
)

// LedgerAccountType maps the account type onto its bookkeeping account type.
func (t AccountType) LedgerAccountType() LedgerAccountType {
	switch t {
	case AccountTypeCard:
		return LedgerAccountTypeCard
	default:
		return LedgerAccountTypeAllocation
	}
}

// Account is a customer-facing balance owned by one allocation or card.
type Account struct {
	ID              uuid.UUID     `json:"id" db:"id"`
	BusinessID      uuid.UUID     `json:"business_id" db:"business_id"`
	AllocationID    uuid.NullUUID `json:"allocation_id" db:"allocation_id"`
	CardID          uuid.NullUUID `json:"card_id" db:"card_id"`
	LedgerAccountID uuid.UUID     `json:"ledger_account_id" db:"ledger_account_id"`
	Type            AccountType   `json:"type" db:"type"`
	LedgerBalance   Amount        `json:"ledger_balance" db:"ledger_balance"`
	Version         int           `json:"version" db:"version"` // for optimistic locking
	CreatedAt       time.Time     `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at" db:"updated_at"`

	// Holds and AvailableBalance are only populated when holds were fetched.
	Holds            []Hold `json:"holds,omitempty"`
	AvailableBalance Amount `json:"available_balance"`
	holdsLoaded      bool
}

func (a *Account) Currency() Currency {
	return a.LedgerBalance.Currency
}

// SetHolds attaches the account's active holds and recomputes the available balance.
func (a *Account) SetHolds(holds []Hold) {
	a.Holds = holds
	a.holdsLoaded = true
	a.RecalculateAvailableBalance()
}

// HoldsLoaded reports whether SetHolds has been called.
func (a *Account) HoldsLoaded() bool {
	return a.holdsLoaded
}

// RecalculateAvailableBalance sets available = ledger + Σ placed holds. Without loaded holds the
// available balance mirrors the ledger balance.
func (a *Account) RecalculateAvailableBalance() {
	available := a.LedgerBalance
	for _, hold := range a.Holds {
		if hold.Status == HoldStatusPlaced {
			available = available.Add(hold.Amount)
		}
	}
	a.AvailableBalance = available
}

// HoldStatus is the lifecycle state of a hold. Expiry is applied at query time.
type HoldStatus string

const (
	HoldStatusPlaced   HoldStatus = "PLACED"
	HoldStatusReleased HoldStatus = "RELEASED"
)

// Hold restricts part of an account's funds until released or expired.
type Hold struct {
	ID             uuid.UUID  `json:"id" db:"id"`
	BusinessID     uuid.UUID  `json:"business_id" db:"business_id"`
	AccountID      uuid.UUID  `json:"account_id" db:"account_id"`
	Status         HoldStatus `json:"status" db:"status"`
	Amount         Amount     `json:"amount" db:"amount"`
	ExpirationDate time.Time  `json:"expiration_date" db:"expiration_date"`
	CreatedAt      time.Time  `json:"created_at" db:"created_at"`
}

// IsActive reports whether the hold still restricts funds at now.
func (h Hold) IsActive(now time.Time) bool {
	return h.Status == HoldStatusPlaced && h.ExpirationDate.After(now)
}
