package models

import (
	"time"

	"github.com/google/uuid"
)

// LedgerAccountType classifies internal bookkeeping accounts.
type LedgerAccountType string

const (
	LedgerAccountTypeBusiness   LedgerAccountType = "BUSINESS"
	LedgerAccountTypeAllocation LedgerAccountType = "ALLOCATION"
	LedgerAccountTypeCard       LedgerAccountType = "CARD"
	LedgerAccountTypeBank       LedgerAccountType = "BANK"
	LedgerAccountTypeNetwork    LedgerAccountType = "NETWORK"
	LedgerAccountTypeManual     LedgerAccountType = "MANUAL"
	LedgerAccountTypePlatform   LedgerAccountType = "PLATFORM"
)

// IsCreatable reports whether a new ledger account of this type may be created per owner.
// The remaining types are per-currency system singletons.
func (t LedgerAccountType) IsCreatable() bool {
	switch t {
	case LedgerAccountTypeBusiness, LedgerAccountTypeAllocation, LedgerAccountTypeCard:
		return true
	default:
		return false
	}
}

type LedgerAccount struct {
	ID        uuid.UUID         `json:"id" db:"id"`
	Type      LedgerAccountType `json:"type" db:"type"`
	Currency  Currency          `json:"currency" db:"currency"`
	CreatedAt time.Time         `json:"created_at" db:"created_at"`
}

// JournalEntry is an immutable, balanced set of postings.
type JournalEntry struct {
	ID        uuid.UUID `json:"id" db:"id"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	Postings  []Posting `json:"postings"`
}

// Posting is one leg of a journal entry.
type Posting struct {
	ID              uuid.UUID `json:"id" db:"id"`
	JournalEntryID  uuid.UUID `json:"journal_entry_id" db:"journal_entry_id"`
	LedgerAccountID uuid.UUID `json:"ledger_account_id" db:"ledger_account_id"`
	Amount          Amount    `json:"amount"`
	CreatedAt       time.Time `json:"created_at" db:"created_at"`
}

// CreditOrDebit describes the direction of a network movement from the account's side.
type CreditOrDebit string

const (
	Credit CreditOrDebit = "CREDIT"
	Debit  CreditOrDebit = "DEBIT"
)
