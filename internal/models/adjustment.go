package models

import (
	"time"

	"github.com/google/uuid"
)

type AdjustmentType string

const (
	AdjustmentTypeDeposit    AdjustmentType = "DEPOSIT"
	AdjustmentTypeWithdraw   AdjustmentType = "WITHDRAW"
	AdjustmentTypeReallocate AdjustmentType = "REALLOCATE"
	AdjustmentTypeManual     AdjustmentType = "MANUAL"
	AdjustmentTypeFee        AdjustmentType = "FEE"
	AdjustmentTypeNetwork    AdjustmentType = "NETWORK"
)

// Adjustment is the business-facing record of one posting against a customer account.
type Adjustment struct {
	ID              uuid.UUID      `json:"id" db:"id"`
	BusinessID      uuid.UUID      `json:"business_id" db:"business_id"`
	AllocationID    uuid.NullUUID  `json:"allocation_id" db:"allocation_id"`
	AccountID       uuid.UUID      `json:"account_id" db:"account_id"`
	LedgerAccountID uuid.UUID      `json:"ledger_account_id" db:"ledger_account_id"`
	JournalEntryID  uuid.UUID      `json:"journal_entry_id" db:"journal_entry_id"`
	PostingID       uuid.UUID      `json:"posting_id" db:"posting_id"`
	Type            AdjustmentType `json:"type" db:"type"`
	EffectiveDate   time.Time      `json:"effective_date" db:"effective_date"`
	Amount          Amount         `json:"amount"`
	CreatedAt       time.Time      `json:"created_at" db:"created_at"`
}

// Decline records a refused network authorization. It never moves money.
type Decline struct {
	ID         uuid.UUID     `json:"id" db:"id"`
	BusinessID uuid.UUID     `json:"business_id" db:"business_id"`
	AccountID  uuid.UUID     `json:"account_id" db:"account_id"`
	CardID     uuid.NullUUID `json:"card_id" db:"card_id"`
	Amount     Amount        `json:"amount"`
	Reasons    []string      `json:"reasons" db:"reasons"`
	CreatedAt  time.Time     `json:"created_at" db:"created_at"`
}

const (
	DeclineReasonInsufficientFunds = "INSUFFICIENT_FUNDS"
	DeclineReasonLimitExceeded     = "LIMIT_EXCEEDED"
	DeclineReasonBusinessSuspended = "BUSINESS_SUSPENDED"
	DeclineReasonInvalidCard       = "INVALID_CARD"
)
