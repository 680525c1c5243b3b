package models

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Sentinel errors. Typed errors below unwrap to one of these so callers can use errors.Is.
var (
	ErrRecordNotFound          = errors.New("record not found")
	ErrInsufficientFunds       = errors.New("insufficient funds")
	ErrLimitViolation          = errors.New("limit violation")
	ErrOperationLimitViolation = errors.New("operation limit violation")
	ErrIDMismatch              = errors.New("id mismatch")
	ErrInvalidAmount           = errors.New("invalid amount")
	ErrInvalidInput            = errors.New("invalid input")
	ErrInvalidState            = errors.New("invalid state")
	ErrOptimisticLock          = errors.New("optimistic lock failed")
	ErrForbidden               = errors.New("forbidden")
	ErrCorrectionStalled       = errors.New("negative balance correction stalled")
	ErrUnbalancedEntry         = errors.New("journal entry does not balance")
)

// Table names used in RecordNotFoundError.
type Table string

const (
	TableAccount       Table = "account"
	TableAdjustment    Table = "adjustment"
	TableBusiness      Table = "business"
	TableBusinessLimit Table = "business_limit"
	TableHold          Table = "hold"
	TableJournalEntry  Table = "journal_entry"
	TableLedgerAccount Table = "ledger_account"
	TableDecline       Table = "decline"
)

type RecordNotFoundError struct {
	Table Table
	Keys  []any
}

func NewRecordNotFound(table Table, keys ...any) *RecordNotFoundError {
	return &RecordNotFoundError{Table: table, Keys: keys}
}

func (e *RecordNotFoundError) Error() string {
	return fmt.Sprintf("%s %v: %s", e.Table, e.Keys, ErrRecordNotFound)
}

func (e *RecordNotFoundError) Unwrap() error { return ErrRecordNotFound }

type InsufficientFundsError struct {
	Owner          string
	OwnerID        uuid.UUID
	AdjustmentType AdjustmentType
	Amount         Amount
	Available      Amount
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("%s: %s %s requested %s for %s, available %s",
		ErrInsufficientFunds, e.Owner, e.OwnerID, e.Amount, e.AdjustmentType, e.Available)
}

func (e *InsufficientFundsError) Unwrap() error { return ErrInsufficientFunds }

// LimitViolationError is returned when cumulative usage in a period would exceed the cap.
type LimitViolationError struct {
	BusinessID uuid.UUID
	LimitType  LimitType
	Period     LimitPeriod
	Amount     Amount
	Exceeded   Amount
}

func (e *LimitViolationError) Error() string {
	return fmt.Sprintf("%s: business %s %s %s limit exceeded by %s (requested %s)",
		ErrLimitViolation, e.BusinessID, e.Period, e.LimitType, e.Exceeded, e.Amount)
}

func (e *LimitViolationError) Unwrap() error { return ErrLimitViolation }

// OperationLimitViolationError is returned when the number of operations in a period reached the cap.
type OperationLimitViolationError struct {
	BusinessID uuid.UUID
	LimitType  LimitType
	Period     LimitPeriod
	Limit      int
}

func (e *OperationLimitViolationError) Error() string {
	return fmt.Sprintf("%s: business %s reached %d %s operations per %s",
		ErrOperationLimitViolation, e.BusinessID, e.Limit, e.LimitType, e.Period)
}

func (e *OperationLimitViolationError) Unwrap() error { return ErrOperationLimitViolation }

type IDType string

const (
	IDTypeBusinessID IDType = "businessId"
	IDTypeAccountID  IDType = "accountId"
)

type IDMismatchError struct {
	IDType   IDType
	Expected uuid.UUID
	Actual   uuid.UUID
}

func (e *IDMismatchError) Error() string {
	return fmt.Sprintf("%s: %s expected %s, got %s", ErrIDMismatch, e.IDType, e.Expected, e.Actual)
}

func (e *IDMismatchError) Unwrap() error { return ErrIDMismatch }

// IsAdmissionError reports whether err was raised by an admission check before any ledger write.
func IsAdmissionError(err error) bool {
	return errors.Is(err, ErrInsufficientFunds) ||
		errors.Is(err, ErrLimitViolation) ||
		errors.Is(err, ErrOperationLimitViolation) ||
		errors.Is(err, ErrIDMismatch) ||
		errors.Is(err, ErrInvalidAmount)
}
