// Package audit records money movements and ledger state changes as structured audit events.
package audit

import (
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type EventType string

const (
	EventDeposit      EventType = "DEPOSIT"
	EventWithdraw     EventType = "WITHDRAW"
	EventReallocate   EventType = "REALLOCATE"
	EventFee          EventType = "FEE"
	EventManual       EventType = "MANUAL_ADJUSTMENT"
	EventNetwork      EventType = "NETWORK_ADJUSTMENT"
	EventHoldPlaced   EventType = "HOLD_PLACED"
	EventHoldReleased EventType = "HOLD_RELEASED"
	EventDecline      EventType = "DECLINE"
	EventStatusChange EventType = "BUSINESS_STATUS"
	EventLimitsChange EventType = "BUSINESS_LIMITS"
	EventError        EventType = "ERROR"
)

const (
	statusSuccess       = "SUCCESS"
	statusFailed        = "FAILED"
	auditLoggerName     = "audit"
	auditEventFieldName = "audit_event"
)

type Event struct {
	Timestamp      time.Time         `json:"timestamp"`
	EventType      EventType         `json:"event_type"`
	BusinessID     uuid.UUID         `json:"business_id"`
	AccountID      uuid.UUID         `json:"account_id,omitempty"`
	JournalEntryID uuid.UUID         `json:"journal_entry_id,omitempty"`
	Amount         string            `json:"amount,omitempty"`
	Status         string            `json:"status"`
	Details        map[string]string `json:"details,omitempty"`
}

type Logger struct {
	logger *zap.Logger
	now    func() time.Time
}

func NewLogger(logger *zap.Logger) *Logger {
	return &Logger{
		logger: logger.Named(auditLoggerName),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (a *Logger) LogMovement(eventType EventType, businessID, accountID, journalEntryID uuid.UUID, amount string, details map[string]string) {
	a.log(Event{
		EventType:      eventType,
		BusinessID:     businessID,
		AccountID:      accountID,
		JournalEntryID: journalEntryID,
		Amount:         amount,
		Status:         statusSuccess,
		Details:        details,
	})
}

func (a *Logger) LogOperation(eventType EventType, businessID, accountID uuid.UUID, details map[string]string) {
	a.log(Event{
		EventType:  eventType,
		BusinessID: businessID,
		AccountID:  accountID,
		Status:     statusSuccess,
		Details:    details,
	})
}

func (a *Logger) LogError(businessID, accountID uuid.UUID, operation string, err error) {
	a.log(Event{
		EventType:  EventError,
		BusinessID: businessID,
		AccountID:  accountID,
		Status:     statusFailed,
		Details:    map[string]string{"operation": operation, "error": err.Error()},
	})
}

func (a *Logger) log(event Event) {
	event.Timestamp = a.now()
	a.logger.Info("audit",
		zap.String("event_type", string(event.EventType)),
		zap.String("status", event.Status),
		zap.Any(auditEventFieldName, event),
	)
}
