package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/clearspend/backend/internal/audit"
	"github.com/clearspend/backend/internal/clock"
	"github.com/clearspend/backend/internal/events"
	"github.com/clearspend/backend/internal/lock"
	"github.com/clearspend/backend/internal/models"
	"github.com/clearspend/backend/internal/repository/memory"
	"github.com/clearspend/backend/internal/scheduler"
	"github.com/clearspend/backend/internal/security"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

var (
	testStart    = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	standardHold = 5 * 24 * time.Hour
	correctDelay = 7 * 24 * time.Hour
)

// syncPublisher records events and hands them to subscribers on the publishing goroutine.
type syncPublisher struct {
	mu       sync.Mutex
	events   []events.Event
	handlers []events.Handler
}

func (p *syncPublisher) Subscribe(h events.Handler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handlers = append(p.handlers, h)
}

func (p *syncPublisher) Publish(e events.Event) bool {
	p.mu.Lock()
	p.events = append(p.events, e)
	handlers := append([]events.Handler(nil), p.handlers...)
	p.mu.Unlock()

	for _, h := range handlers {
		h(context.Background(), e)
	}
	return true
}

func (p *syncPublisher) Published() []events.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]events.Event(nil), p.events...)
}

type harness struct {
	store     *memory.Store
	clock     *clock.Fixed
	publisher *syncPublisher
	jobs      *scheduler.Memory
	logs      *observer.ObservedLogs

	ledger      *LedgerService
	adjustments *AdjustmentService
	limits      *LimitService
	accounts    *AccountService
	businesses  *BusinessService
	negative    *NegativeBalanceService
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)
	logger := zap.New(core)
	h := &harness{
		logs:      logs,
		store:     memory.New(),
		clock:     clock.NewFixed(testStart),
		publisher: &syncPublisher{},
		jobs:      scheduler.NewMemory(logger),
	}
	auditLogger := audit.NewLogger(logger)

	h.ledger = NewLedgerService(h.clock, logger)
	h.adjustments = NewAdjustmentService(h.store, h.ledger, h.clock, logger)
	h.limits = NewLimitService(h.clock, logger)
	h.accounts = NewAccountService(h.store, h.publisher, h.adjustments, h.ledger, h.limits, h.clock, auditLogger, logger,
		AccountServiceConfig{StandardHold: standardHold})
	h.businesses = NewBusinessService(h.store, h.publisher, h.accounts, h.clock, auditLogger, logger)
	h.negative = NewNegativeBalanceService(h.store, h.publisher, h.accounts, h.jobs, lock.NewLocal(), h.clock, auditLogger, logger,
		NegativeBalanceConfig{Delay: correctDelay})
	return h
}

// auditEvents returns the audit records of the given type written so far.
func (h *harness) auditEvents(eventType audit.EventType) []audit.Event {
	var out []audit.Event
	for _, entry := range h.logs.FilterLoggerName("audit").All() {
		if e, ok := entry.ContextMap()["audit_event"].(audit.Event); ok && e.EventType == eventType {
			out = append(out, e)
		}
	}
	return out
}

// createBusiness opens an ACTIVE business with its root account and no velocity limits.
func (h *harness) createBusiness(t *testing.T, currency models.Currency) *BusinessRecord {
	t.Helper()
	record, err := h.businesses.CreateBusiness(context.Background(), security.Application(), "Acme Corp", currency)
	require.NoError(t, err)
	require.NoError(t, h.store.ReplaceBusinessSettings(context.Background(), &models.BusinessSettings{BusinessID: record.Business.ID}))
	return record
}

func (h *harness) newAccount(t *testing.T, businessID uuid.UUID, currency models.Currency) *models.Account {
	t.Helper()
	account, err := h.accounts.CreateAccount(context.Background(), businessID, models.AccountTypeAllocation, uuid.New(), uuid.NullUUID{}, currency)
	require.NoError(t, err)
	return account
}

// fund books a manual adjustment of amount whole units. Zero is a no-op.
func (h *harness) fund(t *testing.T, accountID uuid.UUID, currency models.Currency, amount int64) {
	t.Helper()
	if amount == 0 {
		return
	}
	_, err := h.accounts.RecordManualAdjustment(context.Background(), accountID, models.AmountOf(currency, amount))
	require.NoError(t, err)
}

func (h *harness) available(t *testing.T, accountID uuid.UUID) models.Amount {
	t.Helper()
	account, err := h.accounts.RetrieveAccount(context.Background(), accountID, true)
	require.NoError(t, err)
	return account.AvailableBalance
}

func (h *harness) businessStatus(t *testing.T, businessID uuid.UUID) models.BusinessStatus {
	t.Helper()
	business, err := h.store.GetBusiness(context.Background(), businessID)
	require.NoError(t, err)
	return business.Status
}

// assertLedgerBalanced checks every committed journal entry sums to zero and that each account's
// ledger balance equals the sum of its adjustments.
func (h *harness) assertLedgerBalanced(t *testing.T, businessID uuid.UUID) {
	t.Helper()
	for _, je := range h.store.JournalEntries() {
		sum := decimal.Zero
		for _, p := range je.Postings {
			sum = sum.Add(p.Amount.Amount)
		}
		assert.True(t, sum.IsZero(), "journal entry %s sums to %s", je.ID, sum)
	}

	accounts, err := h.store.ListBusinessAccounts(context.Background(), businessID)
	require.NoError(t, err)
	for _, account := range accounts {
		sum := decimal.Zero
		for _, adj := range h.store.AccountAdjustments(account.ID) {
			sum = sum.Add(adj.Amount.Amount)
		}
		assert.True(t, sum.Equal(account.LedgerBalance.Amount),
			"account %s ledger %s, adjustments %s", account.ID, account.LedgerBalance, sum)
	}
}

func usd(amount int64) models.Amount {
	return models.AmountOf(models.CurrencyUSD, amount)
}

func assertAmount(t *testing.T, want, got models.Amount) {
	t.Helper()
	assert.True(t, want.Equal(got), "want %s, got %s", want, got)
}
