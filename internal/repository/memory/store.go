// Package memory is an in-process implementation of repository.Store. Transactions run against a
// copy of the state that replaces the committed state only when the callback succeeds, and are
// serialized by a single mutex.
package memory

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/clearspend/backend/internal/models"
	"github.com/clearspend/backend/internal/repository"
	"github.com/google/uuid"
)

type state struct {
	ledgerAccounts map[uuid.UUID]models.LedgerAccount
	journalEntries map[uuid.UUID]models.JournalEntry
	accounts       map[uuid.UUID]models.Account
	holds          map[uuid.UUID]models.Hold
	adjustments    map[uuid.UUID]models.Adjustment
	declines       map[uuid.UUID]models.Decline
	businesses     map[uuid.UUID]models.Business
	settings       map[uuid.UUID][]models.BusinessLimitRow
}

func newState() *state {
	return &state{
		ledgerAccounts: make(map[uuid.UUID]models.LedgerAccount),
		journalEntries: make(map[uuid.UUID]models.JournalEntry),
		accounts:       make(map[uuid.UUID]models.Account),
		holds:          make(map[uuid.UUID]models.Hold),
		adjustments:    make(map[uuid.UUID]models.Adjustment),
		declines:       make(map[uuid.UUID]models.Decline),
		businesses:     make(map[uuid.UUID]models.Business),
		settings:       make(map[uuid.UUID][]models.BusinessLimitRow),
	}
}

func cloneMap[V any](m map[uuid.UUID]V) map[uuid.UUID]V {
	out := make(map[uuid.UUID]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func (s *state) clone() *state {
	return &state{
		ledgerAccounts: cloneMap(s.ledgerAccounts),
		journalEntries: cloneMap(s.journalEntries),
		accounts:       cloneMap(s.accounts),
		holds:          cloneMap(s.holds),
		adjustments:    cloneMap(s.adjustments),
		declines:       cloneMap(s.declines),
		businesses:     cloneMap(s.businesses),
		settings:       cloneMap(s.settings),
	}
}

type Store struct {
	mu    sync.Mutex
	state *state
}

var _ repository.Store = (*Store)(nil)

func New() *Store {
	return &Store{state: newState()}
}

// WithinTx runs fn against a private copy of the state and commits it if fn returns nil.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, q repository.Querier) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	working := s.state.clone()
	if err := fn(ctx, &querier{st: working}); err != nil {
		return err
	}
	s.state = working
	return nil
}

func (s *Store) Ping(_ context.Context) error { return nil }
func (s *Store) Close() error                  { return nil }

// JournalEntries returns every committed journal entry, oldest first.
func (s *Store) JournalEntries() []models.JournalEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]models.JournalEntry, 0, len(s.state.journalEntries))
	for _, je := range s.state.journalEntries {
		je.Postings = slices.Clone(je.Postings)
		out = append(out, je)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// AccountAdjustments returns the committed adjustments of one account.
func (s *Store) AccountAdjustments(accountID uuid.UUID) []models.Adjustment {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []models.Adjustment
	for _, adj := range s.state.adjustments {
		if adj.AccountID == accountID {
			out = append(out, adj)
		}
	}
	return out
}

// Declines returns every committed decline.
func (s *Store) Declines() []models.Decline {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]models.Decline, 0, len(s.state.declines))
	for _, d := range s.state.declines {
		out = append(out, d)
	}
	return out
}

func (s *Store) read(fn func(q *querier) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(&querier{st: s.state})
}

// Outside WithinTx each call is its own transaction.
func (s *Store) write(ctx context.Context, fn func(q *querier) error) error {
	return s.WithinTx(ctx, func(_ context.Context, q repository.Querier) error {
		return fn(q.(*querier))
	})
}

func (s *Store) CreateLedgerAccount(ctx context.Context, la *models.LedgerAccount) error {
	return s.write(ctx, func(q *querier) error { return q.CreateLedgerAccount(ctx, la) })
}

func (s *Store) GetLedgerAccount(ctx context.Context, id uuid.UUID) (la *models.LedgerAccount, err error) {
	err = s.read(func(q *querier) error { la, err = q.GetLedgerAccount(ctx, id); return err })
	return la, err
}

func (s *Store) FindLedgerAccount(ctx context.Context, t models.LedgerAccountType, currency models.Currency) (la *models.LedgerAccount, err error) {
	err = s.read(func(q *querier) error { la, err = q.FindLedgerAccount(ctx, t, currency); return err })
	return la, err
}

func (s *Store) CreateJournalEntry(ctx context.Context, je *models.JournalEntry) error {
	return s.write(ctx, func(q *querier) error { return q.CreateJournalEntry(ctx, je) })
}

func (s *Store) GetJournalEntry(ctx context.Context, id uuid.UUID) (je *models.JournalEntry, err error) {
	err = s.read(func(q *querier) error { je, err = q.GetJournalEntry(ctx, id); return err })
	return je, err
}

func (s *Store) CreateAccount(ctx context.Context, a *models.Account) error {
	return s.write(ctx, func(q *querier) error { return q.CreateAccount(ctx, a) })
}

func (s *Store) GetAccount(ctx context.Context, id uuid.UUID) (a *models.Account, err error) {
	err = s.read(func(q *querier) error { a, err = q.GetAccount(ctx, id); return err })
	return a, err
}

func (s *Store) LockAccount(ctx context.Context, id uuid.UUID) (*models.Account, error) {
	return s.GetAccount(ctx, id)
}

func (s *Store) FindAllocationAccount(ctx context.Context, businessID uuid.UUID, currency models.Currency, allocationID uuid.UUID) (a *models.Account, err error) {
	err = s.read(func(q *querier) error {
		a, err = q.FindAllocationAccount(ctx, businessID, currency, allocationID)
		return err
	})
	return a, err
}

func (s *Store) ListBusinessAccounts(ctx context.Context, businessID uuid.UUID) (out []*models.Account, err error) {
	err = s.read(func(q *querier) error { out, err = q.ListBusinessAccounts(ctx, businessID); return err })
	return out, err
}

func (s *Store) UpdateAccountBalance(ctx context.Context, id uuid.UUID, balance models.Amount, version int) error {
	return s.write(ctx, func(q *querier) error { return q.UpdateAccountBalance(ctx, id, balance, version) })
}

func (s *Store) CreateHold(ctx context.Context, h *models.Hold) error {
	return s.write(ctx, func(q *querier) error { return q.CreateHold(ctx, h) })
}

func (s *Store) GetHold(ctx context.Context, id uuid.UUID) (h *models.Hold, err error) {
	err = s.read(func(q *querier) error { h, err = q.GetHold(ctx, id); return err })
	return h, err
}

func (s *Store) UpdateHoldStatus(ctx context.Context, id uuid.UUID, status models.HoldStatus) error {
	return s.write(ctx, func(q *querier) error { return q.UpdateHoldStatus(ctx, id, status) })
}

func (s *Store) ListActiveHolds(ctx context.Context, accountID uuid.UUID, now time.Time) (out []models.Hold, err error) {
	err = s.read(func(q *querier) error { out, err = q.ListActiveHolds(ctx, accountID, now); return err })
	return out, err
}

func (s *Store) CreateAdjustment(ctx context.Context, adj *models.Adjustment) error {
	return s.write(ctx, func(q *querier) error { return q.CreateAdjustment(ctx, adj) })
}

func (s *Store) GetAdjustment(ctx context.Context, id uuid.UUID) (adj *models.Adjustment, err error) {
	err = s.read(func(q *querier) error { adj, err = q.GetAdjustment(ctx, id); return err })
	return adj, err
}

func (s *Store) ListBusinessAdjustments(ctx context.Context, businessID uuid.UUID, types []models.AdjustmentType, after time.Time) (out []models.Adjustment, err error) {
	err = s.read(func(q *querier) error {
		out, err = q.ListBusinessAdjustments(ctx, businessID, types, after)
		return err
	})
	return out, err
}

func (s *Store) CreateDecline(ctx context.Context, d *models.Decline) error {
	return s.write(ctx, func(q *querier) error { return q.CreateDecline(ctx, d) })
}

func (s *Store) CreateBusiness(ctx context.Context, b *models.Business) error {
	return s.write(ctx, func(q *querier) error { return q.CreateBusiness(ctx, b) })
}

func (s *Store) GetBusiness(ctx context.Context, id uuid.UUID) (b *models.Business, err error) {
	err = s.read(func(q *querier) error { b, err = q.GetBusiness(ctx, id); return err })
	return b, err
}

func (s *Store) LockBusiness(ctx context.Context, id uuid.UUID) (*models.Business, error) {
	return s.GetBusiness(ctx, id)
}

func (s *Store) UpdateBusinessStatus(ctx context.Context, id uuid.UUID, status models.BusinessStatus) error {
	return s.write(ctx, func(q *querier) error { return q.UpdateBusinessStatus(ctx, id, status) })
}

func (s *Store) GetBusinessSettings(ctx context.Context, businessID uuid.UUID) (out *models.BusinessSettings, err error) {
	err = s.read(func(q *querier) error { out, err = q.GetBusinessSettings(ctx, businessID); return err })
	return out, err
}

func (s *Store) ReplaceBusinessSettings(ctx context.Context, settings *models.BusinessSettings) error {
	return s.write(ctx, func(q *querier) error { return q.ReplaceBusinessSettings(ctx, settings) })
}
