package memory

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"time"

	"github.com/clearspend/backend/internal/models"
	"github.com/google/uuid"
)

type querier struct {
	st *state
}

func (q *querier) CreateLedgerAccount(_ context.Context, la *models.LedgerAccount) error {
	if _, exists := q.st.ledgerAccounts[la.ID]; exists {
		return fmt.Errorf("ledger account %s already exists", la.ID)
	}
	q.st.ledgerAccounts[la.ID] = *la
	return nil
}

func (q *querier) GetLedgerAccount(_ context.Context, id uuid.UUID) (*models.LedgerAccount, error) {
	la, ok := q.st.ledgerAccounts[id]
	if !ok {
		return nil, models.NewRecordNotFound(models.TableLedgerAccount, id)
	}
	return &la, nil
}

func (q *querier) FindLedgerAccount(_ context.Context, t models.LedgerAccountType, currency models.Currency) (*models.LedgerAccount, error) {
	for _, la := range q.st.ledgerAccounts {
		if la.Type == t && la.Currency == currency {
			return &la, nil
		}
	}
	return nil, models.NewRecordNotFound(models.TableLedgerAccount, t, currency)
}

func (q *querier) CreateJournalEntry(_ context.Context, je *models.JournalEntry) error {
	for _, p := range je.Postings {
		if _, ok := q.st.ledgerAccounts[p.LedgerAccountID]; !ok {
			return models.NewRecordNotFound(models.TableLedgerAccount, p.LedgerAccountID)
		}
	}
	stored := *je
	stored.Postings = slices.Clone(je.Postings)
	q.st.journalEntries[je.ID] = stored
	return nil
}

func (q *querier) GetJournalEntry(_ context.Context, id uuid.UUID) (*models.JournalEntry, error) {
	je, ok := q.st.journalEntries[id]
	if !ok {
		return nil, models.NewRecordNotFound(models.TableJournalEntry, id)
	}
	je.Postings = slices.Clone(je.Postings)
	return &je, nil
}

func (q *querier) CreateAccount(_ context.Context, a *models.Account) error {
	if _, exists := q.st.accounts[a.ID]; exists {
		return fmt.Errorf("account %s already exists", a.ID)
	}
	stored := *a
	stored.Holds = nil
	q.st.accounts[a.ID] = stored
	return nil
}

func (q *querier) GetAccount(_ context.Context, id uuid.UUID) (*models.Account, error) {
	a, ok := q.st.accounts[id]
	if !ok {
		return nil, models.NewRecordNotFound(models.TableAccount, id)
	}
	return detached(a), nil
}

func (q *querier) LockAccount(ctx context.Context, id uuid.UUID) (*models.Account, error) {
	return q.GetAccount(ctx, id)
}

func (q *querier) FindAllocationAccount(_ context.Context, businessID uuid.UUID, currency models.Currency, allocationID uuid.UUID) (*models.Account, error) {
	for _, a := range q.st.accounts {
		if a.BusinessID == businessID &&
			a.Type == models.AccountTypeAllocation &&
			a.AllocationID.Valid && a.AllocationID.UUID == allocationID &&
			a.LedgerBalance.Currency == currency {
			return detached(a), nil
		}
	}
	return nil, models.NewRecordNotFound(models.TableAccount, businessID, models.AccountTypeAllocation, allocationID, currency)
}

func (q *querier) ListBusinessAccounts(_ context.Context, businessID uuid.UUID) ([]*models.Account, error) {
	var out []*models.Account
	for _, a := range q.st.accounts {
		if a.BusinessID == businessID {
			out = append(out, detached(a))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (q *querier) UpdateAccountBalance(_ context.Context, id uuid.UUID, balance models.Amount, version int) error {
	a, ok := q.st.accounts[id]
	if !ok {
		return models.NewRecordNotFound(models.TableAccount, id)
	}
	if a.Version != version {
		return fmt.Errorf("%w for account %s", models.ErrOptimisticLock, id)
	}
	a.LedgerBalance = balance
	a.Version++
	q.st.accounts[id] = a
	return nil
}

func (q *querier) CreateHold(_ context.Context, h *models.Hold) error {
	if _, ok := q.st.accounts[h.AccountID]; !ok {
		return models.NewRecordNotFound(models.TableAccount, h.AccountID)
	}
	q.st.holds[h.ID] = *h
	return nil
}

func (q *querier) GetHold(_ context.Context, id uuid.UUID) (*models.Hold, error) {
	h, ok := q.st.holds[id]
	if !ok {
		return nil, models.NewRecordNotFound(models.TableHold, id)
	}
	return &h, nil
}

func (q *querier) UpdateHoldStatus(_ context.Context, id uuid.UUID, status models.HoldStatus) error {
	h, ok := q.st.holds[id]
	if !ok {
		return models.NewRecordNotFound(models.TableHold, id)
	}
	h.Status = status
	q.st.holds[id] = h
	return nil
}

func (q *querier) ListActiveHolds(_ context.Context, accountID uuid.UUID, now time.Time) ([]models.Hold, error) {
	var out []models.Hold
	for _, h := range q.st.holds {
		if h.AccountID == accountID && h.IsActive(now) {
			out = append(out, h)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (q *querier) CreateAdjustment(_ context.Context, adj *models.Adjustment) error {
	q.st.adjustments[adj.ID] = *adj
	return nil
}

func (q *querier) GetAdjustment(_ context.Context, id uuid.UUID) (*models.Adjustment, error) {
	adj, ok := q.st.adjustments[id]
	if !ok {
		return nil, models.NewRecordNotFound(models.TableAdjustment, id)
	}
	return &adj, nil
}

func (q *querier) ListBusinessAdjustments(_ context.Context, businessID uuid.UUID, types []models.AdjustmentType, after time.Time) ([]models.Adjustment, error) {
	var out []models.Adjustment
	for _, adj := range q.st.adjustments {
		if adj.BusinessID == businessID && slices.Contains(types, adj.Type) && adj.EffectiveDate.After(after) {
			out = append(out, adj)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EffectiveDate.Before(out[j].EffectiveDate) })
	return out, nil
}

func (q *querier) CreateDecline(_ context.Context, d *models.Decline) error {
	stored := *d
	stored.Reasons = slices.Clone(d.Reasons)
	q.st.declines[d.ID] = stored
	return nil
}

func (q *querier) CreateBusiness(_ context.Context, b *models.Business) error {
	if _, exists := q.st.businesses[b.ID]; exists {
		return fmt.Errorf("business %s already exists", b.ID)
	}
	q.st.businesses[b.ID] = *b
	return nil
}

func (q *querier) GetBusiness(_ context.Context, id uuid.UUID) (*models.Business, error) {
	b, ok := q.st.businesses[id]
	if !ok {
		return nil, models.NewRecordNotFound(models.TableBusiness, id)
	}
	return &b, nil
}

func (q *querier) LockBusiness(ctx context.Context, id uuid.UUID) (*models.Business, error) {
	return q.GetBusiness(ctx, id)
}

func (q *querier) UpdateBusinessStatus(_ context.Context, id uuid.UUID, status models.BusinessStatus) error {
	b, ok := q.st.businesses[id]
	if !ok {
		return models.NewRecordNotFound(models.TableBusiness, id)
	}
	b.Status = status
	q.st.businesses[id] = b
	return nil
}

func (q *querier) GetBusinessSettings(_ context.Context, businessID uuid.UUID) (*models.BusinessSettings, error) {
	rows, ok := q.st.settings[businessID]
	if !ok {
		return nil, nil
	}
	return models.BusinessSettingsFromRows(businessID, rows), nil
}

func (q *querier) ReplaceBusinessSettings(_ context.Context, settings *models.BusinessSettings) error {
	q.st.settings[settings.BusinessID] = settings.Rows()
	return nil
}

func detached(a models.Account) *models.Account {
	a.Holds = nil
	a.RecalculateAvailableBalance()
	return &a
}
