package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/clearspend/backend/internal/models"
	"github.com/google/uuid"
	"github.com/lib/pq"
)

const adjustmentColumns = `id, business_id, allocation_id, account_id, ledger_account_id, journal_entry_id,
	posting_id, type, effective_date, amount, currency, created_at`

func scanAdjustment(row rowScanner) (*models.Adjustment, error) {
	var adj models.Adjustment
	err := row.Scan(&adj.ID, &adj.BusinessID, &adj.AllocationID, &adj.AccountID, &adj.LedgerAccountID,
		&adj.JournalEntryID, &adj.PostingID, &adj.Type, &adj.EffectiveDate,
		&adj.Amount.Amount, &adj.Amount.Currency, &adj.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &adj, nil
}

func (q *querier) CreateAdjustment(ctx context.Context, adj *models.Adjustment) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO adjustment (id, business_id, allocation_id, account_id, ledger_account_id,
			journal_entry_id, posting_id, type, effective_date, amount, currency, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		adj.ID, adj.BusinessID, adj.AllocationID, adj.AccountID, adj.LedgerAccountID,
		adj.JournalEntryID, adj.PostingID, adj.Type, adj.EffectiveDate,
		adj.Amount.Amount, adj.Amount.Currency, adj.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert adjustment: %w", err)
	}
	return nil
}

func (q *querier) GetAdjustment(ctx context.Context, id uuid.UUID) (*models.Adjustment, error) {
	adj, err := scanAdjustment(q.db.QueryRowContext(ctx, `
		SELECT `+adjustmentColumns+`
		FROM adjustment
		WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err, models.TableAdjustment, id)
	}
	return adj, nil
}

func (q *querier) ListBusinessAdjustments(ctx context.Context, businessID uuid.UUID, types []models.AdjustmentType, after time.Time) ([]models.Adjustment, error) {
	typeNames := make([]string, len(types))
	for i, t := range types {
		typeNames[i] = string(t)
	}

	rows, err := q.db.QueryContext(ctx, `
		SELECT `+adjustmentColumns+`
		FROM adjustment
		WHERE business_id = $1 AND type = ANY($2) AND effective_date > $3
		ORDER BY effective_date`, businessID, pq.Array(typeNames), after)
	if err != nil {
		return nil, fmt.Errorf("query adjustments: %w", err)
	}
	defer rows.Close()

	var adjustments []models.Adjustment
	for rows.Next() {
		adj, err := scanAdjustment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan adjustment: %w", err)
		}
		adjustments = append(adjustments, *adj)
	}
	return adjustments, rows.Err()
}

func (q *querier) CreateDecline(ctx context.Context, d *models.Decline) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO decline (id, business_id, account_id, card_id, amount, currency, reasons, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		d.ID, d.BusinessID, d.AccountID, d.CardID, d.Amount.Amount, d.Amount.Currency,
		pq.Array(d.Reasons), d.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert decline: %w", err)
	}
	return nil
}
