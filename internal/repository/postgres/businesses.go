package postgres

import (
	"context"
	"fmt"

	"github.com/clearspend/backend/internal/models"
	"github.com/google/uuid"
)

const businessColumns = `id, legal_name, currency, status, created_at, updated_at`

func scanBusiness(row rowScanner) (*models.Business, error) {
	var b models.Business
	if err := row.Scan(&b.ID, &b.LegalName, &b.Currency, &b.Status, &b.CreatedAt, &b.UpdatedAt); err != nil {
		return nil, err
	}
	return &b, nil
}

func (q *querier) CreateBusiness(ctx context.Context, b *models.Business) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO business (id, legal_name, currency, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		b.ID, b.LegalName, b.Currency, b.Status, b.CreatedAt, b.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert business: %w", err)
	}
	return nil
}

func (q *querier) GetBusiness(ctx context.Context, id uuid.UUID) (*models.Business, error) {
	b, err := scanBusiness(q.db.QueryRowContext(ctx, `
		SELECT `+businessColumns+`
		FROM business
		WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err, models.TableBusiness, id)
	}
	return b, nil
}

func (q *querier) LockBusiness(ctx context.Context, id uuid.UUID) (*models.Business, error) {
	b, err := scanBusiness(q.db.QueryRowContext(ctx, `
		SELECT `+businessColumns+`
		FROM business
		WHERE id = $1
		FOR UPDATE`, id))
	if err != nil {
		return nil, notFound(err, models.TableBusiness, id)
	}
	return b, nil
}

func (q *querier) UpdateBusinessStatus(ctx context.Context, id uuid.UUID, status models.BusinessStatus) error {
	res, err := q.db.ExecContext(ctx, `
		UPDATE business
		SET status = $1, updated_at = NOW()
		WHERE id = $2`, status, id)
	if err != nil {
		return fmt.Errorf("update business status: %w", err)
	}
	return expectOneRow(res, models.TableBusiness, id)
}

func (q *querier) GetBusinessSettings(ctx context.Context, businessID uuid.UUID) (*models.BusinessSettings, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT business_id, currency, limit_type, limit_period, cap_amount, cap_count
		FROM business_limit
		WHERE business_id = $1`, businessID)
	if err != nil {
		return nil, fmt.Errorf("query business limits: %w", err)
	}
	defer rows.Close()

	var limitRows []models.BusinessLimitRow
	for rows.Next() {
		var r models.BusinessLimitRow
		if err := rows.Scan(&r.BusinessID, &r.Currency, &r.LimitType, &r.LimitPeriod, &r.CapAmount, &r.CapCount); err != nil {
			return nil, fmt.Errorf("scan business limit: %w", err)
		}
		limitRows = append(limitRows, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(limitRows) == 0 {
		return nil, nil
	}
	return models.BusinessSettingsFromRows(businessID, limitRows), nil
}

func (q *querier) ReplaceBusinessSettings(ctx context.Context, settings *models.BusinessSettings) error {
	if _, err := q.db.ExecContext(ctx, `
		DELETE FROM business_limit
		WHERE business_id = $1`, settings.BusinessID); err != nil {
		return fmt.Errorf("delete business limits: %w", err)
	}

	for _, r := range settings.Rows() {
		if _, err := q.db.ExecContext(ctx, `
			INSERT INTO business_limit (business_id, currency, limit_type, limit_period, cap_amount, cap_count)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			r.BusinessID, r.Currency, r.LimitType, r.LimitPeriod, r.CapAmount, r.CapCount); err != nil {
			return fmt.Errorf("insert business limit: %w", err)
		}
	}
	return nil
}
