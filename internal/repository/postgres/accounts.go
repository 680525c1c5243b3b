package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/clearspend/backend/internal/models"
	"github.com/google/uuid"
)

const accountColumns = `id, business_id, allocation_id, card_id, ledger_account_id, type,
	currency, ledger_balance, version, created_at, updated_at`

func scanAccount(row rowScanner) (*models.Account, error) {
	var a models.Account
	err := row.Scan(&a.ID, &a.BusinessID, &a.AllocationID, &a.CardID, &a.LedgerAccountID, &a.Type,
		&a.LedgerBalance.Currency, &a.LedgerBalance.Amount, &a.Version, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	a.RecalculateAvailableBalance()
	return &a, nil
}

func (q *querier) CreateAccount(ctx context.Context, a *models.Account) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO account (id, business_id, allocation_id, card_id, ledger_account_id, type,
			currency, ledger_balance, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		a.ID, a.BusinessID, a.AllocationID, a.CardID, a.LedgerAccountID, a.Type,
		a.LedgerBalance.Currency, a.LedgerBalance.Amount, a.Version, a.CreatedAt, a.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert account: %w", err)
	}
	return nil
}

func (q *querier) GetAccount(ctx context.Context, id uuid.UUID) (*models.Account, error) {
	a, err := scanAccount(q.db.QueryRowContext(ctx, `
		SELECT `+accountColumns+`
		FROM account
		WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err, models.TableAccount, id)
	}
	return a, nil
}

func (q *querier) LockAccount(ctx context.Context, id uuid.UUID) (*models.Account, error) {
	a, err := scanAccount(q.db.QueryRowContext(ctx, `
		SELECT `+accountColumns+`
		FROM account
		WHERE id = $1
		FOR UPDATE`, id))
	if err != nil {
		return nil, notFound(err, models.TableAccount, id)
	}
	return a, nil
}

func (q *querier) FindAllocationAccount(ctx context.Context, businessID uuid.UUID, currency models.Currency, allocationID uuid.UUID) (*models.Account, error) {
	a, err := scanAccount(q.db.QueryRowContext(ctx, `
		SELECT `+accountColumns+`
		FROM account
		WHERE business_id = $1 AND type = $2 AND allocation_id = $3 AND currency = $4`,
		businessID, models.AccountTypeAllocation, allocationID, currency))
	if err != nil {
		return nil, notFound(err, models.TableAccount, businessID, models.AccountTypeAllocation, allocationID, currency)
	}
	return a, nil
}

func (q *querier) ListBusinessAccounts(ctx context.Context, businessID uuid.UUID) ([]*models.Account, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT `+accountColumns+`
		FROM account
		WHERE business_id = $1
		ORDER BY created_at, id`, businessID)
	if err != nil {
		return nil, fmt.Errorf("query accounts: %w", err)
	}
	defer rows.Close()

	var accounts []*models.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

func (q *querier) UpdateAccountBalance(ctx context.Context, id uuid.UUID, balance models.Amount, version int) error {
	res, err := q.db.ExecContext(ctx, `
		UPDATE account
		SET ledger_balance = $1, version = version + 1, updated_at = NOW()
		WHERE id = $2 AND version = $3`,
		balance.Amount, id, version)
	if err != nil {
		return fmt.Errorf("update account balance: %w", err)
	}

	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return fmt.Errorf("%w for account %s", models.ErrOptimisticLock, id)
	}
	return nil
}

const holdColumns = `id, business_id, account_id, status, amount, currency, expiration_date, created_at`

func scanHold(row rowScanner) (*models.Hold, error) {
	var h models.Hold
	err := row.Scan(&h.ID, &h.BusinessID, &h.AccountID, &h.Status,
		&h.Amount.Amount, &h.Amount.Currency, &h.ExpirationDate, &h.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &h, nil
}

func (q *querier) CreateHold(ctx context.Context, h *models.Hold) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO hold (id, business_id, account_id, status, amount, currency, expiration_date, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		h.ID, h.BusinessID, h.AccountID, h.Status, h.Amount.Amount, h.Amount.Currency, h.ExpirationDate, h.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert hold: %w", err)
	}
	return nil
}

func (q *querier) GetHold(ctx context.Context, id uuid.UUID) (*models.Hold, error) {
	h, err := scanHold(q.db.QueryRowContext(ctx, `
		SELECT `+holdColumns+`
		FROM hold
		WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err, models.TableHold, id)
	}
	return h, nil
}

func (q *querier) UpdateHoldStatus(ctx context.Context, id uuid.UUID, status models.HoldStatus) error {
	res, err := q.db.ExecContext(ctx, `
		UPDATE hold
		SET status = $1
		WHERE id = $2`, status, id)
	if err != nil {
		return fmt.Errorf("update hold status: %w", err)
	}
	return expectOneRow(res, models.TableHold, id)
}

func (q *querier) ListActiveHolds(ctx context.Context, accountID uuid.UUID, now time.Time) ([]models.Hold, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT `+holdColumns+`
		FROM hold
		WHERE account_id = $1 AND status = $2 AND expiration_date > $3
		ORDER BY created_at`, accountID, models.HoldStatusPlaced, now)
	if err != nil {
		return nil, fmt.Errorf("query holds: %w", err)
	}
	defer rows.Close()

	var holds []models.Hold
	for rows.Next() {
		h, err := scanHold(rows)
		if err != nil {
			return nil, fmt.Errorf("scan hold: %w", err)
		}
		holds = append(holds, *h)
	}
	return holds, rows.Err()
}
