package postgres

import (
	"context"
	"fmt"

	"github.com/clearspend/backend/internal/models"
	"github.com/google/uuid"
)

const ledgerAccountColumns = `id, type, currency, created_at`

func scanLedgerAccount(row rowScanner) (*models.LedgerAccount, error) {
	var la models.LedgerAccount
	if err := row.Scan(&la.ID, &la.Type, &la.Currency, &la.CreatedAt); err != nil {
		return nil, err
	}
	return &la, nil
}

func (q *querier) CreateLedgerAccount(ctx context.Context, la *models.LedgerAccount) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO ledger_account (id, type, currency, created_at)
		VALUES ($1, $2, $3, $4)`,
		la.ID, la.Type, la.Currency, la.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert ledger account: %w", err)
	}
	return nil
}

func (q *querier) GetLedgerAccount(ctx context.Context, id uuid.UUID) (*models.LedgerAccount, error) {
	la, err := scanLedgerAccount(q.db.QueryRowContext(ctx, `
		SELECT `+ledgerAccountColumns+`
		FROM ledger_account
		WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err, models.TableLedgerAccount, id)
	}
	return la, nil
}

func (q *querier) FindLedgerAccount(ctx context.Context, t models.LedgerAccountType, currency models.Currency) (*models.LedgerAccount, error) {
	la, err := scanLedgerAccount(q.db.QueryRowContext(ctx, `
		SELECT `+ledgerAccountColumns+`
		FROM ledger_account
		WHERE type = $1 AND currency = $2
		ORDER BY created_at
		LIMIT 1`, t, currency))
	if err != nil {
		return nil, notFound(err, models.TableLedgerAccount, t, currency)
	}
	return la, nil
}

func (q *querier) CreateJournalEntry(ctx context.Context, je *models.JournalEntry) error {
	if _, err := q.db.ExecContext(ctx, `
		INSERT INTO journal_entry (id, created_at)
		VALUES ($1, $2)`,
		je.ID, je.CreatedAt); err != nil {
		return fmt.Errorf("insert journal entry: %w", err)
	}

	for _, p := range je.Postings {
		if _, err := q.db.ExecContext(ctx, `
			INSERT INTO posting (id, journal_entry_id, ledger_account_id, amount, currency, created_at)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			p.ID, je.ID, p.LedgerAccountID, p.Amount.Amount, p.Amount.Currency, p.CreatedAt); err != nil {
			return fmt.Errorf("insert posting: %w", err)
		}
	}
	return nil
}

func (q *querier) GetJournalEntry(ctx context.Context, id uuid.UUID) (*models.JournalEntry, error) {
	var je models.JournalEntry
	err := q.db.QueryRowContext(ctx, `
		SELECT id, created_at
		FROM journal_entry
		WHERE id = $1`, id).Scan(&je.ID, &je.CreatedAt)
	if err != nil {
		return nil, notFound(err, models.TableJournalEntry, id)
	}

	rows, err := q.db.QueryContext(ctx, `
		SELECT id, journal_entry_id, ledger_account_id, amount, currency, created_at
		FROM posting
		WHERE journal_entry_id = $1
		ORDER BY created_at, id`, id)
	if err != nil {
		return nil, fmt.Errorf("query postings: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var p models.Posting
		if err := rows.Scan(&p.ID, &p.JournalEntryID, &p.LedgerAccountID,
			&p.Amount.Amount, &p.Amount.Currency, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan posting: %w", err)
		}
		je.Postings = append(je.Postings, p)
	}
	return &je, rows.Err()
}
