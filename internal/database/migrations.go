package database

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"
)

// schema is applied in order; every statement is idempotent.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS ledger_account (
		id         UUID PRIMARY KEY,
		type       TEXT NOT NULL,
		currency   TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS ledger_account_system_uq
		ON ledger_account (type, currency)
		WHERE type IN ('BANK', 'NETWORK', 'MANUAL', 'PLATFORM')`,

	`CREATE TABLE IF NOT EXISTS journal_entry (
		id         UUID PRIMARY KEY,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS posting (
		id                UUID PRIMARY KEY,
		journal_entry_id  UUID NOT NULL REFERENCES journal_entry (id),
		ledger_account_id UUID NOT NULL REFERENCES ledger_account (id),
		amount            NUMERIC(19, 4) NOT NULL,
		currency          TEXT NOT NULL,
		created_at        TIMESTAMPTZ NOT NULL,
		UNIQUE (journal_entry_id, ledger_account_id)
	)`,

	`CREATE TABLE IF NOT EXISTS business (
		id         UUID PRIMARY KEY,
		legal_name TEXT NOT NULL,
		currency   TEXT NOT NULL,
		status     TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS business_limit (
		business_id  UUID NOT NULL REFERENCES business (id),
		currency     TEXT NOT NULL,
		limit_type   TEXT NOT NULL,
		limit_period TEXT NOT NULL,
		cap_amount   NUMERIC(19, 4),
		cap_count    INTEGER,
		PRIMARY KEY (business_id, currency, limit_type, limit_period)
	)`,

	`CREATE TABLE IF NOT EXISTS account (
		id                UUID PRIMARY KEY,
		business_id       UUID NOT NULL REFERENCES business (id),
		allocation_id     UUID,
		card_id           UUID,
		ledger_account_id UUID NOT NULL REFERENCES ledger_account (id),
		type              TEXT NOT NULL,
		currency          TEXT NOT NULL,
		ledger_balance    NUMERIC(19, 4) NOT NULL DEFAULT 0,
		version           INTEGER NOT NULL DEFAULT 0,
		created_at        TIMESTAMPTZ NOT NULL,
		updated_at        TIMESTAMPTZ NOT NULL
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS account_owner_uq
		ON account (business_id, type, currency, COALESCE(allocation_id, card_id))`,

	`CREATE TABLE IF NOT EXISTS hold (
		id              UUID PRIMARY KEY,
		business_id     UUID NOT NULL,
		account_id      UUID NOT NULL REFERENCES account (id),
		status          TEXT NOT NULL,
		amount          NUMERIC(19, 4) NOT NULL,
		currency        TEXT NOT NULL,
		expiration_date TIMESTAMPTZ NOT NULL,
		created_at      TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS hold_account_active_idx
		ON hold (account_id, expiration_date) WHERE status = 'PLACED'`,

	`CREATE TABLE IF NOT EXISTS adjustment (
		id                UUID PRIMARY KEY,
		business_id       UUID NOT NULL,
		allocation_id     UUID,
		account_id        UUID NOT NULL REFERENCES account (id),
		ledger_account_id UUID NOT NULL REFERENCES ledger_account (id),
		journal_entry_id  UUID NOT NULL REFERENCES journal_entry (id),
		posting_id        UUID NOT NULL REFERENCES posting (id),
		type              TEXT NOT NULL,
		effective_date    TIMESTAMPTZ NOT NULL,
		amount            NUMERIC(19, 4) NOT NULL,
		currency          TEXT NOT NULL,
		created_at        TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS adjustment_business_type_idx
		ON adjustment (business_id, type, effective_date)`,

	`CREATE TABLE IF NOT EXISTS decline (
		id          UUID PRIMARY KEY,
		business_id UUID NOT NULL,
		account_id  UUID NOT NULL REFERENCES account (id),
		card_id     UUID,
		amount      NUMERIC(19, 4) NOT NULL,
		currency    TEXT NOT NULL,
		reasons     TEXT[] NOT NULL,
		created_at  TIMESTAMPTZ NOT NULL
	)`,
}

// Migrate creates the ledger schema inside one transaction.
func Migrate(ctx context.Context, db *sql.DB, logger *zap.Logger) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for i, stmt := range schema {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration statement %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	logger.Info("database schema up to date", zap.Int("statements", len(schema)))
	return nil
}
