// Package postgres implements repository.Store on PostgreSQL through database/sql and lib/pq.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/clearspend/backend/internal/models"
	"github.com/clearspend/backend/internal/repository"
	"go.uber.org/zap"
)

// dbtx is satisfied by both *sql.DB and *sql.Tx.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type querier struct {
	db dbtx
}

type Store struct {
	*querier
	db     *sql.DB
	logger *zap.Logger
}

var (
	_ repository.Store   = (*Store)(nil)
	_ repository.Querier = (*querier)(nil)
)

func NewStore(db *sql.DB, logger *zap.Logger) *Store {
	return &Store{querier: &querier{db: db}, db: db, logger: logger}
}

// WithinTx runs fn in a READ COMMITTED transaction. Row locks taken through LockAccount and
// LockBusiness are held until fn returns.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, q repository.Querier) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			s.logger.Warn("rollback failed", zap.Error(rbErr))
		}
	}()

	if err := fn(ctx, &querier{db: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

// notFound maps sql.ErrNoRows onto a RecordNotFoundError.
func notFound(err error, table models.Table, keys ...any) error {
	if errors.Is(err, sql.ErrNoRows) {
		return models.NewRecordNotFound(table, keys...)
	}
	return fmt.Errorf("query %s: %w", table, err)
}

func expectOneRow(res sql.Result, table models.Table, keys ...any) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return models.NewRecordNotFound(table, keys...)
	}
	return nil
}
