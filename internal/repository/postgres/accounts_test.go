package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/clearspend/backend/internal/models"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var accountRowColumns = []string{"id", "business_id", "allocation_id", "card_id", "ledger_account_id", "type",
	"currency", "ledger_balance", "version", "created_at", "updated_at"}

func TestQuerier_LockAccount(t *testing.T) {
	ctx := context.Background()
	store, mock := newMockStore(t)
	id, businessID, allocationID, ledgerAccountID := uuid.New(), uuid.New(), uuid.New(), uuid.New()
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("found", func(t *testing.T) {
		mock.ExpectQuery("SELECT (.+) FROM account WHERE id = \\$1 FOR UPDATE").
			WithArgs(id).
			WillReturnRows(sqlmock.NewRows(accountRowColumns).
				AddRow(id.String(), businessID.String(), allocationID.String(), nil, ledgerAccountID.String(),
					"ALLOCATION", "USD", "125.50", int64(3), now, now))

		account, err := store.LockAccount(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, id, account.ID)
		assert.Equal(t, uuid.NullUUID{UUID: allocationID, Valid: true}, account.AllocationID)
		assert.False(t, account.CardID.Valid)
		assert.Equal(t, models.AccountTypeAllocation, account.Type)
		assert.Equal(t, "125.5", account.LedgerBalance.Amount.String())
		assert.Equal(t, models.CurrencyUSD, account.Currency())
		assert.Equal(t, 3, account.Version)
		assert.True(t, account.AvailableBalance.Amount.Equal(account.LedgerBalance.Amount))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("not found", func(t *testing.T) {
		mock.ExpectQuery("SELECT (.+) FROM account WHERE id = \\$1 FOR UPDATE").
			WithArgs(id).
			WillReturnRows(sqlmock.NewRows(accountRowColumns))

		_, err := store.LockAccount(ctx, id)
		assert.ErrorIs(t, err, models.ErrRecordNotFound)
		var notFound *models.RecordNotFoundError
		require.ErrorAs(t, err, &notFound)
		assert.Equal(t, models.TableAccount, notFound.Table)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestQuerier_UpdateAccountBalance(t *testing.T) {
	ctx := context.Background()
	id := uuid.New()
	balance := models.AmountOf(models.CurrencyUSD, 75)
	const update = "UPDATE account SET ledger_balance = \\$1, version = version \\+ 1, updated_at = NOW\\(\\) WHERE id = \\$2 AND version = \\$3"

	t.Run("version matches", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectExec(update).
			WithArgs(balance.Amount, id, 4).
			WillReturnResult(sqlmock.NewResult(0, 1))

		assert.NoError(t, store.UpdateAccountBalance(ctx, id, balance, 4))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("stale version", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectExec(update).
			WithArgs(balance.Amount, id, 4).
			WillReturnResult(sqlmock.NewResult(0, 0))

		err := store.UpdateAccountBalance(ctx, id, balance, 4)
		assert.ErrorIs(t, err, models.ErrOptimisticLock)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestQuerier_Holds(t *testing.T) {
	ctx := context.Background()
	accountID, businessID := uuid.New(), uuid.New()
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("active holds filter on status and expiry", func(t *testing.T) {
		store, mock := newMockStore(t)
		holdID := uuid.New()
		mock.ExpectQuery("FROM hold WHERE account_id = \\$1 AND status = \\$2 AND expiration_date > \\$3").
			WithArgs(accountID, models.HoldStatusPlaced, now).
			WillReturnRows(sqlmock.NewRows([]string{"id", "business_id", "account_id", "status", "amount", "currency", "expiration_date", "created_at"}).
				AddRow(holdID.String(), businessID.String(), accountID.String(), "PLACED", "-100.00", "USD", now.Add(120*time.Hour), now))

		holds, err := store.ListActiveHolds(ctx, accountID, now)
		require.NoError(t, err)
		require.Len(t, holds, 1)
		assert.Equal(t, holdID, holds[0].ID)
		assert.Equal(t, models.HoldStatusPlaced, holds[0].Status)
		assert.True(t, holds[0].Amount.Amount.Equal(models.AmountOf(models.CurrencyUSD, -100).Amount))
		assert.True(t, holds[0].IsActive(now))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("release of unknown hold", func(t *testing.T) {
		store, mock := newMockStore(t)
		holdID := uuid.New()
		mock.ExpectExec("UPDATE hold SET status = \\$1 WHERE id = \\$2").
			WithArgs(models.HoldStatusReleased, holdID).
			WillReturnResult(sqlmock.NewResult(0, 0))

		err := store.UpdateHoldStatus(ctx, holdID, models.HoldStatusReleased)
		assert.ErrorIs(t, err, models.ErrRecordNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
