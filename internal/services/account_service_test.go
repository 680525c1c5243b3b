package services

import (
	"context"
	"testing"
	"time"

	"github.com/clearspend/backend/internal/audit"
	"github.com/clearspend/backend/internal/events"
	"github.com/clearspend/backend/internal/models"
	"github.com/clearspend/backend/internal/repository"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestAccountService_CreateAccount(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	business := h.createBusiness(t, models.CurrencyUSD)

	t.Run("allocation account", func(t *testing.T) {
		allocationID := uuid.New()
		account, err := h.accounts.CreateAccount(ctx, business.Business.ID, models.AccountTypeAllocation, allocationID, uuid.NullUUID{}, models.CurrencyUSD)
		require.NoError(t, err)
		assert.True(t, account.LedgerBalance.IsZero())
		assert.Equal(t, 0, account.Version)

		found, err := h.accounts.RetrieveAllocationAccount(ctx, business.Business.ID, models.CurrencyUSD, allocationID, true)
		require.NoError(t, err)
		assert.Equal(t, account.ID, found.ID)

		la, err := h.store.GetLedgerAccount(ctx, account.LedgerAccountID)
		require.NoError(t, err)
		assert.Equal(t, models.LedgerAccountTypeAllocation, la.Type)
	})

	t.Run("card account needs a card id", func(t *testing.T) {
		_, err := h.accounts.CreateAccount(ctx, business.Business.ID, models.AccountTypeCard, uuid.New(), uuid.NullUUID{}, models.CurrencyUSD)
		assert.ErrorIs(t, err, models.ErrInvalidInput)
	})

	t.Run("unknown allocation", func(t *testing.T) {
		_, err := h.accounts.RetrieveAllocationAccount(ctx, business.Business.ID, models.CurrencyUSD, uuid.New(), false)
		assert.ErrorIs(t, err, models.ErrRecordNotFound)
	})
}

func TestAccountService_DepositFunds(t *testing.T) {
	ctx := context.Background()

	t.Run("standard hold restricts the deposit", func(t *testing.T) {
		h := newHarness(t)
		business := h.createBusiness(t, models.CurrencyUSD)
		account := business.RootAccount

		record, err := h.accounts.DepositFunds(ctx, business.Business.ID, account.ID, usd(100), true)
		require.NoError(t, err)

		assertAmount(t, usd(100), record.Account.LedgerBalance)
		assertAmount(t, usd(0), record.Account.AvailableBalance)
		require.NotNil(t, record.Hold)
		assertAmount(t, usd(-100), record.Hold.Amount)
		assert.Equal(t, models.HoldStatusPlaced, record.Hold.Status)
		assert.Equal(t, testStart.Add(standardHold), record.Hold.ExpirationDate)
		assert.Equal(t, models.AdjustmentTypeDeposit, record.Adjustment.Type)
		assert.Equal(t, testStart, record.Adjustment.EffectiveDate)

		h.clock.Advance(standardHold - time.Second)
		assertAmount(t, usd(0), h.available(t, account.ID))
		h.clock.Advance(time.Second)
		assertAmount(t, usd(100), h.available(t, account.ID))

		h.assertLedgerBalanced(t, business.Business.ID)
	})

	t.Run("immediate deposit is available at once", func(t *testing.T) {
		h := newHarness(t)
		business := h.createBusiness(t, models.CurrencyUSD)

		record, err := h.accounts.DepositFunds(ctx, business.Business.ID, business.RootAccount.ID, usd(100), false)
		require.NoError(t, err)
		assert.Equal(t, testStart, record.Hold.ExpirationDate)
		assert.Equal(t, testStart, record.Adjustment.EffectiveDate)
		assertAmount(t, usd(100), record.Account.AvailableBalance)
	})

	t.Run("events are published after commit", func(t *testing.T) {
		h := newHarness(t)
		business := h.createBusiness(t, models.CurrencyUSD)
		before := len(h.publisher.Published())

		record, err := h.accounts.DepositFunds(ctx, business.Business.ID, business.RootAccount.ID, usd(10), true)
		require.NoError(t, err)

		published := h.publisher.Published()[before:]
		require.Len(t, published, 2)
		persisted, ok := published[0].(events.AdjustmentPersistedEvent)
		require.True(t, ok)
		assert.Equal(t, record.Adjustment.ID, persisted.Adjustment.ID)
		held, ok := published[1].(events.HoldCreatedEvent)
		require.True(t, ok)
		assert.Equal(t, record.Hold.ID, held.HoldID)
	})

	t.Run("rejected deposits write nothing", func(t *testing.T) {
		h := newHarness(t)
		business := h.createBusiness(t, models.CurrencyUSD)
		other := h.createBusiness(t, models.CurrencyUSD)
		entries, published := len(h.store.JournalEntries()), len(h.publisher.Published())

		_, err := h.accounts.DepositFunds(ctx, business.Business.ID, business.RootAccount.ID, usd(-1), true)
		assert.ErrorIs(t, err, models.ErrInvalidAmount)

		_, err = h.accounts.DepositFunds(ctx, business.Business.ID, other.RootAccount.ID, usd(1), true)
		var mismatch *models.IDMismatchError
		require.ErrorAs(t, err, &mismatch)
		assert.Equal(t, business.Business.ID, mismatch.Expected)

		_, err = h.accounts.DepositFunds(ctx, business.Business.ID, business.RootAccount.ID, models.AmountOf(models.CurrencyEUR, 1), true)
		assert.ErrorIs(t, err, models.ErrInvalidInput)

		_, err = h.accounts.DepositFunds(ctx, business.Business.ID, uuid.New(), usd(1), true)
		assert.ErrorIs(t, err, models.ErrRecordNotFound)

		assert.Len(t, h.store.JournalEntries(), entries)
		assert.Len(t, h.publisher.Published(), published)
	})
}

func TestAccountService_WithdrawFunds(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	business := h.createBusiness(t, models.CurrencyUSD)
	account := business.RootAccount
	_, err := h.accounts.DepositFunds(ctx, business.Business.ID, account.ID, usd(100), false)
	require.NoError(t, err)
	_, err = h.accounts.DepositFunds(ctx, business.Business.ID, account.ID, usd(50), true)
	require.NoError(t, err)

	t.Run("held funds cannot be withdrawn", func(t *testing.T) {
		entries := len(h.store.JournalEntries())
		_, err := h.accounts.WithdrawFunds(ctx, business.Business.ID, account.ID, usd(120))

		var insufficient *models.InsufficientFundsError
		require.ErrorAs(t, err, &insufficient)
		assertAmount(t, usd(100), insufficient.Available)
		assert.Equal(t, models.AdjustmentTypeWithdraw, insufficient.AdjustmentType)
		assert.Len(t, h.store.JournalEntries(), entries)
	})

	t.Run("available funds", func(t *testing.T) {
		record, err := h.accounts.WithdrawFunds(ctx, business.Business.ID, account.ID, usd(100))
		require.NoError(t, err)
		assertAmount(t, usd(50), record.Account.LedgerBalance)
		assertAmount(t, usd(0), record.Account.AvailableBalance)
		assertAmount(t, usd(-100), record.Adjustment.Amount)
		assert.Equal(t, models.AdjustmentTypeWithdraw, record.Adjustment.Type)
	})

	h.assertLedgerBalanced(t, business.Business.ID)
}

func TestAccountService_ReallocateFunds(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	business := h.createBusiness(t, models.CurrencyUSD)
	from := business.RootAccount
	to := h.newAccount(t, business.Business.ID, models.CurrencyUSD)
	h.fund(t, from.ID, models.CurrencyUSD, 100)

	t.Run("one balanced entry", func(t *testing.T) {
		entries := len(h.store.JournalEntries())
		record, err := h.accounts.ReallocateFunds(ctx, from.ID, to.ID, usd(50))
		require.NoError(t, err)

		assertAmount(t, usd(50), record.FromAccount.LedgerBalance)
		assertAmount(t, usd(50), record.ToAccount.LedgerBalance)
		assert.Equal(t, from.ID, record.FromAccount.ID)

		je := record.ReallocateFundsRecord.JournalEntry
		require.Len(t, je.Postings, 2)
		assertAmount(t, usd(-50), je.Postings[0].Amount)
		assertAmount(t, usd(50), je.Postings[1].Amount)
		assert.Equal(t, models.AdjustmentTypeReallocate, record.ReallocateFundsRecord.FromAdjustment.Type)
		assert.Equal(t, models.AdjustmentTypeReallocate, record.ReallocateFundsRecord.ToAdjustment.Type)
		assert.Equal(t, je.ID, record.ReallocateFundsRecord.ToAdjustment.JournalEntryID)
		assert.Len(t, h.store.JournalEntries(), entries+1)
	})

	t.Run("either lock order", func(t *testing.T) {
		record, err := h.accounts.ReallocateFunds(ctx, to.ID, from.ID, usd(10))
		require.NoError(t, err)
		assert.Equal(t, to.ID, record.FromAccount.ID)
		assertAmount(t, usd(40), record.FromAccount.LedgerBalance)
		assertAmount(t, usd(60), record.ToAccount.LedgerBalance)
	})

	t.Run("insufficient funds", func(t *testing.T) {
		_, err := h.accounts.ReallocateFunds(ctx, from.ID, to.ID, usd(61))
		assert.ErrorIs(t, err, models.ErrInsufficientFunds)
		assertAmount(t, usd(60), h.available(t, from.ID))
	})

	t.Run("same account", func(t *testing.T) {
		_, err := h.accounts.ReallocateFunds(ctx, from.ID, from.ID, usd(1))
		assert.ErrorIs(t, err, models.ErrInvalidInput)
	})

	t.Run("accounts of different businesses", func(t *testing.T) {
		other := h.createBusiness(t, models.CurrencyUSD)
		_, err := h.accounts.ReallocateFunds(ctx, from.ID, other.RootAccount.ID, usd(1))
		assert.ErrorIs(t, err, models.ErrIDMismatch)
	})

	t.Run("currency mismatch", func(t *testing.T) {
		eur := h.newAccount(t, business.Business.ID, models.CurrencyEUR)
		_, err := h.accounts.ReallocateFunds(ctx, from.ID, eur.ID, usd(1))
		assert.ErrorIs(t, err, models.ErrInvalidInput)
	})

	h.assertLedgerBalanced(t, business.Business.ID)
}

func TestAccountService_FeesAndManualAdjustments(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	business := h.createBusiness(t, models.CurrencyUSD)
	account := business.RootAccount

	t.Run("fee may overdraw", func(t *testing.T) {
		record, err := h.accounts.ApplyFee(ctx, account.ID, usd(15))
		require.NoError(t, err)
		assertAmount(t, usd(-15), record.Account.LedgerBalance)
		assertAmount(t, usd(-15), record.Account.AvailableBalance)
		assert.Equal(t, models.AdjustmentTypeFee, record.Adjustment.Type)
	})

	t.Run("manual correction", func(t *testing.T) {
		record, err := h.accounts.RecordManualAdjustment(ctx, account.ID, usd(15))
		require.NoError(t, err)
		assertAmount(t, usd(0), record.Account.LedgerBalance)
		assert.Equal(t, models.AdjustmentTypeManual, record.Adjustment.Type)
	})

	t.Run("zero manual adjustment", func(t *testing.T) {
		_, err := h.accounts.RecordManualAdjustment(ctx, account.ID, usd(0))
		assert.ErrorIs(t, err, models.ErrInvalidAmount)
	})

	t.Run("negative fee", func(t *testing.T) {
		_, err := h.accounts.ApplyFee(ctx, account.ID, usd(-1))
		assert.ErrorIs(t, err, models.ErrInvalidAmount)
	})

	h.assertLedgerBalanced(t, business.Business.ID)
}

func TestAccountService_NetworkActivity(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	business := h.createBusiness(t, models.CurrencyUSD)
	cardID := uuid.NullUUID{UUID: uuid.New(), Valid: true}
	card, err := h.accounts.CreateAccount(ctx, business.Business.ID, models.AccountTypeCard, business.RootAccount.AllocationID.UUID, cardID, models.CurrencyUSD)
	require.NoError(t, err)
	h.fund(t, card.ID, models.CurrencyUSD, 100)

	var holdID uuid.UUID
	t.Run("authorization hold", func(t *testing.T) {
		_, err := h.accounts.RecordNetworkHold(ctx, card.ID, usd(30), testStart.Add(time.Hour))
		assert.ErrorIs(t, err, models.ErrInvalidAmount)

		record, err := h.accounts.RecordNetworkHold(ctx, card.ID, usd(-30), testStart.Add(time.Hour))
		require.NoError(t, err)
		assertAmount(t, usd(100), record.Account.LedgerBalance)
		assertAmount(t, usd(70), record.Account.AvailableBalance)
		holdID = record.Hold.ID
	})

	t.Run("release restores available funds once", func(t *testing.T) {
		record, err := h.accounts.ReleaseHold(ctx, holdID)
		require.NoError(t, err)
		assert.Equal(t, models.HoldStatusReleased, record.Hold.Status)
		assertAmount(t, usd(100), record.Account.AvailableBalance)

		_, err = h.accounts.ReleaseHold(ctx, holdID)
		assert.ErrorIs(t, err, models.ErrInvalidState)

		_, err = h.accounts.ReleaseHold(ctx, uuid.New())
		assert.ErrorIs(t, err, models.ErrRecordNotFound)
	})

	t.Run("settlement debit", func(t *testing.T) {
		allocationID := uuid.NullUUID{UUID: uuid.New(), Valid: true}
		record, err := h.accounts.RecordNetworkAdjustment(ctx, allocationID, card.ID, usd(-30))
		require.NoError(t, err)
		assertAmount(t, usd(70), record.Account.LedgerBalance)
		assertAmount(t, usd(-30), record.Adjustment.Amount)
		assert.Equal(t, models.AdjustmentTypeNetwork, record.Adjustment.Type)
		assert.Equal(t, allocationID, record.Adjustment.AllocationID)
		assert.Equal(t, business.RootAccount.AllocationID, record.Account.AllocationID)
	})

	t.Run("settlement credit", func(t *testing.T) {
		record, err := h.accounts.RecordNetworkAdjustment(ctx, uuid.NullUUID{}, card.ID, usd(5))
		require.NoError(t, err)
		assertAmount(t, usd(75), record.Account.LedgerBalance)
		assert.Equal(t, card.AllocationID, record.Adjustment.AllocationID)

		_, err = h.accounts.RecordNetworkAdjustment(ctx, uuid.NullUUID{}, card.ID, usd(0))
		assert.ErrorIs(t, err, models.ErrInvalidAmount)
	})

	t.Run("decline moves no money", func(t *testing.T) {
		entries := len(h.store.JournalEntries())
		decline, err := h.accounts.RecordNetworkDecline(ctx, card.ID, cardID, usd(500), []string{models.DeclineReasonInsufficientFunds})
		require.NoError(t, err)
		assert.Equal(t, business.Business.ID, decline.BusinessID)
		assert.Len(t, h.store.Declines(), 1)
		assert.Len(t, h.store.JournalEntries(), entries)
		assertAmount(t, usd(75), h.available(t, card.ID))
	})

	h.assertLedgerBalanced(t, business.Business.ID)
}

func TestAccountService_RetrieveBusinessAccounts(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	business := h.createBusiness(t, models.CurrencyUSD)
	second := h.newAccount(t, business.Business.ID, models.CurrencyUSD)
	_, err := h.accounts.DepositFunds(ctx, business.Business.ID, second.ID, usd(20), true)
	require.NoError(t, err)
	h.createBusiness(t, models.CurrencyUSD)

	accounts, err := h.accounts.RetrieveBusinessAccounts(ctx, business.Business.ID, true)
	require.NoError(t, err)
	require.Len(t, accounts, 2)
	for _, account := range accounts {
		assert.True(t, account.HoldsLoaded())
		if account.ID == second.ID {
			assert.Len(t, account.Holds, 1)
			assertAmount(t, usd(0), account.AvailableBalance)
		}
	}

	withoutHolds, err := h.accounts.RetrieveBusinessAccounts(ctx, business.Business.ID, false)
	require.NoError(t, err)
	for _, account := range withoutHolds {
		assert.False(t, account.HoldsLoaded())
	}
}

// lockHookStore runs onLock inside the transaction right before each account row lock.
type lockHookStore struct {
	repository.Store
	onLock func(ctx context.Context, q repository.Querier)
}

func (s lockHookStore) WithinTx(ctx context.Context, fn func(ctx context.Context, q repository.Querier) error) error {
	return s.Store.WithinTx(ctx, func(ctx context.Context, q repository.Querier) error {
		return fn(ctx, lockHookQuerier{Querier: q, onLock: s.onLock})
	})
}

type lockHookQuerier struct {
	repository.Querier
	onLock func(ctx context.Context, q repository.Querier)
}

func (q lockHookQuerier) LockAccount(ctx context.Context, id uuid.UUID) (*models.Account, error) {
	q.onLock(ctx, q.Querier)
	return q.Querier.LockAccount(ctx, id)
}

func TestAccountService_ReleaseHoldChecksStatusUnderLock(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	business := h.createBusiness(t, models.CurrencyUSD)
	deposit, err := h.accounts.DepositFunds(ctx, business.Business.ID, business.RootAccount.ID, usd(100), true)
	require.NoError(t, err)
	holdID := deposit.Hold.ID

	// Another release commits while this one waits for the account lock.
	locks := 0
	store := lockHookStore{Store: h.store, onLock: func(ctx context.Context, q repository.Querier) {
		locks++
		require.NoError(t, q.UpdateHoldStatus(ctx, holdID, models.HoldStatusReleased))
	}}
	accounts := NewAccountService(store, h.publisher, h.adjustments, h.ledger, h.limits, h.clock,
		audit.NewLogger(zap.NewNop()), zap.NewNop(), AccountServiceConfig{StandardHold: standardHold})

	_, err = accounts.ReleaseHold(ctx, holdID)
	assert.ErrorIs(t, err, models.ErrInvalidState)
	assert.Equal(t, 1, locks)
	assert.Empty(t, h.auditEvents(audit.EventHoldReleased))
}
