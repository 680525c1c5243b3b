// Package notification queues customer notifications for delivery by a separate sender.
package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/clearspend/backend/internal/clock"
	"github.com/clearspend/backend/internal/events"
	"github.com/clearspend/backend/internal/models"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const TypeLowBalance = "LOW_BALANCE"

type AccountReader interface {
	RetrieveAccount(ctx context.Context, accountID uuid.UUID, fetchHolds bool) (*models.Account, error)
}

type Notification struct {
	Type             string        `json:"type"`
	BusinessID       uuid.UUID     `json:"business_id"`
	AccountID        uuid.UUID     `json:"account_id"`
	AllocationID     uuid.NullUUID `json:"allocation_id"`
	HoldID           uuid.UUID     `json:"hold_id"`
	AvailableBalance models.Amount `json:"available_balance"`
	Threshold        models.Amount `json:"threshold"`
	CreatedAt        time.Time     `json:"created_at"`
}

type Config struct {
	Queue     string
	Threshold decimal.Decimal
	Frequency time.Duration
}

// LowBalanceNotifier pushes a notification when a new hold leaves an account's available
// balance at or below the threshold. At most one notification per account is sent per
// Frequency.
type LowBalanceNotifier struct {
	redis    redis.Cmdable
	accounts AccountReader
	clock    clock.Clock
	cfg      Config
	logger   *zap.Logger
}

func NewLowBalanceNotifier(client redis.Cmdable, accounts AccountReader, clk clock.Clock, cfg Config, logger *zap.Logger) *LowBalanceNotifier {
	return &LowBalanceNotifier{
		redis:    client,
		accounts: accounts,
		clock:    clk,
		cfg:      cfg,
		logger:   logger.Named("low-balance"),
	}
}

// HandleEvent is an events.Handler.
func (n *LowBalanceNotifier) HandleEvent(ctx context.Context, e events.Event) {
	created, ok := e.(events.HoldCreatedEvent)
	if !ok {
		return
	}
	if err := n.check(ctx, created); err != nil {
		n.logger.Error("low balance check failed",
			zap.String("account_id", created.AccountID.String()),
			zap.String("hold_id", created.HoldID.String()),
			zap.Error(err))
	}
}

func (n *LowBalanceNotifier) check(ctx context.Context, e events.HoldCreatedEvent) error {
	account, err := n.accounts.RetrieveAccount(ctx, e.AccountID, true)
	if err != nil {
		return err
	}
	if account.AvailableBalance.Amount.GreaterThan(n.cfg.Threshold) {
		return nil
	}

	if n.cfg.Frequency > 0 {
		sent, err := n.redis.SetNX(ctx, throttleKey(account.ID), "1", n.cfg.Frequency).Result()
		if err != nil {
			return fmt.Errorf("throttle: %w", err)
		}
		if !sent {
			n.logger.Debug("low balance notification sent recently", zap.String("account_id", account.ID.String()))
			return nil
		}
	}

	data, err := json.Marshal(Notification{
		Type:             TypeLowBalance,
		BusinessID:       account.BusinessID,
		AccountID:        account.ID,
		AllocationID:     account.AllocationID,
		HoldID:           e.HoldID,
		AvailableBalance: account.AvailableBalance,
		Threshold:        models.NewAmount(account.Currency(), n.cfg.Threshold),
		CreatedAt:        n.clock.Now(),
	})
	if err != nil {
		return err
	}
	if err := n.redis.RPush(ctx, n.cfg.Queue, data).Err(); err != nil {
		return fmt.Errorf("push to %s: %w", n.cfg.Queue, err)
	}

	n.logger.Info("queued low balance notification",
		zap.String("account_id", account.ID.String()),
		zap.String("available", account.AvailableBalance.String()))
	return nil
}

func throttleKey(accountID uuid.UUID) string {
	return "notification:low-balance:" + accountID.String()
}
