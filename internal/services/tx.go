package services

import (
	"context"

	"github.com/clearspend/backend/internal/events"
	"github.com/clearspend/backend/internal/repository"
)

// Publisher receives events once the transaction that produced them has committed.
type Publisher interface {
	Publish(e events.Event) bool
}

// Tx is one store transaction plus the events it will publish on commit.
type Tx struct {
	repository.Querier
	pending     []events.Event
	afterCommit []func()
}

// Emit queues e for publication after commit. Events of a rolled back transaction are dropped.
func (tx *Tx) Emit(e events.Event) {
	tx.pending = append(tx.pending, e)
}

// AfterCommit runs fn once the transaction has committed. Rollback discards it.
func (tx *Tx) AfterCommit(fn func()) {
	tx.afterCommit = append(tx.afterCommit, fn)
}

type txRunner struct {
	store     repository.Store
	publisher Publisher
}

func (r txRunner) run(ctx context.Context, fn func(ctx context.Context, tx *Tx) error) error {
	var tx *Tx
	err := r.store.WithinTx(ctx, func(ctx context.Context, q repository.Querier) error {
		tx = &Tx{Querier: q}
		return fn(ctx, tx)
	})
	if err != nil {
		return err
	}

	for _, fn := range tx.afterCommit {
		fn()
	}
	for _, e := range tx.pending {
		r.publisher.Publish(e)
	}
	return nil
}
