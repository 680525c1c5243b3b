// Package events delivers domain events to subscribers on background workers.
package events

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

type Event interface {
	Name() string
}

type Handler func(ctx context.Context, e Event)

// Bus is a bounded queue drained by a fixed pool of workers. Publish never blocks: when the queue
// is full the event is dropped and logged.
type Bus struct {
	queue  chan Event
	logger *zap.Logger

	mu       sync.RWMutex
	handlers []Handler
	workers  int
}

func NewBus(workers, queueSize int, logger *zap.Logger) *Bus {
	if workers < 1 {
		workers = 1
	}
	return &Bus{
		queue:   make(chan Event, queueSize),
		logger:  logger,
		workers: workers,
	}
}

// Subscribe registers h for every event. Handlers must be registered before Run.
func (b *Bus) Subscribe(h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = append(b.handlers, h)
}

// Publish enqueues e and reports whether it was accepted.
func (b *Bus) Publish(e Event) bool {
	select {
	case b.queue <- e:
		return true
	default:
		b.logger.Error("event queue full, dropping event", zap.String("event", e.Name()))
		return false
	}
}

// Run starts the workers and blocks until ctx is done and the workers have exited.
func (b *Bus) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	for i := 0; i < b.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case e := <-b.queue:
					b.dispatch(ctx, e)
				}
			}
		}()
	}
	wg.Wait()
	return nil
}

// Drain delivers every queued event on the calling goroutine.
func (b *Bus) Drain(ctx context.Context) {
	for {
		select {
		case e := <-b.queue:
			b.dispatch(ctx, e)
		default:
			return
		}
	}
}

func (b *Bus) dispatch(ctx context.Context, e Event) {
	b.mu.RLock()
	handlers := b.handlers
	b.mu.RUnlock()

	for _, h := range handlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					b.logger.Error("event handler panicked",
						zap.String("event", e.Name()), zap.String("panic", fmt.Sprint(r)))
				}
			}()
			h(ctx, e)
		}()
	}
}
