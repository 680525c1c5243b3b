package events

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestBus_PublishAndRun(t *testing.T) {
	bus := NewBus(2, 8, zap.NewNop())

	var mu sync.Mutex
	var got []Event
	done := make(chan struct{}, 3)
	bus.Subscribe(func(ctx context.Context, e Event) {
		mu.Lock()
		got = append(got, e)
		mu.Unlock()
		done <- struct{}{}
	})

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		_ = bus.Run(ctx)
		close(stopped)
	}()

	for i := 0; i < 3; i++ {
		require.True(t, bus.Publish(HoldCreatedEvent{HoldID: uuid.New()}))
	}
	for i := 0; i < 3; i++ {
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("event not delivered")
		}
	}

	cancel()
	<-stopped

	mu.Lock()
	defer mu.Unlock()
	assert.Len(t, got, 3)
}

func TestBus_PublishDropsWhenFull(t *testing.T) {
	bus := NewBus(1, 1, zap.NewNop())

	assert.True(t, bus.Publish(HoldCreatedEvent{}))
	assert.False(t, bus.Publish(HoldCreatedEvent{}))
}

func TestBus_HandlerPanicIsRecovered(t *testing.T) {
	bus := NewBus(1, 4, zap.NewNop())

	var delivered int
	bus.Subscribe(func(ctx context.Context, e Event) { panic("boom") })
	bus.Subscribe(func(ctx context.Context, e Event) { delivered++ })

	bus.Publish(AdjustmentPersistedEvent{})
	bus.Publish(AdjustmentPersistedEvent{})

	assert.NotPanics(t, func() { bus.Drain(context.Background()) })
	assert.Equal(t, 2, delivered)
}
