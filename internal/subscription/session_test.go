package subscription

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/velosdrop/velosdrop-sub001/internal/apperrors"
	"github.com/velosdrop/velosdrop-sub001/internal/bus"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// flakyBus fails Subscribe a configured number of times before delegating.
type flakyBus struct {
	*bus.MemoryBus
	mu       sync.Mutex
	failures int
	calls    int
}

func (f *flakyBus) Subscribe(topic string, h bus.Handler) (bus.CancelFunc, error) {
	f.mu.Lock()
	f.calls++
	fail := f.calls <= f.failures
	f.mu.Unlock()
	if fail {
		return nil, errors.New("broker unavailable")
	}
	return f.MemoryBus.Subscribe(topic, h)
}

func TestSubscribeIdempotent(t *testing.T) {
	b := bus.NewMemoryBus()
	s := NewSession(b, func(string, bus.Event) {}, testLogger())
	defer s.Close()

	require.NoError(t, s.Subscribe("order/o1"))
	require.NoError(t, s.Subscribe("order/o1"))
	assert.Equal(t, 1, b.SubscriberCount("order/o1"))
	assert.Equal(t, []string{"order/o1"}, s.Topics())
}

func TestUnsubscribeIdempotent(t *testing.T) {
	b := bus.NewMemoryBus()
	s := NewSession(b, func(string, bus.Event) {}, testLogger())
	defer s.Close()

	require.NoError(t, s.Subscribe("order/o1"))
	s.Unsubscribe("order/o1")
	s.Unsubscribe("order/o1")
	s.Unsubscribe("never-subscribed")
	assert.Equal(t, 0, b.SubscriberCount("order/o1"))
	assert.Empty(t, s.Topics())
}

func TestSubscribeRetriesTransientFailure(t *testing.T) {
	fb := &flakyBus{MemoryBus: bus.NewMemoryBus(), failures: 2}
	s := NewSession(fb, func(string, bus.Event) {}, testLogger())
	s.delay = 1 // keep the test fast
	defer s.Close()

	require.NoError(t, s.Subscribe("order/o1"))
	assert.False(t, s.Degraded())
	assert.Equal(t, 1, fb.SubscriberCount("order/o1"))
}

func TestSubscribeExhaustedFlagsDegraded(t *testing.T) {
	fb := &flakyBus{MemoryBus: bus.NewMemoryBus()}
	s := NewSession(fb, func(string, bus.Event) {}, testLogger())
	s.delay = 1
	defer s.Close()

	require.NoError(t, s.Subscribe("order/keep"))
	fb.mu.Lock()
	fb.calls = 0
	fb.failures = 100 // every attempt for the next topic fails
	fb.mu.Unlock()

	err := s.Subscribe("order/broken")
	require.ErrorIs(t, err, apperrors.ErrChannel)
	assert.True(t, s.Degraded())

	// existing subscriptions survive the failed attempt
	assert.Equal(t, []string{"order/keep"}, s.Topics())
	assert.Equal(t, 1, fb.SubscriberCount("order/keep"))
}

func TestReconcileTouchesOnlyTheDifference(t *testing.T) {
	b := bus.NewMemoryBus()
	var mu sync.Mutex
	got := map[string]int{}
	s := NewSession(b, func(topic string, ev bus.Event) {
		mu.Lock()
		got[topic]++
		mu.Unlock()
	}, testLogger())
	defer s.Close()

	require.NoError(t, s.Reconcile([]string{"driver/d1", "order/o1"}))
	require.Equal(t, []string{"driver/d1", "order/o1"}, s.Topics())

	// o1 drops out, o2 joins; d1 must keep its live subscription
	require.NoError(t, s.Reconcile([]string{"driver/d1", "order/o2"}))
	assert.Equal(t, []string{"driver/d1", "order/o2"}, s.Topics())
	assert.Equal(t, 0, b.SubscriberCount("order/o1"))

	ev, err := bus.NewEvent(bus.EventStatusUpdate, struct{}{})
	require.NoError(t, err)
	require.NoError(t, b.Publish(context.Background(), "driver/d1", ev))
	require.NoError(t, b.Publish(context.Background(), "order/o1", ev))
	require.NoError(t, b.Publish(context.Background(), "order/o2", ev))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, got["driver/d1"])
	assert.Equal(t, 0, got["order/o1"])
	assert.Equal(t, 1, got["order/o2"])
}

func TestCloseReleasesEverything(t *testing.T) {
	b := bus.NewMemoryBus()
	s := NewSession(b, func(string, bus.Event) {}, testLogger())

	require.NoError(t, s.Subscribe("order/o1"))
	require.NoError(t, s.Subscribe("driver/d1"))
	s.Close()
	s.Close()

	assert.Equal(t, 0, b.SubscriberCount("order/o1"))
	assert.Equal(t, 0, b.SubscriberCount("driver/d1"))
	assert.Empty(t, s.Topics())

	err := s.Subscribe("order/o2")
	require.ErrorIs(t, err, apperrors.ErrChannel)
	assert.Equal(t, 0, b.SubscriberCount("order/o2"))
}
