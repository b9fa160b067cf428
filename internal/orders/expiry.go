package orders

import (
	"context"
	"sync"
	"time"
)

// ExpiryScheduler arms one cancellable timer per pending proposal. Timers
// are stopped when the order leaves pending and on Close, so a torn-down
// process never keeps firing expiry calls.
type ExpiryScheduler struct {
	mu     sync.Mutex
	timers map[string]*time.Timer
	expire func(ctx context.Context, orderID string) error
	closed bool
}

func NewExpiryScheduler(expire func(ctx context.Context, orderID string) error) *ExpiryScheduler {
	return &ExpiryScheduler{
		timers: make(map[string]*time.Timer),
		expire: expire,
	}
}

// Schedule arms the expiry timer for orderID. Re-scheduling replaces the
// previous timer.
func (e *ExpiryScheduler) Schedule(orderID string, deadline time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	if t, ok := e.timers[orderID]; ok {
		t.Stop()
	}
	d := time.Until(deadline)
	if d < 0 {
		d = 0
	}
	e.timers[orderID] = time.AfterFunc(d, func() {
		e.mu.Lock()
		delete(e.timers, orderID)
		closed := e.closed
		e.mu.Unlock()
		if closed {
			return
		}
		_ = e.expire(context.Background(), orderID)
	})
}

// Cancel disarms the timer for orderID. No-op when none is armed.
func (e *ExpiryScheduler) Cancel(orderID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if t, ok := e.timers[orderID]; ok {
		t.Stop()
		delete(e.timers, orderID)
	}
}

// Pending reports the number of armed timers.
func (e *ExpiryScheduler) Pending() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.timers)
}

// Close stops every armed timer.
func (e *ExpiryScheduler) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	for id, t := range e.timers {
		t.Stop()
		delete(e.timers, id)
	}
}
