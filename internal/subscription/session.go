// Package subscription tracks which bus topics an actor session listens to
// and guarantees teardown when the session ends.
package subscription

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/velosdrop/velosdrop-sub001/internal/apperrors"
	"github.com/velosdrop/velosdrop-sub001/internal/bus"
)

// Session owns the set of topics one actor is subscribed to. Subscribe and
// Unsubscribe are idempotent; Close releases every subscription so a
// disconnect never leaks listeners.
type Session struct {
	bus      bus.Bus
	handler  bus.Handler
	logger   *slog.Logger
	attempts int
	delay    time.Duration

	mu       sync.Mutex
	subs     map[string]bus.CancelFunc
	closed   bool
	degraded bool
}

func NewSession(b bus.Bus, h bus.Handler, logger *slog.Logger) *Session {
	return &Session{
		bus:      b,
		handler:  h,
		logger:   logger,
		attempts: 4,
		delay:    100 * time.Millisecond,
		subs:     make(map[string]bus.CancelFunc),
	}
}

// Subscribe opens a subscription to topic. A no-op when already subscribed.
// Transient failures retry with exponential backoff; once exhausted the
// session is flagged degraded and a ChannelError is returned, leaving any
// existing subscriptions intact.
func (s *Session) Subscribe(topic string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return apperrors.Channel(topic, errSessionClosed)
	}
	if _, ok := s.subs[topic]; ok {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	var cancel bus.CancelFunc
	var err error
	delay := s.delay
	for i := 0; i < s.attempts; i++ {
		cancel, err = s.bus.Subscribe(topic, s.handler)
		if err == nil {
			break
		}
		if i < s.attempts-1 {
			time.Sleep(delay)
			delay *= 2
		}
	}
	if err != nil {
		s.mu.Lock()
		s.degraded = true
		s.mu.Unlock()
		s.logger.Warn("subscribe failed", "topic", topic, "error", err)
		return apperrors.Channel(topic, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		cancel()
		return apperrors.Channel(topic, errSessionClosed)
	}
	if _, ok := s.subs[topic]; ok {
		// lost a concurrent-subscribe race; keep the first one
		cancel()
		return nil
	}
	s.subs[topic] = cancel
	s.degraded = false
	return nil
}

// Unsubscribe closes the subscription to topic. A no-op when not subscribed.
func (s *Session) Unsubscribe(topic string) {
	s.mu.Lock()
	cancel, ok := s.subs[topic]
	if ok {
		delete(s.subs, topic)
	}
	s.mu.Unlock()
	if ok {
		cancel()
	}
}

// Reconcile moves the session to exactly the desired topic set, touching
// only the difference against the current set so topics present in both
// keep their live subscription across the change.
func (s *Session) Reconcile(desired []string) error {
	want := make(map[string]bool, len(desired))
	for _, t := range desired {
		want[t] = true
	}

	s.mu.Lock()
	var toDrop []string
	for t := range s.subs {
		if !want[t] {
			toDrop = append(toDrop, t)
		}
	}
	var toAdd []string
	for t := range want {
		if _, ok := s.subs[t]; !ok {
			toAdd = append(toAdd, t)
		}
	}
	s.mu.Unlock()

	sort.Strings(toAdd)
	var firstErr error
	for _, t := range toAdd {
		if err := s.Subscribe(t); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	for _, t := range toDrop {
		s.Unsubscribe(t)
	}
	return firstErr
}

// Topics returns the currently subscribed topic set, sorted.
func (s *Session) Topics() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.subs))
	for t := range s.subs {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Degraded reports whether the last subscribe attempt exhausted its retries.
// Rendered state is kept; only live updates are affected.
func (s *Session) Degraded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.degraded
}

// Close tears down every open subscription. Idempotent.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	cancels := make([]bus.CancelFunc, 0, len(s.subs))
	for _, c := range s.subs {
		cancels = append(cancels, c)
	}
	s.subs = make(map[string]bus.CancelFunc)
	s.mu.Unlock()
	for _, c := range cancels {
		c()
	}
}

var errSessionClosed = errClosed{}

type errClosed struct{}

func (errClosed) Error() string { return "session closed" }
