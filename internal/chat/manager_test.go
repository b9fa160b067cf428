package chat

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/velosdrop/velosdrop-sub001/internal/apperrors"
	"github.com/velosdrop/velosdrop-sub001/internal/bus"
	"github.com/velosdrop/velosdrop-sub001/internal/models"
)

func testManager(t *testing.T) (*Manager, *MemoryStore, *bus.MemoryBus) {
	t.Helper()
	store := NewMemoryStore()
	b := bus.NewMemoryBus()
	lookup := func(ctx context.Context, orderID string) (*models.Order, error) {
		if orderID != "o1" {
			return nil, apperrors.ErrNotFound
		}
		return &models.Order{ID: "o1", CustomerID: "c1", DriverID: "d1", Status: models.StatusAccepted}, nil
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewManager(store, b, lookup, logger), store, b
}

func customerText(content string) models.ChatMessage {
	return models.ChatMessage{
		OrderID:    "o1",
		SenderRole: models.RoleCustomer,
		SenderID:   "c1",
		Type:       models.MessageText,
		Content:    content,
	}
}

func TestPostPersistsBeforePublish(t *testing.T) {
	m, store, b := testManager(t)

	// the live event handler must already find the message in history
	var mu sync.Mutex
	var inHistory []bool
	cancel, _ := b.Subscribe(bus.OrderTopic("o1"), func(topic string, ev bus.Event) {
		msgs, err := store.History(context.Background(), "o1")
		mu.Lock()
		inHistory = append(inHistory, err == nil && len(msgs) == 1)
		mu.Unlock()
	})
	defer cancel()

	posted, err := m.Post(context.Background(), customerText("on my way?"))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	if posted.ID == "" || posted.CreatedAt.IsZero() {
		t.Fatalf("post did not assign identity: %+v", posted)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(inHistory) != 1 || !inHistory[0] {
		t.Fatalf("live event delivered before persistence: %v", inHistory)
	}
}

func TestPostNotifiesCounterparty(t *testing.T) {
	m, _, b := testManager(t)

	var mu sync.Mutex
	got := map[string]int{}
	for _, topic := range []string{bus.DriverTopic("d1"), bus.CustomerTopic("c1")} {
		cancel, _ := b.Subscribe(topic, func(tp string, ev bus.Event) {
			mu.Lock()
			got[tp]++
			mu.Unlock()
		})
		t.Cleanup(cancel)
	}

	if _, err := m.Post(context.Background(), customerText("hello")); err != nil {
		t.Fatal(err)
	}
	mu.Lock()
	defer mu.Unlock()
	if got[bus.DriverTopic("d1")] != 1 {
		t.Fatalf("driver topic got %d events, want 1", got[bus.DriverTopic("d1")])
	}
	if got[bus.CustomerTopic("c1")] != 0 {
		t.Fatalf("sender was notified of own message")
	}
}

func TestPostSystemNotifiesBothParties(t *testing.T) {
	m, _, b := testManager(t)

	var mu sync.Mutex
	got := map[string]int{}
	for _, topic := range []string{bus.DriverTopic("d1"), bus.CustomerTopic("c1")} {
		cancel, _ := b.Subscribe(topic, func(tp string, ev bus.Event) {
			mu.Lock()
			got[tp]++
			mu.Unlock()
		})
		t.Cleanup(cancel)
	}

	msg, err := m.PostSystem(context.Background(), "o1", "Delivery completed.")
	if err != nil {
		t.Fatal(err)
	}
	if msg.Type != models.MessageStatusUpdate || msg.SenderRole != models.RoleSystem {
		t.Fatalf("system message: %+v", msg)
	}
	mu.Lock()
	defer mu.Unlock()
	if got[bus.DriverTopic("d1")] != 1 || got[bus.CustomerTopic("c1")] != 1 {
		t.Fatalf("system narration fan-out: %v", got)
	}
}

func TestPostValidation(t *testing.T) {
	m, _, _ := testManager(t)

	cases := []struct {
		name string
		msg  models.ChatMessage
	}{
		{"text without content", models.ChatMessage{OrderID: "o1", SenderRole: models.RoleCustomer, SenderID: "c1", Type: models.MessageText}},
		{"image without reference", models.ChatMessage{OrderID: "o1", SenderRole: models.RoleCustomer, SenderID: "c1", Type: models.MessageImage}},
		{"location without coords", models.ChatMessage{OrderID: "o1", SenderRole: models.RoleCustomer, SenderID: "c1", Type: models.MessageLocation}},
		{"unknown type", models.ChatMessage{OrderID: "o1", SenderRole: models.RoleCustomer, SenderID: "c1", Type: "gif", Content: "x"}},
		{"unknown role", models.ChatMessage{OrderID: "o1", SenderRole: "bot", SenderID: "c1", Type: models.MessageText, Content: "x"}},
		{"not the customer", models.ChatMessage{OrderID: "o1", SenderRole: models.RoleCustomer, SenderID: "stranger", Type: models.MessageText, Content: "x"}},
		{"not the assigned driver", models.ChatMessage{OrderID: "o1", SenderRole: models.RoleDriver, SenderID: "other-driver", Type: models.MessageText, Content: "x"}},
		{"missing order id", models.ChatMessage{SenderRole: models.RoleCustomer, SenderID: "c1", Type: models.MessageText, Content: "x"}},
	}
	for _, c := range cases {
		if _, err := m.Post(context.Background(), c.msg); !errors.Is(err, apperrors.ErrValidation) {
			t.Errorf("%s: got %v, want validation error", c.name, err)
		}
	}
}

func TestMarkReadIdempotent(t *testing.T) {
	m, store, _ := testManager(t)
	posted, err := m.Post(context.Background(), customerText("ping"))
	if err != nil {
		t.Fatal(err)
	}

	if err := m.MarkRead(context.Background(), "o1", posted.ID, models.RoleDriver, "d1"); err != nil {
		t.Fatalf("first mark: %v", err)
	}
	if err := m.MarkRead(context.Background(), "o1", posted.ID, models.RoleDriver, "d1"); err != nil {
		t.Fatalf("second mark: %v", err)
	}
	msgs, _ := store.History(context.Background(), "o1")
	if !msgs[0].Read {
		t.Fatal("read flag not set")
	}

	if err := m.MarkRead(context.Background(), "o1", "nope", models.RoleDriver, "d1"); !errors.Is(err, apperrors.ErrNotFound) {
		t.Fatalf("unknown message: %v", err)
	}
}

func TestMarkReadChecksReader(t *testing.T) {
	m, store, _ := testManager(t)
	posted, err := m.Post(context.Background(), customerText("ping"))
	if err != nil {
		t.Fatal(err)
	}

	cases := []struct {
		name   string
		role   models.SenderRole
		reader string
	}{
		{"foreign driver", models.RoleDriver, "d9"},
		{"foreign customer", models.RoleCustomer, "c9"},
		{"system role", models.RoleSystem, "system"},
	}
	for _, c := range cases {
		err := m.MarkRead(context.Background(), "o1", posted.ID, c.role, c.reader)
		if !errors.Is(err, apperrors.ErrValidation) {
			t.Errorf("%s: got %v, want validation error", c.name, err)
		}
	}
	msgs, _ := store.History(context.Background(), "o1")
	if msgs[0].Read {
		t.Fatal("rejected reader flipped the read flag")
	}

	if err := m.MarkRead(context.Background(), "o1", posted.ID, models.RoleCustomer, "c1"); err != nil {
		t.Fatalf("participant mark: %v", err)
	}
}

func TestHistoryOrdered(t *testing.T) {
	m, _, _ := testManager(t)
	for _, c := range []string{"first", "second", "third"} {
		if _, err := m.Post(context.Background(), customerText(c)); err != nil {
			t.Fatal(err)
		}
	}
	msgs, err := m.History(context.Background(), "o1")
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 3 {
		t.Fatalf("history has %d messages", len(msgs))
	}
	for i := 1; i < len(msgs); i++ {
		if msgs[i].CreatedAt.Before(msgs[i-1].CreatedAt) {
			t.Fatalf("history out of order at %d", i)
		}
	}
}
