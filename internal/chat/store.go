package chat

import (
	"context"
	"sort"
	"sync"

	"github.com/velosdrop/velosdrop-sub001/internal/apperrors"
	"github.com/velosdrop/velosdrop-sub001/internal/models"
)

// Store persists chat messages. Messages are immutable after insert except
// for the read flag.
type Store interface {
	Insert(ctx context.Context, m *models.ChatMessage) error
	History(ctx context.Context, orderID string) ([]models.ChatMessage, error)
	// MarkRead sets the read flag. Idempotent; marking an already-read
	// message has no effect.
	MarkRead(ctx context.Context, orderID, messageID string) error
}

type MemoryStore struct {
	mu      sync.RWMutex
	byOrder map[string][]*models.ChatMessage
	byID    map[string]*models.ChatMessage
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byOrder: make(map[string][]*models.ChatMessage),
		byID:    make(map[string]*models.ChatMessage),
	}
}

func (s *MemoryStore) Insert(ctx context.Context, m *models.ChatMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *m
	s.byOrder[m.OrderID] = append(s.byOrder[m.OrderID], &cp)
	s.byID[m.ID] = &cp
	return nil
}

func (s *MemoryStore) History(ctx context.Context, orderID string) ([]models.ChatMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msgs := s.byOrder[orderID]
	out := make([]models.ChatMessage, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, *m)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) MarkRead(ctx context.Context, orderID, messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.byID[messageID]
	if !ok || m.OrderID != orderID {
		return apperrors.ErrNotFound
	}
	m.Read = true
	return nil
}
