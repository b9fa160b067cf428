package orders

import (
	"context"
	"sync"
	"time"

	"github.com/velosdrop/velosdrop-sub001/internal/apperrors"
	"github.com/velosdrop/velosdrop-sub001/internal/models"
)

// Store defines persistence for orders. UpdateStatusCAS is the conditional
// update backing every transition: it applies only when the stored status
// and version still match, so two racing writers cannot both succeed.
type Store interface {
	Create(ctx context.Context, o *models.Order) error
	Get(ctx context.Context, id string) (*models.Order, error)
	// UpdateStatusCAS moves the order from -> to iff (status, version) still
	// match. A non-empty driverID is bound at the same time. Returns false
	// without error when the compare failed.
	UpdateStatusCAS(ctx context.Context, id string, from, to models.OrderStatus, version int, driverID string) (bool, error)
	// ListExpiredPending returns ids of pending orders whose deadline is at
	// or before now.
	ListExpiredPending(ctx context.Context, now time.Time) ([]string, error)
	// ActiveForDriver returns the driver's order currently being fulfilled
	// (accepted, picked_up or in_transit), or nil when there is none.
	ActiveForDriver(ctx context.Context, driverID string) (*models.Order, error)
}

type MemoryStore struct {
	mu     sync.RWMutex
	orders map[string]*models.Order
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{orders: make(map[string]*models.Order)}
}

func (m *MemoryStore) Create(ctx context.Context, o *models.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *o
	m.orders[o.ID] = &cp
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*models.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.orders[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	cp := *o
	return &cp, nil
}

func (m *MemoryStore) UpdateStatusCAS(ctx context.Context, id string, from, to models.OrderStatus, version int, driverID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return false, apperrors.ErrNotFound
	}
	if o.Status != from || o.StatusVersion != version {
		return false, nil
	}
	now := time.Now()
	o.Status = to
	o.StatusVersion++
	if driverID != "" {
		o.DriverID = driverID
	}
	switch to {
	case models.StatusAccepted, models.StatusRejected:
		o.RespondedAt = &now
	case models.StatusCompleted:
		o.CompletedAt = &now
	}
	return true, nil
}

func (m *MemoryStore) ActiveForDriver(ctx context.Context, driverID string) (*models.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, o := range m.orders {
		if o.DriverID != driverID {
			continue
		}
		switch o.Status {
		case models.StatusAccepted, models.StatusPickedUp, models.StatusInTransit:
			cp := *o
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *MemoryStore) ListExpiredPending(ctx context.Context, now time.Time) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []string
	for id, o := range m.orders {
		if o.Status == models.StatusPending && o.ExpiresAt != nil && !o.ExpiresAt.After(now) {
			out = append(out, id)
		}
	}
	return out, nil
}
