package wallet

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/velosdrop/velosdrop-sub001/internal/apperrors"
	"github.com/velosdrop/velosdrop-sub001/internal/models"
	"github.com/velosdrop/velosdrop-sub001/internal/orders"
)

// MemoryStore backs tests and single-node runs. One mutex covers balances
// and the order store interaction, giving Settle the same atomicity the
// Postgres transaction provides.
type MemoryStore struct {
	mu       sync.Mutex
	balances map[string]int64
	entries  map[string][]models.LedgerEntry
	orders   orders.Store
}

func NewMemoryStore(orderStore orders.Store) *MemoryStore {
	return &MemoryStore{
		balances: make(map[string]int64),
		entries:  make(map[string][]models.LedgerEntry),
		orders:   orderStore,
	}
}

func (m *MemoryStore) Balance(ctx context.Context, driverID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balances[driverID], nil
}

func (m *MemoryStore) Entries(ctx context.Context, driverID string) ([]models.LedgerEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.LedgerEntry, len(m.entries[driverID]))
	copy(out, m.entries[driverID])
	return out, nil
}

func (m *MemoryStore) Credit(ctx context.Context, driverID string, amountCents int64, reason models.LedgerReason) (*models.LedgerEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.append(driverID, amountCents, reason, "")
}

func (m *MemoryStore) Settle(ctx context.Context, orderID, driverID string, feeCents int64) (*Settlement, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	o, err := m.orders.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.Status == models.StatusCompleted {
		return &Settlement{Order: o}, nil
	}
	if o.Status != models.StatusInTransit {
		return nil, apperrors.Validationf("order %s is %s, not in_transit", orderID, o.Status)
	}
	if o.DriverID != driverID {
		return nil, apperrors.Validationf("driver %s is not assigned to order %s", driverID, orderID)
	}
	if bal := m.balances[driverID]; bal < feeCents {
		return nil, &apperrors.InsufficientBalanceError{DriverID: driverID, BalanceCents: bal, RequiredCents: feeCents}
	}

	ok, err := m.orders.UpdateStatusCAS(ctx, orderID, models.StatusInTransit, models.StatusCompleted, o.StatusVersion, "")
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperrors.Conflictf("order %s changed concurrently", orderID)
	}
	entry, _ := m.append(driverID, -feeCents, models.ReasonCommission, orderID)

	o, err = m.orders.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	return &Settlement{Order: o, Entry: entry}, nil
}

// append assumes m.mu is held.
func (m *MemoryStore) append(driverID string, amountCents int64, reason models.LedgerReason, orderID string) (*models.LedgerEntry, error) {
	m.balances[driverID] += amountCents
	entry := models.LedgerEntry{
		ID:           uuid.NewString(),
		DriverID:     driverID,
		AmountCents:  amountCents,
		Reason:       reason,
		BalanceCents: m.balances[driverID],
		OrderID:      orderID,
		CreatedAt:    time.Now(),
	}
	m.entries[driverID] = append(m.entries[driverID], entry)
	return &entry, nil
}
