// Package wallet holds the driver wallet ledger and the settlement
// transaction that finalizes an order and debits the platform commission as
// one atomic unit.
package wallet

import (
	"context"
	"math"

	"github.com/velosdrop/velosdrop-sub001/internal/models"
)

// Settlement is the outcome of one settle call. Entry is nil when the order
// was already completed and the call was a no-op.
type Settlement struct {
	Order *models.Order
	Entry *models.LedgerEntry
}

// Store is the persistence behind wallets. Settle must execute its checks,
// the ledger append, the balance change and the order completion as a
// single atomic unit against the store.
type Store interface {
	Balance(ctx context.Context, driverID string) (int64, error)
	Entries(ctx context.Context, driverID string) ([]models.LedgerEntry, error)
	// Credit appends a signed adjustment or topup entry and moves the
	// balance with it.
	Credit(ctx context.Context, driverID string, amountCents int64, reason models.LedgerReason) (*models.LedgerEntry, error)
	// Settle atomically: verifies the order is in_transit and assigned to
	// driverID (already completed is a no-op), checks the balance covers
	// feeCents (InsufficientBalanceError carries the shortfall), appends
	// the -feeCents commission entry and marks the order completed.
	Settle(ctx context.Context, orderID, driverID string, feeCents int64) (*Settlement, error)
}

// CommissionCents is the platform's cut of a fare, rounded to the nearest
// cent.
func CommissionCents(fareCents int64, rate float64) int64 {
	return int64(math.Round(float64(fareCents) * rate))
}
