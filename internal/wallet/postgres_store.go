package wallet

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/velosdrop/velosdrop-sub001/internal/apperrors"
	"github.com/velosdrop/velosdrop-sub001/internal/models"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) Balance(ctx context.Context, driverID string) (int64, error) {
	var bal int64
	err := p.db.QueryRowContext(ctx,
		`SELECT balance_cents FROM wallets WHERE driver_id = $1`, driverID).Scan(&bal)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return bal, err
}

func (p *PostgresStore) Entries(ctx context.Context, driverID string) ([]models.LedgerEntry, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, driver_id, amount_cents, reason, balance_cents, COALESCE(order_id, ''), created_at
		FROM wallet_ledger WHERE driver_id = $1 ORDER BY created_at, id`, driverID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.LedgerEntry
	for rows.Next() {
		var e models.LedgerEntry
		if err := rows.Scan(&e.ID, &e.DriverID, &e.AmountCents, &e.Reason, &e.BalanceCents, &e.OrderID, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (p *PostgresStore) Credit(ctx context.Context, driverID string, amountCents int64, reason models.LedgerReason) (*models.LedgerEntry, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	entry, err := appendEntry(ctx, tx, driverID, amountCents, reason, "")
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return entry, nil
}

// Settle runs the settlement as one database transaction: the order row is
// locked, its status re-checked inside the transaction, the wallet debited
// and the order completed together. A duplicate call observes completed and
// returns without touching the wallet.
func (p *PostgresStore) Settle(ctx context.Context, orderID, driverID string, feeCents int64) (*Settlement, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var status, assigned string
	var version int
	err = tx.QueryRowContext(ctx, `
		SELECT status, COALESCE(driver_id, ''), status_version
		FROM orders WHERE id = $1 FOR UPDATE`, orderID).Scan(&status, &assigned, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if models.OrderStatus(status) == models.StatusCompleted {
		o, err := p.getOrderTx(ctx, tx, orderID)
		if err != nil {
			return nil, err
		}
		return &Settlement{Order: o}, nil
	}
	if models.OrderStatus(status) != models.StatusInTransit {
		return nil, apperrors.Validationf("order %s is %s, not in_transit", orderID, status)
	}
	if assigned != driverID {
		return nil, apperrors.Validationf("driver %s is not assigned to order %s", driverID, orderID)
	}

	var balance int64
	err = tx.QueryRowContext(ctx, `
		SELECT balance_cents FROM wallets WHERE driver_id = $1 FOR UPDATE`, driverID).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		balance = 0
	} else if err != nil {
		return nil, err
	}
	if balance < feeCents {
		return nil, &apperrors.InsufficientBalanceError{DriverID: driverID, BalanceCents: balance, RequiredCents: feeCents}
	}

	entry, err := appendEntry(ctx, tx, driverID, -feeCents, models.ReasonCommission, orderID)
	if err != nil {
		return nil, err
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE orders
		SET status = 'completed',
		    status_version = status_version + 1,
		    completed_at = NOW()
		WHERE id = $1 AND status = 'in_transit' AND status_version = $2`,
		orderID, version)
	if err != nil {
		return nil, err
	}
	if n, _ := res.RowsAffected(); n != 1 {
		return nil, apperrors.Conflictf("order %s changed concurrently", orderID)
	}

	o, err := p.getOrderTx(ctx, tx, orderID)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &Settlement{Order: o, Entry: entry}, nil
}

func appendEntry(ctx context.Context, tx *sql.Tx, driverID string, amountCents int64, reason models.LedgerReason, orderID string) (*models.LedgerEntry, error) {
	var balance int64
	err := tx.QueryRowContext(ctx, `
		INSERT INTO wallets(driver_id, balance_cents) VALUES ($1, $2)
		ON CONFLICT (driver_id) DO UPDATE SET balance_cents = wallets.balance_cents + $2
		RETURNING balance_cents`, driverID, amountCents).Scan(&balance)
	if err != nil {
		return nil, err
	}
	entry := &models.LedgerEntry{
		ID:           uuid.NewString(),
		DriverID:     driverID,
		AmountCents:  amountCents,
		Reason:       reason,
		BalanceCents: balance,
		OrderID:      orderID,
		CreatedAt:    time.Now(),
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO wallet_ledger(id, driver_id, amount_cents, reason, balance_cents, order_id, created_at)
		VALUES ($1,$2,$3,$4,$5,NULLIF($6,''),$7)`,
		entry.ID, entry.DriverID, entry.AmountCents, entry.Reason, entry.BalanceCents, entry.OrderID, entry.CreatedAt)
	if err != nil {
		return nil, err
	}
	return entry, nil
}

func (p *PostgresStore) getOrderTx(ctx context.Context, tx *sql.Tx, orderID string) (*models.Order, error) {
	row := tx.QueryRowContext(ctx, `
		SELECT id, customer_id, COALESCE(driver_id, ''), status, status_version,
		       fare_cents, created_at, completed_at
		FROM orders WHERE id = $1`, orderID)
	var o models.Order
	var completedAt sql.NullTime
	if err := row.Scan(&o.ID, &o.CustomerID, &o.DriverID, &o.Status, &o.StatusVersion,
		&o.FareCents, &o.CreatedAt, &completedAt); err != nil {
		return nil, err
	}
	if completedAt.Valid {
		t := completedAt.Time
		o.CompletedAt = &t
	}
	return &o, nil
}
