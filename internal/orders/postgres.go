package orders

import (
	"context"
	"database/sql"
	"errors"
	"time"

	_ "github.com/lib/pq"

	"github.com/velosdrop/velosdrop-sub001/internal/apperrors"
	"github.com/velosdrop/velosdrop-sub001/internal/models"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// OpenPostgres opens and pings a connection for the given DSN.
func OpenPostgres(dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return db, nil
}

func (p *PostgresStore) Create(ctx context.Context, o *models.Order) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO orders(
			id, customer_id, driver_id, status, status_version,
			pickup_address, dropoff_address,
			pickup_lat, pickup_lon, dropoff_lat, dropoff_lon,
			fare_cents, distance_km, package_note, recipient_phone,
			created_at, expires_at
		) VALUES ($1,$2,NULLIF($3,''),$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)`,
		o.ID, o.CustomerID, o.DriverID, o.Status, o.StatusVersion,
		o.PickupAddress, o.DropoffAddress,
		o.Pickup.Lat, o.Pickup.Lon, o.Dropoff.Lat, o.Dropoff.Lon,
		o.FareCents, o.DistanceKm, o.PackageNote, o.RecipientPhone,
		o.CreatedAt, o.ExpiresAt)
	return err
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*models.Order, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT id, customer_id, driver_id, status, status_version,
		       pickup_address, dropoff_address,
		       pickup_lat, pickup_lon, dropoff_lat, dropoff_lon,
		       fare_cents, distance_km, package_note, recipient_phone,
		       created_at, expires_at, responded_at, completed_at
		FROM orders WHERE id = $1`, id)
	return scanOrder(row)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (*models.Order, error) {
	var o models.Order
	var driverID sql.NullString
	var expiresAt, respondedAt, completedAt sql.NullTime
	err := row.Scan(
		&o.ID, &o.CustomerID, &driverID, &o.Status, &o.StatusVersion,
		&o.PickupAddress, &o.DropoffAddress,
		&o.Pickup.Lat, &o.Pickup.Lon, &o.Dropoff.Lat, &o.Dropoff.Lon,
		&o.FareCents, &o.DistanceKm, &o.PackageNote, &o.RecipientPhone,
		&o.CreatedAt, &expiresAt, &respondedAt, &completedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if driverID.Valid {
		o.DriverID = driverID.String
	}
	o.ExpiresAt = nullTimePtr(expiresAt)
	o.RespondedAt = nullTimePtr(respondedAt)
	o.CompletedAt = nullTimePtr(completedAt)
	return &o, nil
}

func (p *PostgresStore) UpdateStatusCAS(ctx context.Context, id string, from, to models.OrderStatus, version int, driverID string) (bool, error) {
	res, err := p.db.ExecContext(ctx, casUpdateSQL,
		string(to), driverID, id, string(from), version)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// casUpdateSQL is shared with the settlement transaction, which runs the
// same conditional update inside its own sql.Tx.
const casUpdateSQL = `
	UPDATE orders
	SET status = $1,
	    status_version = status_version + 1,
	    driver_id = COALESCE(NULLIF($2, ''), driver_id),
	    responded_at = CASE WHEN $1 IN ('accepted','rejected') THEN NOW() ELSE responded_at END,
	    completed_at = CASE WHEN $1 = 'completed' THEN NOW() ELSE completed_at END
	WHERE id = $3 AND status = $4 AND status_version = $5`

func (p *PostgresStore) ActiveForDriver(ctx context.Context, driverID string) (*models.Order, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT id, customer_id, driver_id, status, status_version,
		       pickup_address, dropoff_address,
		       pickup_lat, pickup_lon, dropoff_lat, dropoff_lon,
		       fare_cents, distance_km, package_note, recipient_phone,
		       created_at, expires_at, responded_at, completed_at
		FROM orders
		WHERE driver_id = $1 AND status IN ('accepted','picked_up','in_transit')
		ORDER BY created_at DESC
		LIMIT 1`, driverID)
	o, err := scanOrder(row)
	if errors.Is(err, apperrors.ErrNotFound) {
		return nil, nil
	}
	return o, err
}

func (p *PostgresStore) ListExpiredPending(ctx context.Context, now time.Time) ([]string, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id FROM orders
		WHERE status = 'pending' AND expires_at IS NOT NULL AND expires_at <= $1`, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func nullTimePtr(v sql.NullTime) *time.Time {
	if !v.Valid {
		return nil
	}
	t := v.Time
	return &t
}
