package chat

import (
	"context"
	"database/sql"

	"github.com/velosdrop/velosdrop-sub001/internal/models"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Insert(ctx context.Context, m *models.ChatMessage) error {
	var lat, lon sql.NullFloat64
	if m.Loc != nil {
		lat = sql.NullFloat64{Float64: m.Loc.Lat, Valid: true}
		lon = sql.NullFloat64{Float64: m.Loc.Lon, Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO chat_messages(
			id, order_id, sender_role, sender_id, type, content,
			image_url, loc_lat, loc_lon, read, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,NULLIF($7,''),$8,$9,$10,$11)`,
		m.ID, m.OrderID, m.SenderRole, m.SenderID, m.Type, m.Content,
		m.ImageURL, lat, lon, m.Read, m.CreatedAt)
	return err
}

func (s *PostgresStore) History(ctx context.Context, orderID string) ([]models.ChatMessage, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, order_id, sender_role, sender_id, type, content,
		       image_url, loc_lat, loc_lon, read, created_at
		FROM chat_messages
		WHERE order_id = $1
		ORDER BY created_at, id`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.ChatMessage
	for rows.Next() {
		var m models.ChatMessage
		var imageURL sql.NullString
		var lat, lon sql.NullFloat64
		if err := rows.Scan(&m.ID, &m.OrderID, &m.SenderRole, &m.SenderID, &m.Type, &m.Content,
			&imageURL, &lat, &lon, &m.Read, &m.CreatedAt); err != nil {
			return nil, err
		}
		if imageURL.Valid {
			m.ImageURL = imageURL.String
		}
		if lat.Valid && lon.Valid {
			m.Loc = &models.Coord{Lat: lat.Float64, Lon: lon.Float64}
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *PostgresStore) MarkRead(ctx context.Context, orderID, messageID string) error {
	// already-read rows match the WHERE clause too, keeping this idempotent
	_, err := s.db.ExecContext(ctx, `
		UPDATE chat_messages SET read = TRUE
		WHERE id = $1 AND order_id = $2`, messageID, orderID)
	return err
}
