// Package notify is the notification and audit sink: events are
// persisted to a Postgres outbox at emit time and delivered
// asynchronously by the notify worker, so a slow or failing delivery
// channel never blocks a booking.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/medisched/booking-engine/internal/scheduling"
)

// Notification is one pending outbox row.
type Notification struct {
	ID          uuid.UUID
	EventType   string
	RecipientID uuid.UUID
	Payload     json.RawMessage
	CreatedAt   time.Time
	DeliveredAt *time.Time
}

// DB is the subset of pgxpool.Pool the outbox needs; pgxmock satisfies
// it in tests.
type DB interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// OutboxStore persists notifications for at-least-once delivery.
type OutboxStore struct {
	db DB
}

func NewOutboxStore(db DB) *OutboxStore {
	return &OutboxStore{db: db}
}

func (s *OutboxStore) Insert(ctx context.Context, eventType string, recipientID uuid.UUID, payload any) (uuid.UUID, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return uuid.Nil, fmt.Errorf("marshal notification payload: %w", err)
	}

	id := uuid.New()
	_, err = s.db.Exec(ctx, `
		INSERT INTO notifications (id, event_type, recipient_id, payload, created_at)
		VALUES ($1, $2, $3, $4, now())
	`, id, eventType, recipientID, data)
	if err != nil {
		return uuid.Nil, fmt.Errorf("insert notification: %w", err)
	}
	return id, nil
}

func (s *OutboxStore) FetchPending(ctx context.Context, limit int) ([]Notification, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, event_type, recipient_id, payload, created_at
		FROM notifications
		WHERE delivered_at IS NULL
		ORDER BY created_at
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("fetch pending notifications: %w", err)
	}
	defer rows.Close()

	var pending []Notification
	for rows.Next() {
		var n Notification
		var payload []byte
		if err := rows.Scan(&n.ID, &n.EventType, &n.RecipientID, &payload, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		n.Payload = append([]byte(nil), payload...)
		pending = append(pending, n)
	}
	return pending, rows.Err()
}

func (s *OutboxStore) MarkDelivered(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE notifications
		SET delivered_at = now()
		WHERE id = $1 AND delivered_at IS NULL
	`, id)
	if err != nil {
		return false, fmt.Errorf("mark notification delivered: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// OutboxNotifier adapts the outbox to the engine's Notifier interface.
type OutboxNotifier struct {
	store *OutboxStore
}

func NewOutboxNotifier(store *OutboxStore) *OutboxNotifier {
	return &OutboxNotifier{store: store}
}

func (n *OutboxNotifier) Notify(ctx context.Context, ev scheduling.Event) error {
	_, err := n.store.Insert(ctx, ev.Type, ev.RecipientID, ev.Payload)
	return err
}
