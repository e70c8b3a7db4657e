package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dukerupert/kudos/internal/model"
)

type WebhookEventStore struct {
	db DBTX
}

func NewWebhookEventStore(db DBTX) *WebhookEventStore {
	return &WebhookEventStore{db: db}
}

func scanWebhookEvent(scanner interface{ Scan(...any) error }) (*model.WebhookEvent, error) {
	var e model.WebhookEvent
	var success, inFlight int
	var processedAt sql.NullTime

	err := scanner.Scan(&e.ID, &e.EventType, &e.Payload, &e.ProcessingResult, &success, &inFlight,
		&e.RetryCount, &e.LastError, &e.ReceivedAt, &processedAt)
	if err != nil {
		return nil, err
	}

	e.Success = success != 0
	e.InFlight = inFlight != 0
	e.ProcessedAt = timePtr(processedAt)
	return &e, nil
}

const webhookEventCols = `id, event_type, payload, processing_result, success, in_flight, retry_count, last_error, received_at, processed_at`

// Begin records an attempt for id. A first delivery inserts an in-flight row;
// a redelivery of an id that has not yet succeeded marks the existing row in
// flight again and bumps retry_count. The row as it stood before the call is
// returned, or nil for a first delivery.
func (s *WebhookEventStore) Begin(ctx context.Context, id, eventType, payload string, now time.Time) (*model.WebhookEvent, error) {
	prev, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if prev == nil {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO webhook_events (id, event_type, payload, in_flight, received_at) VALUES (?, ?, ?, 1, ?)
			 ON CONFLICT (id) DO NOTHING`,
			id, eventType, payload, now,
		)
		if err != nil {
			return nil, fmt.Errorf("insert webhook event: %w", err)
		}
		return nil, nil
	}
	if prev.Success {
		return prev, nil
	}
	_, err = s.db.ExecContext(ctx,
		`UPDATE webhook_events SET in_flight = 1, retry_count = retry_count + 1 WHERE id = ? AND success = 0`,
		id,
	)
	if err != nil {
		return nil, fmt.Errorf("mark webhook event in flight: %w", err)
	}
	return prev, nil
}

// Finish stores the outcome of an attempt.
func (s *WebhookEventStore) Finish(ctx context.Context, id string, success bool, result, lastError string, now time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE webhook_events
		 SET success = ?, processing_result = ?, last_error = ?, in_flight = 0, processed_at = ?
		 WHERE id = ?`,
		boolInt(success), result, lastError, now, id,
	)
	if err != nil {
		return fmt.Errorf("finish webhook event: %w", err)
	}
	return nil
}

func (s *WebhookEventStore) Get(ctx context.Context, id string) (*model.WebhookEvent, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+webhookEventCols+` FROM webhook_events WHERE id = ?`, id)
	e, err := scanWebhookEvent(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get webhook event: %w", err)
	}
	return e, nil
}

// ListFailed returns notifications whose last attempt failed, newest first.
func (s *WebhookEventStore) ListFailed(ctx context.Context, limit int) ([]model.WebhookEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+webhookEventCols+` FROM webhook_events
		 WHERE success = 0 AND in_flight = 0
		 ORDER BY received_at DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list failed webhook events: %w", err)
	}
	defer rows.Close()

	var events []model.WebhookEvent
	for rows.Next() {
		e, err := scanWebhookEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan webhook event: %w", err)
		}
		events = append(events, *e)
	}
	return events, rows.Err()
}
