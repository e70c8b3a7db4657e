package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/dukerupert/kudos/internal/model"
)

// EventStore reads and appends ledger events. There is deliberately no update
// or delete; the schema rejects both.
type EventStore struct {
	db DBTX
}

func NewEventStore(db DBTX) *EventStore {
	return &EventStore{db: db}
}

func scanEvent(scanner interface{ Scan(...any) error }) (*model.Event, error) {
	var e model.Event
	var metadata string

	err := scanner.Scan(&e.Seq, &e.ID, &e.UserID, &e.ActivityType, &e.PointsAwarded, &metadata, &e.CreatedAt)
	if err != nil {
		return nil, err
	}

	e.Metadata, err = model.DecodeMetadata(metadata)
	if err != nil {
		return nil, fmt.Errorf("decode metadata for event %s: %w", e.ID, err)
	}
	return &e, nil
}

const eventCols = `seq, id, user_id, activity_type, points_awarded, metadata, created_at`

// Append inserts e and fills in its Seq.
func (s *EventStore) Append(ctx context.Context, e *model.Event) error {
	metadata, err := e.Metadata.Encode()
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO events (id, user_id, activity_type, points_awarded, metadata, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		e.ID, e.UserID, e.ActivityType, e.PointsAwarded, metadata, e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	seq, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("last insert id: %w", err)
	}
	e.Seq = seq
	return nil
}

func (s *EventStore) GetByID(ctx context.Context, id string) (*model.Event, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+eventCols+` FROM events WHERE id = ?`, id)
	e, err := scanEvent(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get event: %w", err)
	}
	return e, nil
}

// ListByUser returns the user's most recent events, newest first.
func (s *EventStore) ListByUser(ctx context.Context, userID string, limit int) ([]model.Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+eventCols+` FROM events WHERE user_id = ? ORDER BY seq DESC LIMIT ?`,
		userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	return collectEvents(rows)
}

// ListAfter returns up to limit events with seq greater than afterSeq, oldest
// first.
func (s *EventStore) ListAfter(ctx context.Context, afterSeq int64, limit int) ([]model.Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+eventCols+` FROM events WHERE seq > ? ORDER BY seq ASC LIMIT ?`,
		afterSeq, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list events after %d: %w", afterSeq, err)
	}
	return collectEvents(rows)
}

func collectEvents(rows *sql.Rows) ([]model.Event, error) {
	defer rows.Close()

	var events []model.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		events = append(events, *e)
	}
	return events, rows.Err()
}

// SumByUser returns the sum of the user's events and the highest seq among
// them. Both are 0 for a user with no events.
func (s *EventStore) SumByUser(ctx context.Context, userID string) (sum, maxSeq int64, err error) {
	err = s.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(points_awarded), 0), COALESCE(MAX(seq), 0) FROM events WHERE user_id = ?`,
		userID,
	).Scan(&sum, &maxSeq)
	if err != nil {
		return 0, 0, fmt.Errorf("sum events: %w", err)
	}
	return sum, maxSeq, nil
}

// SumsAfter returns per-user sums of events with seq in (afterSeq, uptoSeq].
func (s *EventStore) SumsAfter(ctx context.Context, afterSeq, uptoSeq int64) (map[string]int64, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id, SUM(points_awarded) FROM events WHERE seq > ? AND seq <= ? GROUP BY user_id`,
		afterSeq, uptoSeq,
	)
	if err != nil {
		return nil, fmt.Errorf("sum events after %d: %w", afterSeq, err)
	}
	defer rows.Close()

	sums := make(map[string]int64)
	for rows.Next() {
		var userID string
		var sum int64
		if err := rows.Scan(&userID, &sum); err != nil {
			return nil, fmt.Errorf("scan event sum: %w", err)
		}
		sums[userID] = sum
	}
	return sums, rows.Err()
}

func (s *EventStore) MaxSeq(ctx context.Context) (int64, error) {
	var seq int64
	err := s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) FROM events`).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("max event seq: %w", err)
	}
	return seq, nil
}
