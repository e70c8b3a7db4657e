package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dukerupert/kudos/internal/model"
)

type AuditStore struct {
	db DBTX
}

func NewAuditStore(db DBTX) *AuditStore {
	return &AuditStore{db: db}
}

// Record appends an audit entry. detail is marshalled to JSON.
func (s *AuditStore) Record(ctx context.Context, actor, action, subject string, detail any, now time.Time) (*model.AuditEntry, error) {
	raw, err := json.Marshal(detail)
	if err != nil {
		return nil, fmt.Errorf("encode audit detail: %w", err)
	}
	e := &model.AuditEntry{
		ID:        uuid.NewString(),
		Actor:     actor,
		Action:    action,
		Subject:   subject,
		Detail:    raw,
		CreatedAt: now,
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO audit_log (id, actor, action, subject, detail, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		e.ID, e.Actor, e.Action, e.Subject, string(raw), e.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert audit entry: %w", err)
	}
	return e, nil
}

// List returns the newest entries first.
func (s *AuditStore) List(ctx context.Context, limit int) ([]model.AuditEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, actor, action, subject, detail, created_at FROM audit_log ORDER BY created_at DESC, id DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list audit entries: %w", err)
	}
	defer rows.Close()

	var entries []model.AuditEntry
	for rows.Next() {
		var e model.AuditEntry
		var detail string
		if err := rows.Scan(&e.ID, &e.Actor, &e.Action, &e.Subject, &detail, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		e.Detail = json.RawMessage(detail)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
