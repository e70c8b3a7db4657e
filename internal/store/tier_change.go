package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/dukerupert/kudos/internal/model"
)

type TierChangeStore struct {
	db DBTX
}

func NewTierChangeStore(db DBTX) *TierChangeStore {
	return &TierChangeStore{db: db}
}

func scanTierChange(scanner interface{ Scan(...any) error }) (*model.TierChange, error) {
	var c model.TierChange
	var trigger sql.NullString

	err := scanner.Scan(&c.ID, &c.UserID, &c.PreviousTier, &c.NewTier, &c.PointsAtChange, &trigger, &c.ChangedAt)
	if err != nil {
		return nil, err
	}

	if trigger.Valid {
		c.TriggerEventID = &trigger.String
	}
	return &c, nil
}

const tierChangeCols = `id, user_id, previous_tier, new_tier, points_at_change, trigger_event_id, changed_at`

// Insert records c and fills in its ID.
func (s *TierChangeStore) Insert(ctx context.Context, c *model.TierChange) error {
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO tier_changes (user_id, previous_tier, new_tier, points_at_change, trigger_event_id, changed_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		c.UserID, c.PreviousTier, c.NewTier, c.PointsAtChange, c.TriggerEventID, c.ChangedAt,
	)
	if err != nil {
		return fmt.Errorf("insert tier change: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("last insert id: %w", err)
	}
	c.ID = id
	return nil
}

// GetByTrigger returns the tier change caused by eventID, if any.
func (s *TierChangeStore) GetByTrigger(ctx context.Context, eventID string) (*model.TierChange, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+tierChangeCols+` FROM tier_changes WHERE trigger_event_id = ?`, eventID)
	c, err := scanTierChange(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get tier change: %w", err)
	}
	return c, nil
}

// ListByUser returns the user's tier history, oldest first.
func (s *TierChangeStore) ListByUser(ctx context.Context, userID string) ([]model.TierChange, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+tierChangeCols+` FROM tier_changes WHERE user_id = ? ORDER BY id ASC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list tier changes: %w", err)
	}
	defer rows.Close()

	var changes []model.TierChange
	for rows.Next() {
		c, err := scanTierChange(rows)
		if err != nil {
			return nil, fmt.Errorf("scan tier change: %w", err)
		}
		changes = append(changes, *c)
	}
	return changes, rows.Err()
}
