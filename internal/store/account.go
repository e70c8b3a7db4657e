package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dukerupert/kudos/internal/model"
	"github.com/dukerupert/kudos/internal/tier"
)

type AccountStore struct {
	db DBTX
}

func NewAccountStore(db DBTX) *AccountStore {
	return &AccountStore{db: db}
}

func scanAccount(scanner interface{ Scan(...any) error }) (*model.Account, error) {
	var a model.Account
	var active int
	var changedAt sql.NullTime

	err := scanner.Scan(&a.ID, &a.UserID, &a.Username, &a.CommunityID, &a.TotalPoints, &a.CurrentTier,
		&a.LastEventSeq, &active, &changedAt, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}

	a.Active = active != 0
	a.MembershipChangedAt = timePtr(changedAt)
	return &a, nil
}

const accountCols = `id, user_id, username, community_id, total_points, current_tier, last_event_seq, is_active, membership_changed_at, created_at, updated_at`

// Create inserts a Bronze, zero-point account unless one already exists for
// userID. It reports whether a row was inserted.
func (s *AccountStore) Create(ctx context.Context, userID, username, communityID string, now time.Time) (bool, error) {
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO accounts (user_id, username, community_id, total_points, current_tier, created_at, updated_at)
		 VALUES (?, ?, ?, 0, ?, ?, ?)
		 ON CONFLICT (user_id) DO NOTHING`,
		userID, username, communityID, tier.For(0), now, now,
	)
	if err != nil {
		return false, fmt.Errorf("insert account: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n == 1, nil
}

func (s *AccountStore) Get(ctx context.Context, userID string) (*model.Account, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+accountCols+` FROM accounts WHERE user_id = ?`, userID)
	a, err := scanAccount(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get account: %w", err)
	}
	return a, nil
}

// UpdateUsername refreshes the display name when a caller supplies a new one.
func (s *AccountStore) UpdateUsername(ctx context.Context, userID, username string, now time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE accounts SET username = ?, updated_at = ? WHERE user_id = ? AND username != ?`,
		username, now, userID, username,
	)
	if err != nil {
		return fmt.Errorf("update username: %w", err)
	}
	return nil
}

// UpdateAggregate writes the cached total and tier after an event at seq.
func (s *AccountStore) UpdateAggregate(ctx context.Context, userID string, total int64, t tier.Name, seq int64, now time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE accounts SET total_points = ?, current_tier = ?, last_event_seq = ?, updated_at = ? WHERE user_id = ?`,
		total, t, seq, now, userID,
	)
	if err != nil {
		return fmt.Errorf("update account aggregate: %w", err)
	}
	return nil
}

// CompareAndSetAggregate writes total and tier only if no event newer than
// expectedSeq has landed for the user. It reports whether the write applied.
func (s *AccountStore) CompareAndSetAggregate(ctx context.Context, userID string, expectedSeq, total int64, t tier.Name, now time.Time) (bool, error) {
	result, err := s.db.ExecContext(ctx,
		`UPDATE accounts SET total_points = ?, current_tier = ?, updated_at = ?
		 WHERE user_id = ? AND last_event_seq = ?`,
		total, t, now, userID, expectedSeq,
	)
	if err != nil {
		return false, fmt.Errorf("compare and set aggregate: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n == 1, nil
}

// SetActive flips the membership flag if changedAt is not older than the last
// membership change already applied. It reports whether the write applied.
func (s *AccountStore) SetActive(ctx context.Context, userID string, active bool, changedAt, now time.Time) (bool, error) {
	result, err := s.db.ExecContext(ctx,
		`UPDATE accounts SET is_active = ?, membership_changed_at = ?, updated_at = ?
		 WHERE user_id = ? AND (membership_changed_at IS NULL OR membership_changed_at <= ?)`,
		boolInt(active), changedAt, now, userID, changedAt,
	)
	if err != nil {
		return false, fmt.Errorf("set account active: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n == 1, nil
}

// ListUserIDs returns every account's user id in creation order.
func (s *AccountStore) ListUserIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT user_id FROM accounts ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list account ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan account id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Totals returns every account's cached total keyed by user id.
func (s *AccountStore) Totals(ctx context.Context) (map[string]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT user_id, total_points FROM accounts`)
	if err != nil {
		return nil, fmt.Errorf("list account totals: %w", err)
	}
	defer rows.Close()

	totals := make(map[string]int64)
	for rows.Next() {
		var id string
		var total int64
		if err := rows.Scan(&id, &total); err != nil {
			return nil, fmt.Errorf("scan account total: %w", err)
		}
		totals[id] = total
	}
	return totals, rows.Err()
}

// ListWithPoints returns the user ids of accounts holding any points.
func (s *AccountStore) ListWithPoints(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT user_id FROM accounts WHERE total_points > 0 ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list accounts with points: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan account id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

const leaderboardOrder = `ORDER BY total_points DESC, created_at ASC, id ASC`

// Ranked returns accounts in leaderboard order.
func (s *AccountStore) Ranked(ctx context.Context, limit, offset int) ([]model.Account, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+accountCols+` FROM accounts `+leaderboardOrder+` LIMIT ? OFFSET ?`,
		limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("list ranked accounts: %w", err)
	}
	defer rows.Close()

	var accounts []model.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		accounts = append(accounts, *a)
	}
	return accounts, rows.Err()
}

func (s *AccountStore) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM accounts`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count accounts: %w", err)
	}
	return n, nil
}

// RankOf returns the 1-based leaderboard position of userID, or 0 if the
// account does not exist.
func (s *AccountStore) RankOf(ctx context.Context, userID string) (int, error) {
	var rank int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(a.id) + 1 FROM accounts me, accounts a
		 WHERE me.user_id = ? AND (
		   a.total_points > me.total_points
		   OR (a.total_points = me.total_points AND a.created_at < me.created_at)
		   OR (a.total_points = me.total_points AND a.created_at = me.created_at AND a.id < me.id)
		 )`,
		userID,
	).Scan(&rank)
	if err != nil {
		return 0, fmt.Errorf("rank account: %w", err)
	}
	if rank == 1 {
		// COUNT over an empty join also yields 1; tell "first" from "missing".
		var exists int
		err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM accounts WHERE user_id = ?`, userID).Scan(&exists)
		if err != nil {
			return 0, fmt.Errorf("check account: %w", err)
		}
		if exists == 0 {
			return 0, nil
		}
	}
	return rank, nil
}
