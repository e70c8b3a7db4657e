package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/dukerupert/kudos/internal/model"
	"github.com/dukerupert/kudos/internal/tier"
)

type RewardStore struct {
	db DBTX
}

func NewRewardStore(db DBTX) *RewardStore {
	return &RewardStore{db: db}
}

// --- Reward configuration methods ---

func scanRewardConfig(scanner interface{ Scan(...any) error }) (*model.RewardConfiguration, error) {
	var c model.RewardConfiguration
	var value sql.NullFloat64
	var data string
	var active int

	err := scanner.Scan(&c.ID, &c.CommunityID, &c.TierName, &c.RewardType, &c.Title, &c.Description,
		&value, &data, &active, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if value.Valid {
		c.Value = &value.Float64
	}
	if data != "" {
		if err := json.Unmarshal([]byte(data), &c.Data); err != nil {
			return nil, fmt.Errorf("decode reward data for config %d: %w", c.ID, err)
		}
	}
	c.Active = active != 0
	return &c, nil
}

const rewardConfigCols = `id, community_id, tier_name, reward_type, title, description, value, data, is_active, created_at, updated_at`

func (s *RewardStore) CreateConfig(ctx context.Context, c *model.RewardConfiguration, now time.Time) (*model.RewardConfiguration, error) {
	data, err := json.Marshal(c.Data)
	if err != nil {
		return nil, fmt.Errorf("encode reward data: %w", err)
	}
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO reward_configurations (community_id, tier_name, reward_type, title, description, value, data, is_active, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.CommunityID, c.TierName, c.RewardType, c.Title, c.Description, c.Value, string(data), boolInt(c.Active), now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert reward config: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetConfig(ctx, id)
}

func (s *RewardStore) GetConfig(ctx context.Context, id int64) (*model.RewardConfiguration, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+rewardConfigCols+` FROM reward_configurations WHERE id = ?`, id)
	c, err := scanRewardConfig(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get reward config: %w", err)
	}
	return c, nil
}

func (s *RewardStore) UpdateConfig(ctx context.Context, c *model.RewardConfiguration, now time.Time) (*model.RewardConfiguration, error) {
	data, err := json.Marshal(c.Data)
	if err != nil {
		return nil, fmt.Errorf("encode reward data: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`UPDATE reward_configurations
		 SET community_id = ?, tier_name = ?, reward_type = ?, title = ?, description = ?, value = ?, data = ?, is_active = ?, updated_at = ?
		 WHERE id = ?`,
		c.CommunityID, c.TierName, c.RewardType, c.Title, c.Description, c.Value, string(data), boolInt(c.Active), now, c.ID,
	)
	if err != nil {
		return nil, fmt.Errorf("update reward config: %w", err)
	}
	return s.GetConfig(ctx, c.ID)
}

func (s *RewardStore) SetConfigActive(ctx context.Context, id int64, active bool, now time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE reward_configurations SET is_active = ?, updated_at = ? WHERE id = ?`,
		boolInt(active), now, id,
	)
	if err != nil {
		return fmt.Errorf("set reward config active: %w", err)
	}
	return nil
}

// ListConfigs returns the community's configurations, active first, then by
// id. An empty communityID lists every community.
func (s *RewardStore) ListConfigs(ctx context.Context, communityID string) ([]model.RewardConfiguration, error) {
	query := `SELECT ` + rewardConfigCols + ` FROM reward_configurations`
	var args []any
	if communityID != "" {
		query += ` WHERE community_id = ?`
		args = append(args, communityID)
	}
	query += ` ORDER BY is_active DESC, id ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list reward configs: %w", err)
	}
	return collectRewardConfigs(rows)
}

// ListActiveForTiers returns the community's active configurations gated on
// any of tiers.
func (s *RewardStore) ListActiveForTiers(ctx context.Context, communityID string, tiers []tier.Name) ([]model.RewardConfiguration, error) {
	if len(tiers) == 0 {
		return nil, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(tiers)), ", ")
	args := []any{communityID}
	for _, t := range tiers {
		args = append(args, t)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+rewardConfigCols+` FROM reward_configurations
		 WHERE community_id = ? AND is_active = 1 AND tier_name IN (`+placeholders+`)
		 ORDER BY id ASC`,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("list active reward configs: %w", err)
	}
	return collectRewardConfigs(rows)
}

func collectRewardConfigs(rows *sql.Rows) ([]model.RewardConfiguration, error) {
	defer rows.Close()

	var configs []model.RewardConfiguration
	for rows.Next() {
		c, err := scanRewardConfig(rows)
		if err != nil {
			return nil, fmt.Errorf("scan reward config: %w", err)
		}
		configs = append(configs, *c)
	}
	return configs, rows.Err()
}

// --- Reward unlock methods ---

func scanRewardUnlock(scanner interface{ Scan(...any) error }) (*model.RewardUnlock, error) {
	var u model.RewardUnlock
	var usedAt sql.NullTime
	var usedBy sql.NullString
	var active int

	err := scanner.Scan(&u.ID, &u.UserID, &u.RewardConfigID, &u.TierName, &u.UnlockedAt, &usedAt, &usedBy, &active)
	if err != nil {
		return nil, err
	}

	u.UsedAt = timePtr(usedAt)
	if usedBy.Valid {
		u.UsedByEvent = &usedBy.String
	}
	u.Active = active != 0
	return &u, nil
}

const rewardUnlockCols = `id, user_id, reward_config_id, tier_name, unlocked_at, used_at, used_by_event, is_active`

// Unlock grants configID to userID unless it was granted before. It reports
// whether a new row was written. An inactive grant is stored archived, as
// if the membership cancellation had happened after it.
func (s *RewardStore) Unlock(ctx context.Context, userID string, configID int64, t tier.Name, active bool, now time.Time) (bool, error) {
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO reward_unlocks (user_id, reward_config_id, tier_name, unlocked_at, is_active)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (user_id, reward_config_id) DO NOTHING`,
		userID, configID, t, now, boolInt(active),
	)
	if err != nil {
		return false, fmt.Errorf("insert reward unlock: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n == 1, nil
}

func (s *RewardStore) GetUnlock(ctx context.Context, userID string, configID int64) (*model.RewardUnlock, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+rewardUnlockCols+` FROM reward_unlocks WHERE user_id = ? AND reward_config_id = ?`,
		userID, configID,
	)
	u, err := scanRewardUnlock(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get reward unlock: %w", err)
	}
	return u, nil
}

// GetUnlockByEvent returns the unlock the given event redeemed, or nil.
func (s *RewardStore) GetUnlockByEvent(ctx context.Context, userID, eventID string) (*model.RewardUnlock, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+rewardUnlockCols+` FROM reward_unlocks WHERE user_id = ? AND used_by_event = ?`,
		userID, eventID,
	)
	u, err := scanRewardUnlock(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get reward unlock by event: %w", err)
	}
	return u, nil
}

// ListUnlocks returns the user's unlocks joined with their configurations,
// oldest unlock first.
func (s *RewardStore) ListUnlocks(ctx context.Context, userID string) ([]model.UnlockedReward, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT u.id, u.user_id, u.reward_config_id, u.tier_name, u.unlocked_at, u.used_at, u.used_by_event, u.is_active,
		        c.id, c.community_id, c.tier_name, c.reward_type, c.title, c.description, c.value, c.data, c.is_active, c.created_at, c.updated_at
		 FROM reward_unlocks u
		 JOIN reward_configurations c ON c.id = u.reward_config_id
		 WHERE u.user_id = ?
		 ORDER BY u.id ASC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list reward unlocks: %w", err)
	}
	defer rows.Close()

	var out []model.UnlockedReward
	for rows.Next() {
		var r model.UnlockedReward
		var usedAt sql.NullTime
		var usedBy sql.NullString
		var unlockActive, configActive int
		var value sql.NullFloat64
		var data string
		err := rows.Scan(&r.ID, &r.UserID, &r.RewardConfigID, &r.TierName, &r.UnlockedAt, &usedAt, &usedBy, &unlockActive,
			&r.Config.ID, &r.Config.CommunityID, &r.Config.TierName, &r.Config.RewardType, &r.Config.Title,
			&r.Config.Description, &value, &data, &configActive, &r.Config.CreatedAt, &r.Config.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("scan reward unlock: %w", err)
		}
		r.UsedAt = timePtr(usedAt)
		if usedBy.Valid {
			r.UsedByEvent = &usedBy.String
		}
		r.Active = unlockActive != 0
		r.Config.Active = configActive != 0
		if value.Valid {
			v := value.Float64
			r.Config.Value = &v
		}
		if data != "" {
			if err := json.Unmarshal([]byte(data), &r.Config.Data); err != nil {
				return nil, fmt.Errorf("decode reward data for config %d: %w", r.Config.ID, err)
			}
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// MarkUsed sets used_at on an active, unused unlock. It reports whether the
// unlock was consumed by this call. A non-empty eventID records which ledger
// event redeemed it; one event redeems at most one unlock.
func (s *RewardStore) MarkUsed(ctx context.Context, userID string, configID int64, eventID string, now time.Time) (bool, error) {
	result, err := s.db.ExecContext(ctx,
		`UPDATE reward_unlocks SET used_at = ?, used_by_event = NULLIF(?, '')
		 WHERE user_id = ? AND reward_config_id = ? AND used_at IS NULL AND is_active = 1`,
		now, eventID, userID, configID,
	)
	if err != nil {
		return false, fmt.Errorf("mark reward used: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n == 1, nil
}

// SetUnlocksActive archives or restores every unlock the user holds and
// returns how many rows changed.
func (s *RewardStore) SetUnlocksActive(ctx context.Context, userID string, active bool) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		`UPDATE reward_unlocks SET is_active = ? WHERE user_id = ? AND is_active != ?`,
		boolInt(active), userID, boolInt(active),
	)
	if err != nil {
		return 0, fmt.Errorf("set reward unlocks active: %w", err)
	}
	return result.RowsAffected()
}

// FindUnusedDiscount returns the user's active, unused discount unlock whose
// code matches, or nil.
func (s *RewardStore) FindUnusedDiscount(ctx context.Context, userID, code string) (*model.RewardUnlock, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT u.id, u.user_id, u.reward_config_id, u.tier_name, u.unlocked_at, u.used_at, u.used_by_event, u.is_active
		 FROM reward_unlocks u
		 JOIN reward_configurations c ON c.id = u.reward_config_id
		 WHERE u.user_id = ? AND u.used_at IS NULL AND u.is_active = 1
		   AND c.reward_type IN (?, ?)
		   AND json_extract(c.data, '$.discount.code') = ?
		 ORDER BY u.id ASC LIMIT 1`,
		userID, model.RewardDiscountPercentage, model.RewardDiscountFixed, code,
	)
	u, err := scanRewardUnlock(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find discount unlock: %w", err)
	}
	return u, nil
}
