package reward

import (
	"context"
	"database/sql"
	"strconv"
	"strings"

	"github.com/dukerupert/kudos/internal/apperr"
	"github.com/dukerupert/kudos/internal/model"
	"github.com/dukerupert/kudos/internal/store"
	"github.com/dukerupert/kudos/internal/tier"
)

// Validate checks a configuration before it is stored.
func Validate(c *model.RewardConfiguration) error {
	if strings.TrimSpace(c.CommunityID) == "" {
		return apperr.Validation("community_id is required")
	}
	if !tier.Valid(c.TierName) {
		return apperr.Validation("unknown tier %q", c.TierName)
	}
	if !c.RewardType.Valid() {
		return apperr.Validation("unknown reward type %q", c.RewardType)
	}
	if strings.TrimSpace(c.Title) == "" {
		return apperr.Validation("title is required")
	}

	if c.RewardType.IsDiscount() {
		if c.Value == nil {
			return apperr.Validation("%s requires a value", c.RewardType)
		}
		v := *c.Value
		if c.RewardType == model.RewardDiscountPercentage && (v < 0 || v > 100) {
			return apperr.Validation("percentage value %g outside 0-100", v)
		}
		if c.RewardType == model.RewardDiscountFixed && v <= 0 {
			return apperr.Validation("fixed discount must be positive")
		}
	} else if c.Value != nil && *c.Value < 0 {
		return apperr.Validation("value must not be negative")
	}

	d := c.Data
	switch c.RewardType {
	case model.RewardDiscountPercentage, model.RewardDiscountFixed:
		if d.Access != nil || d.Content != nil || len(d.Custom) > 0 {
			return apperr.Validation("discount rewards only carry discount data")
		}
	case model.RewardSpecialAccess:
		if d.Access == nil || strings.TrimSpace(d.Access.Resource) == "" {
			return apperr.Validation("special_access requires data.access.resource")
		}
		if d.Discount != nil || d.Content != nil || len(d.Custom) > 0 {
			return apperr.Validation("special_access rewards only carry access data")
		}
	case model.RewardExclusiveContent:
		if d.Content == nil || strings.TrimSpace(d.Content.URL) == "" {
			return apperr.Validation("exclusive_content requires data.content.url")
		}
		if d.Discount != nil || d.Access != nil || len(d.Custom) > 0 {
			return apperr.Validation("exclusive_content rewards only carry content data")
		}
	case model.RewardCustom:
		if d.Discount != nil || d.Access != nil || d.Content != nil {
			return apperr.Validation("custom rewards only carry custom data")
		}
	}
	return nil
}

func (e *Engine) CreateConfig(ctx context.Context, c *model.RewardConfiguration, actor string) (*model.RewardConfiguration, error) {
	if err := Validate(c); err != nil {
		return nil, err
	}
	var out *model.RewardConfiguration
	err := e.inTx(ctx, "create_reward_config", func(tx *sql.Tx) error {
		var err error
		out, err = store.NewRewardStore(tx).CreateConfig(ctx, c, e.now())
		if err != nil {
			return err
		}
		_, err = store.NewAuditStore(tx).Record(ctx, actor, "reward_config.create", configSubject(out.ID), out, e.now())
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// UpdateConfig replaces the editable fields of an existing configuration.
// Unlocks already granted are unaffected.
func (e *Engine) UpdateConfig(ctx context.Context, c *model.RewardConfiguration, actor string) (*model.RewardConfiguration, error) {
	if err := Validate(c); err != nil {
		return nil, err
	}
	var out *model.RewardConfiguration
	err := e.inTx(ctx, "update_reward_config", func(tx *sql.Tx) error {
		rewards := store.NewRewardStore(tx)
		existing, err := rewards.GetConfig(ctx, c.ID)
		if err != nil {
			return err
		}
		if existing == nil {
			return apperr.NotFound("reward config %d not found", c.ID)
		}
		out, err = rewards.UpdateConfig(ctx, c, e.now())
		if err != nil {
			return err
		}
		_, err = store.NewAuditStore(tx).Record(ctx, actor, "reward_config.update", configSubject(c.ID),
			map[string]any{"before": existing, "after": out}, e.now())
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// DeactivateConfig stops new unlocks of a configuration. Existing unlocks
// stay usable.
func (e *Engine) DeactivateConfig(ctx context.Context, id int64, actor string) (*model.RewardConfiguration, error) {
	var out *model.RewardConfiguration
	err := e.inTx(ctx, "deactivate_reward_config", func(tx *sql.Tx) error {
		rewards := store.NewRewardStore(tx)
		existing, err := rewards.GetConfig(ctx, id)
		if err != nil {
			return err
		}
		if existing == nil {
			return apperr.NotFound("reward config %d not found", id)
		}
		if err := rewards.SetConfigActive(ctx, id, false, e.now()); err != nil {
			return err
		}
		out, err = rewards.GetConfig(ctx, id)
		if err != nil {
			return err
		}
		_, err = store.NewAuditStore(tx).Record(ctx, actor, "reward_config.deactivate", configSubject(id), nil, e.now())
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (e *Engine) GetConfig(ctx context.Context, id int64) (*model.RewardConfiguration, error) {
	var c *model.RewardConfiguration
	err := e.retry.Do(ctx, e.logger, "get_reward_config", func(ctx context.Context) error {
		var err error
		c, err = store.NewRewardStore(e.db).GetConfig(ctx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, apperr.NotFound("reward config %d not found", id)
	}
	return c, nil
}

// ListConfigs lists one community's configurations, or all of them when
// communityID is empty.
func (e *Engine) ListConfigs(ctx context.Context, communityID string) ([]model.RewardConfiguration, error) {
	var configs []model.RewardConfiguration
	err := e.retry.Do(ctx, e.logger, "list_reward_configs", func(ctx context.Context) error {
		var err error
		configs, err = store.NewRewardStore(e.db).ListConfigs(ctx, communityID)
		return err
	})
	return configs, err
}

func configSubject(id int64) string {
	return "reward_config:" + strconv.FormatInt(id, 10)
}
