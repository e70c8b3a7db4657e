package reward

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"

	"github.com/dukerupert/kudos/internal/model"
	"github.com/dukerupert/kudos/internal/tier"
)

// SeedFile is the YAML layout accepted by Seed:
//
//	rewards:
//	  - community_id: main
//	    tier: Silver
//	    type: discount_percentage
//	    title: Silver member discount
//	    value: 10
//	    code: SILVER10
type SeedFile struct {
	Rewards []SeedReward `yaml:"rewards"`
}

type SeedReward struct {
	CommunityID string         `yaml:"community_id"`
	Tier        string         `yaml:"tier"`
	Type        string         `yaml:"type"`
	Title       string         `yaml:"title"`
	Description string         `yaml:"description"`
	Value       *float64       `yaml:"value"`
	Code        string         `yaml:"code"`
	ProductID   string         `yaml:"product_id"`
	Resource    string         `yaml:"resource"`
	Role        string         `yaml:"role"`
	URL         string         `yaml:"url"`
	Custom      map[string]any `yaml:"custom"`
	Inactive    bool           `yaml:"inactive"`
}

func (s SeedReward) config() (*model.RewardConfiguration, error) {
	c := &model.RewardConfiguration{
		CommunityID: s.CommunityID,
		TierName:    tier.Name(s.Tier),
		RewardType:  model.RewardType(s.Type),
		Title:       s.Title,
		Description: s.Description,
		Value:       s.Value,
		Active:      !s.Inactive,
	}
	switch c.RewardType {
	case model.RewardDiscountPercentage, model.RewardDiscountFixed:
		if s.Code != "" || s.ProductID != "" {
			c.Data.Discount = &model.DiscountData{Code: s.Code, ProductID: s.ProductID}
		}
	case model.RewardSpecialAccess:
		c.Data.Access = &model.AccessData{Resource: s.Resource, Role: s.Role}
	case model.RewardExclusiveContent:
		c.Data.Content = &model.ContentData{URL: s.URL}
	case model.RewardCustom:
		if len(s.Custom) > 0 {
			raw, err := json.Marshal(s.Custom)
			if err != nil {
				return nil, fmt.Errorf("encode custom data: %w", err)
			}
			c.Data.Custom = raw
		}
	}
	return c, nil
}

// Seed creates the configurations listed in a YAML seed file. Entries whose
// community, tier and title match an existing configuration are skipped, so
// a file can be applied repeatedly. It returns the configurations created.
func (e *Engine) Seed(ctx context.Context, r io.Reader, actor string) ([]model.RewardConfiguration, error) {
	var f SeedFile
	if err := yaml.NewDecoder(r).Decode(&f); err != nil {
		return nil, fmt.Errorf("decode seed file: %w", err)
	}

	// Validate everything before writing anything.
	configs := make([]*model.RewardConfiguration, 0, len(f.Rewards))
	for i, s := range f.Rewards {
		c, err := s.config()
		if err != nil {
			return nil, fmt.Errorf("reward %d: %w", i, err)
		}
		if err := Validate(c); err != nil {
			return nil, fmt.Errorf("reward %d (%s): %w", i, s.Title, err)
		}
		configs = append(configs, c)
	}

	existing, err := e.ListConfigs(ctx, "")
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool, len(existing))
	for _, c := range existing {
		seen[seedKey(&c)] = true
	}

	var created []model.RewardConfiguration
	for _, c := range configs {
		if seen[seedKey(c)] {
			continue
		}
		out, err := e.CreateConfig(ctx, c, actor)
		if err != nil {
			return created, err
		}
		seen[seedKey(c)] = true
		created = append(created, *out)
	}
	e.logger.Info("seeded reward configs", "created", len(created), "skipped", len(configs)-len(created))
	return created, nil
}

func seedKey(c *model.RewardConfiguration) string {
	return c.CommunityID + "\x00" + string(c.TierName) + "\x00" + c.Title
}
