package model

import (
	"encoding/json"
	"time"

	"github.com/dukerupert/kudos/internal/tier"
)

type RewardType string

const (
	RewardDiscountPercentage RewardType = "discount_percentage"
	RewardDiscountFixed      RewardType = "discount_fixed"
	RewardSpecialAccess      RewardType = "special_access"
	RewardExclusiveContent   RewardType = "exclusive_content"
	RewardCustom             RewardType = "custom"
)

// Valid reports whether t is a known reward type.
func (t RewardType) Valid() bool {
	switch t {
	case RewardDiscountPercentage, RewardDiscountFixed, RewardSpecialAccess, RewardExclusiveContent, RewardCustom:
		return true
	}
	return false
}

// IsDiscount reports whether t carries a numeric discount value.
func (t RewardType) IsDiscount() bool {
	return t == RewardDiscountPercentage || t == RewardDiscountFixed
}

type RewardConfiguration struct {
	ID          int64      `json:"id"`
	CommunityID string     `json:"community_id"`
	TierName    tier.Name  `json:"tier_name"`
	RewardType  RewardType `json:"reward_type"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Value       *float64   `json:"value"`
	Data        RewardData `json:"data"`
	Active      bool       `json:"is_active"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// RewardData is the type-specific payload of a reward configuration. Only the
// variant matching RewardType is set.
type RewardData struct {
	Discount *DiscountData   `json:"discount,omitempty"`
	Access   *AccessData     `json:"access,omitempty"`
	Content  *ContentData    `json:"content,omitempty"`
	Custom   json.RawMessage `json:"custom,omitempty"`
}

type DiscountData struct {
	Code      string `json:"code"`
	ProductID string `json:"product_id,omitempty"`
}

type AccessData struct {
	Resource string `json:"resource"`
	Role     string `json:"role,omitempty"`
}

type ContentData struct {
	URL string `json:"url"`
}

type RewardUnlock struct {
	ID             int64      `json:"id"`
	UserID         string     `json:"user_id"`
	RewardConfigID int64      `json:"reward_config_id"`
	TierName       tier.Name  `json:"tier_name"`
	UnlockedAt     time.Time  `json:"unlocked_at"`
	UsedAt         *time.Time `json:"used_at"`
	// UsedByEvent is the ledger event that redeemed the unlock, if any.
	UsedByEvent *string `json:"used_by_event,omitempty"`
	Active      bool    `json:"is_active"`
}

// UnlockedReward joins an unlock with the configuration it grants.
type UnlockedReward struct {
	RewardUnlock
	Config RewardConfiguration `json:"config"`
}
