package model

import (
	"time"

	"github.com/dukerupert/kudos/internal/tier"
)

// Account is the cached aggregate of a user's ledger. TotalPoints and
// CurrentTier are only ever written by the ledger, in the same transaction as
// the event that moved them, or by reconcile.
type Account struct {
	ID                  int64      `json:"-"`
	UserID              string     `json:"user_id"`
	Username            string     `json:"username"`
	CommunityID         string     `json:"community_id"`
	TotalPoints         int64      `json:"total_points"`
	CurrentTier         tier.Name  `json:"current_tier"`
	LastEventSeq        int64      `json:"-"`
	Active              bool       `json:"is_active"`
	MembershipChangedAt *time.Time `json:"membership_changed_at,omitempty"`
	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
}

type TierChange struct {
	ID             int64     `json:"id"`
	UserID         string    `json:"user_id"`
	PreviousTier   tier.Name `json:"previous_tier"`
	NewTier        tier.Name `json:"new_tier"`
	PointsAtChange int64     `json:"points_at_change"`
	TriggerEventID *string   `json:"trigger_event_id"`
	ChangedAt      time.Time `json:"changed_at"`
}

// Upward reports whether the change moved the account to a higher tier.
func (c TierChange) Upward() bool {
	return tier.Rank(c.NewTier) > tier.Rank(c.PreviousTier)
}
