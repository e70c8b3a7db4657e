package webhook

import (
	"context"
	"strings"

	"github.com/dukerupert/kudos/internal/apperr"
	"github.com/dukerupert/kudos/internal/ledger"
	"github.com/dukerupert/kudos/internal/model"
	"github.com/dukerupert/kudos/internal/tier"
)

type MembershipResult struct {
	UserID       string `json:"user_id"`
	Active       bool   `json:"active"`
	Applied      bool   `json:"applied"`
	WelcomeBonus int64  `json:"welcome_bonus,omitempty"`
}

type ActivityResult struct {
	UserID         string    `json:"user_id"`
	EventID        string    `json:"event_id"`
	Points         int64     `json:"points"`
	TotalPoints    int64     `json:"total_points"`
	Tier           tier.Name `json:"tier"`
	TierChanged    bool      `json:"tier_changed"`
	Unlocked       int       `json:"unlocked"`
	RedeemedReward *int64    `json:"redeemed_reward_config_id,omitempty"`
}

func (i *Ingestor) dispatch(ctx context.Context, n *Notification) (any, error) {
	switch n.Type {
	case TypeMemberJoined:
		return i.membership(ctx, n, true)
	case TypeMemberCancelled:
		return i.membership(ctx, n, false)
	case TypeCourseCompleted, TypeLessonCompleted:
		return i.completion(ctx, n)
	case TypePurchaseCompleted:
		return i.purchase(ctx, n)
	}
	return nil, apperr.Validation("unknown notification type %q", n.Type)
}

// membership flips the account's active flag. Notifications older than the
// last applied change are ignored; a join that applies also grants the
// one-time welcome bonus.
func (i *Ingestor) membership(ctx context.Context, n *Notification, active bool) (*MembershipResult, error) {
	d, err := decodeData[MemberData](n)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(d.UserID) == "" {
		return nil, apperr.Validation("%s: user_id is required", n.Type)
	}

	applied, err := i.ledger.SetMembership(ctx, d.UserID, d.Username, d.CommunityID, active, n.occurred(i.now()))
	if err != nil {
		return nil, err
	}
	res := &MembershipResult{UserID: d.UserID, Active: active, Applied: applied}
	if !applied {
		i.logger.Info("stale membership notification ignored", "id", n.ID, "user_id", d.UserID, "active", active)
		return res, nil
	}
	if !active {
		return res, nil
	}

	bonus, err := i.ledger.RecordEvent(ctx, ledger.Record{
		EventID:     "welcome:" + d.UserID,
		UserID:      d.UserID,
		Username:    d.Username,
		CommunityID: d.CommunityID,
		Type:        model.ActivityWelcomeBonus,
		Metadata:    model.Metadata{Source: source(n)},
	})
	if err != nil {
		return nil, err
	}
	if !bonus.Duplicate {
		res.WelcomeBonus = bonus.Event.PointsAwarded
	}
	return res, nil
}

func (i *Ingestor) completion(ctx context.Context, n *Notification) (*ActivityResult, error) {
	d, err := decodeData[CompletionData](n)
	if err != nil {
		return nil, err
	}
	r := ledger.Record{
		EventID:  eventID(n),
		UserID:   d.UserID,
		Username: d.Username,
		Metadata: model.Metadata{Source: source(n)},
	}
	if n.Type == TypeCourseCompleted {
		r.Type = model.ActivityCourseCompleted
		r.Metadata.Course = &model.CourseSignals{
			CourseID:             d.CourseID,
			CompletionPercentage: d.CompletionPercentage,
			QuizScore:            d.QuizScore,
			TimeSpentMinutes:     d.TimeSpentMinutes,
		}
	} else {
		r.Type = model.ActivityLessonCompleted
		r.Metadata.Lesson = &model.LessonSignals{LessonID: d.LessonID, CourseID: d.CourseID}
	}

	res, err := i.ledger.RecordEvent(ctx, r)
	if err != nil {
		return nil, err
	}
	return activityResult(res), nil
}

// purchase awards points for the amount paid and, when the order used a
// discount code the buyer unlocked, marks that reward used.
func (i *Ingestor) purchase(ctx context.Context, n *Notification) (*ActivityResult, error) {
	d, err := decodeData[PurchaseData](n)
	if err != nil {
		return nil, err
	}
	if d.AmountCents < 0 {
		return nil, apperr.Validation("%s: amount_cents must not be negative", n.Type)
	}

	res, err := i.ledger.RecordEvent(ctx, ledger.Record{
		EventID:  eventID(n),
		UserID:   d.UserID,
		Username: d.Username,
		Type:     model.ActivityPurchase,
		Metadata: model.Metadata{Source: source(n), Purchase: &model.PurchaseSignals{
			ProductID:    d.ProductID,
			AmountCents:  d.AmountCents,
			Currency:     d.Currency,
			DiscountCode: d.DiscountCode,
		}},
	})
	if err != nil {
		return nil, err
	}
	out := activityResult(res)

	if d.DiscountCode != "" && i.rewards != nil {
		u, err := i.rewards.RedeemDiscount(ctx, d.UserID, d.DiscountCode, res.Event.ID)
		if err != nil {
			return nil, err
		}
		if u != nil {
			out.RedeemedReward = &u.RewardConfigID
		}
	}
	return out, nil
}

func activityResult(res *ledger.Result) *ActivityResult {
	return &ActivityResult{
		UserID:      res.Account.UserID,
		EventID:     res.Event.ID,
		Points:      res.Event.PointsAwarded,
		TotalPoints: res.Account.TotalPoints,
		Tier:        res.Account.CurrentTier,
		TierChanged: res.Transition != nil,
		Unlocked:    len(res.Unlocked),
	}
}

func eventID(n *Notification) string {
	return "wh:" + n.ID
}

func source(n *Notification) *model.SourceRef {
	return &model.SourceRef{Provider: sourceProvider, EventID: n.ID}
}
