package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/dukerupert/kudos/internal/apperr"
	"github.com/dukerupert/kudos/internal/model"
	"github.com/dukerupert/kudos/internal/scoring"
	"github.com/dukerupert/kudos/internal/store"
	"github.com/dukerupert/kudos/internal/tier"
)

// Record is one request to award (or remove) points. EventID is the
// idempotency key; empty means a fresh UUID. Points, when set, bypasses
// scoring.
type Record struct {
	EventID     string
	UserID      string
	Username    string
	CommunityID string
	Type        model.ActivityType
	Points      *int64
	Metadata    model.Metadata
}

// Result describes the state after a write. Transition is nil when the tier
// did not change. Duplicate is set when EventID had already been recorded; the
// fields then describe the original write and nothing new happened.
type Result struct {
	Account    *model.Account       `json:"account"`
	Event      *model.Event         `json:"event"`
	Transition *model.TierChange    `json:"transition"`
	Unlocked   []model.RewardUnlock `json:"unlocked,omitempty"`
	Duplicate  bool                 `json:"duplicate"`
}

// deltaFunc computes the signed points to apply given the current total.
type deltaFunc func(current int64) int64

// RecordEvent scores r if needed, appends it to the ledger and moves the
// account aggregate. The account is created on first use.
func (l *Ledger) RecordEvent(ctx context.Context, r Record) (*Result, error) {
	if strings.TrimSpace(r.UserID) == "" {
		return nil, apperr.Validation("user_id is required")
	}
	points, err := scoring.Score(scoring.Activity{Type: r.Type, Points: r.Points, Metadata: r.Metadata})
	if err != nil {
		return nil, err
	}
	return l.record(ctx, r, false, func(int64) int64 { return points })
}

// record runs the locked, retried write. When mustExist is set a missing
// account is a not-found error instead of being created.
func (l *Ledger) record(ctx context.Context, r Record, mustExist bool, delta deltaFunc) (*Result, error) {
	if r.EventID == "" {
		r.EventID = uuid.NewString()
	}
	if r.CommunityID == "" {
		r.CommunityID = l.defaultCommunity
	}

	unlock, err := l.lockUser(ctx, r.UserID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	var res *Result
	err = l.withRetry(ctx, "record_event", func(ctx context.Context) error {
		var err error
		res, err = l.recordTx(ctx, r, mustExist, delta)
		return err
	})
	if err != nil {
		return nil, err
	}

	if res.Transition != nil {
		l.logger.Info("tier changed",
			"user_id", r.UserID,
			"from", res.Transition.PreviousTier,
			"to", res.Transition.NewTier,
			"points", res.Transition.PointsAtChange,
			"unlocked", len(res.Unlocked),
		)
	}
	l.publish(res)
	return res, nil
}

func (l *Ledger) recordTx(ctx context.Context, r Record, mustExist bool, delta deltaFunc) (*Result, error) {
	var res *Result
	err := l.inTx(ctx, func(tx *sql.Tx) error {
		accounts := store.NewAccountStore(tx)
		events := store.NewEventStore(tx)
		changes := store.NewTierChangeStore(tx)
		now := l.now()

		existing, err := events.GetByID(ctx, r.EventID)
		if err != nil {
			return err
		}
		if existing != nil {
			if existing.UserID != r.UserID {
				return apperr.New(apperr.CodeConflict, fmt.Sprintf("event %s belongs to another user", r.EventID))
			}
			res, err = duplicateResult(ctx, accounts, changes, existing)
			return err
		}

		if mustExist {
			a, err := accounts.Get(ctx, r.UserID)
			if err != nil {
				return err
			}
			if a == nil {
				return apperr.NotFound("account %s not found", r.UserID)
			}
		} else if _, err := accounts.Create(ctx, r.UserID, r.Username, r.CommunityID, now); err != nil {
			return err
		}
		if r.Username != "" {
			if err := accounts.UpdateUsername(ctx, r.UserID, r.Username, now); err != nil {
				return err
			}
		}

		acct, err := accounts.Get(ctx, r.UserID)
		if err != nil {
			return err
		}
		if acct == nil {
			return fmt.Errorf("account %s vanished inside transaction", r.UserID)
		}

		requested := delta(acct.TotalPoints)
		if requested > 0 && acct.TotalPoints > math.MaxInt64-requested {
			return apperr.Validation("award of %d would overflow the total of %s", requested, r.UserID)
		}
		applied := requested
		if acct.TotalPoints+applied < 0 {
			applied = -acct.TotalPoints
		}
		md := r.Metadata
		if md.Adjustment != nil || applied != requested {
			adj := model.Adjustment{}
			if md.Adjustment != nil {
				adj = *md.Adjustment
			}
			adj.Requested = requested
			adj.Clamped = applied != requested
			md.Adjustment = &adj
		}

		ev := &model.Event{
			ID:            r.EventID,
			UserID:        r.UserID,
			ActivityType:  r.Type,
			PointsAwarded: applied,
			Metadata:      md,
			CreatedAt:     now,
		}
		if err := events.Append(ctx, ev); err != nil {
			return err
		}

		prevTier := acct.CurrentTier
		acct.TotalPoints += applied
		acct.CurrentTier = tier.For(acct.TotalPoints)
		acct.LastEventSeq = ev.Seq
		acct.UpdatedAt = now
		if err := accounts.UpdateAggregate(ctx, acct.UserID, acct.TotalPoints, acct.CurrentTier, ev.Seq, now); err != nil {
			return err
		}

		res = &Result{Account: acct, Event: ev}
		if acct.CurrentTier == prevTier {
			return nil
		}

		trigger := ev.ID
		change := &model.TierChange{
			UserID:         acct.UserID,
			PreviousTier:   prevTier,
			NewTier:        acct.CurrentTier,
			PointsAtChange: acct.TotalPoints,
			TriggerEventID: &trigger,
			ChangedAt:      now,
		}
		if err := changes.Insert(ctx, change); err != nil {
			return err
		}
		res.Transition = change

		if l.rewards != nil {
			unlocked, err := l.rewards.OnTierChange(ctx, tx, acct, change)
			if err != nil {
				return fmt.Errorf("unlock rewards: %w", err)
			}
			res.Unlocked = unlocked
		}
		return nil
	})
	return res, err
}

func duplicateResult(ctx context.Context, accounts *store.AccountStore, changes *store.TierChangeStore, ev *model.Event) (*Result, error) {
	acct, err := accounts.Get(ctx, ev.UserID)
	if err != nil {
		return nil, err
	}
	change, err := changes.GetByTrigger(ctx, ev.ID)
	if err != nil {
		return nil, err
	}
	return &Result{Account: acct, Event: ev, Transition: change, Duplicate: true}, nil
}

// Adjustment is an administrative point correction.
type Adjustment struct {
	EventID string
	UserID  string
	Mode    model.AdjustmentMode
	Points  int64
	Reason  string
	Actor   string
}

// Adjust applies an add, remove or set-to-value correction as a
// manual_adjustment event and writes an audit entry. The account must exist.
func (l *Ledger) Adjust(ctx context.Context, a Adjustment) (*Result, error) {
	if strings.TrimSpace(a.UserID) == "" {
		return nil, apperr.Validation("user_id is required")
	}
	if strings.TrimSpace(a.Reason) == "" {
		return nil, apperr.Validation("reason is required")
	}
	if a.Points < 0 {
		return nil, apperr.Validation("points must not be negative; use mode remove")
	}
	if a.Points > scoring.MaxPoints {
		return nil, apperr.Validation("points must not exceed %d", scoring.MaxPoints)
	}

	var delta deltaFunc
	switch a.Mode {
	case model.AdjustAdd:
		delta = func(int64) int64 { return a.Points }
	case model.AdjustRemove:
		delta = func(int64) int64 { return -a.Points }
	case model.AdjustSet:
		delta = func(current int64) int64 { return a.Points - current }
	default:
		return nil, apperr.Validation("unknown adjustment mode %q", a.Mode)
	}

	md := model.Metadata{Adjustment: &model.Adjustment{Mode: a.Mode, Reason: a.Reason, Actor: a.Actor}}
	res, err := l.record(ctx, Record{
		EventID:  a.EventID,
		UserID:   a.UserID,
		Type:     model.ActivityManualAdjustment,
		Metadata: md,
	}, true, delta)
	if err != nil {
		return nil, err
	}
	if res.Duplicate {
		return res, nil
	}

	l.audit(ctx, a.Actor, "account.adjust", a.UserID, map[string]any{
		"mode":     a.Mode,
		"points":   a.Points,
		"applied":  res.Event.PointsAwarded,
		"reason":   a.Reason,
		"event_id": res.Event.ID,
	})
	return res, nil
}

// ResetSummary reports a leaderboard reset.
type ResetSummary struct {
	ResetID  string `json:"reset_id"`
	Accounts int    `json:"accounts"`
	Removed  int64  `json:"removed"`
}

// ResetAll zeroes every account holding points with one leaderboard_reset
// event each. Accounts are processed in parallel; each still takes its own
// user lock.
func (l *Ledger) ResetAll(ctx context.Context, reason, actor string) (*ResetSummary, error) {
	if strings.TrimSpace(reason) == "" {
		return nil, apperr.Validation("reason is required")
	}

	var ids []string
	err := l.withRetry(ctx, "list_accounts", func(ctx context.Context) error {
		var err error
		ids, err = store.NewAccountStore(l.db).ListWithPoints(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}

	summary := &ResetSummary{ResetID: uuid.NewString()}
	removed := make([]int64, len(ids))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i, id := range ids {
		g.Go(func() error {
			md := model.Metadata{Adjustment: &model.Adjustment{Mode: model.AdjustSet, Reason: reason, Actor: actor}}
			res, err := l.record(gctx, Record{
				EventID:  "reset:" + summary.ResetID + ":" + id,
				UserID:   id,
				Type:     model.ActivityLeaderboardReset,
				Metadata: md,
			}, true, func(current int64) int64 { return -current })
			if err != nil {
				return fmt.Errorf("reset %s: %w", id, err)
			}
			removed[i] = -res.Event.PointsAwarded
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for _, r := range removed {
		if r > 0 {
			summary.Accounts++
			summary.Removed += r
		}
	}
	l.audit(ctx, actor, "leaderboard.reset", "", map[string]any{
		"reset_id": summary.ResetID,
		"accounts": summary.Accounts,
		"removed":  summary.Removed,
		"reason":   reason,
	})
	l.logger.Info("leaderboard reset", "reset_id", summary.ResetID, "accounts", summary.Accounts, "removed", summary.Removed)
	return summary, nil
}

// audit records an admin action. A failed audit write is logged, never
// returned: the action itself has already committed.
func (l *Ledger) audit(ctx context.Context, actor, action, subject string, detail map[string]any) {
	err := l.withRetry(ctx, "audit", func(ctx context.Context) error {
		_, err := store.NewAuditStore(l.db).Record(ctx, actor, action, subject, detail, l.now())
		return err
	})
	if err != nil {
		l.logger.Error("write audit entry", "action", action, "subject", subject, "error", err)
	}
}
