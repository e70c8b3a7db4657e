// Package ledger is the only write path for points. Every write appends an
// event, moves the cached account aggregate and recomputes the tier inside
// one transaction, serialized per user.
package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukerupert/kudos/internal/apperr"
	"github.com/dukerupert/kudos/internal/keylock"
	"github.com/dukerupert/kudos/internal/model"
	"github.com/dukerupert/kudos/internal/store"
	"github.com/dukerupert/kudos/internal/websocket"
)

// RewardHooks is called inside the ledger's transaction so unlocks commit or
// roll back together with the point change that caused them.
type RewardHooks interface {
	OnTierChange(ctx context.Context, tx store.DBTX, account *model.Account, change *model.TierChange) ([]model.RewardUnlock, error)
	OnMembershipChange(ctx context.Context, tx store.DBTX, userID string, active bool) (int64, error)
}

// Broadcaster receives live-feed messages after a write commits.
type Broadcaster interface {
	Broadcast(msg websocket.Message)
}

type Ledger struct {
	db     *sql.DB
	locks  *keylock.Locker
	logger *slog.Logger

	rewards          RewardHooks
	feed             Broadcaster
	now              func() time.Time
	retry            store.RetryPolicy
	defaultCommunity string
}

type Option func(*Ledger)

func WithRewards(r RewardHooks) Option {
	return func(l *Ledger) { l.rewards = r }
}

func WithBroadcaster(b Broadcaster) Option {
	return func(l *Ledger) { l.feed = b }
}

// WithClock replaces time.Now. The clock must return UTC.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// WithRetry sets the per-attempt timeout and backoff for storage calls.
func WithRetry(p store.RetryPolicy) Option {
	return func(l *Ledger) { l.retry = p }
}

// WithDefaultCommunity sets the community given to accounts created without
// one.
func WithDefaultCommunity(id string) Option {
	return func(l *Ledger) { l.defaultCommunity = id }
}

func New(db *sql.DB, locks *keylock.Locker, logger *slog.Logger, opts ...Option) *Ledger {
	l := &Ledger{
		db:     db,
		locks:  locks,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
		retry:  store.DefaultRetryPolicy(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// lockUser takes the per-user lock. Waiting is bounded by ctx.
func (l *Ledger) lockUser(ctx context.Context, userID string) (func(), error) {
	unlock, err := l.locks.Lock(ctx, keylock.UserKey(userID))
	if err != nil {
		return nil, apperr.Wrap(err, apperr.CodeTransient, "account busy")
	}
	return unlock, nil
}

func (l *Ledger) withRetry(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	return l.retry.Do(ctx, l.logger, op, fn)
}

// inTx runs fn inside a transaction that commits only if fn succeeds.
func (l *Ledger) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (l *Ledger) publish(res *Result) {
	if l.feed == nil || res == nil || res.Duplicate || res.Account == nil {
		return
	}
	a := res.Account
	extra := map[string]any{"total_points": a.TotalPoints, "tier": a.CurrentTier}
	if res.Event != nil {
		extra["delta"] = res.Event.PointsAwarded
		extra["activity_type"] = res.Event.ActivityType
		extra["event_id"] = res.Event.ID
	}
	l.feed.Broadcast(websocket.NewMessage(websocket.EntityAccount, "points", a.UserID, extra))
	l.publishTransition(a.UserID, res.Transition, res.Unlocked)
}

func (l *Ledger) publishTransition(userID string, change *model.TierChange, unlocked []model.RewardUnlock) {
	if l.feed == nil {
		return
	}
	if change != nil {
		l.feed.Broadcast(websocket.NewMessage(websocket.EntityTier, "changed", userID, map[string]any{
			"previous_tier": change.PreviousTier,
			"new_tier":      change.NewTier,
			"points":        change.PointsAtChange,
		}))
	}
	for _, u := range unlocked {
		l.feed.Broadcast(websocket.NewMessage(websocket.EntityReward, "unlocked", userID, map[string]any{
			"reward_config_id": u.RewardConfigID,
			"tier":             u.TierName,
		}))
	}
}
