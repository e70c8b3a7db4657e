// Package reward unlocks tier-gated rewards and manages their
// configurations. Unlocks are written inside the ledger's transaction through
// OnTierChange; everything else runs on its own transaction under the same
// per-user lock the ledger uses.
package reward

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
	"github.com/dukerupert/kudos/internal/tier"
	"github.com/dukerupert/kudos/internal/websocket"
)

var (
	ErrAlreadyUsed = apperr.New(apperr.CodeConflict, "reward already used")
	ErrNotUnlocked = apperr.New(apperr.CodeNotFound, "reward not unlocked for this user")
	ErrArchived    = apperr.New(apperr.CodeConflict, "reward is archived while the membership is inactive")
)

type Broadcaster interface {
	Broadcast(msg websocket.Message)
}

type Engine struct {
	db     *sql.DB
	locks  *keylock.Locker
	logger *slog.Logger
	feed   Broadcaster
	now    func() time.Time
	retry  store.RetryPolicy
}

type Option func(*Engine)

func WithBroadcaster(b Broadcaster) Option {
	return func(e *Engine) { e.feed = b }
}

// WithClock replaces time.Now. The clock must return UTC.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func WithRetry(p store.RetryPolicy) Option {
	return func(e *Engine) { e.retry = p }
}

func New(db *sql.DB, locks *keylock.Locker, logger *slog.Logger, opts ...Option) *Engine {
	e := &Engine{
		db:     db,
		locks:  locks,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
		retry:  store.DefaultRetryPolicy(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// OnTierChange grants every active configuration of the account's community
// for the new tier and every tier below it. Downward changes grant nothing.
// Already-granted configurations are skipped, so re-running is harmless.
// A cancelled member still earns the grants, but they are stored archived
// and only become usable when OnMembershipChange restores them.
func (e *Engine) OnTierChange(ctx context.Context, tx store.DBTX, account *model.Account, change *model.TierChange) ([]model.RewardUnlock, error) {
	if !change.Upward() {
		return nil, nil
	}
	return e.unlockUpTo(ctx, tx, account, change.NewTier)
}

// OnMembershipChange archives the user's unlocks on cancellation and restores
// them on rejoin.
func (e *Engine) OnMembershipChange(ctx context.Context, tx store.DBTX, userID string, active bool) (int64, error) {
	return store.NewRewardStore(tx).SetUnlocksActive(ctx, userID, active)
}

func (e *Engine) unlockUpTo(ctx context.Context, tx store.DBTX, account *model.Account, t tier.Name) ([]model.RewardUnlock, error) {
	rewards := store.NewRewardStore(tx)
	configs, err := rewards.ListActiveForTiers(ctx, account.CommunityID, tier.UpTo(t))
	if err != nil {
		return nil, err
	}

	var unlocked []model.RewardUnlock
	now := e.now()
	for _, c := range configs {
		created, err := rewards.Unlock(ctx, account.UserID, c.ID, c.TierName, account.Active, now)
		if err != nil {
			return nil, err
		}
		if !created {
			continue
		}
		u, err := rewards.GetUnlock(ctx, account.UserID, c.ID)
		if err != nil {
			return nil, err
		}
		unlocked = append(unlocked, *u)
	}
	return unlocked, nil
}

func (e *Engine) lockUser(ctx context.Context, userID string) (func(), error) {
	unlock, err := e.locks.Lock(ctx, keylock.UserKey(userID))
	if err != nil {
		return nil, apperr.Wrap(err, apperr.CodeTransient, "account busy")
	}
	return unlock, nil
}

func (e *Engine) inTx(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	return e.retry.Do(ctx, e.logger, op, func(ctx context.Context) error {
		tx, err := e.db.BeginTx(ctx, nil)
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
	})
}

// UseReward consumes the user's unlock of configID. It succeeds once; later
// calls return ErrAlreadyUsed and leave used_at untouched.
func (e *Engine) UseReward(ctx context.Context, userID string, configID int64) (*model.RewardUnlock, error) {
	unlock, err := e.lockUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	var u *model.RewardUnlock
	err = e.inTx(ctx, "use_reward", func(tx *sql.Tx) error {
		rewards := store.NewRewardStore(tx)
		var err error
		u, err = rewards.GetUnlock(ctx, userID, configID)
		if err != nil {
			return err
		}
		switch {
		case u == nil:
			return ErrNotUnlocked
		case u.UsedAt != nil:
			return ErrAlreadyUsed
		case !u.Active:
			return ErrArchived
		}

		now := e.now()
		used, err := rewards.MarkUsed(ctx, userID, configID, "", now)
		if err != nil {
			return err
		}
		if !used {
			return ErrAlreadyUsed
		}
		u.UsedAt = &now
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.publishUsed(u)
	return u, nil
}

// RedeemDiscount marks the user's unused discount unlock carrying code as
// used by eventID. It returns nil when the user holds no such unlock. Calling
// it again with the same eventID returns the unlock that event already
// redeemed instead of consuming another.
func (e *Engine) RedeemDiscount(ctx context.Context, userID, code, eventID string) (*model.RewardUnlock, error) {
	if code == "" {
		return nil, nil
	}
	unlock, err := e.lockUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	var u *model.RewardUnlock
	var replay bool
	err = e.inTx(ctx, "redeem_discount", func(tx *sql.Tx) error {
		rewards := store.NewRewardStore(tx)
		var err error
		if eventID != "" {
			u, err = rewards.GetUnlockByEvent(ctx, userID, eventID)
			if err != nil {
				return err
			}
			if u != nil {
				replay = true
				return nil
			}
		}
		u, err = rewards.FindUnusedDiscount(ctx, userID, code)
		if err != nil || u == nil {
			return err
		}
		now := e.now()
		used, err := rewards.MarkUsed(ctx, userID, u.RewardConfigID, eventID, now)
		if err != nil {
			return err
		}
		if !used {
			u = nil
			return nil
		}
		u.UsedAt = &now
		if eventID != "" {
			u.UsedByEvent = &eventID
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if u != nil && !replay {
		e.publishUsed(u)
	}
	return u, nil
}

// Backfill grants the account every active configuration for its current
// tier and below. It covers configurations created after the user reached a
// tier.
func (e *Engine) Backfill(ctx context.Context, userID, actor string) ([]model.RewardUnlock, error) {
	unlock, err := e.lockUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	var unlocked []model.RewardUnlock
	err = e.inTx(ctx, "backfill", func(tx *sql.Tx) error {
		acct, err := store.NewAccountStore(tx).Get(ctx, userID)
		if err != nil {
			return err
		}
		if acct == nil {
			return apperr.NotFound("account %s not found", userID)
		}
		if !acct.Active {
			return apperr.New(apperr.CodeConflict, "account is inactive")
		}
		unlocked, err = e.unlockUpTo(ctx, tx, acct, acct.CurrentTier)
		if err != nil {
			return err
		}
		_, err = store.NewAuditStore(tx).Record(ctx, actor, "reward.backfill", userID,
			map[string]any{"unlocked": len(unlocked)}, e.now())
		return err
	})
	if err != nil {
		return nil, err
	}

	for _, u := range unlocked {
		e.publish(websocket.NewMessage(websocket.EntityReward, "unlocked", userID, map[string]any{
			"reward_config_id": u.RewardConfigID,
			"tier":             u.TierName,
		}))
	}
	return unlocked, nil
}

// ListUnlocks returns the user's unlocks with their configurations.
func (e *Engine) ListUnlocks(ctx context.Context, userID string) ([]model.UnlockedReward, error) {
	var out []model.UnlockedReward
	err := e.retry.Do(ctx, e.logger, "list_unlocks", func(ctx context.Context) error {
		acct, err := store.NewAccountStore(e.db).Get(ctx, userID)
		if err != nil {
			return err
		}
		if acct == nil {
			return apperr.NotFound("account %s not found", userID)
		}
		out, err = store.NewRewardStore(e.db).ListUnlocks(ctx, userID)
		return err
	})
	return out, err
}

func (e *Engine) publishUsed(u *model.RewardUnlock) {
	e.publish(websocket.NewMessage(websocket.EntityReward, "used", u.UserID, map[string]any{
		"reward_config_id": u.RewardConfigID,
	}))
}

func (e *Engine) publish(msg websocket.Message) {
	if e.feed != nil {
		e.feed.Broadcast(msg)
	}
}
