package ledger

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/dukerupert/kudos/internal/apperr"
	"github.com/dukerupert/kudos/internal/model"
	"github.com/dukerupert/kudos/internal/store"
	"github.com/dukerupert/kudos/internal/tier"
)

const (
	DefaultEventPage = 50
	MaxEventPage     = 500
)

// GetAccount returns the account or a not-found error.
func (l *Ledger) GetAccount(ctx context.Context, userID string) (*model.Account, error) {
	var a *model.Account
	err := l.withRetry(ctx, "get_account", func(ctx context.Context) error {
		var err error
		a, err = store.NewAccountStore(l.db).Get(ctx, userID)
		return err
	})
	if err != nil {
		return nil, err
	}
	if a == nil {
		return nil, apperr.NotFound("account %s not found", userID)
	}
	return a, nil
}

// Progress returns the account's position within its tier.
func (l *Ledger) Progress(ctx context.Context, userID string) (tier.Progress, error) {
	a, err := l.GetAccount(ctx, userID)
	if err != nil {
		return tier.Progress{}, err
	}
	return tier.ProgressFor(a.TotalPoints), nil
}

// EnsureAccount creates the account if it does not exist and reports whether
// it did.
func (l *Ledger) EnsureAccount(ctx context.Context, userID, username, communityID string) (*model.Account, bool, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, false, apperr.Validation("user_id is required")
	}
	if communityID == "" {
		communityID = l.defaultCommunity
	}

	unlock, err := l.lockUser(ctx, userID)
	if err != nil {
		return nil, false, err
	}
	defer unlock()

	var a *model.Account
	var created bool
	err = l.withRetry(ctx, "ensure_account", func(ctx context.Context) error {
		return l.inTx(ctx, func(tx *sql.Tx) error {
			accounts := store.NewAccountStore(tx)
			var err error
			created, err = accounts.Create(ctx, userID, username, communityID, l.now())
			if err != nil {
				return err
			}
			if !created && username != "" {
				if err := accounts.UpdateUsername(ctx, userID, username, l.now()); err != nil {
					return err
				}
			}
			a, err = accounts.Get(ctx, userID)
			return err
		})
	})
	if err != nil {
		return nil, false, err
	}
	return a, created, nil
}

// SetMembership activates or deactivates an account as of changedAt, creating
// it if needed. A change older than the last applied one is ignored so
// reordered notifications cannot undo a newer state. Unlocks are archived on
// deactivation and restored on reactivation. It reports whether the change
// applied.
func (l *Ledger) SetMembership(ctx context.Context, userID, username, communityID string, active bool, changedAt time.Time) (bool, error) {
	if strings.TrimSpace(userID) == "" {
		return false, apperr.Validation("user_id is required")
	}
	if communityID == "" {
		communityID = l.defaultCommunity
	}
	changedAt = changedAt.UTC()

	unlock, err := l.lockUser(ctx, userID)
	if err != nil {
		return false, err
	}
	defer unlock()

	var applied bool
	var archived int64
	err = l.withRetry(ctx, "set_membership", func(ctx context.Context) error {
		return l.inTx(ctx, func(tx *sql.Tx) error {
			accounts := store.NewAccountStore(tx)
			now := l.now()
			if _, err := accounts.Create(ctx, userID, username, communityID, now); err != nil {
				return err
			}
			var err error
			applied, err = accounts.SetActive(ctx, userID, active, changedAt, now)
			if err != nil || !applied {
				return err
			}
			if l.rewards != nil {
				archived, err = l.rewards.OnMembershipChange(ctx, tx, userID, active)
				if err != nil {
					return err
				}
			}
			return nil
		})
	})
	if err != nil {
		return false, err
	}

	if applied {
		l.logger.Info("membership changed", "user_id", userID, "active", active, "unlocks_changed", archived)
	} else {
		l.logger.Info("ignored stale membership change", "user_id", userID, "active", active, "changed_at", changedAt)
	}
	return applied, nil
}

// ListEvents returns the user's newest events first.
func (l *Ledger) ListEvents(ctx context.Context, userID string, limit int) ([]model.Event, error) {
	if limit <= 0 {
		limit = DefaultEventPage
	}
	if limit > MaxEventPage {
		limit = MaxEventPage
	}
	if _, err := l.GetAccount(ctx, userID); err != nil {
		return nil, err
	}
	var events []model.Event
	err := l.withRetry(ctx, "list_events", func(ctx context.Context) error {
		var err error
		events, err = store.NewEventStore(l.db).ListByUser(ctx, userID, limit)
		return err
	})
	return events, err
}

// ListTierChanges returns the user's tier history, oldest first.
func (l *Ledger) ListTierChanges(ctx context.Context, userID string) ([]model.TierChange, error) {
	if _, err := l.GetAccount(ctx, userID); err != nil {
		return nil, err
	}
	var changes []model.TierChange
	err := l.withRetry(ctx, "list_tier_changes", func(ctx context.Context) error {
		var err error
		changes, err = store.NewTierChangeStore(l.db).ListByUser(ctx, userID)
		return err
	})
	return changes, err
}
