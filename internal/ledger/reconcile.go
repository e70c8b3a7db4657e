package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dukerupert/kudos/internal/apperr"
	"github.com/dukerupert/kudos/internal/model"
	"github.com/dukerupert/kudos/internal/store"
	"github.com/dukerupert/kudos/internal/tier"
)

const maxReconcileRounds = 5

var errStaleSum = errors.New("newer event landed while summing")

type ReconcileResult struct {
	UserID     string               `json:"user_id"`
	Cached     int64                `json:"cached_total"`
	Recomputed int64                `json:"recomputed_total"`
	Corrected  bool                 `json:"corrected"`
	Transition *model.TierChange    `json:"transition,omitempty"`
	Unlocked   []model.RewardUnlock `json:"unlocked,omitempty"`
}

// Reconcile resums the user's events and repairs the cached total and tier if
// they drifted. It never writes an event. The sum is taken outside any lock;
// the repair applies only if no newer event landed in the meantime, otherwise
// the sum is retaken.
func (l *Ledger) Reconcile(ctx context.Context, userID, actor string) (*ReconcileResult, error) {
	for round := 0; round < maxReconcileRounds; round++ {
		var sum, maxSeq int64
		err := l.withRetry(ctx, "reconcile_sum", func(ctx context.Context) error {
			var err error
			sum, maxSeq, err = store.NewEventStore(l.db).SumByUser(ctx, userID)
			return err
		})
		if err != nil {
			return nil, err
		}

		var res *ReconcileResult
		err = l.withRetry(ctx, "reconcile_apply", func(ctx context.Context) error {
			var err error
			res, err = l.reconcileTx(ctx, userID, sum, maxSeq)
			return err
		})
		if errors.Is(err, errStaleSum) {
			l.logger.Debug("reconcile raced a write, resumming", "user_id", userID, "round", round)
			continue
		}
		if err != nil {
			return nil, err
		}

		if res.Corrected {
			l.logger.Warn("reconciled drifted account",
				"user_id", userID, "cached", res.Cached, "recomputed", res.Recomputed)
			l.audit(ctx, actor, "account.reconcile", userID, map[string]any{
				"cached":     res.Cached,
				"recomputed": res.Recomputed,
			})
			l.publishTransition(userID, res.Transition, res.Unlocked)
		}
		return res, nil
	}
	return nil, apperr.New(apperr.CodeTransient, fmt.Sprintf("account %s kept changing during reconcile", userID))
}

func (l *Ledger) reconcileTx(ctx context.Context, userID string, sum, maxSeq int64) (*ReconcileResult, error) {
	var res *ReconcileResult
	err := l.inTx(ctx, func(tx *sql.Tx) error {
		accounts := store.NewAccountStore(tx)
		acct, err := accounts.Get(ctx, userID)
		if err != nil {
			return err
		}
		if acct == nil {
			return apperr.NotFound("account %s not found", userID)
		}
		if acct.LastEventSeq != maxSeq {
			return errStaleSum
		}

		res = &ReconcileResult{UserID: userID, Cached: acct.TotalPoints, Recomputed: sum}
		newTier := tier.For(sum)
		if acct.TotalPoints == sum && acct.CurrentTier == newTier {
			return nil
		}
		if sum < 0 {
			// Writes clamp at zero, so this needs an operator.
			return fmt.Errorf("ledger for %s sums to %d", userID, sum)
		}

		now := l.now()
		ok, err := accounts.CompareAndSetAggregate(ctx, userID, maxSeq, sum, newTier, now)
		if err != nil {
			return err
		}
		if !ok {
			return errStaleSum
		}
		res.Corrected = true

		if newTier == acct.CurrentTier {
			return nil
		}
		change := &model.TierChange{
			UserID:         userID,
			PreviousTier:   acct.CurrentTier,
			NewTier:        newTier,
			PointsAtChange: sum,
			ChangedAt:      now,
		}
		if err := store.NewTierChangeStore(tx).Insert(ctx, change); err != nil {
			return err
		}
		res.Transition = change

		if l.rewards != nil {
			acct.TotalPoints = sum
			acct.CurrentTier = newTier
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

// ReconcileAll reconciles every account and returns those that needed a
// repair.
func (l *Ledger) ReconcileAll(ctx context.Context, actor string) ([]ReconcileResult, error) {
	var ids []string
	err := l.withRetry(ctx, "list_accounts", func(ctx context.Context) error {
		var err error
		ids, err = store.NewAccountStore(l.db).ListUserIDs(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}

	var corrected []ReconcileResult
	for _, id := range ids {
		res, err := l.Reconcile(ctx, id, actor)
		if err != nil {
			return corrected, fmt.Errorf("reconcile %s: %w", id, err)
		}
		if res.Corrected {
			corrected = append(corrected, *res)
		}
	}
	return corrected, nil
}
