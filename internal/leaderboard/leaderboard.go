// Package leaderboard serves the read-only ranking of accounts. Ranks are
// 1-based positions in total_points order; equal totals fall back to the
// earliest account, so repeated reads without writes return the same ranks.
package leaderboard

import (
	"context"
	"database/sql"
	"log/slog"

	"github.com/dukerupert/kudos/internal/apperr"
	"github.com/dukerupert/kudos/internal/model"
	"github.com/dukerupert/kudos/internal/store"
)

const (
	DefaultLimit = 25
	MaxLimit     = 100
)

type View struct {
	db     *sql.DB
	logger *slog.Logger
	retry  store.RetryPolicy
}

func New(db *sql.DB, logger *slog.Logger, retry store.RetryPolicy) *View {
	return &View{db: db, logger: logger, retry: retry}
}

// Page returns one page of the leaderboard. A non-positive limit means the
// default; limits above MaxLimit are capped.
func (v *View) Page(ctx context.Context, limit, offset int) (*model.LeaderboardPage, error) {
	if offset < 0 {
		return nil, apperr.Validation("offset must not be negative")
	}
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}

	page := &model.LeaderboardPage{Limit: limit, Offset: offset, Entries: []model.LeaderboardEntry{}}
	err := v.retry.Do(ctx, v.logger, "leaderboard_page", func(ctx context.Context) error {
		tx, err := v.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		accounts := store.NewAccountStore(tx)
		total, err := accounts.Count(ctx)
		if err != nil {
			return err
		}
		ranked, err := accounts.Ranked(ctx, limit, offset)
		if err != nil {
			return err
		}
		page.Total = total
		page.Entries = page.Entries[:0]
		for i, a := range ranked {
			page.Entries = append(page.Entries, entry(offset+i+1, &a))
		}
		return tx.Commit()
	})
	if err != nil {
		return nil, err
	}
	return page, nil
}

// RankOf returns the user's own leaderboard entry.
func (v *View) RankOf(ctx context.Context, userID string) (*model.LeaderboardEntry, error) {
	var (
		rank int
		acct *model.Account
	)
	err := v.retry.Do(ctx, v.logger, "leaderboard_rank", func(ctx context.Context) error {
		tx, err := v.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		accounts := store.NewAccountStore(tx)
		acct, err = accounts.Get(ctx, userID)
		if err != nil || acct == nil {
			return err
		}
		rank, err = accounts.RankOf(ctx, userID)
		if err != nil {
			return err
		}
		return tx.Commit()
	})
	if err != nil {
		return nil, err
	}
	if acct == nil {
		return nil, apperr.NotFound("account %s not found", userID)
	}
	e := entry(rank, acct)
	return &e, nil
}

func entry(rank int, a *model.Account) model.LeaderboardEntry {
	return model.LeaderboardEntry{
		Rank:        rank,
		UserID:      a.UserID,
		Username:    a.Username,
		TotalPoints: a.TotalPoints,
		Tier:        a.CurrentTier,
	}
}
