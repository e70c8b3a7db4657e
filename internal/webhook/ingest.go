// Package webhook ingests signed membership notifications. Each notification
// is verified, deduplicated by id against the webhook_events table,
// dispatched to the ledger and recorded with its outcome.
package webhook

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/dukerupert/kudos/internal/apperr"
	"github.com/dukerupert/kudos/internal/keylock"
	"github.com/dukerupert/kudos/internal/ledger"
	"github.com/dukerupert/kudos/internal/model"
	"github.com/dukerupert/kudos/internal/store"
)

const (
	DefaultFailedPage = 50
	MaxFailedPage     = 500
	sourceProvider    = "webhook"
)

type Ledger interface {
	RecordEvent(ctx context.Context, r ledger.Record) (*ledger.Result, error)
	SetMembership(ctx context.Context, userID, username, communityID string, active bool, changedAt time.Time) (bool, error)
}

type Redeemer interface {
	RedeemDiscount(ctx context.Context, userID, code, eventID string) (*model.RewardUnlock, error)
}

// Outcome is returned to the sender. A duplicate carries the result stored
// by the attempt that succeeded.
type Outcome struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Duplicate bool            `json:"duplicate"`
	Result    json.RawMessage `json:"result,omitempty"`
}

type Ingestor struct {
	db      *sql.DB
	ledger  Ledger
	rewards Redeemer
	locks   *keylock.Locker
	secret  []byte
	logger  *slog.Logger
	now     func() time.Time
	retry   store.RetryPolicy
}

type Option func(*Ingestor)

// WithClock replaces time.Now. The clock must return UTC.
func WithClock(now func() time.Time) Option {
	return func(i *Ingestor) { i.now = now }
}

func WithRetry(p store.RetryPolicy) Option {
	return func(i *Ingestor) { i.retry = p }
}

func New(db *sql.DB, l Ledger, rewards Redeemer, locks *keylock.Locker, secret []byte, logger *slog.Logger, opts ...Option) *Ingestor {
	i := &Ingestor{
		db:      db,
		ledger:  l,
		rewards: rewards,
		locks:   locks,
		secret:  secret,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
		retry:   store.DefaultRetryPolicy(),
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Ingest verifies and processes one delivery. Security errors are returned
// before anything is read from or written to storage.
func (i *Ingestor) Ingest(ctx context.Context, signature, timestamp string, body []byte) (*Outcome, error) {
	if err := Verify(i.secret, signature, timestamp, body, i.now()); err != nil {
		i.logger.Warn("rejected webhook", "reason", apperr.MessageOf(err), "bytes", len(body))
		return nil, err
	}
	n, err := Parse(body)
	if err != nil {
		i.logger.Warn("unparseable webhook", "error", err)
		return nil, err
	}
	return i.process(ctx, n, string(body))
}

// Retry reprocesses a stored notification that has not succeeded. The
// payload comes from the audit table, so the signature is not checked again.
func (i *Ingestor) Retry(ctx context.Context, id, actor string) (*Outcome, error) {
	var ev *model.WebhookEvent
	err := i.retry.Do(ctx, i.logger, "webhook_get", func(ctx context.Context) error {
		var err error
		ev, err = store.NewWebhookEventStore(i.db).Get(ctx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	if ev == nil {
		return nil, apperr.NotFound("notification %s not found", id)
	}
	if ev.Success {
		return nil, apperr.New(apperr.CodeConflict, "notification already processed")
	}
	n, err := Parse([]byte(ev.Payload))
	if err != nil {
		return nil, err
	}

	out, perr := i.process(ctx, n, ev.Payload)
	detail := map[string]any{"type": ev.EventType, "success": perr == nil, "previous_attempts": ev.RetryCount + 1}
	err = i.retry.Do(ctx, i.logger, "audit", func(ctx context.Context) error {
		_, err := store.NewAuditStore(i.db).Record(ctx, actor, "webhook.retry", id, detail, i.now())
		return err
	})
	if err != nil {
		i.logger.Error("write audit entry", "action", "webhook.retry", "subject", id, "error", err)
	}
	return out, perr
}

// ListFailed returns notifications whose last attempt failed.
func (i *Ingestor) ListFailed(ctx context.Context, limit int) ([]model.WebhookEvent, error) {
	if limit <= 0 {
		limit = DefaultFailedPage
	}
	if limit > MaxFailedPage {
		limit = MaxFailedPage
	}
	var events []model.WebhookEvent
	err := i.retry.Do(ctx, i.logger, "webhook_list_failed", func(ctx context.Context) error {
		var err error
		events, err = store.NewWebhookEventStore(i.db).ListFailed(ctx, limit)
		return err
	})
	return events, err
}

func (i *Ingestor) process(ctx context.Context, n *Notification, payload string) (*Outcome, error) {
	unlock, err := i.locks.Lock(ctx, keylock.NotificationKey(n.ID))
	if err != nil {
		return nil, apperr.Wrap(err, apperr.CodeTransient, "notification busy")
	}
	defer unlock()

	events := store.NewWebhookEventStore(i.db)
	var prev *model.WebhookEvent
	err = i.retry.Do(ctx, i.logger, "webhook_begin", func(ctx context.Context) error {
		var err error
		prev, err = events.Begin(ctx, n.ID, n.Type, payload, i.now())
		return err
	})
	if err != nil {
		return nil, err
	}
	if prev != nil && prev.Success {
		i.logger.Info("duplicate notification", "id", n.ID, "type", n.Type)
		return &Outcome{ID: n.ID, Type: n.Type, Duplicate: true, Result: json.RawMessage(prev.ProcessingResult)}, nil
	}

	result, derr := i.dispatch(ctx, n)
	var raw []byte
	if derr == nil {
		raw, derr = json.Marshal(result)
	}
	lastError := ""
	if derr != nil {
		lastError = derr.Error()
	}

	err = i.retry.Do(ctx, i.logger, "webhook_finish", func(ctx context.Context) error {
		return events.Finish(ctx, n.ID, derr == nil, string(raw), lastError, i.now())
	})
	if err != nil {
		// Dispatch is keyed by notification id, so a redelivery re-runs it
		// without double-counting.
		i.logger.Error("record webhook outcome", "id", n.ID, "error", err)
		return nil, err
	}
	if derr != nil {
		i.logger.Error("webhook dispatch failed", "id", n.ID, "type", n.Type, "error", derr)
		return nil, derr
	}

	i.logger.Info("webhook processed", "id", n.ID, "type", n.Type)
	return &Outcome{ID: n.ID, Type: n.Type, Result: raw}, nil
}
