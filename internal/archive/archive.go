// Package archive exports the ledger to encrypted JSONL objects on
// S3-compatible storage and verifies that the archived events still add up
// to the live account totals.
package archive

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/dukerupert/kudos/internal/apperr"
	"github.com/dukerupert/kudos/internal/model"
	"github.com/dukerupert/kudos/internal/store"
)

const (
	DefaultInterval        = time.Hour
	DefaultBatchLimit      = 10000
	DefaultFailedRetention = 7 * 24 * time.Hour
)

// s3Client is an interface for testability.
type s3Client interface {
	PutObject(ctx context.Context, input *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, input *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, input *s3.DeleteObjectInput, opts ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// S3Config holds S3-compatible storage configuration.
type S3Config struct {
	Endpoint  string
	Bucket    string
	Region    string
	AccessKey string
	SecretKey string
}

type Config struct {
	S3              S3Config
	Passphrase      string
	Interval        time.Duration
	BatchLimit      int
	FailedRetention time.Duration
}

type State string

const (
	StateIdle     State = "idle"
	StateRunning  State = "running"
	StateDisabled State = "disabled"
	StateError    State = "error"
)

type Status struct {
	State       State      `json:"state"`
	LastArchive *time.Time `json:"last_archive,omitempty"`
	Error       string     `json:"error,omitempty"`
	InProgress  bool       `json:"in_progress"`
}

// Manager runs archives on demand and on a schedule. One archive runs at a
// time.
type Manager struct {
	mu     sync.RWMutex
	run    sync.Mutex
	cfg    Config
	status Status

	db     *sql.DB
	client s3Client
	logger *slog.Logger
	now    func() time.Time

	cancel context.CancelFunc
	done   chan struct{}
}

func NewManager(cfg Config, db *sql.DB, logger *slog.Logger) *Manager {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.BatchLimit <= 0 {
		cfg.BatchLimit = DefaultBatchLimit
	}
	if cfg.FailedRetention <= 0 {
		cfg.FailedRetention = DefaultFailedRetention
	}
	m := &Manager{
		cfg:    cfg,
		db:     db,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
		status: Status{State: StateDisabled},
	}

	if cfg.S3.Bucket != "" && cfg.S3.AccessKey != "" && cfg.S3.SecretKey != "" && cfg.Passphrase != "" {
		m.client = newS3Client(cfg.S3)
		m.status.State = StateIdle
	}
	return m
}

func newS3Client(cfg S3Config) *s3.Client {
	opts := s3.Options{
		Region:       cfg.Region,
		Credentials:  credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		UsePathStyle: true,
	}
	if cfg.Endpoint != "" {
		opts.BaseEndpoint = aws.String(cfg.Endpoint)
	}
	return s3.New(opts)
}

// Start begins the scheduled archive loop. It does nothing when archiving is
// not configured.
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	if m.status.State == StateDisabled {
		m.mu.Unlock()
		return
	}
	ctx, m.cancel = context.WithCancel(ctx)
	m.done = make(chan struct{})
	interval := m.cfg.Interval
	m.mu.Unlock()

	m.logger.Info("archive scheduler started", "interval", interval)
	go func() {
		defer close(m.done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.runScheduled(ctx)
			}
		}
	}()
}

// Stop gracefully stops the scheduler and waits for a running archive.
func (m *Manager) Stop() {
	m.mu.RLock()
	cancel := m.cancel
	done := m.done
	m.mu.RUnlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

func (m *Manager) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

func (m *Manager) setStatus(s Status) {
	m.mu.Lock()
	m.status = s
	m.mu.Unlock()
}

func (m *Manager) runScheduled(ctx context.Context) {
	if _, err := m.RunNow(ctx, "scheduler"); err != nil {
		m.logger.Error("scheduled archive failed", "error", err)
	}
	if err := m.Cleanup(ctx); err != nil {
		m.logger.Error("archive cleanup failed", "error", err)
	}
}

func (m *Manager) clientAndBucket() (s3Client, string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.client == nil {
		return nil, "", apperr.New(apperr.CodeConflict, "archiving is not configured")
	}
	return m.client, m.cfg.S3.Bucket, nil
}

// RunNow archives every event newer than the latest completed archive, up to
// the batch limit. It returns nil when there is nothing new.
func (m *Manager) RunNow(ctx context.Context, actor string) (*model.LedgerArchive, error) {
	client, bucket, err := m.clientAndBucket()
	if err != nil {
		return nil, err
	}
	if !m.run.TryLock() {
		return nil, apperr.New(apperr.CodeConflict, "an archive is already running")
	}
	defer m.run.Unlock()

	archives := store.NewArchiveStore(m.db)
	latest, err := archives.LatestCompleted(ctx)
	if err != nil {
		return nil, err
	}
	var fromSeq int64
	if latest != nil {
		fromSeq = latest.ToSeq
	}

	events, err := store.NewEventStore(m.db).ListAfter(ctx, fromSeq, m.cfg.BatchLimit)
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		m.logger.Debug("nothing to archive", "after_seq", fromSeq)
		return nil, nil
	}
	toSeq := events[len(events)-1].Seq

	m.setStatus(Status{State: StateRunning, InProgress: true})

	now := m.now()
	key := fmt.Sprintf("ledger/%s-%012d-%012d.jsonl.enc", now.Format("2006-01-02T150405Z"), fromSeq+1, toSeq)
	record, err := archives.Create(ctx, key, fromSeq, toSeq, len(events), now)
	if err != nil {
		m.setStatus(Status{State: StateError, Error: err.Error()})
		return nil, fmt.Errorf("create archive record: %w", err)
	}

	fail := func(err error) (*model.LedgerArchive, error) {
		if uerr := archives.UpdateStatus(ctx, record.ID, model.ArchiveStatusFailed, err.Error()); uerr != nil {
			m.logger.Error("mark archive failed", "id", record.ID, "error", uerr)
		}
		m.setStatus(Status{State: StateError, Error: err.Error()})
		return nil, err
	}

	if err := archives.UpdateStatus(ctx, record.ID, model.ArchiveStatusUploading, ""); err != nil {
		return fail(err)
	}

	plaintext, err := encodeEvents(events)
	if err != nil {
		return fail(err)
	}
	salt, err := GenerateSalt()
	if err != nil {
		return fail(err)
	}
	sealed, err := Encrypt(plaintext, m.cfg.Passphrase, salt)
	if err != nil {
		return fail(fmt.Errorf("encrypt: %w", err))
	}

	_, err = client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(sealed),
		ContentLength: aws.Int64(int64(len(sealed))),
	})
	if err != nil {
		return fail(fmt.Errorf("upload to s3: %w", err))
	}

	if err := archives.UpdateCompleted(ctx, record.ID, int64(len(sealed)), m.now()); err != nil {
		return fail(err)
	}
	record, err = archives.GetByID(ctx, record.ID)
	if err != nil {
		return nil, err
	}

	done := m.now()
	m.setStatus(Status{State: StateIdle, LastArchive: &done})
	m.logger.Info("ledger archived", "id", record.ID, "from_seq", fromSeq, "to_seq", toSeq, "events", len(events), "bytes", len(sealed))

	if _, err := store.NewAuditStore(m.db).Record(ctx, actor, "archive.create", record.ID,
		map[string]any{"from_seq": fromSeq, "to_seq": toSeq, "events": len(events)}, done); err != nil {
		m.logger.Error("write audit entry", "action", "archive.create", "error", err)
	}
	return record, nil
}

// List returns archives newest first.
func (m *Manager) List(ctx context.Context, limit int) ([]model.LedgerArchive, error) {
	if limit <= 0 {
		limit = 50
	}
	return store.NewArchiveStore(m.db).List(ctx, limit)
}

// Cleanup deletes failed archive records older than the retention period and
// any partial objects they left behind.
func (m *Manager) Cleanup(ctx context.Context) error {
	m.mu.RLock()
	client := m.client
	bucket := m.cfg.S3.Bucket
	retention := m.cfg.FailedRetention
	m.mu.RUnlock()

	if client == nil {
		return nil
	}

	keys, err := store.NewArchiveStore(m.db).DeleteFailedBefore(ctx, m.now().Add(-retention))
	if err != nil {
		return fmt.Errorf("delete failed archives: %w", err)
	}

	for _, key := range keys {
		if _, err := client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(bucket),
			Key:    aws.String(key),
		}); err != nil {
			m.logger.Warn("delete archive object", "key", key, "error", err)
		}
	}
	return nil
}

func encodeEvents(events []model.Event) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for i := range events {
		if err := enc.Encode(&events[i]); err != nil {
			return nil, fmt.Errorf("encode event %d: %w", events[i].Seq, err)
		}
	}
	return buf.Bytes(), nil
}
