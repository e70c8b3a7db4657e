package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dukerupert/kudos/internal/model"
)

type ArchiveStore struct {
	db DBTX
}

func NewArchiveStore(db DBTX) *ArchiveStore {
	return &ArchiveStore{db: db}
}

func scanArchive(scanner interface{ Scan(...any) error }) (*model.LedgerArchive, error) {
	var a model.LedgerArchive
	var completedAt sql.NullTime

	err := scanner.Scan(&a.ID, &a.S3Key, &a.FromSeq, &a.ToSeq, &a.EventCount, &a.SizeBytes, &a.Status,
		&a.Error, &a.CreatedAt, &completedAt)
	if err != nil {
		return nil, err
	}

	a.CompletedAt = timePtr(completedAt)
	return &a, nil
}

const archiveCols = `id, s3_key, from_seq, to_seq, event_count, size_bytes, status, error, created_at, completed_at`

func (s *ArchiveStore) Create(ctx context.Context, s3Key string, fromSeq, toSeq int64, eventCount int, now time.Time) (*model.LedgerArchive, error) {
	a := &model.LedgerArchive{
		ID:         uuid.NewString(),
		S3Key:      s3Key,
		FromSeq:    fromSeq,
		ToSeq:      toSeq,
		EventCount: eventCount,
		Status:     model.ArchiveStatusPending,
		CreatedAt:  now,
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO ledger_archives (id, s3_key, from_seq, to_seq, event_count, status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.S3Key, a.FromSeq, a.ToSeq, a.EventCount, a.Status, a.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("create ledger archive: %w", err)
	}
	return a, nil
}

func (s *ArchiveStore) GetByID(ctx context.Context, id string) (*model.LedgerArchive, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+archiveCols+` FROM ledger_archives WHERE id = ?`, id)
	a, err := scanArchive(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get ledger archive %s: %w", id, err)
	}
	return a, nil
}

func (s *ArchiveStore) List(ctx context.Context, limit int) ([]model.LedgerArchive, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+archiveCols+` FROM ledger_archives ORDER BY to_seq DESC, created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list ledger archives: %w", err)
	}
	defer rows.Close()

	var archives []model.LedgerArchive
	for rows.Next() {
		a, err := scanArchive(rows)
		if err != nil {
			return nil, fmt.Errorf("scan ledger archive: %w", err)
		}
		archives = append(archives, *a)
	}
	return archives, rows.Err()
}

func (s *ArchiveStore) UpdateStatus(ctx context.Context, id string, status model.ArchiveStatus, errorMsg string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE ledger_archives SET status = ?, error = ? WHERE id = ?`,
		status, errorMsg, id,
	)
	if err != nil {
		return fmt.Errorf("update ledger archive status: %w", err)
	}
	return nil
}

func (s *ArchiveStore) UpdateCompleted(ctx context.Context, id string, sizeBytes int64, now time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE ledger_archives SET status = ?, size_bytes = ?, error = '', completed_at = ? WHERE id = ?`,
		model.ArchiveStatusCompleted, sizeBytes, now, id,
	)
	if err != nil {
		return fmt.Errorf("update ledger archive completed: %w", err)
	}
	return nil
}

// LatestCompleted returns the completed archive reaching the highest seq.
func (s *ArchiveStore) LatestCompleted(ctx context.Context) (*model.LedgerArchive, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+archiveCols+` FROM ledger_archives WHERE status = ? ORDER BY to_seq DESC LIMIT 1`,
		model.ArchiveStatusCompleted,
	)
	a, err := scanArchive(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest completed ledger archive: %w", err)
	}
	return a, nil
}

// ListCompletedUpTo returns completed archives ending at or before seq, in seq
// order. Together they cover the ledger prefix an archive chain was cut from.
func (s *ArchiveStore) ListCompletedUpTo(ctx context.Context, seq int64) ([]model.LedgerArchive, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+archiveCols+` FROM ledger_archives WHERE status = ? AND to_seq <= ? ORDER BY from_seq ASC`,
		model.ArchiveStatusCompleted, seq,
	)
	if err != nil {
		return nil, fmt.Errorf("list completed ledger archives: %w", err)
	}
	defer rows.Close()

	var archives []model.LedgerArchive
	for rows.Next() {
		a, err := scanArchive(rows)
		if err != nil {
			return nil, fmt.Errorf("scan ledger archive: %w", err)
		}
		archives = append(archives, *a)
	}
	return archives, rows.Err()
}

// DeleteFailedBefore removes failed archive records older than before and
// returns their S3 keys so partial uploads can be cleaned up.
func (s *ArchiveStore) DeleteFailedBefore(ctx context.Context, before time.Time) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT s3_key FROM ledger_archives WHERE status = ? AND created_at < ?`,
		model.ArchiveStatusFailed, before,
	)
	if err != nil {
		return nil, fmt.Errorf("select failed archives: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("scan s3 key: %w", err)
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	_, err = s.db.ExecContext(ctx,
		`DELETE FROM ledger_archives WHERE status = ? AND created_at < ?`,
		model.ArchiveStatusFailed, before,
	)
	if err != nil {
		return nil, fmt.Errorf("delete failed archives: %w", err)
	}
	return keys, nil
}
