package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"golang.org/x/sync/errgroup"

	"github.com/dukerupert/kudos/internal/apperr"
	"github.com/dukerupert/kudos/internal/model"
	"github.com/dukerupert/kudos/internal/store"
)

// Mismatch is an account whose cached total disagrees with its replayed
// events.
type Mismatch struct {
	UserID   string `json:"user_id"`
	Expected int64  `json:"expected"`
	Actual   int64  `json:"actual"`
	Missing  bool   `json:"missing_account,omitempty"`
}

type VerifyReport struct {
	ArchiveID      string     `json:"archive_id"`
	Archives       int        `json:"archives"`
	ArchivedEvents int        `json:"archived_events"`
	ThroughSeq     int64      `json:"through_seq"`
	Accounts       int        `json:"accounts"`
	Mismatches     []Mismatch `json:"mismatches"`
	OK             bool       `json:"ok"`
}

type replay struct {
	sums   map[string]int64
	events int
}

// Verify downloads the archive and every completed archive before it,
// replays their events into per-user sums, adds the live events after the
// archive and compares the result with each account's cached total.
func (m *Manager) Verify(ctx context.Context, id string) (*VerifyReport, error) {
	client, bucket, err := m.clientAndBucket()
	if err != nil {
		return nil, err
	}

	archives := store.NewArchiveStore(m.db)
	record, err := archives.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, apperr.NotFound("archive %s not found", id)
	}
	if record.Status != model.ArchiveStatusCompleted {
		return nil, apperr.New(apperr.CodeConflict, fmt.Sprintf("archive %s is %s", id, record.Status))
	}

	chain, err := archives.ListCompletedUpTo(ctx, record.ToSeq)
	if err != nil {
		return nil, err
	}
	var next int64
	for _, a := range chain {
		if a.FromSeq != next {
			return nil, apperr.New(apperr.CodeConflict, fmt.Sprintf("archive chain has a gap after seq %d", next))
		}
		next = a.ToSeq
	}
	if next != record.ToSeq {
		return nil, apperr.New(apperr.CodeConflict, fmt.Sprintf("archive chain ends at seq %d, want %d", next, record.ToSeq))
	}

	replays := make([]replay, len(chain))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i, a := range chain {
		g.Go(func() error {
			r, err := m.replay(gctx, client, bucket, a)
			if err != nil {
				return fmt.Errorf("replay archive %s: %w", a.ID, err)
			}
			replays[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	expected := make(map[string]int64)
	report := &VerifyReport{ArchiveID: id, Archives: len(chain), Mismatches: []Mismatch{}}
	for _, r := range replays {
		report.ArchivedEvents += r.events
		for user, sum := range r.sums {
			expected[user] += sum
		}
	}

	totals, newer, maxSeq, err := m.liveState(ctx, record.ToSeq)
	if err != nil {
		return nil, err
	}
	report.ThroughSeq = maxSeq
	report.Accounts = len(totals)
	for user, sum := range newer {
		expected[user] += sum
	}

	for user, want := range expected {
		got, ok := totals[user]
		if !ok {
			report.Mismatches = append(report.Mismatches, Mismatch{UserID: user, Expected: want, Missing: true})
			continue
		}
		if got != want {
			report.Mismatches = append(report.Mismatches, Mismatch{UserID: user, Expected: want, Actual: got})
		}
	}
	for user, got := range totals {
		if _, ok := expected[user]; !ok && got != 0 {
			report.Mismatches = append(report.Mismatches, Mismatch{UserID: user, Actual: got})
		}
	}
	sort.Slice(report.Mismatches, func(i, j int) bool {
		return report.Mismatches[i].UserID < report.Mismatches[j].UserID
	})
	report.OK = len(report.Mismatches) == 0

	if report.OK {
		m.logger.Info("archive verified", "id", id, "archives", report.Archives, "events", report.ArchivedEvents)
	} else {
		m.logger.Warn("archive verification found drift", "id", id, "mismatches", len(report.Mismatches))
	}
	return report, nil
}

// liveState reads the account totals and the events after seq in one
// transaction so they describe the same moment.
func (m *Manager) liveState(ctx context.Context, afterSeq int64) (totals, newer map[string]int64, maxSeq int64, err error) {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	events := store.NewEventStore(tx)
	if maxSeq, err = events.MaxSeq(ctx); err != nil {
		return nil, nil, 0, err
	}
	if newer, err = events.SumsAfter(ctx, afterSeq, maxSeq); err != nil {
		return nil, nil, 0, err
	}
	if totals, err = store.NewAccountStore(tx).Totals(ctx); err != nil {
		return nil, nil, 0, err
	}
	return totals, newer, maxSeq, tx.Commit()
}

func (m *Manager) replay(ctx context.Context, client s3Client, bucket string, a model.LedgerArchive) (replay, error) {
	obj, err := client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(a.S3Key),
	})
	if err != nil {
		return replay{}, fmt.Errorf("download from s3: %w", err)
	}
	defer obj.Body.Close()

	sealed, err := io.ReadAll(obj.Body)
	if err != nil {
		return replay{}, fmt.Errorf("read object: %w", err)
	}
	plaintext, err := Decrypt(sealed, m.cfg.Passphrase)
	if err != nil {
		return replay{}, err
	}

	r := replay{sums: make(map[string]int64)}
	dec := json.NewDecoder(bytes.NewReader(plaintext))
	for {
		var ev model.Event
		err := dec.Decode(&ev)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return replay{}, fmt.Errorf("decode event %d: %w", r.events+1, err)
		}
		if ev.Seq <= a.FromSeq || ev.Seq > a.ToSeq {
			return replay{}, fmt.Errorf("event seq %d outside (%d, %d]", ev.Seq, a.FromSeq, a.ToSeq)
		}
		r.sums[ev.UserID] += ev.PointsAwarded
		r.events++
	}
	if r.events != a.EventCount {
		return replay{}, fmt.Errorf("archive holds %d events, record says %d", r.events, a.EventCount)
	}
	return r, nil
}
