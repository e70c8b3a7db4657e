package store

import (
	"context"
	"testing"
	"time"

	"github.com/dukerupert/kudos/internal/model"
)

func TestArchiveCreate(t *testing.T) {
	ctx := context.Background()
	as := NewArchiveStore(setupTestDB(t))

	a, err := as.Create(ctx, "ledger/000001-000010.jsonl.enc", 0, 10, 10, t0)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if a.ID == "" {
		t.Error("expected id")
	}
	if a.Status != model.ArchiveStatusPending {
		t.Errorf("status = %q, want %q", a.Status, model.ArchiveStatusPending)
	}

	got, err := as.GetByID(ctx, a.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got == nil || got.ToSeq != 10 || got.EventCount != 10 {
		t.Errorf("got = %+v", got)
	}
}

func TestArchiveGetNotFound(t *testing.T) {
	as := NewArchiveStore(setupTestDB(t))
	got, err := as.GetByID(context.Background(), "missing")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got != nil {
		t.Error("expected nil for missing archive")
	}
}

func TestArchiveStatusTransitions(t *testing.T) {
	ctx := context.Background()
	as := NewArchiveStore(setupTestDB(t))

	first, _ := as.Create(ctx, "k1", 0, 10, 10, t0)
	second, _ := as.Create(ctx, "k2", 10, 25, 15, t0.Add(time.Hour))
	failed, _ := as.Create(ctx, "k3", 25, 30, 5, t0.Add(2*time.Hour))

	if err := as.UpdateStatus(ctx, first.ID, model.ArchiveStatusUploading, ""); err != nil {
		t.Fatalf("update status: %v", err)
	}
	if err := as.UpdateCompleted(ctx, first.ID, 1024, t0); err != nil {
		t.Fatalf("complete first: %v", err)
	}
	as.UpdateCompleted(ctx, second.ID, 2048, t0.Add(time.Hour))
	as.UpdateStatus(ctx, failed.ID, model.ArchiveStatusFailed, "upload: timeout")

	latest, err := as.LatestCompleted(ctx)
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if latest == nil || latest.ID != second.ID || latest.SizeBytes != 2048 || latest.CompletedAt == nil {
		t.Errorf("latest = %+v, want second archive", latest)
	}

	chain, _ := as.ListCompletedUpTo(ctx, 25)
	if len(chain) != 2 || chain[0].ID != first.ID {
		t.Errorf("chain = %+v, want first then second", chain)
	}

	list, _ := as.List(ctx, 10)
	if len(list) != 3 {
		t.Errorf("list = %d, want 3", len(list))
	}

	keys, err := as.DeleteFailedBefore(ctx, t0.Add(3*time.Hour))
	if err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if len(keys) != 1 || keys[0] != "k3" {
		t.Errorf("deleted keys = %v, want [k3]", keys)
	}
}
