package store

import (
	"context"
	"testing"

	"github.com/dukerupert/kudos/internal/model"
)

func TestEventAppendAndSum(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	as := NewAccountStore(db)
	es := NewEventStore(db)
	as.Create(ctx, "u1", "ana", "c1", t0)
	as.Create(ctx, "u2", "bo", "c1", t0)

	events := []model.Event{
		{ID: "e1", UserID: "u1", ActivityType: model.ActivityLogin, PointsAwarded: 2, CreatedAt: t0},
		{ID: "e2", UserID: "u1", ActivityType: model.ActivityManualAdjustment, PointsAwarded: -1, CreatedAt: t0,
			Metadata: model.Metadata{Adjustment: &model.Adjustment{Reason: "typo", Requested: -1}}},
		{ID: "e3", UserID: "u2", ActivityType: model.ActivityWelcomeBonus, PointsAwarded: 10, CreatedAt: t0},
	}
	for i := range events {
		if err := es.Append(ctx, &events[i]); err != nil {
			t.Fatalf("append %s: %v", events[i].ID, err)
		}
		if events[i].Seq == 0 {
			t.Errorf("event %s seq not set", events[i].ID)
		}
	}

	sum, maxSeq, err := es.SumByUser(ctx, "u1")
	if err != nil {
		t.Fatalf("sum: %v", err)
	}
	if sum != 1 || maxSeq != events[1].Seq {
		t.Errorf("sum, maxSeq = %d, %d, want 1, %d", sum, maxSeq, events[1].Seq)
	}

	sum, maxSeq, _ = es.SumByUser(ctx, "nobody")
	if sum != 0 || maxSeq != 0 {
		t.Errorf("empty sum = %d, %d, want 0, 0", sum, maxSeq)
	}

	got, err := es.GetByID(ctx, "e2")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Metadata.Adjustment == nil || got.Metadata.Adjustment.Reason != "typo" {
		t.Errorf("metadata = %+v, want adjustment reason typo", got.Metadata)
	}

	list, _ := es.ListByUser(ctx, "u1", 10)
	if len(list) != 2 || list[0].ID != "e2" {
		t.Errorf("list = %+v, want newest first", list)
	}

	after, _ := es.ListAfter(ctx, events[0].Seq, 10)
	if len(after) != 2 || after[0].ID != "e2" || after[1].ID != "e3" {
		t.Errorf("after = %+v, want e2, e3", after)
	}

	sums, _ := es.SumsAfter(ctx, 0, events[2].Seq)
	if sums["u1"] != 1 || sums["u2"] != 10 {
		t.Errorf("sums = %v", sums)
	}

	top, _ := es.MaxSeq(ctx)
	if top != events[2].Seq {
		t.Errorf("max seq = %d, want %d", top, events[2].Seq)
	}
}

func TestEventsAreAppendOnly(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	NewAccountStore(db).Create(ctx, "u1", "ana", "c1", t0)
	es := NewEventStore(db)
	e := model.Event{ID: "e1", UserID: "u1", ActivityType: model.ActivityLogin, PointsAwarded: 2, CreatedAt: t0}
	if err := es.Append(ctx, &e); err != nil {
		t.Fatalf("append: %v", err)
	}

	if _, err := db.Exec(`UPDATE events SET points_awarded = 100 WHERE id = 'e1'`); err == nil {
		t.Error("update should be rejected")
	}
	if _, err := db.Exec(`DELETE FROM events WHERE id = 'e1'`); err == nil {
		t.Error("delete should be rejected")
	}
	if err := es.Append(ctx, &e); err == nil {
		t.Error("duplicate id should be rejected")
	}
}

func TestTierChangeStore(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	NewAccountStore(db).Create(ctx, "u1", "ana", "c1", t0)
	es := NewEventStore(db)
	e := model.Event{ID: "e1", UserID: "u1", ActivityType: model.ActivityLogin, PointsAwarded: 100, CreatedAt: t0}
	es.Append(ctx, &e)

	ts := NewTierChangeStore(db)
	trigger := "e1"
	c := model.TierChange{UserID: "u1", PreviousTier: "Bronze", NewTier: "Silver", PointsAtChange: 100, TriggerEventID: &trigger, ChangedAt: t0}
	if err := ts.Insert(ctx, &c); err != nil {
		t.Fatalf("insert: %v", err)
	}
	repair := model.TierChange{UserID: "u1", PreviousTier: "Silver", NewTier: "Bronze", PointsAtChange: 0, ChangedAt: t0}
	if err := ts.Insert(ctx, &repair); err != nil {
		t.Fatalf("insert without trigger: %v", err)
	}

	byTrigger, err := ts.GetByTrigger(ctx, "e1")
	if err != nil {
		t.Fatalf("get by trigger: %v", err)
	}
	if byTrigger == nil || byTrigger.ID != c.ID {
		t.Errorf("by trigger = %+v, want id %d", byTrigger, c.ID)
	}

	list, _ := ts.ListByUser(ctx, "u1")
	if len(list) != 2 {
		t.Fatalf("len = %d, want 2", len(list))
	}
	if list[1].TriggerEventID != nil {
		t.Errorf("repair trigger = %v, want nil", *list[1].TriggerEventID)
	}
	if !list[0].Upward() || list[1].Upward() {
		t.Error("first change should be upward, second downward")
	}
}
