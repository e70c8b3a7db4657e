package ledger

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"log/slog"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/dukerupert/kudos/internal/apperr"
	"github.com/dukerupert/kudos/internal/database"
	"github.com/dukerupert/kudos/internal/keylock"
	"github.com/dukerupert/kudos/internal/model"
	"github.com/dukerupert/kudos/internal/reward"
	"github.com/dukerupert/kudos/internal/store"
	"github.com/dukerupert/kudos/internal/tier"
	"github.com/dukerupert/kudos/internal/websocket"
)

type fakeFeed struct {
	mu   sync.Mutex
	msgs []websocket.Message
}

func (f *fakeFeed) Broadcast(msg websocket.Message) {
	f.mu.Lock()
	f.msgs = append(f.msgs, msg)
	f.mu.Unlock()
}

func (f *fakeFeed) types() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, m := range f.msgs {
		out = append(out, m.Type)
	}
	return out
}

type testEnv struct {
	db      *sql.DB
	ledger  *Ledger
	rewards *reward.Engine
	feed    *fakeFeed
}

func setup(t *testing.T) *testEnv {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	locks := keylock.New()
	feed := &fakeFeed{}
	rewards := reward.New(db, locks, logger)
	l := New(db, locks, logger,
		WithRewards(rewards),
		WithBroadcaster(feed),
		WithDefaultCommunity("c1"),
	)
	return &testEnv{db: db, ledger: l, rewards: rewards, feed: feed}
}

func pts(v int64) *int64 { return &v }
func pct(v int) *int     { return &v }

func (e *testEnv) config(t *testing.T, name tier.Name) *model.RewardConfiguration {
	t.Helper()
	c, err := e.rewards.CreateConfig(context.Background(), &model.RewardConfiguration{
		CommunityID: "c1",
		TierName:    name,
		RewardType:  model.RewardCustom,
		Title:       string(name) + " badge",
		Active:      true,
	}, "test")
	if err != nil {
		t.Fatalf("create config: %v", err)
	}
	return c
}

func (e *testEnv) give(t *testing.T, userID string, points int64) *Result {
	t.Helper()
	res, err := e.ledger.RecordEvent(context.Background(), Record{
		UserID: userID,
		Type:   model.ActivityManualAdjustment,
		Points: pts(points),
	})
	if err != nil {
		t.Fatalf("record %d for %s: %v", points, userID, err)
	}
	return res
}

func (e *testEnv) assertConsistent(t *testing.T, userID string) {
	t.Helper()
	sum, _, err := store.NewEventStore(e.db).SumByUser(context.Background(), userID)
	if err != nil {
		t.Fatalf("sum events: %v", err)
	}
	a, err := e.ledger.GetAccount(context.Background(), userID)
	if err != nil {
		t.Fatalf("get account: %v", err)
	}
	if a.TotalPoints != sum {
		t.Errorf("total_points = %d, event sum = %d", a.TotalPoints, sum)
	}
	if a.CurrentTier != tier.For(a.TotalPoints) {
		t.Errorf("current_tier = %s, want %s", a.CurrentTier, tier.For(a.TotalPoints))
	}
}

func TestCourseCompletionCrossesIntoSilver(t *testing.T) {
	e := setup(t)
	ctx := context.Background()
	silver := e.config(t, tier.Silver)
	e.config(t, tier.Gold)

	first := e.give(t, "u1", 95)
	if first.Transition != nil {
		t.Fatalf("95 points should stay Bronze, got %+v", first.Transition)
	}

	res, err := e.ledger.RecordEvent(ctx, Record{
		UserID:   "u1",
		Type:     model.ActivityCourseCompleted,
		Metadata: model.Metadata{Course: &model.CourseSignals{CourseID: "go-101", CompletionPercentage: pct(100)}},
	})
	if err != nil {
		t.Fatalf("record course: %v", err)
	}

	if res.Event.PointsAwarded != 20 {
		t.Errorf("points_awarded = %d, want 20", res.Event.PointsAwarded)
	}
	if res.Account.TotalPoints != 115 || res.Account.CurrentTier != tier.Silver {
		t.Errorf("account = %d/%s, want 115/Silver", res.Account.TotalPoints, res.Account.CurrentTier)
	}
	tc := res.Transition
	if tc == nil {
		t.Fatal("expected a tier change")
	}
	if tc.PreviousTier != tier.Bronze || tc.NewTier != tier.Silver || tc.PointsAtChange != 115 {
		t.Errorf("transition = %+v, want Bronze->Silver at 115", tc)
	}
	if tc.TriggerEventID == nil || *tc.TriggerEventID != res.Event.ID {
		t.Errorf("trigger = %v, want %s", tc.TriggerEventID, res.Event.ID)
	}
	if len(res.Unlocked) != 1 || res.Unlocked[0].RewardConfigID != silver.ID {
		t.Errorf("unlocked = %+v, want only the Silver config", res.Unlocked)
	}

	changes, _ := e.ledger.ListTierChanges(ctx, "u1")
	if len(changes) != 1 {
		t.Errorf("tier changes = %d, want 1", len(changes))
	}
	e.assertConsistent(t, "u1")
}

func TestSetToZeroDropsToBronze(t *testing.T) {
	e := setup(t)
	ctx := context.Background()
	e.give(t, "u1", 1200)

	res, err := e.ledger.Adjust(ctx, Adjustment{
		UserID: "u1",
		Mode:   model.AdjustSet,
		Points: 0,
		Reason: "season reset",
		Actor:  "admin",
	})
	if err != nil {
		t.Fatalf("adjust: %v", err)
	}
	if res.Event.PointsAwarded != -1200 {
		t.Errorf("points_awarded = %d, want -1200", res.Event.PointsAwarded)
	}
	if res.Event.ActivityType != model.ActivityManualAdjustment {
		t.Errorf("activity = %s, want manual_adjustment", res.Event.ActivityType)
	}
	adj := res.Event.Metadata.Adjustment
	if adj == nil || adj.Reason != "season reset" || adj.Requested != -1200 || adj.Clamped {
		t.Errorf("adjustment metadata = %+v", adj)
	}
	if res.Account.TotalPoints != 0 || res.Account.CurrentTier != tier.Bronze {
		t.Errorf("account = %d/%s, want 0/Bronze", res.Account.TotalPoints, res.Account.CurrentTier)
	}
	tc := res.Transition
	if tc == nil || tc.PreviousTier != tier.Gold || tc.NewTier != tier.Bronze || tc.PointsAtChange != 0 {
		t.Errorf("transition = %+v, want Gold->Bronze at 0", tc)
	}

	entries, _ := store.NewAuditStore(e.db).List(ctx, 10)
	if len(entries) == 0 || entries[0].Action != "account.adjust" {
		t.Errorf("audit = %+v, want account.adjust entry", entries)
	}
	e.assertConsistent(t, "u1")
}

func TestConcurrentRecordsForOneUser(t *testing.T) {
	e := setup(t)
	ctx := context.Background()
	e.give(t, "u1", 10)

	const n = 40
	var wg sync.WaitGroup
	errs := make(chan error, n)
	var want int64 = 10
	for i := 1; i <= n; i++ {
		want += int64(i)
		wg.Add(1)
		go func(v int64) {
			defer wg.Done()
			_, err := e.ledger.RecordEvent(ctx, Record{UserID: "u1", Type: model.ActivityReaction, Points: pts(v)})
			if err != nil {
				errs <- err
			}
		}(int64(i))
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("concurrent record: %v", err)
	}

	a, _ := e.ledger.GetAccount(ctx, "u1")
	if a.TotalPoints != want {
		t.Errorf("total = %d, want %d", a.TotalPoints, want)
	}
	e.assertConsistent(t, "u1")

	changes, _ := e.ledger.ListTierChanges(ctx, "u1")
	if len(changes) != 2 {
		t.Errorf("tier changes = %d, want 2 (Bronze->Silver->Gold)", len(changes))
	}
}

func TestRecordIsIdempotentByEventID(t *testing.T) {
	e := setup(t)
	ctx := context.Background()
	e.config(t, tier.Silver)

	r := Record{EventID: "wh:n1", UserID: "u1", Type: model.ActivityPurchase, Metadata: model.Metadata{
		Purchase: &model.PurchaseSignals{AmountCents: 15000},
	}}
	first, err := e.ledger.RecordEvent(ctx, r)
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	if first.Duplicate || first.Transition == nil {
		t.Fatalf("first = %+v, want fresh write with transition", first)
	}

	second, err := e.ledger.RecordEvent(ctx, r)
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	if !second.Duplicate {
		t.Error("second write should be a duplicate")
	}
	if second.Account.TotalPoints != 150 {
		t.Errorf("total = %d, want 150", second.Account.TotalPoints)
	}
	if second.Transition == nil || second.Transition.ID != first.Transition.ID {
		t.Errorf("duplicate should report the original transition")
	}
	if len(second.Unlocked) != 0 {
		t.Errorf("duplicate unlocked = %d, want 0", len(second.Unlocked))
	}

	events, _ := e.ledger.ListEvents(ctx, "u1", 10)
	if len(events) != 1 {
		t.Errorf("events = %d, want 1", len(events))
	}

	_, err = e.ledger.RecordEvent(ctx, Record{EventID: "wh:n1", UserID: "u2", Type: model.ActivityLogin})
	if !apperr.Is(err, apperr.CodeConflict) {
		t.Errorf("reuse by another user err = %v, want conflict", err)
	}
}

func TestNegativeDeltaIsClampedAtZero(t *testing.T) {
	e := setup(t)
	ctx := context.Background()
	e.give(t, "u1", 10)

	res, err := e.ledger.Adjust(ctx, Adjustment{UserID: "u1", Mode: model.AdjustRemove, Points: 25, Reason: "spam"})
	if err != nil {
		t.Fatalf("adjust: %v", err)
	}
	if res.Event.PointsAwarded != -10 {
		t.Errorf("applied = %d, want -10", res.Event.PointsAwarded)
	}
	adj := res.Event.Metadata.Adjustment
	if adj == nil || adj.Requested != -25 || !adj.Clamped {
		t.Errorf("adjustment = %+v, want requested -25 clamped", adj)
	}
	if res.Account.TotalPoints != 0 {
		t.Errorf("total = %d, want 0", res.Account.TotalPoints)
	}
	e.assertConsistent(t, "u1")
}

func TestMultiTierJumpUnlocksEveryPassedTier(t *testing.T) {
	e := setup(t)
	bronze := e.config(t, tier.Bronze)
	silver := e.config(t, tier.Silver)
	gold := e.config(t, tier.Gold)
	e.config(t, tier.Platinum)

	res := e.give(t, "u1", 600)
	if res.Transition == nil || res.Transition.NewTier != tier.Gold {
		t.Fatalf("transition = %+v, want to Gold", res.Transition)
	}
	got := map[int64]bool{}
	for _, u := range res.Unlocked {
		got[u.RewardConfigID] = true
	}
	if len(got) != 3 || !got[bronze.ID] || !got[silver.ID] || !got[gold.ID] {
		t.Errorf("unlocked = %+v, want Bronze, Silver and Gold configs", res.Unlocked)
	}

	// Dropping and re-entering Gold grants nothing new.
	e.ledger.Adjust(context.Background(), Adjustment{UserID: "u1", Mode: model.AdjustRemove, Points: 200, Reason: "x"})
	again := e.give(t, "u1", 200)
	if again.Transition == nil || len(again.Unlocked) != 0 {
		t.Errorf("re-entry = %+v, want transition without unlocks", again)
	}
}

func TestAdjustValidation(t *testing.T) {
	e := setup(t)
	ctx := context.Background()
	e.give(t, "u1", 5)

	tests := []struct {
		name string
		adj  Adjustment
		code string
	}{
		{"missing reason", Adjustment{UserID: "u1", Mode: model.AdjustAdd, Points: 1}, apperr.CodeValidation},
		{"bad mode", Adjustment{UserID: "u1", Mode: "double", Points: 1, Reason: "x"}, apperr.CodeValidation},
		{"negative points", Adjustment{UserID: "u1", Mode: model.AdjustAdd, Points: -1, Reason: "x"}, apperr.CodeValidation},
		{"unknown account", Adjustment{UserID: "ghost", Mode: model.AdjustAdd, Points: 1, Reason: "x"}, apperr.CodeNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.ledger.Adjust(ctx, tt.adj)
			if got := apperr.CodeOf(err); got != tt.code {
				t.Errorf("code = %s, want %s (err %v)", got, tt.code, err)
			}
		})
	}

	if _, err := e.ledger.GetAccount(ctx, "ghost"); !apperr.Is(err, apperr.CodeNotFound) {
		t.Errorf("unknown account should not be created, err = %v", err)
	}
}

func TestRecordValidation(t *testing.T) {
	e := setup(t)
	ctx := context.Background()

	_, err := e.ledger.RecordEvent(ctx, Record{UserID: "u1", Type: "dance"})
	if !apperr.Is(err, apperr.CodeValidation) {
		t.Errorf("bad type err = %v, want validation", err)
	}
	_, err = e.ledger.RecordEvent(ctx, Record{Type: model.ActivityLogin})
	if !apperr.Is(err, apperr.CodeValidation) {
		t.Errorf("missing user err = %v, want validation", err)
	}
	if _, err := e.ledger.GetAccount(ctx, "u1"); !apperr.Is(err, apperr.CodeNotFound) {
		t.Error("rejected event should not create an account")
	}
}

func TestLiveFeedAfterCommit(t *testing.T) {
	e := setup(t)
	e.config(t, tier.Silver)
	e.give(t, "u1", 150)

	got := e.feed.types()
	want := []string{"account_points", "tier_changed", "reward_unlocked"}
	if len(got) != len(want) {
		t.Fatalf("messages = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("message[%d] = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestResetAll(t *testing.T) {
	e := setup(t)
	ctx := context.Background()
	e.give(t, "u1", 120)
	e.give(t, "u2", 800)
	e.give(t, "u3", 0)

	summary, err := e.ledger.ResetAll(ctx, "new season", "admin")
	if err != nil {
		t.Fatalf("reset: %v", err)
	}
	if summary.Accounts != 2 || summary.Removed != 920 {
		t.Errorf("summary = %+v, want 2 accounts, 920 removed", summary)
	}

	for _, id := range []string{"u1", "u2", "u3"} {
		a, _ := e.ledger.GetAccount(ctx, id)
		if a.TotalPoints != 0 || a.CurrentTier != tier.Bronze {
			t.Errorf("%s = %d/%s, want 0/Bronze", id, a.TotalPoints, a.CurrentTier)
		}
		e.assertConsistent(t, id)
	}

	events, _ := e.ledger.ListEvents(ctx, "u2", 1)
	if len(events) != 1 || events[0].ActivityType != model.ActivityLeaderboardReset || events[0].PointsAwarded != -800 {
		t.Errorf("latest u2 event = %+v, want leaderboard_reset -800", events)
	}

	entries, _ := store.NewAuditStore(e.db).List(ctx, 10)
	if len(entries) == 0 || entries[0].Action != "leaderboard.reset" {
		t.Errorf("audit = %+v, want leaderboard.reset", entries)
	}

	if _, err := e.ledger.ResetAll(ctx, "", "admin"); !apperr.Is(err, apperr.CodeValidation) {
		t.Errorf("reset without reason err = %v, want validation", err)
	}
}

func TestReconcileRepairsDrift(t *testing.T) {
	e := setup(t)
	ctx := context.Background()
	e.give(t, "u1", 300)
	e.give(t, "u1", 50)

	if _, err := e.db.Exec(`UPDATE accounts SET total_points = 999, current_tier = 'Gold' WHERE user_id = 'u1'`); err != nil {
		t.Fatalf("corrupt aggregate: %v", err)
	}

	res, err := e.ledger.Reconcile(ctx, "u1", "admin")
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if !res.Corrected || res.Cached != 999 || res.Recomputed != 350 {
		t.Errorf("result = %+v, want corrected 999 -> 350", res)
	}
	if res.Transition == nil || res.Transition.NewTier != tier.Silver || res.Transition.TriggerEventID != nil {
		t.Errorf("transition = %+v, want Gold->Silver with no trigger", res.Transition)
	}

	events, _ := e.ledger.ListEvents(ctx, "u1", 10)
	if len(events) != 2 {
		t.Errorf("events = %d, want 2 (reconcile must not write events)", len(events))
	}
	e.assertConsistent(t, "u1")

	again, err := e.ledger.Reconcile(ctx, "u1", "admin")
	if err != nil {
		t.Fatalf("second reconcile: %v", err)
	}
	if again.Corrected {
		t.Error("consistent account should not be corrected")
	}

	if _, err := e.ledger.Reconcile(ctx, "ghost", "admin"); !apperr.Is(err, apperr.CodeNotFound) {
		t.Errorf("ghost err = %v, want not found", err)
	}
}

func TestReconcileRejectsStaleSum(t *testing.T) {
	e := setup(t)
	ctx := context.Background()
	e.give(t, "u1", 30)
	sum, maxSeq, _ := store.NewEventStore(e.db).SumByUser(ctx, "u1")

	e.give(t, "u1", 5)
	if _, err := e.ledger.reconcileTx(ctx, "u1", sum, maxSeq); !errors.Is(err, errStaleSum) {
		t.Errorf("err = %v, want errStaleSum", err)
	}
}

func TestReconcileAll(t *testing.T) {
	e := setup(t)
	ctx := context.Background()
	e.give(t, "u1", 10)
	e.give(t, "u2", 20)
	e.db.Exec(`UPDATE accounts SET total_points = 0 WHERE user_id = 'u2'`)

	fixed, err := e.ledger.ReconcileAll(ctx, "cli")
	if err != nil {
		t.Fatalf("reconcile all: %v", err)
	}
	if len(fixed) != 1 || fixed[0].UserID != "u2" {
		t.Errorf("fixed = %+v, want only u2", fixed)
	}
}

func TestMembershipIgnoresStaleNotifications(t *testing.T) {
	e := setup(t)
	ctx := context.Background()
	silver := e.config(t, tier.Silver)
	e.give(t, "u1", 150)

	joined := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	cancelled := joined.Add(48 * time.Hour)

	applied, err := e.ledger.SetMembership(ctx, "u1", "", "", false, cancelled)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if !applied {
		t.Fatal("cancel should apply")
	}
	u, _ := store.NewRewardStore(e.db).GetUnlock(ctx, "u1", silver.ID)
	if u == nil || u.Active {
		t.Fatalf("unlock = %+v, want archived", u)
	}

	// The join notification arrives after the cancellation.
	applied, err = e.ledger.SetMembership(ctx, "u1", "", "", true, joined)
	if err != nil {
		t.Fatalf("late join: %v", err)
	}
	if applied {
		t.Error("older join should be ignored")
	}
	a, _ := e.ledger.GetAccount(ctx, "u1")
	if a.Active {
		t.Error("account should remain inactive")
	}

	// A genuine rejoin restores the archived unlock.
	applied, _ = e.ledger.SetMembership(ctx, "u1", "", "", true, cancelled.Add(time.Hour))
	if !applied {
		t.Fatal("rejoin should apply")
	}
	u, _ = store.NewRewardStore(e.db).GetUnlock(ctx, "u1", silver.ID)
	if !u.Active {
		t.Error("unlock should be restored on rejoin")
	}
}

func TestEnsureAccount(t *testing.T) {
	e := setup(t)
	ctx := context.Background()

	a, created, err := e.ledger.EnsureAccount(ctx, "u1", "ana", "")
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if !created || a.CommunityID != "c1" || a.Username != "ana" {
		t.Errorf("account = %+v created=%v, want new account in default community", a, created)
	}

	a, created, _ = e.ledger.EnsureAccount(ctx, "u1", "ana2", "")
	if created || a.Username != "ana2" {
		t.Errorf("second ensure = %+v created=%v, want renamed existing account", a, created)
	}

	p, err := e.ledger.Progress(ctx, "u1")
	if err != nil {
		t.Fatalf("progress: %v", err)
	}
	if p.Tier != tier.Bronze || p.PointsToNext != 100 {
		t.Errorf("progress = %+v", p)
	}
}

func TestOversizedAwardsAreRejected(t *testing.T) {
	e := setup(t)
	ctx := context.Background()
	e.give(t, "u1", 10)

	_, err := e.ledger.RecordEvent(ctx, Record{UserID: "u1", Type: model.ActivityManualAdjustment, Points: pts(math.MaxInt64)})
	if !apperr.Is(err, apperr.CodeValidation) {
		t.Errorf("record MaxInt64 err = %v, want validation", err)
	}
	_, err = e.ledger.Adjust(ctx, Adjustment{UserID: "u1", Mode: model.AdjustAdd, Points: math.MaxInt64, Reason: "oops"})
	if !apperr.Is(err, apperr.CodeValidation) {
		t.Errorf("adjust MaxInt64 err = %v, want validation", err)
	}

	a, _ := e.ledger.GetAccount(ctx, "u1")
	if a.TotalPoints != 10 {
		t.Errorf("total = %d, want 10 untouched", a.TotalPoints)
	}
	e.assertConsistent(t, "u1")
}

func TestAwardThatWouldOverflowTotalIsRejected(t *testing.T) {
	e := setup(t)
	ctx := context.Background()
	e.give(t, "u1", 1)
	near := int64(math.MaxInt64 - 5)
	if err := store.NewAccountStore(e.db).UpdateAggregate(ctx, "u1", near, tier.For(near), 1, time.Now()); err != nil {
		t.Fatalf("seed aggregate: %v", err)
	}

	_, err := e.ledger.RecordEvent(ctx, Record{UserID: "u1", Type: model.ActivityManualAdjustment, Points: pts(10)})
	if !apperr.Is(err, apperr.CodeValidation) {
		t.Fatalf("err = %v, want validation", err)
	}
	a, _ := e.ledger.GetAccount(ctx, "u1")
	if a.TotalPoints != near {
		t.Errorf("total = %d, want %d", a.TotalPoints, near)
	}
	events, _ := e.ledger.ListEvents(ctx, "u1", 10)
	if len(events) != 1 {
		t.Errorf("events = %d, want only the seed event", len(events))
	}
}

func TestMetadataMustMatchActivityType(t *testing.T) {
	e := setup(t)
	ctx := context.Background()

	_, err := e.ledger.RecordEvent(ctx, Record{UserID: "u1", Type: model.ActivityLogin, Metadata: model.Metadata{
		Forum:    &model.ForumSignals{Upvotes: 5},
		Purchase: &model.PurchaseSignals{AmountCents: 100},
	}})
	if !apperr.Is(err, apperr.CodeValidation) {
		t.Fatalf("err = %v, want validation", err)
	}
	events, _ := e.ledger.ListEvents(ctx, "u1", 10)
	if len(events) != 0 {
		t.Errorf("events = %d, want 0", len(events))
	}

	res, err := e.ledger.RecordEvent(ctx, Record{UserID: "u1", Type: model.ActivityLogin, Metadata: model.Metadata{
		Source: &model.SourceRef{EventID: "n-9"},
	}})
	if err != nil {
		t.Fatalf("login with source: %v", err)
	}
	if res.Event.PointsAwarded != 2 {
		t.Errorf("points = %d, want 2", res.Event.PointsAwarded)
	}
}

func TestCancelledMemberCrossingTierGetsArchivedUnlock(t *testing.T) {
	e := setup(t)
	ctx := context.Background()
	silver := e.config(t, tier.Silver)
	e.give(t, "u1", 10)

	if _, err := e.ledger.SetMembership(ctx, "u1", "", "", false, time.Now()); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	res, err := e.ledger.Adjust(ctx, Adjustment{UserID: "u1", Mode: model.AdjustAdd, Points: 150, Reason: "late course credit"})
	if err != nil {
		t.Fatalf("adjust: %v", err)
	}
	if res.Transition == nil || res.Transition.NewTier != tier.Silver {
		t.Fatalf("transition = %+v, want Silver", res.Transition)
	}
	if len(res.Unlocked) != 1 || res.Unlocked[0].Active {
		t.Fatalf("unlocked = %+v, want one archived unlock", res.Unlocked)
	}
	if _, err := e.rewards.UseReward(ctx, "u1", silver.ID); !errors.Is(err, reward.ErrArchived) {
		t.Errorf("use while cancelled err = %v, want ErrArchived", err)
	}
}
