package store

import (
	"context"
	"testing"
	"time"

	"github.com/dukerupert/kudos/internal/model"
	"github.com/dukerupert/kudos/internal/tier"
)

func setupRewardTestDB(t *testing.T) (*RewardStore, *AccountStore) {
	t.Helper()
	db := setupTestDB(t)
	as := NewAccountStore(db)
	as.Create(context.Background(), "u1", "ana", "c1", t0)
	return NewRewardStore(db), as
}

func newConfig(tierName tier.Name, typ model.RewardType, code string) *model.RewardConfiguration {
	c := &model.RewardConfiguration{
		CommunityID: "c1",
		TierName:    tierName,
		RewardType:  typ,
		Title:       string(tierName) + " perk",
		Active:      true,
	}
	if typ.IsDiscount() {
		v := 15.0
		c.Value = &v
		c.Data.Discount = &model.DiscountData{Code: code}
	}
	return c
}

func TestRewardConfigCRUD(t *testing.T) {
	ctx := context.Background()
	rs, _ := setupRewardTestDB(t)

	c, err := rs.CreateConfig(ctx, newConfig(tier.Silver, model.RewardDiscountPercentage, "SILVER15"), t0)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if c.ID == 0 || c.Value == nil || *c.Value != 15 {
		t.Errorf("created = %+v", c)
	}
	if c.Data.Discount == nil || c.Data.Discount.Code != "SILVER15" {
		t.Errorf("data = %+v, want discount code", c.Data)
	}

	c.Title = "Silver discount"
	c.Value = nil
	c.RewardType = model.RewardSpecialAccess
	c.Data = model.RewardData{Access: &model.AccessData{Resource: "lounge"}}
	updated, err := rs.UpdateConfig(ctx, c, t0)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Title != "Silver discount" || updated.Value != nil || updated.Data.Access == nil {
		t.Errorf("updated = %+v", updated)
	}

	if err := rs.SetConfigActive(ctx, c.ID, false, t0); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	got, _ := rs.GetConfig(ctx, c.ID)
	if got.Active {
		t.Error("expected inactive")
	}

	missing, err := rs.GetConfig(ctx, 999)
	if err != nil {
		t.Fatalf("get missing: %v", err)
	}
	if missing != nil {
		t.Error("expected nil for missing config")
	}
}

func TestListActiveForTiers(t *testing.T) {
	ctx := context.Background()
	rs, _ := setupRewardTestDB(t)

	bronze, _ := rs.CreateConfig(ctx, newConfig(tier.Bronze, model.RewardCustom, ""), t0)
	silver, _ := rs.CreateConfig(ctx, newConfig(tier.Silver, model.RewardCustom, ""), t0)
	gold, _ := rs.CreateConfig(ctx, newConfig(tier.Gold, model.RewardCustom, ""), t0)
	other := newConfig(tier.Silver, model.RewardCustom, "")
	other.CommunityID = "c2"
	rs.CreateConfig(ctx, other, t0)
	rs.SetConfigActive(ctx, bronze.ID, false, t0)

	got, err := rs.ListActiveForTiers(ctx, "c1", []tier.Name{tier.Bronze, tier.Silver, tier.Gold})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 2 || got[0].ID != silver.ID || got[1].ID != gold.ID {
		t.Errorf("got %+v, want silver and gold of c1", got)
	}

	none, _ := rs.ListActiveForTiers(ctx, "c1", nil)
	if len(none) != 0 {
		t.Errorf("no tiers should list nothing, got %d", len(none))
	}

	all, _ := rs.ListConfigs(ctx, "")
	if len(all) != 4 {
		t.Errorf("all configs = %d, want 4", len(all))
	}
}

func TestUnlockUniqueAndUseOnce(t *testing.T) {
	ctx := context.Background()
	rs, _ := setupRewardTestDB(t)
	c, _ := rs.CreateConfig(ctx, newConfig(tier.Silver, model.RewardDiscountFixed, "TENOFF"), t0)

	created, err := rs.Unlock(ctx, "u1", c.ID, tier.Silver, true, t0)
	if err != nil {
		t.Fatalf("unlock: %v", err)
	}
	if !created {
		t.Error("first unlock should insert")
	}
	created, err = rs.Unlock(ctx, "u1", c.ID, tier.Silver, true, t0.Add(time.Hour))
	if err != nil {
		t.Fatalf("repeat unlock: %v", err)
	}
	if created {
		t.Error("repeat unlock should be a no-op")
	}

	found, err := rs.FindUnusedDiscount(ctx, "u1", "TENOFF")
	if err != nil {
		t.Fatalf("find discount: %v", err)
	}
	if found == nil || found.RewardConfigID != c.ID {
		t.Errorf("discount = %+v, want config %d", found, c.ID)
	}

	used, err := rs.MarkUsed(ctx, "u1", c.ID, "wh:p1", t0)
	if err != nil {
		t.Fatalf("mark used: %v", err)
	}
	if !used {
		t.Error("first use should apply")
	}
	used, _ = rs.MarkUsed(ctx, "u1", c.ID, "wh:p2", t0.Add(time.Hour))
	if used {
		t.Error("second use should not apply")
	}
	u, _ := rs.GetUnlock(ctx, "u1", c.ID)
	if u.UsedAt == nil || !u.UsedAt.Equal(t0) {
		t.Errorf("used_at = %v, want %v", u.UsedAt, t0)
	}
	if u.UsedByEvent == nil || *u.UsedByEvent != "wh:p1" {
		t.Errorf("used_by_event = %v, want wh:p1", u.UsedByEvent)
	}
	byEvent, err := rs.GetUnlockByEvent(ctx, "u1", "wh:p1")
	if err != nil {
		t.Fatalf("get by event: %v", err)
	}
	if byEvent == nil || byEvent.RewardConfigID != c.ID {
		t.Errorf("by event = %+v, want config %d", byEvent, c.ID)
	}
	if none, _ := rs.GetUnlockByEvent(ctx, "u1", "wh:p2"); none != nil {
		t.Errorf("rejected use recorded its event: %+v", none)
	}

	gone, _ := rs.FindUnusedDiscount(ctx, "u1", "TENOFF")
	if gone != nil {
		t.Error("used discount should not be found")
	}
}

func TestArchiveAndRestoreUnlocks(t *testing.T) {
	ctx := context.Background()
	rs, _ := setupRewardTestDB(t)
	c, _ := rs.CreateConfig(ctx, newConfig(tier.Bronze, model.RewardExclusiveContent, ""), t0)
	rs.Unlock(ctx, "u1", c.ID, tier.Bronze, true, t0)

	n, err := rs.SetUnlocksActive(ctx, "u1", false)
	if err != nil {
		t.Fatalf("archive: %v", err)
	}
	if n != 1 {
		t.Errorf("archived = %d, want 1", n)
	}
	if used, _ := rs.MarkUsed(ctx, "u1", c.ID, "", t0); used {
		t.Error("archived unlock should not be usable")
	}

	list, _ := rs.ListUnlocks(ctx, "u1")
	if len(list) != 1 || list[0].Active || list[0].Config.ID != c.ID {
		t.Errorf("list = %+v, want one archived unlock", list)
	}

	n, _ = rs.SetUnlocksActive(ctx, "u1", true)
	if n != 1 {
		t.Errorf("restored = %d, want 1", n)
	}
}
