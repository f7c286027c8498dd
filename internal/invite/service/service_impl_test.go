package service_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/inksuite/signet/internal/clock"
	"github.com/inksuite/signet/internal/config"
	invitedomain "github.com/inksuite/signet/internal/invite/domain"
	inviterepo "github.com/inksuite/signet/internal/invite/repository"
	"github.com/inksuite/signet/internal/invite/service"
	quotadomain "github.com/inksuite/signet/internal/quota/domain"
	quotarepo "github.com/inksuite/signet/internal/quota/repository"
	sharddomain "github.com/inksuite/signet/internal/shard/domain"
	shardrepo "github.com/inksuite/signet/internal/shard/repository"
	shardsvc "github.com/inksuite/signet/internal/shard/service"
	"github.com/inksuite/signet/internal/tenant"
	dbpkg "github.com/inksuite/signet/pkg/db"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var baseTime = time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)

type testEnv struct {
	svc    invitedomain.Service
	repo   invitedomain.Repository
	quota  quotadomain.Repository
	shards sharddomain.Manager
	master *gorm.DB
	clk    *clock.FakeClock
}

func newTestEnv(t *testing.T, name string) *testEnv {
	t.Helper()

	master, err := dbpkg.NewTest(name + "_master")
	if err != nil {
		t.Fatalf("open master: %v", err)
	}
	if err := master.AutoMigrate(&sharddomain.ShardRecord{}, &invitedomain.InviteCode{}); err != nil {
		t.Fatalf("migrate master: %v", err)
	}

	cfg := config.Config{
		DBType:                "sqlite",
		ShardDBPrefix:         name + "_shard_",
		ShardAcquireTimeoutMS: 5000,
	}
	clk := clock.NewFakeClock(baseTime)
	log := zap.NewNop()

	manager := shardsvc.NewManager(shardsvc.ManagerParam{
		Cfg:      cfg,
		Master:   master,
		Log:      log,
		Registry: shardrepo.Provide(),
		Clock:    clk,
	})
	quota := quotarepo.Provide(log)

	svc := service.NewService(service.ServiceParam{
		Master: master,
		Log:    log,
		Shards: manager,
		Repo:   inviterepo.Provide(),
		Quota:  quota,
		Clock:  clk,
	})

	return &testEnv{svc: svc, repo: inviterepo.Provide(), quota: quota, shards: manager, master: master, clk: clk}
}

func (e *testEnv) profile(t *testing.T, id tenant.Identity) *quotadomain.QuotaProfile {
	t.Helper()
	var profile *quotadomain.QuotaProfile
	err := e.shards.WithSession(context.Background(), id, func(tx *gorm.DB) error {
		var err error
		profile, err = e.quota.GetOrCreate(context.Background(), tx, id.ExternalUserID, id.TenantID)
		return err
	})
	if err != nil {
		t.Fatalf("load profile: %v", err)
	}
	return profile
}

func (e *testEnv) code(t *testing.T, code string) *invitedomain.InviteCode {
	t.Helper()
	record, err := e.repo.FindByCode(context.Background(), e.master, code)
	if err != nil {
		t.Fatalf("load code: %v", err)
	}
	return record
}

func TestMintAndRedeem(t *testing.T) {
	env := newTestEnv(t, "invite_redeem")
	ctx := context.Background()
	id := tenant.Identity{ExternalUserID: "ou_a", TenantID: "ten_1"}

	minted, err := env.svc.Mint(ctx, 2, 3, nil, "launch batch")
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	if len(minted.Code) != len("INV-XXXXXXXX") {
		t.Fatalf("code format: %q", minted.Code)
	}

	result, err := env.svc.Redeem(ctx, id, minted.Code)
	if err != nil {
		t.Fatalf("redeem: %v", err)
	}
	want := baseTime.Add(3 * 24 * time.Hour)
	if !result.ExpireAt.Equal(want) {
		t.Fatalf("expire at = %v, want %v", result.ExpireAt, want)
	}

	profile := env.profile(t, id)
	if profile.InviteCodeUsed == nil || *profile.InviteCodeUsed != minted.Code {
		t.Fatalf("profile invite code = %v, want %s", profile.InviteCodeUsed, minted.Code)
	}
	if !profile.InviteActive(baseTime) {
		t.Fatal("window not active after redeem")
	}
	if got := env.code(t, minted.Code); got.UsedCount != 1 {
		t.Fatalf("used count = %d, want 1", got.UsedCount)
	}
}

func TestRedeemRejections(t *testing.T) {
	env := newTestEnv(t, "invite_reject")
	ctx := context.Background()
	id := tenant.Identity{ExternalUserID: "ou_b", TenantID: "ten_1"}

	if _, err := env.svc.Redeem(ctx, id, "INV-NOSUCH00"); !errors.Is(err, invitedomain.ErrInvalidCode) {
		t.Fatalf("unknown code err = %v, want ErrInvalidCode", err)
	}

	past := baseTime.Add(-time.Hour)
	expired, err := env.svc.Mint(ctx, 5, 3, &past, "")
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	if _, err := env.svc.Redeem(ctx, id, expired.Code); !errors.Is(err, invitedomain.ErrCodeExpired) {
		t.Fatalf("expired code err = %v, want ErrCodeExpired", err)
	}

	single, err := env.svc.Mint(ctx, 1, 3, nil, "")
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	first := tenant.Identity{ExternalUserID: "ou_first", TenantID: "ten_1"}
	if _, err := env.svc.Redeem(ctx, first, single.Code); err != nil {
		t.Fatalf("redeem: %v", err)
	}
	if _, err := env.svc.Redeem(ctx, id, single.Code); !errors.Is(err, invitedomain.ErrCodeUsedUp) {
		t.Fatalf("exhausted code err = %v, want ErrCodeUsedUp", err)
	}
}

func TestRedeemWhileWindowActive(t *testing.T) {
	env := newTestEnv(t, "invite_active")
	ctx := context.Background()
	id := tenant.Identity{ExternalUserID: "ou_c", TenantID: "ten_1"}

	codeA, err := env.svc.Mint(ctx, 5, 3, nil, "")
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	codeB, err := env.svc.Mint(ctx, 5, 3, nil, "")
	if err != nil {
		t.Fatalf("mint: %v", err)
	}

	if _, err := env.svc.Redeem(ctx, id, codeA.Code); err != nil {
		t.Fatalf("redeem: %v", err)
	}
	if _, err := env.svc.Redeem(ctx, id, codeB.Code); !errors.Is(err, invitedomain.ErrAlreadyRedeemed) {
		t.Fatalf("second redeem err = %v, want ErrAlreadyRedeemed", err)
	}
	// The rejected attempt must not burn a slot.
	if got := env.code(t, codeB.Code); got.UsedCount != 0 {
		t.Fatalf("codeB used count = %d, want 0", got.UsedCount)
	}

	// Once the window lapses a fresh code overwrites the stale grant.
	env.clk.Advance(4 * 24 * time.Hour)
	if _, err := env.svc.Redeem(ctx, id, codeB.Code); err != nil {
		t.Fatalf("redeem after lapse: %v", err)
	}
	profile := env.profile(t, id)
	if profile.InviteCodeUsed == nil || *profile.InviteCodeUsed != codeB.Code {
		t.Fatalf("profile invite code = %v, want %s", profile.InviteCodeUsed, codeB.Code)
	}
}

func TestInviteWindowGuardIsAtomic(t *testing.T) {
	env := newTestEnv(t, "invite_guard")
	ctx := context.Background()
	id := tenant.Identity{ExternalUserID: "ou_g", TenantID: "ten_1"}

	profile := env.profile(t, id)
	expire := baseTime.Add(72 * time.Hour)

	// Two grants racing past any application-level check: the statement's
	// own condition must reject the second.
	err := env.shards.WithSession(ctx, id, func(tx *gorm.DB) error {
		applied, err := env.quota.SetInvite(ctx, tx, profile.ID, "INV-FIRST01", expire, baseTime)
		if err != nil {
			return err
		}
		if !applied {
			t.Error("first grant rejected")
		}
		applied, err = env.quota.SetInvite(ctx, tx, profile.ID, "INV-SECOND1", expire, baseTime)
		if err != nil {
			return err
		}
		if applied {
			t.Error("second grant landed over an active window")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("set invite: %v", err)
	}

	got := env.profile(t, id)
	if got.InviteCodeUsed == nil || *got.InviteCodeUsed != "INV-FIRST01" {
		t.Fatalf("invite code = %v, want the first grant", got.InviteCodeUsed)
	}

	// An expired window is free to overwrite.
	env.clk.Advance(73 * time.Hour)
	now := env.clk.Now().UTC()
	err = env.shards.WithSession(ctx, id, func(tx *gorm.DB) error {
		applied, err := env.quota.SetInvite(ctx, tx, profile.ID, "INV-THIRD01", now.Add(72*time.Hour), now)
		if err != nil {
			return err
		}
		if !applied {
			t.Error("grant over an expired window rejected")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("set invite: %v", err)
	}
}

func TestConcurrentRedeemRespectsBudget(t *testing.T) {
	env := newTestEnv(t, "invite_race")
	ctx := context.Background()

	const budget = 5
	const contenders = 10
	code, err := env.svc.Mint(ctx, budget, 3, nil, "")
	if err != nil {
		t.Fatalf("mint: %v", err)
	}

	ids := make([]tenant.Identity, contenders)
	for i := range ids {
		ids[i] = tenant.Identity{ExternalUserID: fmt.Sprintf("ou_r%d", i), TenantID: "ten_1"}
		// Provision shards up front so the race is over the counter alone.
		if _, err := env.shards.Ensure(ctx, ids[i]); err != nil {
			t.Fatalf("ensure: %v", err)
		}
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	granted := 0
	for i := 0; i < contenders; i++ {
		wg.Add(1)
		go func(id tenant.Identity) {
			defer wg.Done()
			_, err := env.svc.Redeem(ctx, id, code.Code)
			if err == nil {
				mu.Lock()
				granted++
				mu.Unlock()
				return
			}
			if !errors.Is(err, invitedomain.ErrCodeUsedUp) {
				t.Errorf("redeem: %v", err)
			}
		}(ids[i])
	}
	wg.Wait()

	if granted != budget {
		t.Fatalf("granted = %d, want %d", granted, budget)
	}
	if got := env.code(t, code.Code); got.UsedCount != budget {
		t.Fatalf("used count = %d, want %d", got.UsedCount, budget)
	}

	active := 0
	for _, id := range ids {
		if env.profile(t, id).InviteActive(baseTime) {
			active++
		}
	}
	if active != budget {
		t.Fatalf("active windows = %d, want %d", active, budget)
	}
}

func TestRevoke(t *testing.T) {
	env := newTestEnv(t, "invite_revoke")
	ctx := context.Background()
	id := tenant.Identity{ExternalUserID: "ou_d", TenantID: "ten_1"}

	code, err := env.svc.Mint(ctx, 1, 3, nil, "")
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	if _, err := env.svc.Redeem(ctx, id, code.Code); err != nil {
		t.Fatalf("redeem: %v", err)
	}
	if err := env.svc.Revoke(ctx, id); err != nil {
		t.Fatalf("revoke: %v", err)
	}

	profile := env.profile(t, id)
	if profile.InviteCodeUsed != nil || profile.InviteExpireAt != nil {
		t.Fatalf("revoke left invite state: %+v", profile)
	}
	// The slot goes back to the code, so someone else can redeem it.
	if got := env.code(t, code.Code); got.UsedCount != 0 {
		t.Fatalf("used count = %d, want 0", got.UsedCount)
	}
	other := tenant.Identity{ExternalUserID: "ou_e", TenantID: "ten_1"}
	if _, err := env.svc.Redeem(ctx, other, code.Code); err != nil {
		t.Fatalf("redeem released slot: %v", err)
	}

	// Revoking a tenant with no invite is a no-op.
	if err := env.svc.Revoke(ctx, tenant.Identity{ExternalUserID: "ou_f", TenantID: "ten_1"}); err != nil {
		t.Fatalf("revoke without invite: %v", err)
	}
}
