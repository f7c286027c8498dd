package service_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/inksuite/signet/internal/clock"
	"github.com/inksuite/signet/internal/config"
	orderdomain "github.com/inksuite/signet/internal/order/domain"
	orderrepo "github.com/inksuite/signet/internal/order/repository"
	"github.com/inksuite/signet/internal/order/service"
	plandomain "github.com/inksuite/signet/internal/plan/domain"
	planrepo "github.com/inksuite/signet/internal/plan/repository"
	quotadomain "github.com/inksuite/signet/internal/quota/domain"
	quotarepo "github.com/inksuite/signet/internal/quota/repository"
	quotasvc "github.com/inksuite/signet/internal/quota/service"
	sharddomain "github.com/inksuite/signet/internal/shard/domain"
	shardrepo "github.com/inksuite/signet/internal/shard/repository"
	shardsvc "github.com/inksuite/signet/internal/shard/service"
	"github.com/inksuite/signet/internal/tenant"
	dbpkg "github.com/inksuite/signet/pkg/db"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var baseTime = time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)

type testEnv struct {
	svc    orderdomain.Service
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
	err = master.AutoMigrate(&sharddomain.ShardRecord{}, &plandomain.PlanDefinition{}, &orderdomain.Order{})
	if err != nil {
		t.Fatalf("migrate master: %v", err)
	}

	plans := planrepo.Provide()
	if err := plans.Seed(context.Background(), master); err != nil {
		t.Fatalf("seed plans: %v", err)
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
	quotaRepo := quotarepo.Provide(log)
	quota := quotasvc.NewService(quotasvc.ServiceParam{
		Master: master,
		Log:    log,
		Shards: manager,
		Repo:   quotaRepo,
		Plans:  plans,
		Clock:  clk,
	})

	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake node: %v", err)
	}

	svc := service.NewService(service.ServiceParam{
		Master: master,
		Log:    log,
		Repo:   orderrepo.Provide(),
		Plans:  plans,
		Quota:  quota,
		GenID:  node,
		Clock:  clk,
	})

	return &testEnv{svc: svc, quota: quotaRepo, shards: manager, master: master, clk: clk}
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

func TestCreateOrder(t *testing.T) {
	env := newTestEnv(t, "order_create")
	ctx := context.Background()
	id := tenant.Identity{ExternalUserID: "ou_buy", TenantID: "ten_1"}

	order, err := env.svc.Create(ctx, id, "pro_monthly")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if !strings.HasPrefix(order.OrderNo, "ORD-") {
		t.Fatalf("order no = %q", order.OrderNo)
	}
	if order.Amount != 9900 {
		t.Fatalf("amount = %d, want 9900", order.Amount)
	}
	if order.Status != orderdomain.StatusPending {
		t.Fatalf("status = %s, want pending", order.Status)
	}
	if !order.ExpiresAt.Equal(baseTime.Add(orderdomain.PendingTTL)) {
		t.Fatalf("expires at = %v", order.ExpiresAt)
	}

	if _, err := env.svc.Create(ctx, id, "no_such_plan"); !errors.Is(err, plandomain.ErrPlanNotFound) {
		t.Fatalf("unknown plan err = %v, want ErrPlanNotFound", err)
	}
}

func TestMarkPaidCreditsExactlyOnce(t *testing.T) {
	env := newTestEnv(t, "order_paid")
	ctx := context.Background()
	id := tenant.Identity{ExternalUserID: "ou_pay", TenantID: "ten_1"}

	order, err := env.svc.Create(ctx, id, "pro_monthly")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	settled, err := env.svc.MarkPaid(ctx, order.OrderNo)
	if err != nil {
		t.Fatalf("mark paid: %v", err)
	}
	if settled.Status != orderdomain.StatusPaid || settled.PaidAt == nil {
		t.Fatalf("settled order = %+v", settled)
	}

	profile := env.profile(t, id)
	if profile.RemainingQuota != quotadomain.DefaultTrialQuota+6000 {
		t.Fatalf("remaining = %d, want %d", profile.RemainingQuota, quotadomain.DefaultTrialQuota+6000)
	}
	if profile.CurrentPlanID == nil || *profile.CurrentPlanID != "pro_monthly" {
		t.Fatalf("plan id = %v", profile.CurrentPlanID)
	}
	wantExpiry := baseTime.AddDate(0, 1, 0)
	if profile.PlanExpiresAt == nil || !profile.PlanExpiresAt.Equal(wantExpiry) {
		t.Fatalf("plan expires = %v, want %v", profile.PlanExpiresAt, wantExpiry)
	}
	if profile.TotalPaid != 9900 {
		t.Fatalf("total paid = %d, want 9900", profile.TotalPaid)
	}

	// Duplicate payment callback: claim already taken, nothing credited.
	if _, err := env.svc.MarkPaid(ctx, order.OrderNo); !errors.Is(err, orderdomain.ErrNotClaimable) {
		t.Fatalf("second mark paid err = %v, want ErrNotClaimable", err)
	}
	profile = env.profile(t, id)
	if profile.RemainingQuota != quotadomain.DefaultTrialQuota+6000 {
		t.Fatalf("remaining changed on duplicate callback: %d", profile.RemainingQuota)
	}
	if profile.TotalPaid != 9900 {
		t.Fatalf("total paid changed on duplicate callback: %d", profile.TotalPaid)
	}
}

func TestMarkPaidYearlyBillingPeriod(t *testing.T) {
	env := newTestEnv(t, "order_yearly")
	ctx := context.Background()
	id := tenant.Identity{ExternalUserID: "ou_year", TenantID: "ten_1"}

	order, err := env.svc.Create(ctx, id, "pro_yearly")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := env.svc.MarkPaid(ctx, order.OrderNo); err != nil {
		t.Fatalf("mark paid: %v", err)
	}

	profile := env.profile(t, id)
	wantExpiry := baseTime.AddDate(1, 0, 0)
	if profile.PlanExpiresAt == nil || !profile.PlanExpiresAt.Equal(wantExpiry) {
		t.Fatalf("plan expires = %v, want %v", profile.PlanExpiresAt, wantExpiry)
	}
	// The first reset sits a full billing period out, same as expiry; a
	// yearly buyer must not see a balance-replacing reset after a month.
	wantReset := baseTime.AddDate(1, 0, 0)
	if profile.PlanQuotaResetAt == nil || !profile.PlanQuotaResetAt.Equal(wantReset) {
		t.Fatalf("reset at = %v, want %v", profile.PlanQuotaResetAt, wantReset)
	}
}

func TestMarkPaidUnlimitedPlan(t *testing.T) {
	env := newTestEnv(t, "order_unlimited")
	ctx := context.Background()
	id := tenant.Identity{ExternalUserID: "ou_ent", TenantID: "ten_1"}

	order, err := env.svc.Create(ctx, id, "enterprise_monthly")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := env.svc.MarkPaid(ctx, order.OrderNo); err != nil {
		t.Fatalf("mark paid: %v", err)
	}

	profile := env.profile(t, id)
	if !profile.IsUnlimited {
		t.Fatal("profile not unlimited after enterprise purchase")
	}
	if profile.RemainingQuota != quotadomain.DefaultTrialQuota {
		t.Fatalf("remaining = %d, unlimited purchase must not add quota", profile.RemainingQuota)
	}
}

func TestExpiredOrderNotClaimable(t *testing.T) {
	env := newTestEnv(t, "order_expired")
	ctx := context.Background()
	id := tenant.Identity{ExternalUserID: "ou_late", TenantID: "ten_1"}

	order, err := env.svc.Create(ctx, id, "basic_monthly")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	env.clk.Advance(orderdomain.PendingTTL + time.Minute)

	if _, err := env.svc.MarkPaid(ctx, order.OrderNo); !errors.Is(err, orderdomain.ErrNotClaimable) {
		t.Fatalf("late payment err = %v, want ErrNotClaimable", err)
	}

	got, err := env.svc.GetStatus(ctx, order.OrderNo)
	if err != nil {
		t.Fatalf("get status: %v", err)
	}
	if got.Status != orderdomain.StatusExpired {
		t.Fatalf("status = %s, want expired", got.Status)
	}

	profile := env.profile(t, id)
	if profile.CurrentPlanID != nil || profile.RemainingQuota != quotadomain.DefaultTrialQuota {
		t.Fatalf("expired order touched the ledger: %+v", profile)
	}
}

func TestCancel(t *testing.T) {
	env := newTestEnv(t, "order_cancel")
	ctx := context.Background()
	id := tenant.Identity{ExternalUserID: "ou_cxl", TenantID: "ten_1"}

	order, err := env.svc.Create(ctx, id, "basic_monthly")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := env.svc.Cancel(ctx, order.OrderNo); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if err := env.svc.Cancel(ctx, order.OrderNo); !errors.Is(err, orderdomain.ErrNotClaimable) {
		t.Fatalf("second cancel err = %v, want ErrNotClaimable", err)
	}
	if _, err := env.svc.MarkPaid(ctx, order.OrderNo); !errors.Is(err, orderdomain.ErrNotClaimable) {
		t.Fatalf("pay after cancel err = %v, want ErrNotClaimable", err)
	}
}
