package service

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/inksuite/signet/internal/clock"
	orderdomain "github.com/inksuite/signet/internal/order/domain"
	plandomain "github.com/inksuite/signet/internal/plan/domain"
	quotadomain "github.com/inksuite/signet/internal/quota/domain"
	"github.com/inksuite/signet/internal/tenant"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type ServiceParam struct {
	fx.In

	Master *gorm.DB
	Log    *zap.Logger
	Repo   orderdomain.Repository
	Plans  plandomain.Repository
	Quota  quotadomain.Service
	GenID  *snowflake.Node
	Clock  clock.Clock
}

type Service struct {
	master *gorm.DB
	log    *zap.Logger
	repo   orderdomain.Repository
	plans  plandomain.Repository
	quota  quotadomain.Service
	genID  *snowflake.Node
	clk    clock.Clock
}

func NewService(p ServiceParam) orderdomain.Service {
	return &Service{
		master: p.Master,
		log:    p.Log.Named("order.service"),
		repo:   p.Repo,
		plans:  p.Plans,
		quota:  p.Quota,
		genID:  p.GenID,
		clk:    p.Clock,
	}
}

func (s *Service) Create(ctx context.Context, id tenant.Identity, planID string) (*orderdomain.Order, error) {
	plan, err := s.plans.FindByID(ctx, s.master, planID)
	if err != nil {
		return nil, err
	}
	if !plan.IsActive {
		return nil, orderdomain.ErrPlanInactive
	}

	now := s.clk.Now().UTC()
	sfID := s.genID.Generate()
	order := &orderdomain.Order{
		ID:             sfID.Int64(),
		OrderNo:        "ORD-" + sfID.String(),
		TenantKey:      id.Key(),
		ExternalUserID: id.ExternalUserID,
		TenantID:       id.TenantID,
		PlanID:         plan.PlanID,
		Amount:         plan.Price,
		Status:         orderdomain.StatusPending,
		ExpiresAt:      now.Add(orderdomain.PendingTTL),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.repo.Insert(ctx, s.master, order); err != nil {
		return nil, err
	}
	return order, nil
}

// MarkPaid settles a pending order: claim the row first, credit the shard
// second. The claim is the idempotency gate, so a duplicate payment callback
// can never credit twice.
func (s *Service) MarkPaid(ctx context.Context, orderNo string) (*orderdomain.Order, error) {
	order, err := s.repo.FindByOrderNo(ctx, s.master, orderNo)
	if err != nil {
		return nil, err
	}
	plan, err := s.plans.FindByID(ctx, s.master, order.PlanID)
	if err != nil {
		return nil, err
	}

	now := s.clk.Now().UTC()
	claimed, err := s.repo.ClaimPaid(ctx, s.master, orderNo, now)
	if err != nil {
		return nil, err
	}
	if !claimed {
		return nil, orderdomain.ErrNotClaimable
	}

	if err := s.quota.Credit(ctx, order.Identity(), creditFor(plan, now)); err != nil {
		// The order stays paid; losing money beats double-crediting. Flag
		// it loudly for reconciliation.
		s.log.Error("paid order credit failed",
			zap.String("order_no", orderNo),
			zap.String("plan_id", plan.PlanID),
			zap.Error(err))
		return nil, err
	}

	s.log.Info("order settled",
		zap.String("order_no", orderNo),
		zap.String("plan_id", plan.PlanID),
		zap.Int64("amount", order.Amount))
	return s.repo.FindByOrderNo(ctx, s.master, orderNo)
}

func (s *Service) Cancel(ctx context.Context, orderNo string) error {
	cancelled, err := s.repo.Cancel(ctx, s.master, orderNo, s.clk.Now().UTC())
	if err != nil {
		return err
	}
	if !cancelled {
		return orderdomain.ErrNotClaimable
	}
	return nil
}

// GetStatus lazily expires a pending order past its payment window before
// answering.
func (s *Service) GetStatus(ctx context.Context, orderNo string) (*orderdomain.Order, error) {
	order, err := s.repo.FindByOrderNo(ctx, s.master, orderNo)
	if err != nil {
		return nil, err
	}
	now := s.clk.Now().UTC()
	if order.Status == orderdomain.StatusPending && !order.ExpiresAt.After(now) {
		if _, err := s.repo.ExpireStale(ctx, s.master, now); err != nil {
			return nil, err
		}
		return s.repo.FindByOrderNo(ctx, s.master, orderNo)
	}
	return order, nil
}

// creditFor maps a purchased plan onto the shard ledger. Expiry and the
// first quota reset both sit one billing period after payment time.
func creditFor(plan *plandomain.PlanDefinition, now time.Time) quotadomain.CreditRequest {
	expires := plandomain.NextReset(plan.BillingType, now)
	reset := plandomain.NextReset(plan.BillingType, now)
	planID := plan.PlanID
	req := quotadomain.CreditRequest{
		PlanID:           &planID,
		PlanExpiresAt:    &expires,
		PlanQuotaResetAt: &reset,
		AmountPaid:       plan.Price,
	}
	if plan.Unlimited {
		unlimited := true
		req.Unlimited = &unlimited
	} else if plan.QuotaCount != nil {
		req.QuotaAdd = plan.QuotaCount
	}
	return req
}
