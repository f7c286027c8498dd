package service

import (
	"context"
	"errors"
	"time"

	"github.com/inksuite/signet/internal/clock"
	"github.com/inksuite/signet/internal/observability/metrics"
	plandomain "github.com/inksuite/signet/internal/plan/domain"
	quotadomain "github.com/inksuite/signet/internal/quota/domain"
	sharddomain "github.com/inksuite/signet/internal/shard/domain"
	"github.com/inksuite/signet/internal/tenant"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type ServiceParam struct {
	fx.In

	Master  *gorm.DB
	Log     *zap.Logger
	Shards  sharddomain.Manager
	Repo    quotadomain.Repository
	Plans   plandomain.Repository
	Clock   clock.Clock
	Metrics *metrics.Metrics `optional:"true"`
}

type Service struct {
	master  *gorm.DB
	log     *zap.Logger
	shards  sharddomain.Manager
	repo    quotadomain.Repository
	plans   plandomain.Repository
	clk     clock.Clock
	metrics *metrics.Metrics
}

func NewService(p ServiceParam) quotadomain.Service {
	return &Service{
		master:  p.Master,
		log:     p.Log.Named("quota.service"),
		shards:  p.Shards,
		repo:    p.Repo,
		plans:   p.Plans,
		clk:     p.Clock,
		metrics: p.Metrics,
	}
}

func (s *Service) GetStatus(ctx context.Context, id tenant.Identity) (*quotadomain.Status, error) {
	var status quotadomain.Status
	err := s.shards.WithSession(ctx, id, func(tx *gorm.DB) error {
		profile, err := s.loadReconciled(ctx, tx, id)
		if err != nil {
			return err
		}

		now := s.clk.Now().UTC()
		status = quotadomain.Status{
			IsUnlimited:   profile.IsUnlimited,
			TotalUsed:     profile.TotalUsed,
			CurrentPlanID: profile.CurrentPlanID,
			PlanExpiresAt: profile.PlanExpiresAt,
			TotalPaid:     profile.TotalPaid,
		}
		if !profile.IsUnlimited {
			remaining := profile.RemainingQuota
			status.Remaining = &remaining
		}
		if profile.InviteActive(now) {
			status.InviteActive = true
			status.InviteExpireAt = profile.InviteExpireAt
		}
		if profile.CurrentPlanID != nil && !profile.IsUnlimited {
			plan, err := s.plans.FindByID(ctx, s.master, *profile.CurrentPlanID)
			if err == nil && !plan.Unlimited {
				status.PlanQuota = plan.QuotaCount
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &status, nil
}

func (s *Service) CheckCanConsume(ctx context.Context, id tenant.Identity) (quotadomain.Decision, error) {
	var decision quotadomain.Decision
	err := s.shards.WithSession(ctx, id, func(tx *gorm.DB) error {
		profile, err := s.loadReconciled(ctx, tx, id)
		if err != nil {
			return err
		}
		decision = decide(profile, s.clk.Now().UTC())
		return nil
	})
	return decision, err
}

// Consume records one billable operation. Returns false, not an error, when
// the balance is insufficient; nothing is partially consumed.
func (s *Service) Consume(ctx context.Context, id tenant.Identity, req quotadomain.ConsumeRequest) (bool, error) {
	count := req.Count
	if count <= 0 {
		count = 1
	}

	consumed := false
	outcome := metrics.ConsumeOutcomeDenied

	err := s.shards.WithSession(ctx, id, func(tx *gorm.DB) error {
		profile, err := s.loadReconciled(ctx, tx, id)
		if err != nil {
			return err
		}

		now := s.clk.Now().UTC()
		if profile.InviteActive(now) || profile.IsUnlimited {
			if err := s.repo.RecordFreeUse(ctx, tx, profile.ID, count, now); err != nil {
				return err
			}
			consumed = true
			outcome = metrics.ConsumeOutcomeFree
			return s.appendLog(ctx, tx, req, false, now)
		}

		applied, err := s.repo.ConsumeMetered(ctx, tx, profile.ID, count, now)
		if err != nil {
			return err
		}
		if !applied {
			return nil
		}
		consumed = true
		outcome = metrics.ConsumeOutcomeMetered
		return s.appendLog(ctx, tx, req, true, now)
	})
	if err != nil {
		return false, err
	}

	s.metrics.IncConsume(outcome)
	return consumed, nil
}

func (s *Service) Credit(ctx context.Context, id tenant.Identity, req quotadomain.CreditRequest) error {
	return s.shards.WithSession(ctx, id, func(tx *gorm.DB) error {
		profile, err := s.repo.GetOrCreate(ctx, tx, id.ExternalUserID, id.TenantID)
		if err != nil {
			return err
		}
		return s.repo.Credit(ctx, tx, profile.ID, req, s.clk.Now().UTC())
	})
}

func (s *Service) ResetProfile(ctx context.Context, id tenant.Identity) error {
	return s.shards.WithSession(ctx, id, func(tx *gorm.DB) error {
		profile, err := s.repo.GetOrCreate(ctx, tx, id.ExternalUserID, id.TenantID)
		if err != nil {
			return err
		}
		return s.repo.ResetTrial(ctx, tx, profile.ID, s.clk.Now().UTC())
	})
}

// loadReconciled re-reads the profile and settles plan lifecycle before any
// decision. No quota state is ever cached across requests.
func (s *Service) loadReconciled(ctx context.Context, tx *gorm.DB, id tenant.Identity) (*quotadomain.QuotaProfile, error) {
	profile, err := s.repo.GetOrCreate(ctx, tx, id.ExternalUserID, id.TenantID)
	if err != nil {
		return nil, err
	}
	return s.reconcilePlan(ctx, tx, profile)
}

// reconcilePlan lazily expires a finished subscription or replenishes a
// periodic one. Idempotent: a second call with no elapsed time changes
// nothing.
func (s *Service) reconcilePlan(ctx context.Context, tx *gorm.DB, profile *quotadomain.QuotaProfile) (*quotadomain.QuotaProfile, error) {
	if profile.CurrentPlanID == nil {
		return profile, nil
	}
	now := s.clk.Now().UTC()

	if profile.PlanExpiresAt != nil && profile.PlanExpiresAt.Before(now) {
		// Plan over: clear linkage, leave remaining_quota untouched.
		if err := s.repo.ClearExpiredPlan(ctx, tx, profile.ID, now); err != nil {
			return nil, err
		}
		return s.repo.Reload(ctx, tx, profile.ID)
	}

	if profile.PlanQuotaResetAt != nil && profile.PlanQuotaResetAt.Before(now) {
		plan, err := s.plans.FindByID(ctx, s.master, *profile.CurrentPlanID)
		if err != nil {
			if errors.Is(err, plandomain.ErrPlanNotFound) {
				s.log.Warn("profile references unknown plan",
					zap.String("plan_id", *profile.CurrentPlanID))
				return profile, nil
			}
			return nil, err
		}

		quota := 0
		if plan.QuotaCount != nil {
			quota = *plan.QuotaCount
		}
		// Anchor the next reset on the previous one, not on now.
		next := plandomain.NextReset(plan.BillingType, *profile.PlanQuotaResetAt)
		if err := s.repo.ApplyPlanReset(ctx, tx, profile.ID, plan.Unlimited, quota, next, now); err != nil {
			return nil, err
		}
		return s.repo.Reload(ctx, tx, profile.ID)
	}

	return profile, nil
}

func (s *Service) appendLog(ctx context.Context, tx *gorm.DB, req quotadomain.ConsumeRequest, metered bool, now time.Time) error {
	entry := &quotadomain.SignatureLog{
		QuotaConsumed: metered,
		CreatedAt:     now,
	}
	if req.FileToken != "" {
		token := req.FileToken
		entry.FileToken = &token
	}
	if req.FileName != "" {
		name := req.FileName
		entry.FileName = &name
	}
	return s.repo.InsertLog(ctx, tx, entry)
}

func decide(profile *quotadomain.QuotaProfile, now time.Time) quotadomain.Decision {
	if profile.InviteActive(now) || profile.IsUnlimited {
		return quotadomain.Decision{Allowed: true, WillConsumeQuota: false}
	}
	if profile.RemainingQuota > 0 {
		return quotadomain.Decision{Allowed: true, WillConsumeQuota: true}
	}
	return quotadomain.Decision{Allowed: false, Reason: quotadomain.ReasonNoQuota}
}
