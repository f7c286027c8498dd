package service

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/inksuite/signet/internal/clock"
	invitedomain "github.com/inksuite/signet/internal/invite/domain"
	"github.com/inksuite/signet/internal/observability/metrics"
	quotadomain "github.com/inksuite/signet/internal/quota/domain"
	sharddomain "github.com/inksuite/signet/internal/shard/domain"
	"github.com/inksuite/signet/internal/tenant"
	dbpkg "github.com/inksuite/signet/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	redeemResultOK          = "ok"
	redeemResultInvalid     = "invalid"
	redeemResultExpired     = "expired"
	redeemResultUsedUp      = "used_up"
	redeemResultAlreadyHeld = "already_held"
)

type ServiceParam struct {
	fx.In

	Master  *gorm.DB
	Log     *zap.Logger
	Shards  sharddomain.Manager
	Repo    invitedomain.Repository
	Quota   quotadomain.Repository
	Clock   clock.Clock
	Metrics *metrics.Metrics `optional:"true"`
}

type Service struct {
	master  *gorm.DB
	log     *zap.Logger
	shards  sharddomain.Manager
	repo    invitedomain.Repository
	quota   quotadomain.Repository
	clk     clock.Clock
	metrics *metrics.Metrics
}

func NewService(p ServiceParam) invitedomain.Service {
	return &Service{
		master:  p.Master,
		log:     p.Log.Named("invite.service"),
		shards:  p.Shards,
		repo:    p.Repo,
		quota:   p.Quota,
		clk:     p.Clock,
		metrics: p.Metrics,
	}
}

// Validate checks the code without taking a usage slot.
func (s *Service) Validate(ctx context.Context, code string) (*invitedomain.InviteCode, error) {
	record, err := s.repo.FindByCode(ctx, s.master, code)
	if err != nil {
		return nil, err
	}
	if record.Expired(s.clk.Now().UTC()) {
		return nil, invitedomain.ErrCodeExpired
	}
	if record.UsedCount >= record.MaxUsage {
		return nil, invitedomain.ErrCodeUsedUp
	}
	return record, nil
}

// Redeem grants the tenant a free-use window. The shard grant is written
// before the master counter moves; when the counter turns out to be
// exhausted the grant is rolled back. A crash in between leaves a granted
// window with an undercounted code, never a counted slot without a grant.
func (s *Service) Redeem(ctx context.Context, id tenant.Identity, code string) (*invitedomain.RedeemResult, error) {
	record, err := s.Validate(ctx, code)
	if err != nil {
		s.metrics.IncInviteRedeem(classifyRedeemErr(err))
		return nil, err
	}

	now := s.clk.Now().UTC()
	expireAt := now.Add(time.Duration(record.ValidDays) * 24 * time.Hour)

	err = s.shards.WithSession(ctx, id, func(tx *gorm.DB) error {
		profile, err := s.quota.GetOrCreate(ctx, tx, id.ExternalUserID, id.TenantID)
		if err != nil {
			return err
		}
		// The no-active-window condition is enforced inside the UPDATE;
		// a concurrent redemption that landed first leaves nothing to do.
		applied, err := s.quota.SetInvite(ctx, tx, profile.ID, record.Code, expireAt, now)
		if err != nil {
			return err
		}
		if !applied {
			return invitedomain.ErrAlreadyRedeemed
		}
		return nil
	})
	if err != nil {
		s.metrics.IncInviteRedeem(classifyRedeemErr(err))
		return nil, err
	}

	taken, err := s.repo.ConsumeUse(ctx, s.master, record.ID, now)
	if err != nil {
		s.clearGrant(ctx, id)
		return nil, err
	}
	if !taken {
		// Lost the race for the last slot; take the window back. The
		// counter never moved, so only the shard grant is undone.
		s.clearGrant(ctx, id)
		s.metrics.IncInviteRedeem(redeemResultUsedUp)
		return nil, invitedomain.ErrCodeUsedUp
	}

	s.log.Info("invite redeemed",
		zap.String("code", record.Code),
		zap.String("shard_id", id.ShardID()))
	s.metrics.IncInviteRedeem(redeemResultOK)
	return &invitedomain.RedeemResult{Code: record.Code, ExpireAt: expireAt}, nil
}

// Revoke reverses a redemption: the tenant's window is dropped and the slot
// goes back to the code. Shard first, counter second, same ordering as the
// grant.
func (s *Service) Revoke(ctx context.Context, id tenant.Identity) error {
	now := s.clk.Now().UTC()

	var code *string
	err := s.shards.WithSession(ctx, id, func(tx *gorm.DB) error {
		profile, err := s.quota.GetOrCreate(ctx, tx, id.ExternalUserID, id.TenantID)
		if err != nil {
			return err
		}
		code = profile.InviteCodeUsed
		return s.quota.ClearInvite(ctx, tx, profile.ID, now)
	})
	if err != nil {
		return err
	}
	if code == nil {
		return nil
	}

	record, err := s.repo.FindByCode(ctx, s.master, *code)
	if err != nil {
		// Code gone or deactivated; the window is cleared either way.
		s.log.Warn("revoked invite not refundable",
			zap.String("code", *code),
			zap.Error(err))
		return nil
	}
	return s.repo.ReleaseUse(ctx, s.master, record.ID, now)
}

// Mint creates a new code. maxUsage and validDays fall back to 1 and 3.
func (s *Service) Mint(ctx context.Context, maxUsage, validDays int, expiresAt *time.Time, note string) (*invitedomain.InviteCode, error) {
	if maxUsage <= 0 {
		maxUsage = 1
	}
	if validDays <= 0 {
		validDays = 3
	}
	record := &invitedomain.InviteCode{
		MaxUsage:  maxUsage,
		ValidDays: validDays,
		ExpiresAt: expiresAt,
		IsActive:  true,
	}
	if note != "" {
		record.Note = &note
	}

	// Retry on code collision; 8 hex chars leaves room for unlucky draws.
	var err error
	for attempt := 0; attempt < 3; attempt++ {
		record.Code = newCode()
		err = s.repo.Insert(ctx, s.master, record)
		if err == nil {
			return record, nil
		}
		if !dbpkg.IsDuplicateKeyErr(err) {
			return nil, err
		}
	}
	return nil, err
}

// clearGrant removes only the shard-side window, for redeem paths where the
// master counter was never consumed.
func (s *Service) clearGrant(ctx context.Context, id tenant.Identity) {
	err := s.shards.WithSession(ctx, id, func(tx *gorm.DB) error {
		profile, err := s.quota.GetOrCreate(ctx, tx, id.ExternalUserID, id.TenantID)
		if err != nil {
			return err
		}
		return s.quota.ClearInvite(ctx, tx, profile.ID, s.clk.Now().UTC())
	})
	if err != nil {
		s.log.Warn("invite grant rollback failed",
			zap.String("shard_id", id.ShardID()),
			zap.Error(err))
	}
}

func newCode() string {
	raw := strings.ReplaceAll(uuid.NewString(), "-", "")
	return "INV-" + strings.ToUpper(raw[:8])
}

func classifyRedeemErr(err error) string {
	switch err {
	case invitedomain.ErrInvalidCode:
		return redeemResultInvalid
	case invitedomain.ErrCodeExpired:
		return redeemResultExpired
	case invitedomain.ErrCodeUsedUp:
		return redeemResultUsedUp
	case invitedomain.ErrAlreadyRedeemed:
		return redeemResultAlreadyHeld
	default:
		return redeemResultInvalid
	}
}
