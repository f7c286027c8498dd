package repository

import (
	"context"
	"errors"
	"time"

	quotadomain "github.com/inksuite/signet/internal/quota/domain"
	dbpkg "github.com/inksuite/signet/pkg/db"
	"github.com/inksuite/signet/pkg/tenantctx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type repo struct {
	log *zap.Logger
}

func Provide(log *zap.Logger) quotadomain.Repository {
	return &repo{log: log.Named("quota.repository")}
}

// GetOrCreate returns the shard's single profile, creating it with the
// trial grant on first access. A pre-existing row with different identity
// fields is corrected in place: the shard is the tenant's namespace, so a
// second row must never appear.
func (r *repo) GetOrCreate(ctx context.Context, tx *gorm.DB, externalUserID, tenantID string) (*quotadomain.QuotaProfile, error) {
	var profile quotadomain.QuotaProfile
	err := tx.WithContext(ctx).
		Where("external_user_id = ? AND tenant_id = ?", externalUserID, tenantID).
		First(&profile).Error
	if err == nil {
		return &profile, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	var existing quotadomain.QuotaProfile
	err = tx.WithContext(ctx).First(&existing).Error
	if err == nil {
		fields := []zap.Field{
			zap.String("expected_external_user_id", externalUserID),
			zap.String("found_external_user_id", existing.ExternalUserID),
		}
		if id, ok := tenantctx.IdentityFromContext(ctx); ok {
			fields = append(fields, zap.String("shard_id", id.ShardID()))
		}
		r.log.Warn("mismatched profile in shard, correcting identity", fields...)
		if err := tx.WithContext(ctx).Model(&existing).Updates(map[string]interface{}{
			"external_user_id": externalUserID,
			"tenant_id":        tenantID,
		}).Error; err != nil {
			return nil, err
		}
		return r.Reload(ctx, tx, existing.ID)
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	profile = quotadomain.QuotaProfile{
		ExternalUserID: externalUserID,
		TenantID:       tenantID,
		RemainingQuota: quotadomain.DefaultTrialQuota,
	}
	if err := tx.WithContext(ctx).Create(&profile).Error; err != nil {
		// Lost a concurrent first-access race; the unique index on the
		// identity pair guarantees the winner's row is the only one.
		if dbpkg.IsDuplicateKeyErr(err) {
			var winner quotadomain.QuotaProfile
			readErr := tx.WithContext(ctx).
				Where("external_user_id = ? AND tenant_id = ?", externalUserID, tenantID).
				First(&winner).Error
			if readErr != nil {
				return nil, readErr
			}
			return &winner, nil
		}
		return nil, err
	}
	return &profile, nil
}

func (r *repo) Reload(ctx context.Context, tx *gorm.DB, profileID int64) (*quotadomain.QuotaProfile, error) {
	var profile quotadomain.QuotaProfile
	if err := tx.WithContext(ctx).First(&profile, profileID).Error; err != nil {
		return nil, err
	}
	return &profile, nil
}

// ConsumeMetered decrements atomically; the balance guard lives in the
// statement so remaining_quota can never go negative, however many callers
// race.
func (r *repo) ConsumeMetered(ctx context.Context, tx *gorm.DB, profileID int64, count int, now time.Time) (bool, error) {
	result := tx.WithContext(ctx).Exec(
		`UPDATE quota_profiles
		 SET remaining_quota = remaining_quota - ?, total_used = total_used + ?, updated_at = ?
		 WHERE id = ? AND remaining_quota >= ?`,
		count, count, now, profileID, count,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repo) RecordFreeUse(ctx context.Context, tx *gorm.DB, profileID int64, count int, now time.Time) error {
	return tx.WithContext(ctx).Exec(
		`UPDATE quota_profiles SET total_used = total_used + ?, updated_at = ? WHERE id = ?`,
		count, now, profileID,
	).Error
}

func (r *repo) ClearExpiredPlan(ctx context.Context, tx *gorm.DB, profileID int64, now time.Time) error {
	return tx.WithContext(ctx).Model(&quotadomain.QuotaProfile{}).
		Where("id = ?", profileID).
		Updates(map[string]interface{}{
			"current_plan_id":     nil,
			"plan_expires_at":     nil,
			"plan_quota_reset_at": nil,
			"is_unlimited":        false,
			"updated_at":          now,
		}).Error
}

// ApplyPlanReset replaces the balance with the plan amount. Replacement,
// not addition: purchases credit additively, resets do not.
func (r *repo) ApplyPlanReset(ctx context.Context, tx *gorm.DB, profileID int64, unlimited bool, quota int, nextReset, now time.Time) error {
	updates := map[string]interface{}{
		"plan_quota_reset_at": nextReset,
		"updated_at":          now,
	}
	if unlimited {
		updates["is_unlimited"] = true
	} else {
		updates["is_unlimited"] = false
		updates["remaining_quota"] = quota
	}
	return tx.WithContext(ctx).Model(&quotadomain.QuotaProfile{}).
		Where("id = ?", profileID).
		Updates(updates).Error
}

func (r *repo) Credit(ctx context.Context, tx *gorm.DB, profileID int64, req quotadomain.CreditRequest, now time.Time) error {
	updates := map[string]interface{}{"updated_at": now}
	if req.PlanID != nil {
		updates["current_plan_id"] = *req.PlanID
	}
	if req.PlanExpiresAt != nil {
		updates["plan_expires_at"] = *req.PlanExpiresAt
	}
	if req.PlanQuotaResetAt != nil {
		updates["plan_quota_reset_at"] = *req.PlanQuotaResetAt
	}
	unlimited := false
	if req.Unlimited != nil {
		unlimited = *req.Unlimited
		updates["is_unlimited"] = unlimited
	}
	if !unlimited && req.QuotaAdd != nil && *req.QuotaAdd > 0 {
		updates["remaining_quota"] = gorm.Expr("remaining_quota + ?", *req.QuotaAdd)
	}
	if req.AmountPaid > 0 {
		updates["total_paid"] = gorm.Expr("total_paid + ?", req.AmountPaid)
	}
	return tx.WithContext(ctx).Model(&quotadomain.QuotaProfile{}).
		Where("id = ?", profileID).
		Updates(updates).Error
}

// ResetTrial restores signup defaults; lifetime counters stay.
func (r *repo) ResetTrial(ctx context.Context, tx *gorm.DB, profileID int64, now time.Time) error {
	return tx.WithContext(ctx).Model(&quotadomain.QuotaProfile{}).
		Where("id = ?", profileID).
		Updates(map[string]interface{}{
			"remaining_quota":     quotadomain.DefaultTrialQuota,
			"current_plan_id":     nil,
			"plan_expires_at":     nil,
			"plan_quota_reset_at": nil,
			"is_unlimited":        false,
			"invite_code_used":    nil,
			"invite_expire_at":    nil,
			"updated_at":          now,
		}).Error
}

// SetInvite writes the free-use window only when none is active. The guard
// lives in the statement so two overlapping redemptions can never both land;
// the loser sees zero affected rows.
func (r *repo) SetInvite(ctx context.Context, tx *gorm.DB, profileID int64, code string, expireAt, now time.Time) (bool, error) {
	result := tx.WithContext(ctx).Exec(
		`UPDATE quota_profiles
		 SET invite_code_used = ?, invite_expire_at = ?, updated_at = ?
		 WHERE id = ? AND (invite_expire_at IS NULL OR invite_expire_at <= ?)`,
		code, expireAt, now, profileID, now,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repo) ClearInvite(ctx context.Context, tx *gorm.DB, profileID int64, now time.Time) error {
	return tx.WithContext(ctx).Model(&quotadomain.QuotaProfile{}).
		Where("id = ?", profileID).
		Updates(map[string]interface{}{
			"invite_code_used": nil,
			"invite_expire_at": nil,
			"updated_at":       now,
		}).Error
}

func (r *repo) InsertLog(ctx context.Context, tx *gorm.DB, entry *quotadomain.SignatureLog) error {
	return tx.WithContext(ctx).Create(entry).Error
}
