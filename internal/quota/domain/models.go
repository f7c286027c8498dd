// Package domain contains the per-shard quota ledger models and contracts.
package domain

import (
	"context"
	"time"

	"github.com/inksuite/signet/internal/tenant"
	"gorm.io/gorm"
)

// DefaultTrialQuota is the signup grant for tenants without a plan.
const DefaultTrialQuota = 20

// ReasonNoQuota marks a denied consume decision. Business condition, never
// an error.
const ReasonNoQuota = "NO_QUOTA"

// QuotaProfile is the single mutable ledger row inside a tenant's shard.
// The shard is the tenant's namespace, so there is at most one row by
// construction.
type QuotaProfile struct {
	ID             int64  `gorm:"primaryKey;autoIncrement"`
	ExternalUserID string `gorm:"size:128;not null;uniqueIndex:uniq_quota_identity"`
	TenantID       string `gorm:"size:128;not null;uniqueIndex:uniq_quota_identity"`

	RemainingQuota int `gorm:"not null;default:20"`
	TotalUsed      int `gorm:"not null;default:0"`

	CurrentPlanID    *string    `gorm:"size:32"`
	PlanExpiresAt    *time.Time `gorm:""`
	PlanQuotaResetAt *time.Time `gorm:""`
	IsUnlimited      bool       `gorm:"not null;default:false"`

	InviteCodeUsed *string    `gorm:"size:64"`
	InviteExpireAt *time.Time `gorm:""`

	TotalPaid int64 `gorm:"not null;default:0"`

	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

// TableName sets the database table name.
func (QuotaProfile) TableName() string { return "quota_profiles" }

// InviteActive reports whether an invite window grants free consumption.
func (p *QuotaProfile) InviteActive(now time.Time) bool {
	return p.InviteExpireAt != nil && p.InviteExpireAt.After(now)
}

// SignatureLog is the per-shard audit row written on every successful
// consume. quota_consumed is false for invite/unlimited usage.
type SignatureLog struct {
	ID            int64     `gorm:"primaryKey;autoIncrement"`
	FileToken     *string   `gorm:"size:128"`
	FileName      *string   `gorm:"size:256"`
	QuotaConsumed bool      `gorm:"not null;default:true"`
	CreatedAt     time.Time `gorm:"not null"`
}

// TableName sets the database table name.
func (SignatureLog) TableName() string { return "signature_logs" }

// Status is the caller-facing snapshot of a tenant's ledger.
type Status struct {
	Remaining      *int       `json:"remaining"`
	PlanQuota      *int       `json:"plan_quota"`
	IsUnlimited    bool       `json:"is_unlimited"`
	TotalUsed      int        `json:"total_used"`
	InviteActive   bool       `json:"invite_active"`
	InviteExpireAt *time.Time `json:"invite_expire_at"`
	CurrentPlanID  *string    `json:"current_plan_id"`
	PlanExpiresAt  *time.Time `json:"plan_expires_at"`
	TotalPaid      int64      `json:"total_paid"`
}

// Decision is the outcome of a pre-flight consumption check.
type Decision struct {
	Allowed          bool   `json:"allowed"`
	WillConsumeQuota bool   `json:"will_consume_quota"`
	Reason           string `json:"reason,omitempty"`
}

type ConsumeRequest struct {
	Count     int
	FileToken string
	FileName  string
}

// CreditRequest applies a purchase to the ledger. Quota is additive here;
// plan-reset replenishment replaces instead. The two are deliberately
// different and must not be unified.
type CreditRequest struct {
	QuotaAdd         *int
	PlanID           *string
	PlanExpiresAt    *time.Time
	PlanQuotaResetAt *time.Time
	Unlimited        *bool
	AmountPaid       int64
}

// Repository mutates ledger rows inside a shard transaction. Every
// contended mutation is a conditional UPDATE checked by affected rows;
// read-modify-write on quota is forbidden.
type Repository interface {
	GetOrCreate(ctx context.Context, tx *gorm.DB, externalUserID, tenantID string) (*QuotaProfile, error)
	Reload(ctx context.Context, tx *gorm.DB, profileID int64) (*QuotaProfile, error)

	ConsumeMetered(ctx context.Context, tx *gorm.DB, profileID int64, count int, now time.Time) (bool, error)
	RecordFreeUse(ctx context.Context, tx *gorm.DB, profileID int64, count int, now time.Time) error

	ClearExpiredPlan(ctx context.Context, tx *gorm.DB, profileID int64, now time.Time) error
	ApplyPlanReset(ctx context.Context, tx *gorm.DB, profileID int64, unlimited bool, quota int, nextReset, now time.Time) error

	Credit(ctx context.Context, tx *gorm.DB, profileID int64, req CreditRequest, now time.Time) error
	ResetTrial(ctx context.Context, tx *gorm.DB, profileID int64, now time.Time) error

	SetInvite(ctx context.Context, tx *gorm.DB, profileID int64, code string, expireAt, now time.Time) (bool, error)
	ClearInvite(ctx context.Context, tx *gorm.DB, profileID int64, now time.Time) error

	InsertLog(ctx context.Context, tx *gorm.DB, entry *SignatureLog) error
}

// Service is the tenant-key facade consumed by the HTTP/admin layer.
type Service interface {
	GetStatus(ctx context.Context, id tenant.Identity) (*Status, error)
	CheckCanConsume(ctx context.Context, id tenant.Identity) (Decision, error)
	Consume(ctx context.Context, id tenant.Identity, req ConsumeRequest) (bool, error)
	Credit(ctx context.Context, id tenant.Identity, req CreditRequest) error
	ResetProfile(ctx context.Context, id tenant.Identity) error
}
