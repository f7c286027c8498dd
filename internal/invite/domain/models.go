// Package domain contains the invite code models and contracts.
package domain

import (
	"context"
	"errors"
	"time"

	"github.com/inksuite/signet/internal/tenant"
	"gorm.io/gorm"
)

var (
	// ErrInvalidCode means the code does not exist or is disabled.
	ErrInvalidCode = errors.New("invite code not found")
	// ErrCodeExpired means the code's own validity window has passed.
	ErrCodeExpired = errors.New("invite code expired")
	// ErrCodeUsedUp means the shared usage budget is exhausted.
	ErrCodeUsedUp = errors.New("invite code fully used")
	// ErrAlreadyRedeemed means the tenant is inside an active invite window.
	ErrAlreadyRedeemed = errors.New("tenant already has an active invite")
)

// InviteCode lives on the master store; used_count is shared across all
// tenants redeeming the same code.
type InviteCode struct {
	ID        int64   `gorm:"primaryKey;autoIncrement"`
	Code      string  `gorm:"size:64;uniqueIndex;not null"`
	MaxUsage  int     `gorm:"not null;default:1"`
	UsedCount int     `gorm:"not null;default:0"`
	ValidDays int     `gorm:"not null;default:3"`
	ExpiresAt *time.Time
	IsActive  bool      `gorm:"not null;default:true"`
	Note      *string   `gorm:"size:256"`
	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

// TableName sets the database table name.
func (InviteCode) TableName() string { return "invite_codes" }

// Expired reports whether the code itself is past its validity window.
func (c *InviteCode) Expired(now time.Time) bool {
	return c.ExpiresAt != nil && c.ExpiresAt.Before(now)
}

// RedeemResult describes the free-use window granted to the tenant.
type RedeemResult struct {
	Code     string    `json:"code"`
	ExpireAt time.Time `json:"expire_at"`
}

// Repository mutates invite rows on the master store. The usage counter is
// only ever moved by guarded conditional updates.
type Repository interface {
	FindByCode(ctx context.Context, db *gorm.DB, code string) (*InviteCode, error)
	Insert(ctx context.Context, db *gorm.DB, code *InviteCode) error

	ConsumeUse(ctx context.Context, db *gorm.DB, codeID int64, now time.Time) (bool, error)
	ReleaseUse(ctx context.Context, db *gorm.DB, codeID int64, now time.Time) error
}

// Service validates, redeems and mints invite codes.
type Service interface {
	Validate(ctx context.Context, code string) (*InviteCode, error)
	Redeem(ctx context.Context, id tenant.Identity, code string) (*RedeemResult, error)
	Revoke(ctx context.Context, id tenant.Identity) error
	Mint(ctx context.Context, maxUsage, validDays int, expiresAt *time.Time, note string) (*InviteCode, error)
}
