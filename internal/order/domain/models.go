// Package domain contains the plan purchase order models and contracts.
package domain

import (
	"context"
	"errors"
	"time"

	"github.com/inksuite/signet/internal/tenant"
	"gorm.io/gorm"
)

// PendingTTL is how long an unpaid order stays claimable.
const PendingTTL = 30 * time.Minute

type Status string

const (
	StatusPending   Status = "pending"
	StatusPaid      Status = "paid"
	StatusCancelled Status = "cancelled"
	StatusExpired   Status = "expired"
)

var (
	ErrOrderNotFound = errors.New("order not found")
	// ErrNotClaimable means the order is no longer pending: already paid,
	// cancelled or past its payment window.
	ErrNotClaimable = errors.New("order not claimable")
	ErrPlanInactive = errors.New("plan not purchasable")
)

// Order lives on the master store. The snowflake id doubles as the primary
// key; OrderNo is the caller-facing reference.
type Order struct {
	ID        int64  `gorm:"primaryKey"`
	OrderNo   string `gorm:"size:32;uniqueIndex;not null"`
	TenantKey string `gorm:"size:256;index;not null"`

	ExternalUserID string `gorm:"size:128;not null"`
	TenantID       string `gorm:"size:128;not null"`

	PlanID string `gorm:"size:32;not null"`
	Amount int64  `gorm:"not null"`
	Status Status `gorm:"size:16;index;not null;default:pending"`

	ExpiresAt time.Time `gorm:"not null"`
	PaidAt    *time.Time

	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

// TableName sets the database table name.
func (Order) TableName() string { return "orders" }

// Identity rebuilds the tenant identity the order was created for.
func (o *Order) Identity() tenant.Identity {
	return tenant.Identity{ExternalUserID: o.ExternalUserID, TenantID: o.TenantID}
}

// Repository mutates order rows on the master store. Status transitions are
// guarded conditional updates so an order is claimed at most once.
type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, order *Order) error
	FindByOrderNo(ctx context.Context, db *gorm.DB, orderNo string) (*Order, error)

	ClaimPaid(ctx context.Context, db *gorm.DB, orderNo string, now time.Time) (bool, error)
	Cancel(ctx context.Context, db *gorm.DB, orderNo string, now time.Time) (bool, error)
	ExpireStale(ctx context.Context, db *gorm.DB, now time.Time) (int64, error)
}

// Service drives the purchase flow: create a pending order, settle it on
// payment, answer status queries.
type Service interface {
	Create(ctx context.Context, id tenant.Identity, planID string) (*Order, error)
	MarkPaid(ctx context.Context, orderNo string) (*Order, error)
	Cancel(ctx context.Context, orderNo string) error
	GetStatus(ctx context.Context, orderNo string) (*Order, error)
}
