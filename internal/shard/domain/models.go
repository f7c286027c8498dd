// Package domain contains the shard registry model and the manager contract.
package domain

import (
	"context"
	"errors"
	"time"

	"github.com/inksuite/signet/internal/tenant"
	"gorm.io/gorm"
)

// ErrProvisioning wraps any failure to create or reach a shard database.
// Never retried internally; the caller decides.
var ErrProvisioning = errors.New("shard_provisioning_failed")

// ShardRecord is the master-store inventory row for one tenant's shard.
// It is an inventory, not the source of truth for existence: the shard
// database is probed live on every cache miss.
type ShardRecord struct {
	ID             int64     `gorm:"primaryKey;autoIncrement"`
	TenantKey      string    `gorm:"size:256;uniqueIndex;not null"`
	ShardID        string    `gorm:"size:16;not null;index"`
	ExternalUserID string    `gorm:"size:128;not null;index"`
	TenantID       string    `gorm:"size:128;not null;index"`
	Provisioned    bool      `gorm:"not null;default:false"`
	CreatedAt      time.Time `gorm:"not null"`
	LastActiveAt   time.Time `gorm:"not null"`
}

// TableName sets the database table name.
func (ShardRecord) TableName() string { return "shard_registry" }

// Handle gives access to one ready shard.
type Handle struct {
	ShardID string
	DB      *gorm.DB
}

// Registry persists shard inventory rows in the master store.
type Registry interface {
	Upsert(ctx context.Context, db *gorm.DB, record *ShardRecord) error
	FindByTenantKey(ctx context.Context, db *gorm.DB, tenantKey string) (*ShardRecord, error)
}

// Manager resolves tenants to ready shards and scopes sessions to them.
type Manager interface {
	// Ensure returns a handle to the tenant's shard, provisioning the
	// database and schema on first access. Idempotent under concurrency.
	Ensure(ctx context.Context, id tenant.Identity) (*Handle, error)

	// WithSession runs fn inside a transaction on the tenant's shard,
	// releasing the connection on every exit path.
	WithSession(ctx context.Context, id tenant.Identity, fn func(tx *gorm.DB) error) error
}
