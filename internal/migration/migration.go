// Package migration prepares the master store on startup so a fresh
// deployment is usable out of the box: schema for the registry and global
// tables, plus the default plan catalog. Shard schemas are handled by the
// shard manager at provisioning time, not here.
package migration

import (
	"context"

	invitedomain "github.com/inksuite/signet/internal/invite/domain"
	orderdomain "github.com/inksuite/signet/internal/order/domain"
	plandomain "github.com/inksuite/signet/internal/plan/domain"
	"github.com/inksuite/signet/internal/session"
	sharddomain "github.com/inksuite/signet/internal/shard/domain"
	"gorm.io/gorm"
)

func Run(ctx context.Context, db *gorm.DB, plans plandomain.Repository) error {
	err := db.WithContext(ctx).AutoMigrate(
		&sharddomain.ShardRecord{},
		&plandomain.PlanDefinition{},
		&invitedomain.InviteCode{},
		&orderdomain.Order{},
		&session.Record{},
	)
	if err != nil {
		return err
	}
	return plans.Seed(ctx, db)
}
