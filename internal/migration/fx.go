package migration

import (
	"context"

	plandomain "github.com/inksuite/signet/internal/plan/domain"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, plans plandomain.Repository) error {
		return Run(context.Background(), conn, plans)
	}),
)
