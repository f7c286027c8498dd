package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/inksuite/signet/internal/clock"
	"github.com/inksuite/signet/internal/config"
	"github.com/inksuite/signet/internal/invite"
	"github.com/inksuite/signet/internal/logger"
	"github.com/inksuite/signet/internal/migration"
	"github.com/inksuite/signet/internal/observability/metrics"
	"github.com/inksuite/signet/internal/order"
	"github.com/inksuite/signet/internal/plan"
	"github.com/inksuite/signet/internal/quota"
	"github.com/inksuite/signet/internal/session"
	"github.com/inksuite/signet/internal/shard"
	"github.com/inksuite/signet/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		// Core infrastructure
		config.Module,
		logger.Module,
		clock.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		metrics.Module,

		// Functional domains
		shard.Module,
		plan.Module,
		quota.Module,
		invite.Module,
		order.Module,
		session.Module,
		migration.Module,
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}
