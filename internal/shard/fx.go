package shard

import (
	"github.com/inksuite/signet/internal/shard/repository"
	"github.com/inksuite/signet/internal/shard/service"
	"go.uber.org/fx"
)

var Module = fx.Module("shard.manager",
	fx.Provide(
		repository.Provide,
		service.NewManager,
	),
)
