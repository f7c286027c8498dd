package quota

import (
	"github.com/inksuite/signet/internal/quota/repository"
	"github.com/inksuite/signet/internal/quota/service"
	"go.uber.org/fx"
)

var Module = fx.Module("quota.service",
	fx.Provide(
		repository.Provide,
		service.NewService,
	),
)
