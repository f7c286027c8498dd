package invite

import (
	"github.com/inksuite/signet/internal/invite/repository"
	"github.com/inksuite/signet/internal/invite/service"
	"go.uber.org/fx"
)

var Module = fx.Module("invite.service",
	fx.Provide(
		repository.Provide,
		service.NewService,
	),
)
