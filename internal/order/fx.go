package order

import (
	"github.com/inksuite/signet/internal/order/repository"
	"github.com/inksuite/signet/internal/order/service"
	"go.uber.org/fx"
)

var Module = fx.Module("order.service",
	fx.Provide(
		repository.Provide,
		service.NewService,
	),
)
