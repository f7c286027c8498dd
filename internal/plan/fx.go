package plan

import (
	"github.com/inksuite/signet/internal/plan/repository"
	"go.uber.org/fx"
)

var Module = fx.Module("plan.repository",
	fx.Provide(repository.Provide),
)
