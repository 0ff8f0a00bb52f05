package identity

import (
	"go.uber.org/fx"

	"github.com/smallbiznis/collectra/internal/identity/repository"
	"github.com/smallbiznis/collectra/internal/identity/service"
)

var Module = fx.Module("identity.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
