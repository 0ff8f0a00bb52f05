package erpsync

import (
	"go.uber.org/fx"

	"github.com/smallbiznis/collectra/internal/erp"
	"github.com/smallbiznis/collectra/internal/erp/dynamics"
	"github.com/smallbiznis/collectra/internal/erp/static"
	"github.com/smallbiznis/collectra/internal/erpsync/repository"
	"github.com/smallbiznis/collectra/internal/erpsync/service"
)

var Module = fx.Module("erpsync.service",
	fx.Provide(func() *erp.Registry {
		return erp.NewRegistry(
			dynamics.NewFactory(),
			static.NewFactory(),
		)
	}),
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
