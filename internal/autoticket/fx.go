package autoticket

import (
	"go.uber.org/fx"

	"github.com/smallbiznis/collectra/internal/autoticket/repository"
	"github.com/smallbiznis/collectra/internal/autoticket/service"
)

var Module = fx.Module("autoticket.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
