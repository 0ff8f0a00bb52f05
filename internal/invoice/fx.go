package invoice

import (
	"go.uber.org/fx"

	"github.com/smallbiznis/collectra/internal/invoice/repository"
	"github.com/smallbiznis/collectra/internal/invoice/service"
)

var Module = fx.Module("invoice.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
