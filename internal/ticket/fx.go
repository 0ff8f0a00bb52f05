package ticket

import (
	"go.uber.org/fx"

	"github.com/smallbiznis/collectra/internal/ticket/repository"
	"github.com/smallbiznis/collectra/internal/ticket/service"
)

var Module = fx.Module("ticket.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
