package reminder

import (
	"github.com/smallbiznis/collectra/internal/reminder/repository"
	"github.com/smallbiznis/collectra/internal/reminder/service"
	"go.uber.org/fx"
)

var Module = fx.Module("reminder.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
