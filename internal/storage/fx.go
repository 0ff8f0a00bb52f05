package storage

import (
	"go.uber.org/fx"

	"github.com/smallbiznis/collectra/internal/storage/service"
)

var Module = fx.Module("storage.service",
	fx.Provide(service.New),
)
