package webhook

import (
	"github.com/smallbiznis/collectra/internal/config"
	"go.uber.org/fx"
)

var Module = fx.Module("providers.webhook",
	fx.Provide(NewFromConfig),
)

func NewFromConfig(cfg config.Config) Provider {
	return New(cfg.Webhook)
}
