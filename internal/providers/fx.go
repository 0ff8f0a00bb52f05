package providers

import (
	"github.com/smallbiznis/collectra/internal/providers/email"
	"github.com/smallbiznis/collectra/internal/providers/pdf"
	"github.com/smallbiznis/collectra/internal/providers/webhook"
	"go.uber.org/fx"
)

var Module = fx.Module("providers",
	email.Module,
	pdf.Module,
	webhook.Module,
)
