package mpesa

import (
	"github.com/jijenga/referral/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("mpesa",
	fx.Provide(NewFromConfig),
)

// NewFromConfig wires the real Daraja client when a base URL is
// configured and the in-memory fake otherwise, so local development works
// without credentials.
func NewFromConfig(cfg config.Config, log *zap.Logger) Gateway {
	if cfg.Mpesa.BaseURL == "" {
		log.Warn("mpesa base url not configured, using in-memory gateway")
		return NewFakeGateway()
	}
	return NewClient(cfg.Mpesa, log)
}
