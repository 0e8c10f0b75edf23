package app

import (
	"github.com/yungbote/threshold-orchestrator/internal/config"
	httpx "github.com/yungbote/threshold-orchestrator/internal/http"
	"github.com/yungbote/threshold-orchestrator/internal/observability"
	"github.com/yungbote/threshold-orchestrator/internal/platform/logger"
)

const serviceName = "threshold-orchestrator"

func wireServer(log *logger.Logger, cfg *config.Config, handlers Handlers, metrics *observability.Metrics) *httpx.Server {
	return httpx.NewServer(httpx.ServerConfig{
		Addr:              cfg.HTTP.Addr,
		ReadHeaderTimeout: cfg.HTTP.ReadHeaderTimeout.Duration,
		IdleTimeout:       cfg.HTTP.IdleTimeout.Duration,
		ShutdownTimeout:   cfg.HTTP.ShutdownTimeout.Duration,
	}, httpx.RouterConfig{
		ServiceName:      serviceName,
		Log:              log,
		Metrics:          metrics,
		AllowOrigins:     cfg.HTTP.AllowOrigins,
		MaxRequestBytes:  cfg.HTTP.MaxRequestBytes,
		HealthHandler:    handlers.Health,
		OperationHandler: handlers.Operation,
	})
}
