package app

import (
	"context"
	"fmt"

	"github.com/yungbote/threshold-orchestrator/internal/domain"
	httpH "github.com/yungbote/threshold-orchestrator/internal/http/handlers"
	"github.com/yungbote/threshold-orchestrator/internal/platform/logger"
)

type Handlers struct {
	Health    *httpH.HealthHandler
	Operation *httpH.OperationHandler
}

func wireHandlers(log *logger.Logger, clients Clients, services Services) Handlers {
	log.Info("Wiring handlers...")
	ops := make(map[domain.OperationType]httpH.Operation, len(services.Orchestrators))
	for op, o := range services.Orchestrators {
		ops[op] = o
	}
	return Handlers{
		Health:    httpH.NewHealthHandler(healthChecks(clients)),
		Operation: httpH.NewOperationHandler(log, ops),
	}
}

func healthChecks(clients Clients) map[string]httpH.HealthCheck {
	checks := map[string]httpH.HealthCheck{}
	if clients.Redis != nil {
		rdb := clients.Redis.Client()
		checks["redis"] = func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		}
	}
	if clients.DB != nil {
		gdb := clients.DB.DB()
		checks["database"] = func(ctx context.Context) error {
			sqlDB, err := gdb.DB()
			if err != nil {
				return fmt.Errorf("database handle: %w", err)
			}
			return sqlDB.PingContext(ctx)
		}
	}
	return checks
}
