package app

import (
	"context"
	"fmt"

	"github.com/yungbote/threshold-orchestrator/internal/config"
	"github.com/yungbote/threshold-orchestrator/internal/data/db"
	"github.com/yungbote/threshold-orchestrator/internal/platform/logger"
	"github.com/yungbote/threshold-orchestrator/internal/transport"
)

type Clients struct {
	Transport transport.Transport
	// Redis is set when the transport or the notifier runs on Redis.
	Redis    *transport.Redis
	DB       *db.Service
	PGNotify *transport.PGNotify
	Memory   *transport.Memory
}

func wireClients(ctx context.Context, log *logger.Logger, cfg *config.Config) (Clients, error) {
	log.Info("Wiring clients...")
	var c Clients

	// Redis
	if cfg.Transport == "redis" || cfg.Notifier == "redis" {
		r, err := transport.DialRedis(log, cfg.Redis.Addr, transport.RedisOptions{
			KeyPrefix:    cfg.Redis.KeyPrefix,
			BlockTimeout: cfg.Redis.BlockTimeout.Duration,
		})
		if err != nil {
			return Clients{}, fmt.Errorf("init redis: %w", err)
		}
		c.Redis = r
	}

	switch cfg.Transport {
	case "redis":
		c.Transport = c.Redis
	default:
		c.Memory = transport.NewMemory(log)
		c.Transport = c.Memory
	}

	// Database
	if cfg.Repository == "durable" {
		svc, err := db.Open(log, cfg.Database.DSN)
		if err != nil {
			c.Close()
			return Clients{}, fmt.Errorf("init database: %w", err)
		}
		c.DB = svc
	}
	if cfg.Notifier == "postgres" {
		pn, err := transport.NewPGNotify(ctx, log, cfg.Database.DSN)
		if err != nil {
			c.Close()
			return Clients{}, fmt.Errorf("init pg notify: %w", err)
		}
		c.PGNotify = pn
	}
	return c, nil
}

func (c *Clients) Close() {
	if c == nil {
		return
	}
	if c.Memory != nil {
		_ = c.Memory.Close()
	}
	if c.Redis != nil {
		_ = c.Redis.Close()
	}
	if c.PGNotify != nil {
		_ = c.PGNotify.Close()
	}
	if c.DB != nil {
		_ = c.DB.Close()
	}
}
