package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/yungbote/threshold-orchestrator/internal/aggregation"
	"github.com/yungbote/threshold-orchestrator/internal/config"
	httpx "github.com/yungbote/threshold-orchestrator/internal/http"
	"github.com/yungbote/threshold-orchestrator/internal/observability"
	"github.com/yungbote/threshold-orchestrator/internal/platform/logger"
	"github.com/yungbote/threshold-orchestrator/internal/transport"
)

type App struct {
	Log      *logger.Logger
	Cfg      *config.Config
	Clients  Clients
	Repos    Repos
	Services Services
	Metrics  *observability.Metrics
	Server   *httpx.Server

	mu           sync.Mutex
	cancel       context.CancelFunc
	started      []*aggregation.Orchestrator
	otelShutdown func(context.Context) error
}

// New loads configuration from the environment and wires every component.
func New() (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	log, err := logger.New(cfg.Env)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	a, err := NewWithConfig(context.Background(), log, cfg)
	if err != nil {
		log.Sync()
		return nil, err
	}
	return a, nil
}

func NewWithConfig(ctx context.Context, log *logger.Logger, cfg *config.Config) (*App, error) {
	if log == nil {
		return nil, errors.New("logger required")
	}
	if cfg == nil {
		return nil, errors.New("config required")
	}
	otelShutdown := observability.InitOTel(ctx, log, observability.OtelConfig{
		ServiceName: serviceName,
		Environment: cfg.Env,
	})
	metrics := observability.Init(log)

	clients, err := wireClients(ctx, log, cfg)
	if err != nil {
		return nil, err
	}
	reposet := wireRepos(log, clients)
	serviceset, err := wireServices(log, cfg, clients, reposet, metrics)
	if err != nil {
		clients.Close()
		return nil, err
	}
	handlerset := wireHandlers(log, clients, serviceset)
	server := wireServer(log, cfg, handlerset, metrics)

	return &App{
		Log:          log,
		Cfg:          cfg,
		Clients:      clients,
		Repos:        reposet,
		Services:     serviceset,
		Metrics:      metrics,
		Server:       server,
		otelShutdown: otelShutdown,
	}, nil
}

// Start attaches the notifier forwarder, subscribes every orchestrator to its
// response queues and launches the background loops.
func (a *App) Start() error {
	if a == nil {
		return errors.New("app not initialized")
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.cancel != nil {
		return nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel

	if a.Services.Topic != nil {
		if err := a.Services.Topic.Start(ctx); err != nil {
			a.stopLocked()
			return fmt.Errorf("start notifier: %w", err)
		}
	}
	for op, o := range a.Services.Orchestrators {
		if err := o.Start(); err != nil {
			a.stopLocked()
			return fmt.Errorf("start orchestrator %s: %w", op, err)
		}
		a.started = append(a.started, o)
	}
	if a.Services.Janitor != nil {
		a.Services.Janitor.Start(ctx)
	}
	a.startCollectors(ctx)
	a.Log.Info("Orchestrator started", "operations", len(a.started), "transport", a.Cfg.Transport,
		"repository", a.Cfg.Repository, "notifier", a.Cfg.Notifier)
	return nil
}

func (a *App) startCollectors(ctx context.Context) {
	if a.Metrics == nil {
		return
	}
	if a.Clients.DB != nil {
		a.Metrics.StartDBCollector(ctx, a.Log, a.Clients.DB.DB())
	}
	if a.Clients.Redis != nil {
		a.Metrics.StartRedisCollector(ctx, a.Log, a.Clients.Redis.Client())
	}
	if dr, ok := a.Clients.Transport.(transport.DepthReporter); ok {
		var dests []string
		for _, o := range a.started {
			cfg := o.Config()
			dests = append(dests, cfg.RequestQueues...)
			dests = append(dests, cfg.ResponseQueues...)
		}
		a.Metrics.StartQueueCollector(ctx, a.Log, dr, dests)
	}
}

// Run serves HTTP until ctx is done.
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.Server == nil {
		return errors.New("app not initialized")
	}
	a.Log.Info("HTTP server listening", "addr", a.Cfg.HTTP.Addr)
	return a.Server.Run(ctx)
}

// Close stops consumers and background loops, then releases every client.
func (a *App) Close() {
	if a == nil {
		return
	}
	a.mu.Lock()
	a.stopLocked()
	a.mu.Unlock()

	a.Clients.Close()
	if a.otelShutdown != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = a.otelShutdown(ctx)
		cancel()
	}
	if a.Log != nil {
		a.Log.Sync()
	}
}

func (a *App) stopLocked() {
	for _, o := range a.started {
		if err := o.Stop(); err != nil {
			a.Log.Warn("stop orchestrator failed", "operation", o.Operation(), "error", err)
		}
	}
	a.started = nil
	if a.cancel != nil {
		a.cancel()
		a.cancel = nil
	}
}
