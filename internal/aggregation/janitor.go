package aggregation

import (
	"context"
	"fmt"
	"time"

	"github.com/yungbote/threshold-orchestrator/internal/platform/logger"
)

// JanitorConfig bounds the sweep. TTL must exceed LongestWait, the largest
// polling timeout of any orchestrator sharing the repository, or the janitor
// would delete records a waiter is still accumulating.
type JanitorConfig struct {
	TTL         time.Duration
	Interval    time.Duration
	LongestWait time.Duration
}

// Janitor sweeps records left behind by stragglers arriving after eviction.
type Janitor struct {
	log      *logger.Logger
	repo     Repository
	ttl      time.Duration
	interval time.Duration
	metrics  Metrics
	now      func() time.Time
}

func NewJanitor(log *logger.Logger, repo Repository, cfg JanitorConfig, metrics Metrics) (*Janitor, error) {
	if repo == nil {
		return nil, fmt.Errorf("repository required")
	}
	if cfg.TTL <= 0 || cfg.Interval <= 0 {
		return nil, fmt.Errorf("janitor ttl and interval must be positive")
	}
	if cfg.TTL <= cfg.LongestWait {
		return nil, fmt.Errorf("janitor ttl %s must exceed the longest polling timeout %s", cfg.TTL, cfg.LongestWait)
	}
	if metrics == nil {
		metrics = nopMetrics{}
	}
	return &Janitor{
		log:      log.With("component", "Janitor"),
		repo:     repo,
		ttl:      cfg.TTL,
		interval: cfg.Interval,
		metrics:  metrics,
		now:      time.Now,
	}, nil
}

func (j *Janitor) Start(ctx context.Context) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				j.log.Error("janitor panic", "panic", r)
			}
		}()
		t := time.NewTicker(j.interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				j.log.Info("Janitor loop stopped")
				return
			case <-t.C:
				if _, err := j.RunOnce(ctx); err != nil {
					j.log.Warn("orphan sweep failed", "error", err)
				}
			}
		}
	}()
}

func (j *Janitor) RunOnce(ctx context.Context) (int, error) {
	n, err := j.repo.Sweep(ctx, j.now().Add(-j.ttl))
	if err != nil {
		return 0, err
	}
	if n > 0 {
		j.metrics.OrphansSwept(n)
		j.log.Info("swept orphaned contributions", "records", n)
	}
	return n, nil
}
