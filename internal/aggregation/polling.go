package aggregation

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/threshold-orchestrator/internal/domain"
	"github.com/yungbote/threshold-orchestrator/internal/platform/logger"
)

// PollingService blocks a caller until a correlation id has its expected partials or the
// timeout expires. Push wake-ups from the notifier race a fixed polling ticker.
// The record is evicted on every exit path.
type PollingService struct {
	log      *logger.Logger
	repo     Repository
	notifier Notifier
	expected int
}

func NewPollingService(log *logger.Logger, repo Repository, notifier Notifier, expected int) (*PollingService, error) {
	if repo == nil {
		return nil, fmt.Errorf("repository required")
	}
	if expected < 1 {
		return nil, fmt.Errorf("expected count must be positive, got %d", expected)
	}
	return &PollingService{
		log:      log.With("component", "PollingService"),
		repo:     repo,
		notifier: notifier,
		expected: expected,
	}, nil
}

// GetResults returns at least the expected number of partials in arrival order.
// It fails with ErrAggregationTimeout after timeout, or with ctx.Err() wrapped when
// the caller gives up first.
func (p *PollingService) GetResults(ctx context.Context, id uuid.UUID, timeout, interval time.Duration) ([]domain.PartialResult, error) {
	if timeout <= 0 {
		return nil, fmt.Errorf("polling timeout must be positive, got %s", timeout)
	}
	if interval <= 0 {
		return nil, fmt.Errorf("polling interval must be positive, got %s", interval)
	}

	// subscribe before the first check so a ready event between check and wait is not lost
	var wake <-chan struct{}
	if p.notifier != nil {
		ch, release := p.notifier.Subscribe(id)
		defer release()
		wake = ch
	}

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if partials, ok := p.check(ctx, id); ok {
			p.evict(ctx, id)
			return partials, nil
		}
		select {
		case <-wake:
		case <-ticker.C:
		case <-deadline.C:
			if partials, ok := p.check(ctx, id); ok {
				p.evict(ctx, id)
				return partials, nil
			}
			p.evict(ctx, id)
			return nil, fmt.Errorf("%w: correlation id %s after %s", ErrAggregationTimeout, id, timeout)
		case <-ctx.Done():
			p.evict(ctx, id)
			return nil, fmt.Errorf("waiting for correlation id %s: %w", id, ctx.Err())
		}
	}
}

func (p *PollingService) check(ctx context.Context, id uuid.UUID) ([]domain.PartialResult, bool) {
	if ctx.Err() != nil {
		return nil, false
	}
	partials, ok, err := p.repo.ListIfHasAll(ctx, id, p.expected)
	if err != nil {
		p.log.Warn("poll failed", "correlation_id", id, "error", err)
		return nil, false
	}
	return partials, ok
}

func (p *PollingService) evict(ctx context.Context, id uuid.UUID) {
	if err := p.repo.Delete(context.WithoutCancel(ctx), id); err != nil {
		p.log.Warn("evict failed, record left for sweep", "correlation_id", id, "error", err)
	}
}
