package aggregation

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/yungbote/threshold-orchestrator/internal/domain"
	"github.com/yungbote/threshold-orchestrator/internal/platform/logger"
)

// ReadyDetector hands out the aggregate of a correlation id exactly once, to the
// first caller that sees the expected number of partials.
type ReadyDetector struct {
	log      *logger.Logger
	repo     Repository
	expected int
}

func NewReadyDetector(log *logger.Logger, repo Repository, expected int) (*ReadyDetector, error) {
	if repo == nil {
		return nil, fmt.Errorf("repository required")
	}
	if expected < 1 {
		return nil, fmt.Errorf("expected count must be positive, got %d", expected)
	}
	return &ReadyDetector{
		log:      log.With("component", "ReadyDetector"),
		repo:     repo,
		expected: expected,
	}, nil
}

func (d *ReadyDetector) Expected() int { return d.expected }

func (d *ReadyDetector) HandleResultsIfReady(ctx context.Context, id uuid.UUID) ([]domain.PartialResult, bool, error) {
	partials, ok, err := d.repo.MarkReady(ctx, id, d.expected)
	if err != nil {
		return nil, false, fmt.Errorf("mark ready %s: %w", id, err)
	}
	if ok {
		d.log.Debug("contributions ready", "correlation_id", id, "count", len(partials), "expected", d.expected)
		if len(partials) > d.expected {
			d.log.Warn("more contributions than nodes, duplicates delivered", "correlation_id", id, "count", len(partials), "expected", d.expected)
		}
	}
	return partials, ok, nil
}
