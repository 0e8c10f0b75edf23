package aggregation

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/threshold-orchestrator/internal/domain"
)

// Repository stores partial results keyed by correlation id. Implementations lock per id,
// never globally, and must behave identically whether in memory or durable.
type Repository interface {
	// Save appends result to the record for id, creating the record on first use.
	Save(ctx context.Context, id uuid.UUID, result domain.PartialResult) error
	// Find returns a snapshot of the partials in arrival order; nil when id is unknown.
	Find(ctx context.Context, id uuid.UUID) ([]domain.PartialResult, error)
	Count(ctx context.Context, id uuid.UUID) (int, error)
	// Delete drops the record and its ready flag. Unknown ids are not an error.
	Delete(ctx context.Context, id uuid.UUID) error
	// ListIfHasAll returns the snapshot only once at least n partials are stored.
	ListIfHasAll(ctx context.Context, id uuid.UUID, n int) ([]domain.PartialResult, bool, error)
	// MarkReady flips the one-shot ready flag when at least n partials are stored.
	// Exactly one caller per record ever gets ok=true.
	MarkReady(ctx context.Context, id uuid.UUID, n int) ([]domain.PartialResult, bool, error)
	// Sweep removes records created before olderThan and reports how many went.
	Sweep(ctx context.Context, olderThan time.Time) (int, error)
}
