package aggregation

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/yungbote/threshold-orchestrator/internal/domain"
)

func TestMemorySubmissionsLifecycle(t *testing.T) {
	ctx := context.Background()
	store := NewMemorySubmissions()
	op := domain.OperationChoiceCodesGeneration
	id := uuid.New()

	if err := store.Create(ctx, Submission{Operation: op, Key: "k", CorrelationID: id}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := store.Create(ctx, Submission{Operation: op, Key: "k", CorrelationID: uuid.New()}); !errors.Is(err, ErrDuplicateEntry) {
		t.Fatalf("duplicate: want=%v got=%v", ErrDuplicateEntry, err)
	}
	s, err := store.Get(ctx, op, "k")
	if err != nil || s.Status != domain.StatusComputing {
		t.Fatalf("Get: status=%s err=%v", s.Status, err)
	}

	sink := NewSubmissionSink(store)
	if err := sink.Accept(ctx, op, uuid.New(), nil); !errors.Is(err, ErrNotFound) {
		t.Fatalf("unknown correlation: want=%v got=%v", ErrNotFound, err)
	}
	if err := sink.Accept(ctx, domain.OperationChoiceCodesDecryption, id, nil); !errors.Is(err, ErrNotFound) {
		t.Fatalf("wrong operation: want=%v got=%v", ErrNotFound, err)
	}
	if err := sink.Accept(ctx, op, id, []domain.PartialResult{domain.PartialResult("a")}); err != nil {
		t.Fatalf("Accept: %v", err)
	}
	s, _ = store.Get(ctx, op, "k")
	if s.Status != domain.StatusComputed || s.ComputedAt == nil || len(s.Partials) != 1 {
		t.Fatalf("after complete: %+v", s)
	}

	if err := store.Delete(ctx, op, "k"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := store.Get(ctx, op, "k"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("after delete: want=%v got=%v", ErrNotFound, err)
	}
}
