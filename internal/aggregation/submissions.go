package aggregation

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/threshold-orchestrator/internal/domain"
)

// Submission tracks one asynchronous computation from broadcast to stored aggregate.
type Submission struct {
	Operation     domain.OperationType
	Key           string
	CorrelationID uuid.UUID
	TrackingID    string
	Status        domain.ComputationStatus
	Partials      []domain.PartialResult
	CreatedAt     time.Time
	ComputedAt    *time.Time
}

type SubmissionStore interface {
	// Create fails with ErrDuplicateEntry when (op, key) already exists.
	Create(ctx context.Context, s Submission) error
	// Get fails with ErrNotFound for unknown (op, key).
	Get(ctx context.Context, op domain.OperationType, key string) (Submission, error)
	// Complete stores the aggregate for the submission owning id and marks it computed.
	// It fails with ErrNotFound when no submission owns id.
	Complete(ctx context.Context, op domain.OperationType, id uuid.UUID, partials []domain.PartialResult) error
	Delete(ctx context.Context, op domain.OperationType, key string) error
}

type submissionSink struct {
	store SubmissionStore
}

// NewSubmissionSink routes ready aggregates into store.
func NewSubmissionSink(store SubmissionStore) AggregateSink {
	return submissionSink{store: store}
}

func (s submissionSink) Accept(ctx context.Context, op domain.OperationType, id uuid.UUID, partials []domain.PartialResult) error {
	return s.store.Complete(ctx, op, id, partials)
}

type submissionKey struct {
	op  domain.OperationType
	key string
}

// MemorySubmissions is the process-local SubmissionStore.
type MemorySubmissions struct {
	mu     sync.Mutex
	byKey  map[submissionKey]*Submission
	byCorr map[uuid.UUID]submissionKey
	now    func() time.Time
}

func NewMemorySubmissions() *MemorySubmissions {
	return &MemorySubmissions{
		byKey:  make(map[submissionKey]*Submission),
		byCorr: make(map[uuid.UUID]submissionKey),
		now:    time.Now,
	}
}

func (m *MemorySubmissions) Create(_ context.Context, s Submission) error {
	k := submissionKey{op: s.Operation, key: s.Key}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.byKey[k]; exists {
		return ErrDuplicateEntry
	}
	if s.Status == "" {
		s.Status = domain.StatusComputing
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = m.now()
	}
	m.byKey[k] = &s
	m.byCorr[s.CorrelationID] = k
	return nil
}

func (m *MemorySubmissions) Get(_ context.Context, op domain.OperationType, key string) (Submission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.byKey[submissionKey{op: op, key: key}]
	if !ok {
		return Submission{}, ErrNotFound
	}
	out := *s
	out.Partials = snapshot(s.Partials)
	return out, nil
}

func (m *MemorySubmissions) Complete(_ context.Context, op domain.OperationType, id uuid.UUID, partials []domain.PartialResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k, ok := m.byCorr[id]
	if !ok || k.op != op {
		return ErrNotFound
	}
	s := m.byKey[k]
	now := m.now()
	s.Status = domain.StatusComputed
	s.Partials = snapshot(partials)
	s.ComputedAt = &now
	return nil
}

func (m *MemorySubmissions) Delete(_ context.Context, op domain.OperationType, key string) error {
	k := submissionKey{op: op, key: key}
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.byKey[k]; ok {
		delete(m.byCorr, s.CorrelationID)
		delete(m.byKey, k)
	}
	return nil
}
