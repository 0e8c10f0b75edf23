package aggregation

import (
	"context"
	"encoding/binary"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/threshold-orchestrator/internal/domain"
)

const memoryShards = 64

type memoryRecord struct {
	mu       sync.Mutex
	partials []domain.PartialResult
	ready    bool
	// dead is set once the record left the shard map; a Save that raced the
	// eviction retries and lands in a fresh record.
	dead    bool
	created time.Time
}

type memoryShard struct {
	mu      sync.Mutex
	records map[uuid.UUID]*memoryRecord
}

// MemoryRepository is the process-local Repository. The shard lock only guards map
// membership; appends and ready checks take the record's own lock.
type MemoryRepository struct {
	shards [memoryShards]memoryShard
	now    func() time.Time
}

func NewMemoryRepository() *MemoryRepository {
	r := &MemoryRepository{now: time.Now}
	for i := range r.shards {
		r.shards[i].records = make(map[uuid.UUID]*memoryRecord)
	}
	return r
}

func (r *MemoryRepository) shardFor(id uuid.UUID) *memoryShard {
	return &r.shards[binary.BigEndian.Uint64(id[8:])%memoryShards]
}

func (r *MemoryRepository) lookup(id uuid.UUID) *memoryRecord {
	s := r.shardFor(id)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.records[id]
}

func (r *MemoryRepository) lookupOrCreate(id uuid.UUID) *memoryRecord {
	s := r.shardFor(id)
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		rec = &memoryRecord{created: r.now()}
		s.records[id] = rec
	}
	return rec
}

func (r *MemoryRepository) Save(ctx context.Context, id uuid.UUID, result domain.PartialResult) error {
	cp := make(domain.PartialResult, len(result))
	copy(cp, result)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		rec := r.lookupOrCreate(id)
		rec.mu.Lock()
		if rec.dead {
			rec.mu.Unlock()
			continue
		}
		rec.partials = append(rec.partials, cp)
		rec.mu.Unlock()
		return nil
	}
}

func (r *MemoryRepository) Find(_ context.Context, id uuid.UUID) ([]domain.PartialResult, error) {
	rec := r.lookup(id)
	if rec == nil {
		return nil, nil
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.dead {
		return nil, nil
	}
	return snapshot(rec.partials), nil
}

func (r *MemoryRepository) Count(_ context.Context, id uuid.UUID) (int, error) {
	rec := r.lookup(id)
	if rec == nil {
		return 0, nil
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.dead {
		return 0, nil
	}
	return len(rec.partials), nil
}

func (r *MemoryRepository) Delete(_ context.Context, id uuid.UUID) error {
	s := r.shardFor(id)
	s.mu.Lock()
	rec := s.records[id]
	delete(s.records, id)
	s.mu.Unlock()
	if rec != nil {
		rec.mu.Lock()
		rec.dead = true
		rec.mu.Unlock()
	}
	return nil
}

func (r *MemoryRepository) ListIfHasAll(_ context.Context, id uuid.UUID, n int) ([]domain.PartialResult, bool, error) {
	rec := r.lookup(id)
	if rec == nil {
		return nil, false, nil
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.dead || len(rec.partials) < n {
		return nil, false, nil
	}
	return snapshot(rec.partials), true, nil
}

func (r *MemoryRepository) MarkReady(_ context.Context, id uuid.UUID, n int) ([]domain.PartialResult, bool, error) {
	rec := r.lookup(id)
	if rec == nil {
		return nil, false, nil
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.dead || rec.ready || len(rec.partials) < n {
		return nil, false, nil
	}
	rec.ready = true
	return snapshot(rec.partials), true, nil
}

func (r *MemoryRepository) Sweep(_ context.Context, olderThan time.Time) (int, error) {
	var victims []*memoryRecord
	for i := range r.shards {
		s := &r.shards[i]
		s.mu.Lock()
		for id, rec := range s.records {
			if rec.created.Before(olderThan) {
				delete(s.records, id)
				victims = append(victims, rec)
			}
		}
		s.mu.Unlock()
	}
	for _, rec := range victims {
		rec.mu.Lock()
		rec.dead = true
		rec.mu.Unlock()
	}
	return len(victims), nil
}

// Len reports how many records are held.
func (r *MemoryRepository) Len() int {
	n := 0
	for i := range r.shards {
		s := &r.shards[i]
		s.mu.Lock()
		n += len(s.records)
		s.mu.Unlock()
	}
	return n
}

// Record returns a copy of the stored record for id.
func (r *MemoryRepository) Record(id uuid.UUID) (domain.ContributionRecord, bool) {
	rec := r.lookup(id)
	if rec == nil {
		return domain.ContributionRecord{}, false
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return domain.ContributionRecord{
		CorrelationID: id,
		Partials:      snapshot(rec.partials),
		Ready:         rec.ready,
		CreatedAt:     rec.created,
	}, !rec.dead
}

func snapshot(in []domain.PartialResult) []domain.PartialResult {
	out := make([]domain.PartialResult, len(in))
	copy(out, in)
	return out
}
