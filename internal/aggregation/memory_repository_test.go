package aggregation

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"

	"github.com/yungbote/threshold-orchestrator/internal/domain"
)

func TestMemoryRepositoryCountMatchesSaves(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	id := uuid.New()
	for k := 1; k <= 5; k++ {
		if err := repo.Save(ctx, id, domain.PartialResult(fmt.Sprintf("p%d", k))); err != nil {
			t.Fatalf("Save: %v", err)
		}
		n, err := repo.Count(ctx, id)
		if err != nil {
			t.Fatalf("Count: %v", err)
		}
		if n != k {
			t.Fatalf("count: want=%d got=%d", k, n)
		}
	}
	got, err := repo.Find(ctx, id)
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	want := []domain.PartialResult{
		domain.PartialResult("p1"), domain.PartialResult("p2"), domain.PartialResult("p3"),
		domain.PartialResult("p4"), domain.PartialResult("p5"),
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("Find mismatch (-want +got):\n%s", diff)
	}
}

func TestMemoryRepositorySaveCopiesInput(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	id := uuid.New()
	buf := []byte("abc")
	if err := repo.Save(ctx, id, buf); err != nil {
		t.Fatalf("Save: %v", err)
	}
	buf[0] = 'z'
	got, _ := repo.Find(ctx, id)
	if string(got[0]) != "abc" {
		t.Fatalf("stored partial aliased caller buffer: got=%q", got[0])
	}
}

func TestMemoryRepositoryUnknownID(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	id := uuid.New()
	if n, _ := repo.Count(ctx, id); n != 0 {
		t.Fatalf("count: want=0 got=%d", n)
	}
	if got, _ := repo.Find(ctx, id); got != nil {
		t.Fatalf("find: want=nil got=%v", got)
	}
	if _, ok, _ := repo.ListIfHasAll(ctx, id, 1); ok {
		t.Fatalf("ListIfHasAll on unknown id reported complete")
	}
	if _, ok, _ := repo.MarkReady(ctx, id, 1); ok {
		t.Fatalf("MarkReady on unknown id reported ready")
	}
	if err := repo.Delete(ctx, id); err != nil {
		t.Fatalf("Delete unknown: %v", err)
	}
}

func TestMemoryRepositoryListIfHasAll(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	id := uuid.New()
	_ = repo.Save(ctx, id, domain.PartialResult("a"))
	_ = repo.Save(ctx, id, domain.PartialResult("b"))
	if _, ok, _ := repo.ListIfHasAll(ctx, id, 3); ok {
		t.Fatalf("complete with 2 of 3")
	}
	_ = repo.Save(ctx, id, domain.PartialResult("c"))
	got, ok, err := repo.ListIfHasAll(ctx, id, 3)
	if err != nil || !ok {
		t.Fatalf("ListIfHasAll: ok=%v err=%v", ok, err)
	}
	if len(got) != 3 {
		t.Fatalf("len: want=3 got=%d", len(got))
	}
	// non-consuming
	if _, ok, _ := repo.ListIfHasAll(ctx, id, 3); !ok {
		t.Fatalf("second ListIfHasAll should still succeed")
	}
}

func TestMemoryRepositoryMarkReadyOnce(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	id := uuid.New()
	_ = repo.Save(ctx, id, domain.PartialResult("a"))
	if _, ok, _ := repo.MarkReady(ctx, id, 2); ok {
		t.Fatalf("ready before count reached")
	}
	_ = repo.Save(ctx, id, domain.PartialResult("b"))
	if _, ok, _ := repo.MarkReady(ctx, id, 2); !ok {
		t.Fatalf("not ready at count")
	}
	_ = repo.Save(ctx, id, domain.PartialResult("dup"))
	if _, ok, _ := repo.MarkReady(ctx, id, 2); ok {
		t.Fatalf("ready flag handed out twice")
	}
	rec, live := repo.Record(id)
	if !live || !rec.Ready || len(rec.Partials) != 3 {
		t.Fatalf("record: live=%v ready=%v partials=%d", live, rec.Ready, len(rec.Partials))
	}
}

func TestMemoryRepositoryDeleteThenSaveStartsFresh(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	id := uuid.New()
	_ = repo.Save(ctx, id, domain.PartialResult("a"))
	_ = repo.Save(ctx, id, domain.PartialResult("b"))
	_, _, _ = repo.MarkReady(ctx, id, 2)
	if err := repo.Delete(ctx, id); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if repo.Len() != 0 {
		t.Fatalf("len after delete: want=0 got=%d", repo.Len())
	}
	_ = repo.Save(ctx, id, domain.PartialResult("late"))
	rec, live := repo.Record(id)
	if !live || rec.Ready || len(rec.Partials) != 1 {
		t.Fatalf("fresh record: live=%v ready=%v partials=%d", live, rec.Ready, len(rec.Partials))
	}
}

func TestMemoryRepositorySweep(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	now := base
	repo.now = func() time.Time { return now }

	old := uuid.New()
	_ = repo.Save(ctx, old, domain.PartialResult("x"))
	now = base.Add(time.Hour)
	fresh := uuid.New()
	_ = repo.Save(ctx, fresh, domain.PartialResult("y"))

	n, err := repo.Sweep(ctx, base.Add(30*time.Minute))
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if n != 1 {
		t.Fatalf("swept: want=1 got=%d", n)
	}
	if c, _ := repo.Count(ctx, old); c != 0 {
		t.Fatalf("old record survived sweep")
	}
	if c, _ := repo.Count(ctx, fresh); c != 1 {
		t.Fatalf("fresh record swept")
	}
}

func TestMemoryRepositoryConcurrentSaves(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	ids := make([]uuid.UUID, 8)
	for i := range ids {
		ids[i] = uuid.New()
	}
	const perID = 100
	var wg sync.WaitGroup
	for _, id := range ids {
		for k := 0; k < perID; k++ {
			wg.Add(1)
			go func(id uuid.UUID, k int) {
				defer wg.Done()
				_ = repo.Save(ctx, id, domain.PartialResult{byte(k)})
			}(id, k)
		}
	}
	wg.Wait()
	for _, id := range ids {
		if n, _ := repo.Count(ctx, id); n != perID {
			t.Fatalf("count %s: want=%d got=%d", id, perID, n)
		}
	}
}

func TestMemoryRepositorySaveRacingDeleteNeverLosesToDeadRecord(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	id := uuid.New()
	for i := 0; i < 200; i++ {
		var wg sync.WaitGroup
		wg.Add(2)
		go func() { defer wg.Done(); _ = repo.Save(ctx, id, domain.PartialResult("s")) }()
		go func() { defer wg.Done(); _ = repo.Delete(ctx, id) }()
		wg.Wait()
		// either the save landed before the delete (record gone) or after (fresh record with one partial)
		if n, _ := repo.Count(ctx, id); n > 1 {
			t.Fatalf("iteration %d: count=%d", i, n)
		}
		_ = repo.Delete(ctx, id)
	}
}
