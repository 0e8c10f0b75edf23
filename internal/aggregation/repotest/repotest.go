// Package repotest holds the behaviour every aggregation.Repository must share.
package repotest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"

	"github.com/yungbote/threshold-orchestrator/internal/aggregation"
	"github.com/yungbote/threshold-orchestrator/internal/domain"
)

// Run exercises repo-agnostic guarantees against a fresh repository from newRepo.
func Run(t *testing.T, newRepo func(t *testing.T) aggregation.Repository) {
	t.Run("CountAfterSaves", func(t *testing.T) { countAfterSaves(t, newRepo(t)) })
	t.Run("FindKeepsArrivalOrder", func(t *testing.T) { findKeepsArrivalOrder(t, newRepo(t)) })
	t.Run("UnknownID", func(t *testing.T) { unknownID(t, newRepo(t)) })
	t.Run("ListIfHasAll", func(t *testing.T) { listIfHasAll(t, newRepo(t)) })
	t.Run("MarkReadyOnce", func(t *testing.T) { markReadyOnce(t, newRepo(t)) })
	t.Run("MarkReadyConcurrent", func(t *testing.T) { markReadyConcurrent(t, newRepo(t)) })
	t.Run("DeleteThenSave", func(t *testing.T) { deleteThenSave(t, newRepo(t)) })
	t.Run("Sweep", func(t *testing.T) { sweep(t, newRepo(t)) })
}

func save(t *testing.T, repo aggregation.Repository, id uuid.UUID, payloads ...string) {
	t.Helper()
	for _, p := range payloads {
		if err := repo.Save(context.Background(), id, domain.PartialResult(p)); err != nil {
			t.Fatalf("Save: %v", err)
		}
	}
}

func strs(in []domain.PartialResult) []string {
	out := make([]string, len(in))
	for i, p := range in {
		out[i] = string(p)
	}
	return out
}

func countAfterSaves(t *testing.T, repo aggregation.Repository) {
	id := uuid.New()
	for k := 1; k <= 4; k++ {
		save(t, repo, id, fmt.Sprintf("p%d", k))
		n, err := repo.Count(context.Background(), id)
		if err != nil {
			t.Fatalf("Count: %v", err)
		}
		if n != k {
			t.Fatalf("count: want=%d got=%d", k, n)
		}
	}
}

func findKeepsArrivalOrder(t *testing.T, repo aggregation.Repository) {
	id, other := uuid.New(), uuid.New()
	save(t, repo, id, "c")
	save(t, repo, other, "x")
	save(t, repo, id, "a", "b")
	got, err := repo.Find(context.Background(), id)
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if diff := cmp.Diff([]string{"c", "a", "b"}, strs(got)); diff != "" {
		t.Fatalf("Find mismatch (-want +got):\n%s", diff)
	}
}

func unknownID(t *testing.T, repo aggregation.Repository) {
	ctx := context.Background()
	id := uuid.New()
	if n, err := repo.Count(ctx, id); err != nil || n != 0 {
		t.Fatalf("Count: n=%d err=%v", n, err)
	}
	if got, err := repo.Find(ctx, id); err != nil || len(got) != 0 {
		t.Fatalf("Find: got=%v err=%v", got, err)
	}
	if _, ok, err := repo.MarkReady(ctx, id, 1); err != nil || ok {
		t.Fatalf("MarkReady: ok=%v err=%v", ok, err)
	}
	if err := repo.Delete(ctx, id); err != nil {
		t.Fatalf("Delete: %v", err)
	}
}

func listIfHasAll(t *testing.T, repo aggregation.Repository) {
	ctx := context.Background()
	id := uuid.New()
	save(t, repo, id, "a", "b")
	if _, ok, err := repo.ListIfHasAll(ctx, id, 3); err != nil || ok {
		t.Fatalf("2 of 3: ok=%v err=%v", ok, err)
	}
	save(t, repo, id, "c")
	got, ok, err := repo.ListIfHasAll(ctx, id, 3)
	if err != nil || !ok {
		t.Fatalf("3 of 3: ok=%v err=%v", ok, err)
	}
	if diff := cmp.Diff([]string{"a", "b", "c"}, strs(got)); diff != "" {
		t.Fatalf("ListIfHasAll mismatch (-want +got):\n%s", diff)
	}
}

func markReadyOnce(t *testing.T, repo aggregation.Repository) {
	ctx := context.Background()
	id := uuid.New()
	save(t, repo, id, "a")
	if _, ok, _ := repo.MarkReady(ctx, id, 2); ok {
		t.Fatalf("ready before count reached")
	}
	save(t, repo, id, "b")
	got, ok, err := repo.MarkReady(ctx, id, 2)
	if err != nil || !ok {
		t.Fatalf("MarkReady: ok=%v err=%v", ok, err)
	}
	if len(got) != 2 {
		t.Fatalf("snapshot: want=2 got=%d", len(got))
	}
	save(t, repo, id, "dup")
	if _, ok, _ := repo.MarkReady(ctx, id, 2); ok {
		t.Fatalf("ready flag handed out twice")
	}
}

func markReadyConcurrent(t *testing.T, repo aggregation.Repository) {
	ctx := context.Background()
	id := uuid.New()
	save(t, repo, id, "a", "b", "c")
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
		errs []error
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, ok, err := repo.MarkReady(ctx, id, 3)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
			}
			if ok {
				wins++
			}
		}()
	}
	wg.Wait()
	if len(errs) > 0 {
		t.Fatalf("MarkReady errors: %v", errs)
	}
	if wins != 1 {
		t.Fatalf("wins: want=1 got=%d", wins)
	}
}

func deleteThenSave(t *testing.T, repo aggregation.Repository) {
	ctx := context.Background()
	id := uuid.New()
	save(t, repo, id, "a", "b")
	if _, ok, _ := repo.MarkReady(ctx, id, 2); !ok {
		t.Fatalf("MarkReady before delete")
	}
	if err := repo.Delete(ctx, id); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if n, _ := repo.Count(ctx, id); n != 0 {
		t.Fatalf("count after delete: %d", n)
	}
	// a straggler lands in a fresh record with a fresh ready flag
	save(t, repo, id, "late")
	if n, _ := repo.Count(ctx, id); n != 1 {
		t.Fatalf("count after straggler: want=1 got=%d", n)
	}
	if _, ok, _ := repo.MarkReady(ctx, id, 2); ok {
		t.Fatalf("orphan became ready")
	}
}

func sweep(t *testing.T, repo aggregation.Repository) {
	ctx := context.Background()
	id := uuid.New()
	save(t, repo, id, "a")
	n, err := repo.Sweep(ctx, time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if c, _ := repo.Count(ctx, id); c != 1 {
		t.Fatalf("young record swept (n=%d)", n)
	}
	if _, err := repo.Sweep(ctx, time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if c, _ := repo.Count(ctx, id); c != 0 {
		t.Fatalf("old record survived sweep")
	}
}
