package item

import (
	"sync"
	"testing"
)

func TestCreateAllocatesSequentialIDs(t *testing.T) {
	s := New(t.TempDir())
	id1, err := s.Create("features", "Add rate limiter", "")
	if err != nil {
		t.Fatal(err)
	}
	id2, err := s.Create("features", "Add caching", "")
	if err != nil {
		t.Fatal(err)
	}
	if id1 != "features/001-add-rate-limiter" {
		t.Fatalf("unexpected id1: %s", id1)
	}
	if id2 != "features/002-add-caching" {
		t.Fatalf("unexpected id2: %s", id2)
	}
}

func TestCreateConcurrentUnique(t *testing.T) {
	s := New(t.TempDir())
	var wg sync.WaitGroup
	ids := make([]string, 8)
	errs := make([]error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id, err := s.Create("features", "concurrent item", "")
			ids[i] = id
			errs[i] = err
		}(i)
	}
	wg.Wait()

	seen := make(map[string]bool)
	for i, err := range errs {
		if err != nil {
			t.Fatalf("create %d failed: %v", i, err)
		}
		if seen[ids[i]] {
			t.Fatalf("duplicate id %q", ids[i])
		}
		seen[ids[i]] = true
	}
	if len(seen) != 8 {
		t.Fatalf("expected 8 unique ids, got %d", len(seen))
	}

	summaries, err := s.List(Filter{Section: "features"})
	if err != nil {
		t.Fatal(err)
	}
	if len(summaries) != 8 {
		t.Fatalf("expected 8 indexed items, got %d", len(summaries))
	}
}

func TestMutateIsAtomicAndPreservesPriorOnFailure(t *testing.T) {
	s := New(t.TempDir())
	id, err := s.Create("features", "demo", "")
	if err != nil {
		t.Fatal(err)
	}
	_, err = s.Mutate(id, func(it *Item) {
		it.State = StateResearching
	})
	if err != nil {
		t.Fatal(err)
	}
	got, err := s.Read(id)
	if err != nil {
		t.Fatal(err)
	}
	if got.State != StateResearching {
		t.Fatalf("expected state researching, got %s", got.State)
	}
}

func TestReadNotFound(t *testing.T) {
	s := New(t.TempDir())
	_, err := s.Read("features/999-nope")
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestReindexIsIdempotent(t *testing.T) {
	s := New(t.TempDir())
	for i := 0; i < 3; i++ {
		if _, err := s.Create("features", "item", ""); err != nil {
			t.Fatal(err)
		}
	}
	idx1, err := s.Reindex()
	if err != nil {
		t.Fatal(err)
	}
	idx2, err := s.Reindex()
	if err != nil {
		t.Fatal(err)
	}
	if len(idx1) != len(idx2) {
		t.Fatalf("reindex not idempotent: %d vs %d", len(idx1), len(idx2))
	}
}

func TestCreateBatchPublishesAtomically(t *testing.T) {
	s := New(t.TempDir())
	ids, err := s.CreateBatch("features", []struct{ Title, Overview string }{
		{Title: "one"}, {Title: "two"}, {Title: "three"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 3 {
		t.Fatalf("expected 3 ids, got %d", len(ids))
	}
	summaries, err := s.List(Filter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(summaries) != 3 {
		t.Fatalf("expected 3 indexed items, got %d", len(summaries))
	}
}
