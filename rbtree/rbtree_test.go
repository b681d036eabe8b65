package rbtree

import (
	"math/rand"
	"testing"
)

func TestEmptyTree(t *testing.T) {
	tr := New[int, string]()

	if tr.Len() != 0 {
		t.Fatalf("expected size 0, got %d", tr.Len())
	}

	if _, ok := tr.Get(1); ok {
		t.Fatalf("expected not found in empty tree")
	}
}

func TestPutAndGetSingle(t *testing.T) {
	tr := New[int, string]()
	tr.Set(10, "ten")

	val, ok := tr.Get(10)
	if !ok || val != "ten" {
		t.Fatalf("expected (ten,true), got (%v,%v)", val, ok)
	}
}

func TestUpdateExistingKey(t *testing.T) {
	tr := New[int, string]()
	tr.Set(1, "one")
	tr.Set(1, "uno")

	val, ok := tr.Get(1)
	if !ok || val != "uno" {
		t.Fatalf("update failed, got (%v,%v)", val, ok)
	}

	if tr.Len() != 1 {
		t.Fatalf("expected size 1, got %d", tr.Len())
	}
}

func TestIteratorOrdering(t *testing.T) {
	tr := New[int, int]()
	keys := []int{50, 10, 90, 30, 70, 20, 40, 60, 80, 5}
	for _, k := range keys {
		tr.Set(k, k*k)
	}

	prev := -1
	count := 0
	for rec := range tr.Iterator() {
		if rec.Key <= prev {
			t.Fatalf("iterator not strictly increasing: %d after %d", rec.Key, prev)
		}
		if rec.Value != rec.Key*rec.Key {
			t.Fatalf("wrong value for %d: got %d", rec.Key, rec.Value)
		}
		prev = rec.Key
		count++
	}

	if count != len(keys) {
		t.Fatalf("expected %d entries, got %d", len(keys), count)
	}
}

func invariantsHold[K Ordered, V any](t *testing.T, tr *Tree[K, V]) {
	t.Helper()
	if _, ok := tr.BlackHeight(); !ok {
		t.Fatalf("red-black invariants violated")
	}
}

func TestInvariantsHoldAfterRandomInserts(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	tr := New[int, int]()

	for i := 0; i < 2000; i++ {
		k := rng.Intn(500)
		tr.Set(k, k)
		invariantsHold(t, tr)
	}
}

func TestInvariantsHoldAfterSequentialInsert(t *testing.T) {
	tr := New[int, int]()
	for i := 0; i < 1000; i++ {
		tr.Set(i, i)
	}
	invariantsHold(t, tr)

	for i := 0; i < 1000; i++ {
		v, ok := tr.Get(i)
		if !ok || v != i {
			t.Fatalf("missing or wrong value for key %d: got %v, %v", i, v, ok)
		}
	}
}

func TestRemove(t *testing.T) {
	tr := New[int, string]()
	tr.Set(1, "a")
	tr.Set(2, "b")
	tr.Set(3, "c")

	if !tr.Remove(2) {
		t.Fatalf("expected key 2 to be removed")
	}
	if tr.Contains(2) {
		t.Fatalf("key 2 should be gone")
	}
	if tr.Len() != 2 {
		t.Fatalf("expected size 2, got %d", tr.Len())
	}
	if tr.Remove(2) {
		t.Fatalf("removing an absent key should report false")
	}

	invariantsHold(t, tr)
}

func TestInvariantsHoldAfterRandomInsertAndRemove(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	tr := New[int, int]()
	present := map[int]bool{}

	for i := 0; i < 3000; i++ {
		k := rng.Intn(300)
		if rng.Intn(3) == 0 && present[k] {
			tr.Remove(k)
			delete(present, k)
		} else {
			tr.Set(k, k)
			present[k] = true
		}
		invariantsHold(t, tr)
	}

	if tr.Len() != len(present) {
		t.Fatalf("expected size %d, got %d", len(present), tr.Len())
	}
}

func TestClear(t *testing.T) {
	tr := New[string, int]()
	tr.Set("a", 1)
	tr.Set("b", 2)
	tr.Clear()

	if tr.Len() != 0 {
		t.Fatalf("expected size 0 after clear, got %d", tr.Len())
	}
	if tr.Contains("a") {
		t.Fatalf("expected empty tree after clear")
	}

	count := 0
	for range tr.Iterator() {
		count++
	}
	if count != 0 {
		t.Fatalf("expected no entries after clear, got %d", count)
	}
}
