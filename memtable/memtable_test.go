package memtable

import (
	"errors"
	"testing"

	"github.com/flashkv/flashkv/kverr"
)

func TestEmptyMemtable(t *testing.T) {
	m := New[int, string](0)

	if m.Len() != 0 {
		t.Fatalf("expected size 0, got %d", m.Len())
	}

	if _, ok := m.TryGet(1); ok {
		t.Fatalf("expected not found in empty memtable")
	}
}

func TestSetAndGet(t *testing.T) {
	m := New[int, string](0)

	if err := m.Set(10, "ten"); err != nil {
		t.Fatal(err)
	}

	val, ok := m.TryGet(10)
	if !ok || val != "ten" {
		t.Fatalf("expected (ten,true), got (%v,%v)", val, ok)
	}
}

func TestUpdateExistingKeyDoesNotGrow(t *testing.T) {
	m := New[int, string](1)

	if err := m.Set(1, "one"); err != nil {
		t.Fatal(err)
	}
	if err := m.Set(1, "uno"); err != nil {
		t.Fatalf("update of existing key in a full table should succeed: %v", err)
	}

	val, ok := m.TryGet(1)
	if !ok || val != "uno" {
		t.Fatalf("update failed, got (%v,%v)", val, ok)
	}
}

func TestCapacityRejectsNewKeyWhenFull(t *testing.T) {
	m := New[int, string](1)

	if err := m.Set(1, "one"); err != nil {
		t.Fatal(err)
	}

	if !m.IsFull() {
		t.Fatalf("expected IsFull after reaching capacity")
	}

	err := m.Set(2, "two")
	if !errors.Is(err, kverr.ErrCapacity) {
		t.Fatalf("expected ErrCapacity, got %v", err)
	}
}

func TestRemoveUnsupported(t *testing.T) {
	m := New[int, string](0)
	m.Set(1, "one")

	if err := m.Remove(1); !errors.Is(err, kverr.ErrUnsupported) {
		t.Fatalf("expected ErrUnsupported, got %v", err)
	}
}

func TestClearResetsFullness(t *testing.T) {
	m := New[int, string](1)
	m.Set(1, "one")

	if !m.IsFull() {
		t.Fatalf("expected full")
	}

	m.Clear()

	if m.IsFull() {
		t.Fatalf("expected not full after clear")
	}
	if err := m.Set(2, "two"); err != nil {
		t.Fatalf("expected insert to succeed after clear: %v", err)
	}
}

func TestGetAllOrdering(t *testing.T) {
	m := New[int, int](0)
	keys := []int{5, 1, 4, 2, 3}
	for _, k := range keys {
		m.Set(k, k)
	}

	prev := -1
	count := 0
	for rec := range m.GetAll() {
		if rec.Key <= prev {
			t.Fatalf("not strictly increasing: %d after %d", rec.Key, prev)
		}
		prev = rec.Key
		count++
	}

	if count != len(keys) {
		t.Fatalf("expected %d records, got %d", len(keys), count)
	}
}
