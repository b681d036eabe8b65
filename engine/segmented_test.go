package engine

import (
	"context"
	"testing"
)

func TestSegmentedEngineSetGet(t *testing.T) {
	ctx := context.Background()
	e, err := NewSegmentedEngine(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	if err := e.Set(ctx, "42", []byte("San Francisco")); err != nil {
		t.Fatal(err)
	}

	v, ok, err := e.TryGet(ctx, "42")
	if err != nil || !ok || string(v) != "San Francisco" {
		t.Fatalf("expected (San Francisco,true), got (%s,%v,%v)", v, ok, err)
	}
}

func TestSegmentedEngineRollsOverOnSize(t *testing.T) {
	ctx := context.Background()
	e, err := NewSegmentedEngine(t.TempDir(), WithMaxSegmentSize(64))
	if err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 20; i++ {
		key := string(rune('a' + i%26))
		if err := e.Set(ctx, key, []byte("some reasonably sized value")); err != nil {
			t.Fatal(err)
		}
	}

	if len(e.segments) < 2 {
		t.Fatalf("expected rollover to produce multiple segments, got %d", len(e.segments))
	}
}

func TestSegmentedEngineNewerSegmentDominates(t *testing.T) {
	ctx := context.Background()
	e, err := NewSegmentedEngine(t.TempDir(), WithMaxSegmentSize(1))
	if err != nil {
		t.Fatal(err)
	}

	if err := e.Set(ctx, "k", []byte("old")); err != nil {
		t.Fatal(err)
	}
	if err := e.Set(ctx, "k", []byte("new")); err != nil {
		t.Fatal(err)
	}

	v, ok, err := e.TryGet(ctx, "k")
	if err != nil || !ok || string(v) != "new" {
		t.Fatalf("expected newest segment's value to dominate, got (%s,%v,%v)", v, ok, err)
	}
}

func TestSegmentedEngineCompactMergesAcrossSegments(t *testing.T) {
	ctx := context.Background()
	e, err := NewSegmentedEngine(t.TempDir(), WithMaxSegmentSize(1))
	if err != nil {
		t.Fatal(err)
	}

	if err := e.Set(ctx, "a", []byte("1")); err != nil {
		t.Fatal(err)
	}
	if err := e.Set(ctx, "a", []byte("2")); err != nil {
		t.Fatal(err)
	}
	if err := e.Set(ctx, "b", []byte("3")); err != nil {
		t.Fatal(err)
	}

	if err := e.Compact(ctx); err != nil {
		t.Fatal(err)
	}

	if len(e.segments) != 1 {
		t.Fatalf("expected a single merged segment, got %d", len(e.segments))
	}

	v, ok, err := e.TryGet(ctx, "a")
	if err != nil || !ok || string(v) != "2" {
		t.Fatalf("expected (2,true) for a, got (%s,%v,%v)", v, ok, err)
	}
	v, ok, err = e.TryGet(ctx, "b")
	if err != nil || !ok || string(v) != "3" {
		t.Fatalf("expected (3,true) for b, got (%s,%v,%v)", v, ok, err)
	}
}

func TestSegmentedEngineCompactOrdersByLastWrite(t *testing.T) {
	ctx := context.Background()
	e, err := NewSegmentedEngine(t.TempDir(), WithMaxSegmentSize(1))
	if err != nil {
		t.Fatal(err)
	}

	if err := e.Set(ctx, "a", []byte("1")); err != nil {
		t.Fatal(err)
	}
	if err := e.Set(ctx, "b", []byte("2")); err != nil {
		t.Fatal(err)
	}
	if err := e.Set(ctx, "a", []byte("3")); err != nil {
		t.Fatal(err)
	}

	if err := e.Compact(ctx); err != nil {
		t.Fatal(err)
	}

	var keys []string
	for rec, err := range e.GetAll() {
		if err != nil {
			t.Fatal(err)
		}
		keys = append(keys, rec.Key)
	}

	want := []string{"b", "a"}
	if len(keys) != len(want) || keys[0] != want[0] || keys[1] != want[1] {
		t.Fatalf("expected order %v (a's last write moves it after b), got %v", want, keys)
	}
}

func TestSegmentedEngineReopenRecoversSegments(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	e, err := NewSegmentedEngine(dir, WithMaxSegmentSize(1))
	if err != nil {
		t.Fatal(err)
	}
	if err := e.Set(ctx, "a", []byte("1")); err != nil {
		t.Fatal(err)
	}
	if err := e.Set(ctx, "b", []byte("2")); err != nil {
		t.Fatal(err)
	}

	reopened, err := NewSegmentedEngine(dir, WithMaxSegmentSize(1))
	if err != nil {
		t.Fatal(err)
	}

	v, ok, err := reopened.TryGet(ctx, "b")
	if err != nil || !ok || string(v) != "2" {
		t.Fatalf("expected recovered segments to find b=2, got (%s,%v,%v)", v, ok, err)
	}
}

func TestSegmentedEngineRemoveUnsupported(t *testing.T) {
	e, err := NewSegmentedEngine(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if err := e.Remove(context.Background(), "k"); err == nil {
		t.Fatal("expected Remove to fail")
	}
}
