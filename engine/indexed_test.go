package engine

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/flashkv/flashkv/kverr"
)

func newTestIndexedEngine(t *testing.T) (*IndexedEngine, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "segment.log")
	e, err := NewIndexedEngine(path)
	if err != nil {
		t.Fatal(err)
	}
	return e, path
}

func TestIndexedEngineSetGet(t *testing.T) {
	ctx := context.Background()
	e, _ := newTestIndexedEngine(t)

	if err := e.Set(ctx, "42", []byte("San Francisco")); err != nil {
		t.Fatal(err)
	}

	v, ok, err := e.TryGet(ctx, "42")
	if err != nil {
		t.Fatal(err)
	}
	if !ok || string(v) != "San Francisco" {
		t.Fatalf("expected (San Francisco,true), got (%s,%v)", v, ok)
	}
}

func TestIndexedEngineOverwrite(t *testing.T) {
	ctx := context.Background()
	e, _ := newTestIndexedEngine(t)

	if err := e.Set(ctx, "42", []byte("SF:GoldenGate")); err != nil {
		t.Fatal(err)
	}
	if err := e.Set(ctx, "42", []byte("SF:Exploratorium")); err != nil {
		t.Fatal(err)
	}

	v, ok, err := e.TryGet(ctx, "42")
	if err != nil || !ok || string(v) != "SF:Exploratorium" {
		t.Fatalf("expected latest value, got (%s,%v,%v)", v, ok, err)
	}
}

func TestIndexedEngineRecoversIndexOnReopen(t *testing.T) {
	ctx := context.Background()
	e, path := newTestIndexedEngine(t)

	if err := e.Set(ctx, "a", []byte("1")); err != nil {
		t.Fatal(err)
	}
	if err := e.Set(ctx, "b", []byte("2")); err != nil {
		t.Fatal(err)
	}

	reopened, err := NewIndexedEngine(path)
	if err != nil {
		t.Fatal(err)
	}

	v, ok, err := reopened.TryGet(ctx, "b")
	if err != nil || !ok || string(v) != "2" {
		t.Fatalf("expected recovered index to find b=2, got (%s,%v,%v)", v, ok, err)
	}
}

func TestIndexedEngineCompact(t *testing.T) {
	ctx := context.Background()
	e, _ := newTestIndexedEngine(t)

	if err := e.Set(ctx, "42", []byte("old")); err != nil {
		t.Fatal(err)
	}
	if err := e.Set(ctx, "42", []byte("new")); err != nil {
		t.Fatal(err)
	}
	if err := e.Set(ctx, "7", []byte("seven")); err != nil {
		t.Fatal(err)
	}

	if err := e.Compact(ctx); err != nil {
		t.Fatal(err)
	}

	v, ok, err := e.TryGet(ctx, "42")
	if err != nil || !ok || string(v) != "new" {
		t.Fatalf("expected new after compaction, got (%s,%v,%v)", v, ok, err)
	}

	count := 0
	for range e.GetAll() {
		count++
	}
	if count != 2 {
		t.Fatalf("expected 2 records post-compaction, got %d", count)
	}
}

func TestIndexedEngineCompactOrdersByLastWrite(t *testing.T) {
	ctx := context.Background()
	e, _ := newTestIndexedEngine(t)

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

func TestIndexedEngineSetBulkKeepsIndexCoherent(t *testing.T) {
	ctx := context.Background()
	e, _ := newTestIndexedEngine(t)

	if err := e.Set(ctx, "stale", []byte("x")); err != nil {
		t.Fatal(err)
	}

	if err := e.SetBulk(ctx, []Record{{Key: "a", Value: []byte("1")}, {Key: "b", Value: []byte("2")}}); err != nil {
		t.Fatal(err)
	}

	if _, ok, err := e.TryGet(ctx, "stale"); err != nil || ok {
		t.Fatalf("expected stale key gone after SetBulk, ok=%v err=%v", ok, err)
	}

	v, ok, err := e.TryGet(ctx, "b")
	if err != nil || !ok || string(v) != "2" {
		t.Fatalf("expected (2,true), got (%s,%v,%v)", v, ok, err)
	}
}

func TestIndexedEngineRemoveUnsupported(t *testing.T) {
	e, _ := newTestIndexedEngine(t)
	if err := e.Remove(context.Background(), "1"); !errors.Is(err, kverr.ErrUnsupported) {
		t.Fatalf("expected ErrUnsupported, got %v", err)
	}
}
