package engine

import (
	"context"
	"iter"
	"sync"

	"github.com/flashkv/flashkv/bloom"
)

// BloomEngine is the Bloom-wrapped engine (C8): a decorator over any
// Engine that short-circuits negative lookups using a probabilistic
// membership filter, avoiding a disk scan (or index miss) for keys that
// were never written. A filter hit still falls through to the wrapped
// engine, since the filter can false-positive but never false-negative.
type BloomEngine struct {
	mu     sync.RWMutex
	inner  Engine
	filter *bloom.Filter
}

// NewBloomEngine wraps inner with a filter sized from the expected
// element count and target false-positive rate.
func NewBloomEngine(inner Engine, expectedElements uint, falsePositiveRate float64) *BloomEngine {
	return &BloomEngine{inner: inner, filter: bloom.NewWithEstimates(expectedElements, falsePositiveRate)}
}

// NewBloomEngineWithFilter wraps inner with an already-constructed filter,
// letting callers share explicit (m,k) parameters across engines.
func NewBloomEngineWithFilter(inner Engine, filter *bloom.Filter) *BloomEngine {
	return &BloomEngine{inner: inner, filter: filter}
}

// Set forwards to the wrapped engine, then records key in the filter.
// The filter is updated only after the write succeeds, so a failed Set
// never makes a key falsely appear present.
func (e *BloomEngine) Set(ctx context.Context, key string, value []byte) error {
	if err := e.inner.Set(ctx, key, value); err != nil {
		return err
	}
	e.mu.Lock()
	e.filter.Add([]byte(key))
	e.mu.Unlock()
	return nil
}

// TryGet short-circuits to (nil, false, nil) when the filter reports key
// as definitely absent, skipping the wrapped engine entirely.
func (e *BloomEngine) TryGet(ctx context.Context, key string) ([]byte, bool, error) {
	e.mu.RLock()
	maybe := e.filter.MightContain([]byte(key))
	e.mu.RUnlock()
	if !maybe {
		return nil, false, nil
	}
	return e.inner.TryGet(ctx, key)
}

// Contains applies the same short-circuit as TryGet.
func (e *BloomEngine) Contains(ctx context.Context, key string) (bool, error) {
	e.mu.RLock()
	maybe := e.filter.MightContain([]byte(key))
	e.mu.RUnlock()
	if !maybe {
		return false, nil
	}
	return e.inner.Contains(ctx, key)
}

// Remove forwards to the wrapped engine without touching the filter:
// removing a key from the filter would risk false negatives for other
// keys that hash to the same bits, so the filter is left to over-report
// until the next Compact rebuilds it.
func (e *BloomEngine) Remove(ctx context.Context, key string) error {
	return e.inner.Remove(ctx, key)
}

// Clear forwards to the wrapped engine then empties the filter.
func (e *BloomEngine) Clear(ctx context.Context) error {
	if err := e.inner.Clear(ctx); err != nil {
		return err
	}
	e.mu.Lock()
	e.filter.Clear()
	e.mu.Unlock()
	return nil
}

// SetBulk forwards to the wrapped engine then adds every item's key to
// the filter.
func (e *BloomEngine) SetBulk(ctx context.Context, items []Record) error {
	if err := e.inner.SetBulk(ctx, items); err != nil {
		return err
	}
	e.mu.Lock()
	for _, it := range items {
		e.filter.Add([]byte(it.Key))
	}
	e.mu.Unlock()
	return nil
}

// GetAll forwards to the wrapped engine unfiltered.
func (e *BloomEngine) GetAll() iter.Seq2[Record, error] {
	return e.inner.GetAll()
}

// Compact forwards to the wrapped engine, then rebuilds the filter from
// the post-compaction record set so stale keys dropped by compaction
// stop occupying bits.
func (e *BloomEngine) Compact(ctx context.Context) error {
	if err := e.inner.Compact(ctx); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.filter.Clear()
	for rec, err := range e.inner.GetAll() {
		if err != nil {
			return err
		}
		e.filter.Add([]byte(rec.Key))
	}
	return nil
}

// Close forwards to the wrapped engine.
func (e *BloomEngine) Close() error {
	return e.inner.Close()
}

// Size forwards to the wrapped engine if it reports one, so a
// BloomEngine-wrapped segment still rotates on size the same as a bare
// one. Returns 0 if the wrapped engine doesn't track size.
func (e *BloomEngine) Size() (int64, error) {
	if sz, ok := e.inner.(interface{ Size() (int64, error) }); ok {
		return sz.Size()
	}
	return 0, nil
}

// Path forwards to the wrapped engine if it has an on-disk path, so a
// BloomEngine-wrapped segment can still be located and removed after a
// compaction. Returns "" if the wrapped engine has none.
func (e *BloomEngine) Path() string {
	if p, ok := e.inner.(interface{ Path() string }); ok {
		return p.Path()
	}
	return ""
}
