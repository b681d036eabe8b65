package engine

import (
	"bytes"
	"context"
	"io"
	"iter"
	"sync"

	"github.com/flashkv/flashkv/codec"
	"github.com/flashkv/flashkv/kverr"
	"github.com/flashkv/flashkv/storagefile"
)

// IndexedEngine is the indexed append engine (C5): C3's durable append
// plus C4's offset index, giving O(log n) point reads instead of a full
// linear scan. The index is never persisted; it is rebuilt by scanning
// the segment file on every open, which both bootstraps a fresh engine
// and repairs the "index update failed after a successful file write"
// inconsistency the design calls out, since a full rescan is a superset
// of a tail-only repair.
type IndexedEngine struct {
	mu    sync.RWMutex
	file  *storagefile.File
	index *offsetIndex
}

// NewIndexedEngine opens (creating if absent) the segment file at path
// and rebuilds its offset index by scanning it.
func NewIndexedEngine(path string) (*IndexedEngine, error) {
	f, err := storagefile.New(path)
	if err != nil {
		return nil, err
	}
	if err := f.Create(context.Background(), storagefile.DoNothingIfExists); err != nil {
		return nil, err
	}

	e := &IndexedEngine{file: f, index: newOffsetIndex()}
	if err := e.rebuildIndex(context.Background()); err != nil {
		return nil, err
	}
	return e, nil
}

// Path returns the underlying segment file's path.
func (e *IndexedEngine) Path() string {
	return e.file.Path()
}

// Size reports the current on-disk size of the segment.
func (e *IndexedEngine) Size() (int64, error) {
	return e.file.Size()
}

func (e *IndexedEngine) rebuildIndex(ctx context.Context) error {
	e.index.clear()
	return e.scan(ctx, func(offset int64, key string, _ []byte, length int) bool {
		e.index.set(key, FileLocation{Offset: uint64(offset), Length: uint32(length)})
		return true
	})
}

func (e *IndexedEngine) scan(ctx context.Context, fn func(offset int64, key string, value []byte, length int) bool) error {
	fh, err := e.file.Open(ctx, storagefile.ReadMode)
	if err != nil {
		return err
	}
	defer fh.Close()

	for {
		offset, err := fh.Seek(0, io.SeekCurrent)
		if err != nil {
			return kverr.IO(e.file.Path(), err)
		}

		key, value, err := codec.Read(fh)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return kverr.Corruptf(offset, "%v", err)
		}

		after, err := fh.Seek(0, io.SeekCurrent)
		if err != nil {
			return kverr.IO(e.file.Path(), err)
		}

		if !fn(offset, string(key), value, int(after-offset)) {
			return nil
		}
	}
}

// Set appends a record then updates the index. A codec write failure
// leaves the index unchanged; the index is only touched once the write
// and its fsync have both succeeded.
func (e *IndexedEngine) Set(ctx context.Context, key string, value []byte) error {
	if key == "" {
		return kverr.ErrInvalidArgument
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	fh, err := e.file.Open(ctx, storagefile.AppendMode)
	if err != nil {
		return err
	}
	defer fh.Close()

	offset, err := fh.Seek(0, io.SeekEnd)
	if err != nil {
		return kverr.IO(e.file.Path(), err)
	}

	if err := codec.Write(fh, []byte(key), value); err != nil {
		return kverr.IO(e.file.Path(), err)
	}
	if err := fh.Sync(); err != nil {
		return kverr.IO(e.file.Path(), err)
	}

	length := codec.Size([]byte(key), value)
	e.index.set(key, FileLocation{Offset: uint64(offset), Length: uint32(length)})
	return nil
}

// TryGet consults the index; on a hit it reads exactly Length bytes at
// Offset and decodes them.
func (e *IndexedEngine) TryGet(ctx context.Context, key string) ([]byte, bool, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	loc, ok := e.index.tryGet(key)
	if !ok {
		return nil, false, nil
	}

	raw, err := e.file.ReadBytes(ctx, int64(loc.Offset), int(loc.Length))
	if err != nil {
		return nil, false, err
	}

	_, value, err := codec.Read(bytes.NewReader(raw))
	if err != nil {
		return nil, false, kverr.Corruptf(int64(loc.Offset), "%v", err)
	}
	return value, true, nil
}

// Contains reports whether key is present in the index.
func (e *IndexedEngine) Contains(ctx context.Context, key string) (bool, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.index.contains(key), nil
}

// Remove always fails: the underlying segment file has no tombstone
// concept to record a deletion with.
func (e *IndexedEngine) Remove(ctx context.Context, key string) error {
	return kverr.ErrUnsupported
}

// Clear truncates the segment file and empties the index together.
func (e *IndexedEngine) Clear(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.file.Create(ctx, storagefile.Overwrite); err != nil {
		return err
	}
	e.index.clear()
	return nil
}

// SetBulk is defined as clear-then-append-each-updating-the-index, per
// this module's resolution of the open question around SetBulk on an
// indexed engine: a raw file replace (as the plain append-only engine
// uses) would desync the index from the file, violating I1.
func (e *IndexedEngine) SetBulk(ctx context.Context, items []Record) error {
	e.mu.Lock()
	if err := e.file.Create(ctx, storagefile.Overwrite); err != nil {
		e.mu.Unlock()
		return err
	}
	e.index.clear()
	e.mu.Unlock()

	for _, it := range items {
		if err := e.Set(ctx, it.Key, it.Value); err != nil {
			return err
		}
	}
	return nil
}

// GetAll yields every record ever Set and not subsequently compacted, in
// insertion order, reading directly from the file rather than the index
// since the index holds only the latest location per key.
func (e *IndexedEngine) GetAll() iter.Seq2[Record, error] {
	return func(yield func(Record, error) bool) {
		e.mu.RLock()
		defer e.mu.RUnlock()

		err := e.scan(context.Background(), func(_ int64, k string, v []byte, _ int) bool {
			return yield(Record{Key: k, Value: v}, nil)
		})
		if err != nil {
			yield(Record{}, err)
		}
	}
}

// Compact rewrites the segment keeping only the latest value per key,
// preserving the order of each key's latest occurrence (not its first),
// then rebuilds the index from the rewritten file.
func (e *IndexedEngine) Compact(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	// First pass: find the position and value of each key's last
	// occurrence across the whole file.
	lastPos := map[string]int{}
	latestValue := map[string][]byte{}
	pos := 0
	err := e.scan(ctx, func(_ int64, k string, v []byte, _ int) bool {
		lastPos[k] = pos
		latestValue[k] = v
		pos++
		return true
	})
	if err != nil {
		return err
	}

	// Second pass: emit only each key's last occurrence, in the order
	// it was last written, so a key moved by a later write moves with
	// it instead of staying pinned to its first-seen slot.
	var ordered []Record
	pos = 0
	err = e.scan(ctx, func(_ int64, k string, _ []byte, _ int) bool {
		if lastPos[k] == pos {
			ordered = append(ordered, Record{Key: k, Value: latestValue[k]})
		}
		pos++
		return true
	})
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	for _, it := range ordered {
		if err := codec.Write(&buf, []byte(it.Key), it.Value); err != nil {
			return err
		}
	}
	if err := e.file.WriteAll(ctx, buf.Bytes()); err != nil {
		return err
	}

	return e.rebuildIndex(ctx)
}

// Close is a no-op: IndexedEngine opens a fresh *os.File per operation.
func (e *IndexedEngine) Close() error {
	return nil
}
