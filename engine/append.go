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

// AppendEngine is the append-only segment engine (C3): durable append,
// linear-scan read with keep-latest-at-read-time semantics, and
// rewrite-based compaction. It has no offset index of its own, so every
// TryGet/Contains/GetAll call scans the file from the start; IndexedEngine
// layers the missing O(log n) point lookups on top of it.
type AppendEngine struct {
	mu   sync.RWMutex
	file *storagefile.File
}

// NewAppendEngine opens (creating if absent) the segment file at path.
func NewAppendEngine(path string) (*AppendEngine, error) {
	f, err := storagefile.New(path)
	if err != nil {
		return nil, err
	}
	if err := f.Create(context.Background(), storagefile.DoNothingIfExists); err != nil {
		return nil, err
	}
	return &AppendEngine{file: f}, nil
}

// Path returns the underlying segment file's path.
func (e *AppendEngine) Path() string {
	return e.file.Path()
}

// Size reports the current on-disk size of the segment.
func (e *AppendEngine) Size() (int64, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.file.Size()
}

// Set appends one encoded record and fsyncs before returning.
func (e *AppendEngine) Set(ctx context.Context, key string, value []byte) error {
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

	if err := codec.Write(fh, []byte(key), value); err != nil {
		return kverr.IO(e.file.Path(), err)
	}
	return fh.Sync()
}

// scan streams every record in the file from the start, invoking fn with
// the absolute byte offset at which each record began (for corruption
// reporting) until fn returns false or the file is exhausted.
func (e *AppendEngine) scan(ctx context.Context, fn func(offset int64, key string, value []byte) bool) error {
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

		if !fn(offset, string(key), value) {
			return nil
		}
	}
}

// TryGet performs a full linear scan; the last matching record wins.
func (e *AppendEngine) TryGet(ctx context.Context, key string) ([]byte, bool, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	var (
		found bool
		value []byte
	)

	err := e.scan(ctx, func(_ int64, k string, v []byte) bool {
		if k == key {
			found = true
			value = v
		}
		return true
	})
	if err != nil {
		return nil, false, err
	}
	return value, found, nil
}

// Contains reports whether key is present under keep-latest semantics.
func (e *AppendEngine) Contains(ctx context.Context, key string) (bool, error) {
	_, ok, err := e.TryGet(ctx, key)
	return ok, err
}

// Remove always fails: the append-only engine has no tombstone concept.
func (e *AppendEngine) Remove(ctx context.Context, key string) error {
	return kverr.ErrUnsupported
}

// Clear truncates the segment file to empty.
func (e *AppendEngine) Clear(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.file.Create(ctx, storagefile.Overwrite)
}

// SetBulk replaces the file's entire contents with the encoded items in
// one atomic write. This is a replace, not an append: it is intended for
// initial bulk load.
func (e *AppendEngine) SetBulk(ctx context.Context, items []Record) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	var buf bytes.Buffer
	for _, it := range items {
		if err := codec.Write(&buf, []byte(it.Key), it.Value); err != nil {
			return err
		}
	}
	return e.file.WriteAll(ctx, buf.Bytes())
}

// GetAll yields every record ever Set and not subsequently compacted, in
// insertion order, including stale duplicates of overwritten keys.
func (e *AppendEngine) GetAll() iter.Seq2[Record, error] {
	return func(yield func(Record, error) bool) {
		e.mu.RLock()
		defer e.mu.RUnlock()

		err := e.scan(context.Background(), func(_ int64, k string, v []byte) bool {
			return yield(Record{Key: k, Value: v}, nil)
		})
		if err != nil {
			yield(Record{}, err)
		}
	}
}

// Compact rewrites the segment keeping only the latest value per key,
// preserving the order of each key's latest occurrence (not its first).
// The rewrite goes through the same atomic WriteAll (tmp file, then
// rename) that SetBulk uses, so a crash mid-compact leaves the original
// file intact.
func (e *AppendEngine) Compact(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	// First pass: find the position and value of each key's last
	// occurrence across the whole file.
	lastPos := map[string]int{}
	latestValue := map[string][]byte{}
	pos := 0
	err := e.scan(ctx, func(_ int64, k string, v []byte) bool {
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
	err = e.scan(ctx, func(_ int64, k string, _ []byte) bool {
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
	return e.file.WriteAll(ctx, buf.Bytes())
}

// Close is a no-op: AppendEngine opens a fresh *os.File per operation and
// never holds one open between calls.
func (e *AppendEngine) Close() error {
	return nil
}
