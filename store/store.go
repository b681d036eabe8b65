// Package store assembles the write-ahead log (C10), the MemTable (C6),
// and the log-segmented engine (C9, optionally Bloom-wrapped per C8)
// into the facade a caller actually opens: Put, Get, Delete, Close.
// Grounded on the teacher's root-level main.go DB interface, generalized
// from a stub into a working implementation the way ignite's top-level
// engine type wires storage, index and WAL together behind one Config.
package store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"sync"

	"go.uber.org/zap"

	"github.com/flashkv/flashkv/engine"
	"github.com/flashkv/flashkv/kverr"
	"github.com/flashkv/flashkv/memtable"
	"github.com/flashkv/flashkv/sst"
	"github.com/flashkv/flashkv/wal"
)

var sstFileNamePattern = regexp.MustCompile(`^segment-(\d+)\.sst$`)

// DB is the facade's public contract: exactly what the teacher's
// root-level main.go named, now backed by a working implementation
// instead of an empty main().
type DB interface {
	Put(ctx context.Context, key string, value []byte) error
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Delete(ctx context.Context, key string) error
	Compact(ctx context.Context) error
	Close() error
}

// Store is the embedded key-value engine: every Put/Delete is appended
// to the WAL and applied to the MemTable; once the MemTable reaches
// capacity it is flushed through an sst.Writer (C11) into a new sealed
// segment-NNNN.sst file and the WAL is reset. Get consults the MemTable
// first, then the live segmented engine, then the sealed SSTables
// newest first.
type Store struct {
	mu         sync.RWMutex
	dir        string
	opts       *Options
	log        *zap.SugaredLogger
	wal        *wal.WALWriter
	mem        memtable.Memtable[string, []byte]
	segments   *engine.SegmentedEngine
	sstReaders []*sst.Reader // newest last
	nextSSTID  int
	closed     bool
}

// Open opens (creating if absent) a store rooted at dir: a WAL file,
// a memtable rebuilt by replaying it, and a directory of segments.
func Open(dir string, opts ...Option) (*Store, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}

	logger := o.logger
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	segments, err := engine.NewSegmentedEngine(
		dir,
		engine.WithMaxSegmentSize(o.maxSegmentSize),
		engine.WithLogFileExt(o.logFileExt),
		engine.WithSegmentFactory(o.segmentFactory()),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to open segmented engine: %w", err)
	}

	walWriter, err := wal.NewWALWriter(o.walBuffer, dir)
	if err != nil {
		return nil, fmt.Errorf("failed to open write-ahead log: %w", err)
	}

	mem := memtable.New[string, []byte](o.memtableMaxSize)

	s := &Store{
		dir:      dir,
		opts:     o,
		log:      logger,
		wal:      walWriter,
		mem:      mem,
		segments: segments,
	}

	if err := s.openSSTReaders(); err != nil {
		walWriter.Close()
		segments.Close()
		return nil, fmt.Errorf("failed to open sealed segments: %w", err)
	}

	if err := s.replayWAL(); err != nil {
		walWriter.Close()
		segments.Close()
		s.closeSSTReaders()
		return nil, fmt.Errorf("failed to replay write-ahead log: %w", err)
	}

	return s, nil
}

// openSSTReaders opens an sst.Reader for every sealed segment-NNNN.sst
// file already in dir, oldest first, and records the next free ID so a
// later flush doesn't collide with one already on disk.
func (s *Store) openSSTReaders() error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}

	type found struct {
		id   int
		path string
	}
	var files []found
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		matches := sstFileNamePattern.FindStringSubmatch(entry.Name())
		if len(matches) != 2 {
			continue
		}
		id, err := strconv.Atoi(matches[1])
		if err != nil {
			continue
		}
		files = append(files, found{id: id, path: filepath.Join(s.dir, entry.Name())})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].id < files[j].id })

	for _, f := range files {
		reader, err := sst.NewReader(f.path)
		if err != nil {
			return err
		}
		s.sstReaders = append(s.sstReaders, reader)
		if f.id >= s.nextSSTID {
			s.nextSSTID = f.id + 1
		}
	}
	return nil
}

func (s *Store) closeSSTReaders() {
	for _, r := range s.sstReaders {
		_ = r.Close()
	}
}

// replayWAL rebuilds the MemTable from whatever the WAL still holds,
// i.e. writes durable on disk but not yet known to have reached a
// segment. A store that was closed cleanly leaves an empty WAL (Close
// flushes then Resets it), so this is a no-op on a clean restart.
func (s *Store) replayWAL() error {
	reader, err := wal.NewWALReader(s.dir)
	if err != nil {
		return err
	}
	defer reader.Close()

	count := 0
	for record, err := range reader.Iter() {
		if err != nil {
			return err
		}
		if err := s.mem.Set(string(record.Key()), record.Value()); err != nil {
			return err
		}
		count++
	}

	if count > 0 {
		s.log.Infow("replayed write-ahead log", "records", count)
	}
	return nil
}

// encodeValue prepends a one-byte tombstone flag to data, the same
// leading-type-byte convention the WAL record format itself uses. The
// engine and SSTable layers below never interpret this byte; they are
// oblivious to delete semantics by design, per C3/C5's Remove always
// returning kverr.ErrUnsupported.
func encodeValue(tombstone bool, data []byte) []byte {
	buf := make([]byte, 1+len(data))
	if tombstone {
		buf[0] = 1
	}
	copy(buf[1:], data)
	return buf
}

func decodeValue(raw []byte) (data []byte, tombstone bool) {
	if len(raw) == 0 {
		return nil, false
	}
	return raw[1:], raw[0] == 1
}

// Put durably records key=value: first to the WAL (fsynced before Put
// returns), then into the MemTable, flushing it to a new segment first
// if it has reached capacity.
func (s *Store) Put(ctx context.Context, key string, value []byte) error {
	if key == "" {
		return kverr.ErrInvalidArgument
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return kverr.ErrClosed
	}

	encoded := encodeValue(false, value)

	if s.mem.IsFull() && !s.mem.Contains(key) {
		if err := s.flushLocked(ctx); err != nil {
			return err
		}
	}

	if err := s.wal.Write(wal.NewLog(wal.OperationPut, []byte(key), encoded)); err != nil {
		return err
	}
	return s.mem.Set(key, encoded)
}

// Delete records a tombstone for key, the same durability path as Put.
// A subsequent Get on key reports not-found regardless of what value an
// older, already-flushed segment holds for it.
func (s *Store) Delete(ctx context.Context, key string) error {
	if key == "" {
		return kverr.ErrInvalidArgument
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return kverr.ErrClosed
	}

	encoded := encodeValue(true, nil)

	if s.mem.IsFull() && !s.mem.Contains(key) {
		if err := s.flushLocked(ctx); err != nil {
			return err
		}
	}

	if err := s.wal.Write(wal.NewLog(wal.OperationDelete, []byte(key), encoded)); err != nil {
		return err
	}
	return s.mem.Set(key, encoded)
}

// Get consults the MemTable first (the most recent state), falling
// through to the segmented engine on a miss.
func (s *Store) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, false, kverr.ErrClosed
	}

	if raw, ok := s.mem.TryGet(key); ok {
		data, tombstone := decodeValue(raw)
		if tombstone {
			return nil, false, nil
		}
		return data, true, nil
	}

	if raw, ok, err := s.segments.TryGet(ctx, key); err != nil {
		return nil, false, err
	} else if ok {
		data, tombstone := decodeValue(raw)
		if tombstone {
			return nil, false, nil
		}
		return data, true, nil
	}

	for i := len(s.sstReaders) - 1; i >= 0; i-- {
		raw, ok, err := s.sstReaders[i].Get([]byte(key))
		if err != nil {
			return nil, false, err
		}
		if ok {
			data, tombstone := decodeValue(raw)
			if tombstone {
				return nil, false, nil
			}
			return data, true, nil
		}
	}
	return nil, false, nil
}

// Compact compacts the live segmented engine tier, keeping only the
// latest record (live value or tombstone) per key. Sealed
// segment-NNNN.sst files are not merged or rewritten.
func (s *Store) Compact(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return kverr.ErrClosed
	}
	return s.segments.Compact(ctx)
}

// sstPath returns the path a sealed segment with the given ID would be
// written to.
func (s *Store) sstPath(id int) string {
	return filepath.Join(s.dir, fmt.Sprintf("segment-%04d.sst", id))
}

// flushLocked drains the MemTable, in sorted key order, through an
// sst.Writer into a new sealed segment-NNNN.sst file, opens a reader
// for it, and resets the WAL. Every entry is written with
// sst.OperationPut since MemTable values are already tombstone-enveloped
// at this layer (see encodeValue/decodeValue); sst itself never learns
// about deletes. Caller must hold s.mu for writing.
func (s *Store) flushLocked(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.mem.Len() == 0 {
		return nil
	}

	path := s.sstPath(s.nextSSTID)
	w, err := sst.NewDiskSSTWriter(path)
	if err != nil {
		return fmt.Errorf("failed to create sst writer: %w", err)
	}

	count := 0
	for rec := range s.mem.GetAll() {
		if err := w.Write(sst.OperationPut, []byte(rec.Key), rec.Value); err != nil {
			_ = w.Close()
			return fmt.Errorf("failed to write sst entry: %w", err)
		}
		count++
	}

	if err := w.Flush(); err != nil {
		_ = w.Close()
		return fmt.Errorf("failed to flush sst writer: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to close sst writer: %w", err)
	}

	reader, err := sst.NewReader(path)
	if err != nil {
		return fmt.Errorf("failed to open flushed sst segment: %w", err)
	}
	s.sstReaders = append(s.sstReaders, reader)
	s.nextSSTID++

	s.mem.Clear()
	if err := s.wal.Reset(); err != nil {
		return fmt.Errorf("failed to reset write-ahead log after flush: %w", err)
	}

	s.log.Infow("flushed memtable", "records", count, "path", path)
	return nil
}

// Close flushes any remaining MemTable contents, then releases the WAL
// and segment file handles.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	var errs []error
	if err := s.flushLocked(context.Background()); err != nil {
		errs = append(errs, err)
	}
	if err := s.wal.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := s.segments.Close(); err != nil {
		errs = append(errs, err)
	}
	for _, r := range s.sstReaders {
		if err := r.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

var _ io.Closer = (*Store)(nil)
var _ DB = (*Store)(nil)
