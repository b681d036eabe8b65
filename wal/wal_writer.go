package wal

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
)

var ErrWALClosed = os.ErrClosed

// WalFileName is the WAL's fixed file name within a store directory.
const WalFileName = "WAL.log"

// WALWriter serializes concurrent writers onto a single background
// goroutine that appends to, and fsyncs, one open file handle. Grounded
// on the teacher's wal/wal_writer.go channel-based loop, restructured so
// Write blocks until its own record is durable instead of firing and
// forgetting, matching this module's synchronous durability contract.
type WALWriter struct {
	ch       chan *walRequest
	resetCh  chan *walResetRequest
	done     chan struct{}
	wg       sync.WaitGroup
	closed   atomic.Bool
	f        *os.File
}

type walRequest struct {
	log  *Log
	done chan error
}

type walResetRequest struct {
	done chan error
}

// NewWALWriter opens (creating if absent) dir/WAL.log for append and
// starts its background writer goroutine.
func NewWALWriter(buffer int, dir string) (*WALWriter, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	f, err := os.OpenFile(filepath.Join(dir, WalFileName), os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open WAL file: %w", err)
	}

	// Can't use O_APPEND: Encode seeks backward to patch in the CRC once
	// the record length is known, and O_APPEND forces every write back
	// to EOF regardless of the file's current seek position.
	if _, err := f.Seek(0, io.SeekEnd); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to seek to end of WAL file: %w", err)
	}

	w := &WALWriter{
		ch:      make(chan *walRequest, buffer),
		resetCh: make(chan *walResetRequest),
		done:    make(chan struct{}),
		f:       f,
	}

	w.wg.Add(1)
	go w.loop()
	return w, nil
}

// Write appends l and blocks until it has been fsynced, returning any
// encode/sync error to the caller.
func (w *WALWriter) Write(l *Log) error {
	if w.closed.Load() {
		return ErrWALClosed
	}

	req := &walRequest{log: l, done: make(chan error, 1)}
	select {
	case w.ch <- req:
		return <-req.done
	case <-w.done:
		return ErrWALClosed
	}
}

// Reset truncates the WAL to empty, run on the same background
// goroutine as every Write so it can never interleave with an
// in-flight encode. Callers use this once a MemTable flush has made the
// log's contents durable elsewhere and replaying it on the next open
// would be redundant.
func (w *WALWriter) Reset() error {
	if w.closed.Load() {
		return ErrWALClosed
	}

	req := &walResetRequest{done: make(chan error, 1)}
	select {
	case w.resetCh <- req:
		return <-req.done
	case <-w.done:
		return ErrWALClosed
	}
}

// Close stops accepting new writes, waits for the background goroutine
// to drain its queue, and closes the file.
func (w *WALWriter) Close() error {
	if w.closed.Swap(true) {
		return nil
	}

	close(w.done)
	w.wg.Wait()
	return w.f.Close()
}

func (w *WALWriter) loop() {
	defer w.wg.Done()

	for {
		select {
		case req := <-w.ch:
			req.done <- w.writeOne(req.log)
		case req := <-w.resetCh:
			req.done <- w.resetOne()
		case <-w.done:
			for {
				select {
				case req := <-w.ch:
					req.done <- w.writeOne(req.log)
				case req := <-w.resetCh:
					req.done <- w.resetOne()
				default:
					return
				}
			}
		}
	}
}

func (w *WALWriter) resetOne() error {
	if err := w.f.Truncate(0); err != nil {
		return err
	}
	_, err := w.f.Seek(0, io.SeekStart)
	return err
}

func (w *WALWriter) writeOne(l *Log) error {
	if err := l.Encode(w.f); err != nil {
		return err
	}
	return w.f.Sync()
}
