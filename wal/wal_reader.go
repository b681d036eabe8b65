package wal

import (
	"io"
	"iter"
	"os"
	"path/filepath"
)

// WALReader replays a WAL file from the start, used both for crash
// recovery at store open time and for seed-test inspection.
type WALReader struct {
	f *os.File
}

// NewWALReader opens dir/WAL.log read-only.
func NewWALReader(dir string) (*WALReader, error) {
	f, err := os.OpenFile(filepath.Join(dir, WalFileName), os.O_RDONLY, 0o644)
	if err != nil {
		return nil, err
	}
	return &WALReader{f: f}, nil
}

// Read decodes the next record, returning io.EOF once the file is
// exhausted.
func (w *WALReader) Read() (*Log, error) {
	return Decode(w.f)
}

// Iter yields every record from the reader's current position forward.
func (w *WALReader) Iter() iter.Seq2[Log, error] {
	return func(yield func(Log, error) bool) {
		for {
			log, err := Decode(w.f)
			if err == io.EOF {
				return
			}
			if err != nil {
				yield(Log{}, err)
				return
			}
			if !yield(*log, nil) {
				return
			}
		}
	}
}

// Reset rewinds the reader to the start of the file.
func (w *WALReader) Reset() error {
	_, err := w.f.Seek(0, io.SeekStart)
	return err
}

// Close releases the underlying file handle.
func (w *WALReader) Close() error {
	return w.f.Close()
}
