// Package storagefile provides a scoped, cancellable handle over a single
// file on disk: the bounded file abstraction the segment store and WAL
// are built on. Every *os.File it hands out is released on all exit
// paths by the caller's defer, and every operation checks ctx before
// issuing a syscall so a context cancelled ahead of time fails fast with
// kverr.ErrCancelled instead of touching the filesystem.
package storagefile

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/flashkv/flashkv/kverr"
)

// ExistenceHandling controls Create's behavior when the target path
// already exists.
type ExistenceHandling int

const (
	Overwrite ExistenceHandling = iota
	DoNothingIfExists
	ThrowIfExists
)

// DeletionHandling controls Delete's behavior when the target path is
// already missing.
type DeletionHandling int

const (
	DeleteIfExists DeletionHandling = iota
	IgnoreIfMissing
	ThrowIfMissing
)

// OpenMode selects the access mode for Open.
type OpenMode int

const (
	ReadMode OpenMode = iota
	WriteMode
	AppendMode
	ReadWriteMode
)

// File is a scoped handle addressing one path. It holds no open
// descriptor itself; Open returns one the caller owns and must Close.
type File struct {
	path string
}

// New returns a File addressing path. path must be non-empty.
func New(path string) (*File, error) {
	if path == "" {
		return nil, fmt.Errorf("storagefile: %w: path must not be empty", kverr.ErrInvalidArgument)
	}
	return &File{path: path}, nil
}

// Path returns the addressed path.
func (f *File) Path() string {
	return f.path
}

func checkCancelled(ctx context.Context) error {
	if ctx == nil {
		return nil
	}
	select {
	case <-ctx.Done():
		return kverr.ErrCancelled
	default:
		return nil
	}
}

// Exists reports whether the file is present.
func (f *File) Exists() (bool, error) {
	_, err := os.Stat(f.path)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, kverr.IO(f.path, err)
}

// Create creates the file per existence, without leaving it open.
func (f *File) Create(ctx context.Context, existence ExistenceHandling) error {
	if err := checkCancelled(ctx); err != nil {
		return err
	}

	exists, err := f.Exists()
	if err != nil {
		return err
	}

	if exists {
		switch existence {
		case DoNothingIfExists:
			return nil
		case ThrowIfExists:
			return fmt.Errorf("storagefile: %q already exists", f.path)
		}
	}

	fh, err := os.OpenFile(f.path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return kverr.IO(f.path, err)
	}
	return fh.Close()
}

// Open opens the file in the given mode and returns the owned handle.
// The caller MUST Close it on every exit path.
func (f *File) Open(ctx context.Context, mode OpenMode) (*os.File, error) {
	if err := checkCancelled(ctx); err != nil {
		return nil, err
	}

	var flag int
	switch mode {
	case ReadMode:
		flag = os.O_RDONLY
	case WriteMode:
		flag = os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	case AppendMode:
		flag = os.O_WRONLY | os.O_CREATE | os.O_APPEND
	case ReadWriteMode:
		flag = os.O_RDWR | os.O_CREATE
	default:
		return nil, fmt.Errorf("storagefile: %w: undefined open mode %d", kverr.ErrInvalidArgument, mode)
	}

	fh, err := os.OpenFile(f.path, flag, 0o644)
	if err != nil {
		return nil, kverr.IO(f.path, err)
	}
	return fh, nil
}

// Delete removes the file per handling.
func (f *File) Delete(ctx context.Context, handling DeletionHandling) error {
	if err := checkCancelled(ctx); err != nil {
		return err
	}

	exists, err := f.Exists()
	if err != nil {
		return err
	}

	if !exists {
		switch handling {
		case IgnoreIfMissing:
			return nil
		case ThrowIfMissing:
			return kverr.IO(f.path, os.ErrNotExist)
		}
	}

	if err := os.Remove(f.path); err != nil && !os.IsNotExist(err) {
		return kverr.IO(f.path, err)
	}
	return nil
}

// Size reports the current file size in bytes.
func (f *File) Size() (int64, error) {
	info, err := os.Stat(f.path)
	if err != nil {
		return 0, kverr.IO(f.path, err)
	}
	return info.Size(), nil
}

// ReadBytes reads exactly count bytes starting at offset.
func (f *File) ReadBytes(ctx context.Context, offset int64, count int) ([]byte, error) {
	if err := checkCancelled(ctx); err != nil {
		return nil, err
	}
	if offset < 0 || count < 0 {
		return nil, fmt.Errorf("storagefile: %w: negative offset or count", kverr.ErrInvalidArgument)
	}

	fh, err := f.Open(ctx, ReadMode)
	if err != nil {
		return nil, err
	}
	defer fh.Close()

	buf := make([]byte, count)
	if _, err := fh.ReadAt(buf, offset); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil, kverr.Corruptf(offset, "short read: %v", err)
		}
		return nil, kverr.IO(f.path, err)
	}
	return buf, nil
}

// ReadAll reads the whole file into memory.
func (f *File) ReadAll(ctx context.Context) ([]byte, error) {
	if err := checkCancelled(ctx); err != nil {
		return nil, err
	}

	fh, err := f.Open(ctx, ReadMode)
	if err != nil {
		return nil, err
	}
	defer fh.Close()

	data, err := io.ReadAll(fh)
	if err != nil {
		return nil, kverr.IO(f.path, err)
	}
	return data, nil
}

// WriteAll atomically replaces the file's contents with data: it writes
// to a temporary file in the same directory, syncs it, then renames it
// over the target. A failure at any point before the rename leaves the
// original file untouched.
func (f *File) WriteAll(ctx context.Context, data []byte) error {
	if err := checkCancelled(ctx); err != nil {
		return err
	}

	tmpPath := f.path + ".tmp"
	tmp, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return kverr.IO(tmpPath, err)
	}

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return kverr.IO(tmpPath, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return kverr.IO(tmpPath, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return kverr.IO(tmpPath, err)
	}

	if err := os.Rename(tmpPath, f.path); err != nil {
		os.Remove(tmpPath)
		return kverr.IO(f.path, err)
	}
	return nil
}

// AppendAll appends data to the file, creating it if necessary, and
// fsyncs before returning.
func (f *File) AppendAll(ctx context.Context, data []byte) error {
	if err := checkCancelled(ctx); err != nil {
		return err
	}

	fh, err := f.Open(ctx, AppendMode)
	if err != nil {
		return err
	}
	defer fh.Close()

	if _, err := fh.Write(data); err != nil {
		return kverr.IO(f.path, err)
	}
	return fh.Sync()
}
