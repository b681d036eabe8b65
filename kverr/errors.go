// Package kverr holds the sentinel error values shared across the storage
// engine. Components wrap these with fmt.Errorf("...: %w", ...) so callers
// can still errors.Is/errors.As against the sentinel after the wrapping.
package kverr

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidArgument is returned for nil/empty keys or values where the
	// operation requires a non-empty one, negative offsets/counts, or an
	// undefined enum value.
	ErrInvalidArgument = errors.New("kverr: invalid argument")

	// ErrCorrupt is returned when the entry codec fails to decode a record,
	// whether from a bad length prefix, a torn write, or a CRC mismatch.
	ErrCorrupt = errors.New("kverr: corrupt record")

	// ErrCapacity is returned when a bounded store (MemTable, a segment with
	// rollover disabled) rejects a write because it is full.
	ErrCapacity = errors.New("kverr: capacity exceeded")

	// ErrUnsupported is returned for operations an engine does not implement,
	// such as Remove on the append-only engine.
	ErrUnsupported = errors.New("kverr: unsupported operation")

	// ErrCancelled is returned when a context is cancelled before or during
	// a suspendable I/O operation.
	ErrCancelled = errors.New("kverr: cancelled")

	// ErrClosed is returned by operations attempted after Close.
	ErrClosed = errors.New("kverr: closed")
)

// Corrupt wraps ErrCorrupt with the byte offset at which decoding failed.
func Corrupt(offset int64) error {
	return fmt.Errorf("%w: at offset %d", ErrCorrupt, offset)
}

// Corruptf wraps ErrCorrupt with the byte offset and an explanatory reason.
func Corruptf(offset int64, format string, args ...any) error {
	return fmt.Errorf("%w: at offset %d: %s", ErrCorrupt, offset, fmt.Sprintf(format, args...))
}

// IO wraps a filesystem error with the path that produced it. It is left
// unwrapped into a bespoke type deliberately: errors.Is(err, os.ErrNotExist)
// and friends already work against the stdlib *fs.PathError this wraps.
func IO(path string, cause error) error {
	return fmt.Errorf("kverr: io error on %q: %w", path, cause)
}
