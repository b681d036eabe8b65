package sst

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"sort"

	bloomfilter "github.com/bits-and-blooms/bloom/v3"
)

// Reader opens an immutable SST file for point lookups: the footer,
// sparse index, and bloom filter are loaded once at open time; Get then
// costs a bloom test, a binary search over the in-memory index, and at
// most one data block read.
type Reader struct {
	f      *os.File
	path   string
	index  []indexEntry
	bloom  *bloomfilter.BloomFilter
	minKey []byte
	maxKey []byte
}

// NewReader opens path and parses its footer, bloom filter, and sparse
// index into memory.
func NewReader(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	r := &Reader{f: f, path: path}
	if err := r.load(); err != nil {
		f.Close()
		return nil, err
	}
	return r, nil
}

func (r *Reader) load() error {
	info, err := r.f.Stat()
	if err != nil {
		return err
	}
	if info.Size() < FooterSize {
		return fmt.Errorf("sst: %s too small to contain a footer", r.path)
	}

	footerBuf := make([]byte, FooterSize)
	if _, err := r.f.ReadAt(footerBuf, info.Size()-FooterSize); err != nil {
		return fmt.Errorf("failed to read footer: %w", err)
	}

	br := bytes.NewReader(footerBuf[:FooterSize-4])
	var (
		indexOffset, bloomOffset, minKeyOffset, maxKeyOffset int64
		indexSize, bloomSize                                 uint32
		minKeySize, maxKeySize                                uint16
	)
	for _, v := range []any{&indexOffset, &indexSize, &bloomOffset, &bloomSize, &minKeyOffset, &minKeySize, &maxKeyOffset, &maxKeySize} {
		if err := binary.Read(br, binary.LittleEndian, v); err != nil {
			return fmt.Errorf("failed to decode footer: %w", err)
		}
	}

	storedCRC := binary.LittleEndian.Uint32(footerBuf[FooterSize-4:])
	if crc32.ChecksumIEEE(footerBuf[:FooterSize-4]) != storedCRC {
		return fmt.Errorf("sst: %s: %w", r.path, ErrFooterCorrupt)
	}

	r.minKey = make([]byte, minKeySize)
	if _, err := r.f.ReadAt(r.minKey, minKeyOffset); err != nil {
		return fmt.Errorf("failed to read min key: %w", err)
	}
	r.maxKey = make([]byte, maxKeySize)
	if _, err := r.f.ReadAt(r.maxKey, maxKeyOffset); err != nil {
		return fmt.Errorf("failed to read max key: %w", err)
	}

	if err := r.loadBloom(bloomOffset, bloomSize); err != nil {
		return err
	}
	return r.loadIndex(indexOffset, indexSize)
}

func (r *Reader) loadBloom(offset int64, size uint32) error {
	buf := make([]byte, size)
	if _, err := r.f.ReadAt(buf, offset); err != nil {
		return fmt.Errorf("failed to read bloom filter: %w", err)
	}

	storedCRC := binary.LittleEndian.Uint32(buf[len(buf)-4:])
	if crc32.ChecksumIEEE(buf[:len(buf)-4]) != storedCRC {
		return fmt.Errorf("sst: %s: bloom filter: %w", r.path, ErrFooterCorrupt)
	}

	bf := &bloomfilter.BloomFilter{}
	if _, err := bf.ReadFrom(bytes.NewReader(buf[8 : len(buf)-4])); err != nil {
		return fmt.Errorf("failed to decode bloom filter: %w", err)
	}
	r.bloom = bf
	return nil
}

func (r *Reader) loadIndex(offset int64, size uint32) error {
	buf := make([]byte, size)
	if _, err := r.f.ReadAt(buf, offset); err != nil {
		return fmt.Errorf("failed to read index block: %w", err)
	}

	storedCRC := binary.LittleEndian.Uint32(buf[len(buf)-4:])
	if crc32.ChecksumIEEE(buf[:len(buf)-4]) != storedCRC {
		return fmt.Errorf("sst: %s: index block: %w", r.path, ErrFooterCorrupt)
	}

	br := bytes.NewReader(buf[:len(buf)-4])
	var numEntries uint32
	if err := binary.Read(br, binary.LittleEndian, &numEntries); err != nil {
		return err
	}

	entries := make([]indexEntry, 0, numEntries)
	for range numEntries {
		var keyLen uint32
		if err := binary.Read(br, binary.LittleEndian, &keyLen); err != nil {
			return err
		}
		key := make([]byte, keyLen)
		if _, err := io.ReadFull(br, key); err != nil {
			return err
		}
		var blockOffset int64
		var blockSize uint32
		if err := binary.Read(br, binary.LittleEndian, &blockOffset); err != nil {
			return err
		}
		if err := binary.Read(br, binary.LittleEndian, &blockSize); err != nil {
			return err
		}
		entries = append(entries, indexEntry{key: key, blockOffset: blockOffset, blockSize: blockSize})
	}

	r.index = entries
	return nil
}

// ErrFooterCorrupt reports a checksum mismatch in the footer, bloom
// filter, or index block.
var ErrFooterCorrupt = fmt.Errorf("corrupt sst metadata")

// MightContain reports whether key is possibly present, per the
// embedded bloom filter.
func (r *Reader) MightContain(key []byte) bool {
	return r.bloom.Test(key)
}

// MinKey and MaxKey report the smallest and largest key this file holds.
func (r *Reader) MinKey() []byte { return r.minKey }
func (r *Reader) MaxKey() []byte { return r.maxKey }

// Path returns the file path this reader was opened from.
func (r *Reader) Path() string { return r.path }

// Get looks up key: a bloom-filter miss short-circuits to (nil, false,
// nil); otherwise the owning data block is located via binary search
// over the sparse index and scanned linearly. A tombstone entry for key
// reports (nil, false, nil), the same as an absent key, since this
// reader has no way to distinguish "never written" from "deleted"
// without the caller tracking that itself.
func (r *Reader) Get(key []byte) ([]byte, bool, error) {
	if !r.MightContain(key) {
		return nil, false, nil
	}
	if len(r.index) == 0 {
		return nil, false, nil
	}

	i := sort.Search(len(r.index), func(i int) bool {
		return bytes.Compare(r.index[i].key, key) > 0
	})
	if i == 0 {
		return nil, false, nil
	}
	entry := r.index[i-1]

	entries, err := r.readBlock(entry)
	if err != nil {
		return nil, false, err
	}

	for _, e := range entries {
		if bytes.Equal(e.key, key) {
			if e.op == OperationDelete {
				return nil, false, nil
			}
			return e.value, true, nil
		}
	}
	return nil, false, nil
}

func (r *Reader) readBlock(entry indexEntry) ([]dataEntry, error) {
	buf := make([]byte, entry.blockSize)
	if _, err := r.f.ReadAt(buf, entry.blockOffset+4); err != nil {
		return nil, fmt.Errorf("failed to read data block: %w", err)
	}

	payload := buf[:len(buf)-4]
	storedCRC := binary.LittleEndian.Uint32(buf[len(buf)-4:])
	if crc32.ChecksumIEEE(payload) != storedCRC {
		return nil, fmt.Errorf("sst: %s: data block at %d: %w", r.path, entry.blockOffset, ErrFooterCorrupt)
	}

	br := bytes.NewReader(payload)
	var entries []dataEntry
	for br.Len() > 0 {
		var keyLen, valLen uint32
		var op uint8
		if err := binary.Read(br, binary.LittleEndian, &keyLen); err != nil {
			return nil, err
		}
		if err := binary.Read(br, binary.LittleEndian, &valLen); err != nil {
			return nil, err
		}
		if err := binary.Read(br, binary.LittleEndian, &op); err != nil {
			return nil, err
		}
		key := make([]byte, keyLen)
		if _, err := io.ReadFull(br, key); err != nil {
			return nil, err
		}
		value := make([]byte, valLen)
		if _, err := io.ReadFull(br, value); err != nil {
			return nil, err
		}
		entries = append(entries, dataEntry{op: Operation(op), key: key, value: value})
	}
	return entries, nil
}

// Close releases the underlying file handle.
func (r *Reader) Close() error {
	return r.f.Close()
}
