// Package sst:  Overview
//
//	An SST is an immutable, sorted, on-disk file that persists memtable data. When the memtable reaches a size threshold, it's flushed to disk as an SST file.
//	---
//
//	File Format
//
//
//	   1 │+------------------------------------------------------------------+
//	   2 │|                         SST FILE LAYOUT                          |
//	   3 │+------------------------------------------------------------------+
//	   4 │|  DATA BLOCKS                                                     |
//	   5 │|  +-----------------------+                                       |
//	   6 │|  | Data Block 0          |  <- Key-value entries (sorted)        |
//	   7 │|  +-----------------------+                                       |
//	   8 │|  | Data Block 1          |                                       |
//	   9 │|  +-----------------------+                                       |
//	  10 │|  | ...                   |                                       |
//	  11 │|  +-----------------------+                                       |
//	  12 │|  | Data Block N          |                                       |
//	  13 │|  +-----------------------+                                       |
//	  14 │+------------------------------------------------------------------+
//	  15 │|  INDEX BLOCK                                                     |
//	  16 │|  +-----------------------+                                       |
//	  17 │|  | Block 0: first_key -> offset, size                            |
//	  18 │|  | Block 1: first_key -> offset, size                            |
//	  19 │|  | ...                                                           |
//	  20 │|  +-----------------------+                                       |
//	  21 │+------------------------------------------------------------------+
//	  22 │|  BLOOM FILTER                                                    |
//	  23 │|  +-----------------------+                                       |
//	  24 │|  | Bloom filter bits     |  <- Fast "key not present" check      |
//	  25 │|  +-----------------------+                                       |
//	  26 │+------------------------------------------------------------------+
//	  27 │|  FOOTER (fixed 48 bytes)                                         |
//	  28 │|  +-----------------------+                                       |
//	  29 │|  | Index offset     (8)  |                                       |
//	  30 │|  | Index size       (4)  |                                       |
//	  31 │|  | Bloom offset     (8)  |                                       |
//	  32 │|  | Bloom size       (4)  |                                       |
//	  33 │|  | Min key offset   (8)  |                                       |
//	  34 │|  | Min key size     (2)  |                                       |
//	  35 │|  | Max key offset   (8)  |                                       |
//	  36 │|  | Max key size     (2)  |                                       |
//	  37 │|  | CRC32            (4)  |                                       |
//	  38 │|  +-----------------------+                                       |
//	  39 │+------------------------------------------------------------------+
//
//	The bloom filter section is always written and the Reader requires
//	it. The min and max key bytes are written back to back between the
//	bloom filter and the footer, which points at them.
//
//	---
//
//	Data Block Format
//
//	Each data block contains multiple sorted key-value entries:
//
//	   1 │DATA BLOCK (target ~4KB):
//	   2 │+---------------------------------------------------------------+
//	   3 │| Entry 0                                                       |
//	   4 │|   | Key Length (4 bytes) | Value Length (4 bytes) | Type (1)  |
//	   5 │|   | Key (variable)       | Value (variable)       |           |
//	   6 │+---------------------------------------------------------------+
//	   7 │| Entry 1                                                       |
//	   8 │|   ...                                                         |
//	   9 │+---------------------------------------------------------------+
//	  10 │| Entry N                                                       |
//	  11 │+---------------------------------------------------------------+
//	  12 │| Restart Points (for prefix compression, optional v2)          |
//	  13 │+---------------------------------------------------------------+
//	  14 │| Block CRC32 (4 bytes)                                         |
//	  15 │+---------------------------------------------------------------+
//
//	Each block is preceded on disk by a 4-byte payload size (entries
//	only, excluding the CRC). The writer emits no restart points.
//
//
//	Entry Format (9+ bytes minimum)
//
//
//	   1 │| KEY_LEN (4) | VAL_LEN (4) | TYPE (1) | KEY | VALUE |
//	   2 │
//	   3 │TYPE:
//	   4 │  0x00 = Put (value present)
//	   5 │  0x01 = Delete (tombstone, no value)
//
//	---
//
//	Index Block Format
//
//	Sparse index pointing to data blocks:
//
//	   1 │INDEX BLOCK:
//	   2 │+---------------------------------------------------------------+
//	   3 │| Num Entries (4 bytes)                                         |
//	   4 │+---------------------------------------------------------------+
//	   5 │| Entry 0:                                                      |
//	   6 │|   | Key Length (4) | Key | Block Offset (8) | Block Size (4) ||
//	   7 │+---------------------------------------------------------------+
//	   8 │| Entry 1: ...                                                  |
//	   9 │+---------------------------------------------------------------+
//	  10 │| Index CRC32 (4 bytes)                                         |
//	  11 │+---------------------------------------------------------------+
//
//	---
//
//	Bloom Filter Format (Optional, Phase 2)
//
//
//	   1 │BLOOM FILTER:
//	   2 │+---------------------------------------------------------------+
//	   3 │| Num Hash Functions (4 byte)                                   |
//	   4 │| Bit Array Size (4 bytes)                                      |
//	   5 │| Bit Array (variable)                                          |
//	   6 │| CRC32 (4 bytes)                                               |
//	   7 │+---------------------------------------------------------------+
package sst

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"os"

	bloomfilter "github.com/bits-and-blooms/bloom/v3"
)

// Operation names what a data block entry records: a live value or a
// tombstone. Mirrors wal.Operation's two cases but kept as its own type
// so this package has no dependency on the WAL's wire format.
type Operation uint8

const (
	OperationPut Operation = iota
	OperationDelete
)

type SSTWriter interface {
	Write(
		operation Operation,
		key []byte,
		value []byte,
	) error
	Flush() error
	Close() error
}

const (
	defaultMaxDataBlockSize = 4 * 1024 // 4kB

	// FooterSize is the fixed trailer length a Reader seeks back from
	// EOF to find: indexOffset(8) indexSize(4) bloomOffset(8)
	// bloomSize(4) minKeyOffset(8) minKeySize(2) maxKeyOffset(8)
	// maxKeySize(2) crc(4).
	FooterSize = 8 + 4 + 8 + 4 + 8 + 2 + 8 + 2 + 4
)

type diskSSTWriter struct {
	path              string
	currDataBlockSize int
	maxDataBlockSize  int
	currDataBlock     dataBlock
	sstFile           *os.File
	index             indexBlock
	minKey            []byte
	maxKey            []byte
	bloomFilter       *bloomfilter.BloomFilter
}

type dataEntry struct {
	op    Operation
	key   []byte
	value []byte
}

func (d *dataEntry) size() int {
	return 4 + 4 + 1 + len(d.key) + len(d.value)
}

type dataBlock struct {
	crc     uint32
	entries []dataEntry
}

type indexEntry struct {
	key         []byte
	blockOffset int64
	blockSize   uint32
}

type indexBlock struct {
	entries []indexEntry
}

func NewDiskSSTWriter(path string) (SSTWriter, error) {
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create SST file: %w", err)
	}

	filter := bloomfilter.NewWithEstimates(100000, 0.01)

	return &diskSSTWriter{
		path:              path,
		currDataBlockSize: 0,
		maxDataBlockSize:  defaultMaxDataBlockSize,
		sstFile:           file,
		bloomFilter:       filter,
	}, nil
}

func (d *diskSSTWriter) recordIndex(blockOffset int64, blockSize uint32) {
	if len(d.currDataBlock.entries) == 0 {
		return
	}

	firstKey := d.currDataBlock.entries[0].key

	keyCopy := make([]byte, len(firstKey))
	copy(keyCopy, firstKey)

	d.index.entries = append(d.index.entries, indexEntry{
		key:         keyCopy,
		blockOffset: blockOffset,
		blockSize:   blockSize,
	})
}

func (d *diskSSTWriter) appendDataBlock() error {
	blockStart, _ := d.sstFile.Seek(0, io.SeekCurrent)

	_ = binary.Write(d.sstFile, binary.LittleEndian, uint32(0))

	crc := crc32.NewIEEE()
	mw := io.MultiWriter(d.sstFile, crc)

	for _, e := range d.currDataBlock.entries {
		_ = binary.Write(mw, binary.LittleEndian, uint32(len(e.key)))
		_ = binary.Write(mw, binary.LittleEndian, uint32(len(e.value)))
		_ = binary.Write(mw, binary.LittleEndian, uint8(e.op))
		_, _ = mw.Write(e.key)
		_, _ = mw.Write(e.value)
	}

	// compute actual payload size
	payloadEnd, _ := d.sstFile.Seek(0, io.SeekCurrent)
	payloadSize := uint32(payloadEnd - blockStart - 4)

	// write crc
	_ = binary.Write(d.sstFile, binary.LittleEndian, crc.Sum32())

	// patch block size
	finalEnd, _ := d.sstFile.Seek(0, io.SeekCurrent)
	_, _ = d.sstFile.Seek(blockStart, io.SeekStart)
	_ = binary.Write(d.sstFile, binary.LittleEndian, payloadSize)
	_, _ = d.sstFile.Seek(finalEnd, io.SeekStart)

	// index needs this
	d.recordIndex(blockStart, payloadSize+4)

	return nil
}

// Write appends one entry. Callers must call Write in ascending key
// order: the sparse index built for the Reader assumes each data
// block's first key is the smallest in that block, which only holds if
// keys arrive sorted.
func (d *diskSSTWriter) Write(
	operation Operation,
	key []byte,
	value []byte,
) error {
	if d.minKey == nil || bytes.Compare(key, d.minKey) < 0 {
		d.minKey = append([]byte(nil), key...)
	}
	if d.maxKey == nil || bytes.Compare(key, d.maxKey) > 0 {
		d.maxKey = append([]byte(nil), key...)
	}

	entry := dataEntry{
		op:    operation,
		key:   key,
		value: value,
	}

	if entry.size()+d.currDataBlockSize > d.maxDataBlockSize {
		err := d.appendDataBlock()
		if err != nil {
			return err
		}

		d.currDataBlock = dataBlock{
			crc:     0,
			entries: []dataEntry{},
		}
		d.currDataBlockSize = 0
	}

	d.currDataBlock.entries = append(d.currDataBlock.entries, entry)
	d.currDataBlockSize += entry.size()

	d.bloomFilter.Add(key)

	return nil
}

func (d *diskSSTWriter) writeIndexBlock() (int64, uint32, error) {
	start, _ := d.sstFile.Seek(0, io.SeekCurrent)

	crc := crc32.NewIEEE()
	mw := io.MultiWriter(d.sstFile, crc)

	_ = binary.Write(mw, binary.LittleEndian, uint32(len(d.index.entries)))

	for _, e := range d.index.entries {
		_ = binary.Write(mw, binary.LittleEndian, uint32(len(e.key)))
		_, _ = mw.Write(e.key)
		_ = binary.Write(mw, binary.LittleEndian, e.blockOffset)
		_ = binary.Write(mw, binary.LittleEndian, e.blockSize)
	}

	_ = binary.Write(d.sstFile, binary.LittleEndian, crc.Sum32())

	end, _ := d.sstFile.Seek(0, io.SeekCurrent)
	return start, uint32(end - start), nil
}

func (d *diskSSTWriter) writeBloomFilter() (int64, uint32, error) {
	start, err := d.sstFile.Seek(0, io.SeekCurrent)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to seek start of file: %w", err)
	}

	crc := crc32.NewIEEE()
	mw := io.MultiWriter(d.sstFile, crc)

	err = binary.Write(mw, binary.LittleEndian, uint32(d.bloomFilter.K()))
	if err != nil {
		return 0, 0, fmt.Errorf("failed to write bloom filter hash count: %w", err)
	}

	err = binary.Write(mw, binary.LittleEndian, uint32(d.bloomFilter.Cap()))
	if err != nil {
		return 0, 0, fmt.Errorf("failed to write bloom filter size: %w", err)
	}

	_, err = d.bloomFilter.WriteTo(mw)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to write bloom filter bit array: %w", err)
	}

	err = binary.Write(d.sstFile, binary.LittleEndian, crc.Sum32())
	if err != nil {
		return 0, 0, fmt.Errorf("failed to write bloom filter crc: %w", err)
	}

	end, err := d.sstFile.Seek(0, io.SeekCurrent)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to seek end of file: %w", err)
	}

	return start, uint32(end - start), nil
}

// writeKeyBlob writes the min and max key bytes back to back and
// returns their offsets, so the footer that follows can stay a fixed
// FooterSize bytes instead of embedding variable-length key data.
func (d *diskSSTWriter) writeKeyBlob() (minKeyOffset, maxKeyOffset int64, err error) {
	minKeyOffset, err = d.sstFile.Seek(0, io.SeekCurrent)
	if err != nil {
		return 0, 0, err
	}
	if _, err := d.sstFile.Write(d.minKey); err != nil {
		return 0, 0, err
	}

	maxKeyOffset, err = d.sstFile.Seek(0, io.SeekCurrent)
	if err != nil {
		return 0, 0, err
	}
	if _, err := d.sstFile.Write(d.maxKey); err != nil {
		return 0, 0, err
	}

	return minKeyOffset, maxKeyOffset, nil
}

// writeFooter writes the fixed FooterSize-byte trailer a Reader locates
// by seeking FooterSize bytes back from EOF.
func (d *diskSSTWriter) writeFooter(indexOffset int64, indexSize uint32, bloomFilterOffset int64, bloomFilterSize uint32, minKeyOffset, maxKeyOffset int64) error {
	crc := crc32.NewIEEE()
	mw := io.MultiWriter(d.sstFile, crc)

	_ = binary.Write(mw, binary.LittleEndian, indexOffset)
	_ = binary.Write(mw, binary.LittleEndian, indexSize)
	_ = binary.Write(mw, binary.LittleEndian, bloomFilterOffset)
	_ = binary.Write(mw, binary.LittleEndian, bloomFilterSize)
	_ = binary.Write(mw, binary.LittleEndian, minKeyOffset)
	_ = binary.Write(mw, binary.LittleEndian, uint16(len(d.minKey)))
	_ = binary.Write(mw, binary.LittleEndian, maxKeyOffset)
	_ = binary.Write(mw, binary.LittleEndian, uint16(len(d.maxKey)))

	return binary.Write(d.sstFile, binary.LittleEndian, crc.Sum32())
}

func (d *diskSSTWriter) Flush() error {
	if len(d.currDataBlock.entries) > 0 {
		if err := d.appendDataBlock(); err != nil {
			return err
		}
	}

	indexOffset, indexSize, err := d.writeIndexBlock()
	if err != nil {
		return err
	}

	bloomFilterOffset, bloomFilterSize, err := d.writeBloomFilter()
	if err != nil {
		return err
	}

	minKeyOffset, maxKeyOffset, err := d.writeKeyBlob()
	if err != nil {
		return err
	}

	if err := d.writeFooter(indexOffset, indexSize, bloomFilterOffset, bloomFilterSize, minKeyOffset, maxKeyOffset); err != nil {
		return err
	}

	return d.sstFile.Sync()
}

// Close releases the underlying file handle. Callers must Flush before
// Close to persist the index, bloom filter, and footer.
func (d *diskSSTWriter) Close() error {
	return d.sstFile.Close()
}
