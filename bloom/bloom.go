// Package bloom provides the probabilistic membership prefilter layered
// in front of the storage engines. It wraps
// github.com/bits-and-blooms/bloom/v3 directly rather than reimplementing
// double hashing: that library already derives m and k from (n, p) the
// same way (m = ceil(-n*ln(p)/(ln2)^2), k = ceil(m/n * ln2)) and derives
// every bit position by double hashing over one 128-bit murmur3 digest
// of the key, with no false negatives, which is the contract this
// component owes the engines above it.
package bloom

import (
	bloomfilter "github.com/bits-and-blooms/bloom/v3"
)

// Filter is a probabilistic set with no false negatives: every key Added
// is subsequently reported MightContain, though absent keys may also be
// (falsely) reported present at roughly the configured rate.
type Filter struct {
	bf *bloomfilter.BloomFilter
}

// NewWithEstimates derives (m,k) from the expected element count and the
// target false-positive probability.
func NewWithEstimates(expectedElements uint, falsePositiveRate float64) *Filter {
	return &Filter{bf: bloomfilter.NewWithEstimates(expectedElements, falsePositiveRate)}
}

// New builds a filter with an explicit bit array size m and hash
// function count k.
func New(m, k uint) *Filter {
	return &Filter{bf: bloomfilter.New(m, k)}
}

// Add records key as a member.
func (f *Filter) Add(key []byte) {
	f.bf.Add(key)
}

// MightContain reports whether key is possibly present. It never
// returns false for a key that was Added.
func (f *Filter) MightContain(key []byte) bool {
	return f.bf.Test(key)
}

// Clear zeros every bit, resetting the filter to empty.
func (f *Filter) Clear() {
	f.bf.ClearAll()
}

// M reports the bit array size.
func (f *Filter) M() uint {
	return f.bf.Cap()
}

// K reports the hash function count.
func (f *Filter) K() uint {
	return f.bf.K()
}
