// Package memtable provides an in-memory, ordered, capacity-bounded
// key-value store, backed by a red-black tree so it can be flushed to an
// SSTable in sorted order once full.
package memtable

import (
	"iter"

	"github.com/flashkv/flashkv/kverr"
	"github.com/flashkv/flashkv/rbtree"
)

// Record is a single key-value pair as yielded by GetAll.
type Record[K rbtree.Ordered, V any] = rbtree.Record[K, V]

// Memtable is an ordered, capacity-bounded in-memory buffer. Remove is
// part of the interface, but the RB-tree backed implementation in this
// package does not support it (it returns kverr.ErrUnsupported);
// the append-only core has no tombstone concept, and callers that need
// delete semantics do so at the facade layer (see the store package).
type Memtable[K rbtree.Ordered, V any] interface {
	Set(key K, value V) error
	TryGet(key K) (V, bool)
	Contains(key K) bool
	Remove(key K) error
	Clear()
	GetAll() iter.Seq[Record[K, V]]
	IsFull() bool
	Len() int
}

// RBTreeMemtable is the red-black tree backed Memtable implementation.
type RBTreeMemtable[K rbtree.Ordered, V any] struct {
	tree    *rbtree.Tree[K, V]
	maxSize int
}

// New returns a Memtable bounded to maxSize entries. maxSize <= 0 means
// unbounded.
func New[K rbtree.Ordered, V any](maxSize int) *RBTreeMemtable[K, V] {
	return &RBTreeMemtable[K, V]{
		tree:    rbtree.New[K, V](),
		maxSize: maxSize,
	}
}

// IsFull reports whether the table has reached its entry-count capacity.
// An update to an already-present key is still accepted even when full,
// since it performs no growth.
func (m *RBTreeMemtable[K, V]) IsFull() bool {
	return m.maxSize > 0 && m.tree.Len() >= m.maxSize
}

// Len reports the number of distinct keys currently stored.
func (m *RBTreeMemtable[K, V]) Len() int {
	return m.tree.Len()
}

// Set inserts or updates key. Inserting a brand new key into a full table
// fails with kverr.ErrCapacity; updating an existing key always succeeds.
func (m *RBTreeMemtable[K, V]) Set(key K, value V) error {
	if m.IsFull() && !m.tree.Contains(key) {
		return kverr.ErrCapacity
	}
	m.tree.Set(key, value)
	return nil
}

// TryGet reports the value stored for key, if any.
func (m *RBTreeMemtable[K, V]) TryGet(key K) (V, bool) {
	return m.tree.Get(key)
}

// Contains reports whether key is present.
func (m *RBTreeMemtable[K, V]) Contains(key K) bool {
	return m.tree.Contains(key)
}

// Remove always fails: the MemTable has no tombstone concept of its own.
func (m *RBTreeMemtable[K, V]) Remove(key K) error {
	return kverr.ErrUnsupported
}

// Clear empties the table, resetting IsFull to false.
func (m *RBTreeMemtable[K, V]) Clear() {
	m.tree.Clear()
}

// GetAll yields every record in ascending key order.
func (m *RBTreeMemtable[K, V]) GetAll() iter.Seq[Record[K, V]] {
	return m.tree.Iterator()
}
