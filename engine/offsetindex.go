package engine

import (
	"sync"

	"github.com/flashkv/flashkv/rbtree"
)

// offsetIndex is the offset index (C4): an ordered key -> FileLocation
// map, backed by the same red-black tree as the MemTable. It is kept
// coherent with its segment file by IndexedEngine.
type offsetIndex struct {
	mu   sync.RWMutex
	tree *rbtree.Tree[string, FileLocation]
}

func newOffsetIndex() *offsetIndex {
	return &offsetIndex{tree: rbtree.New[string, FileLocation]()}
}

func (idx *offsetIndex) set(key string, loc FileLocation) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.tree.Set(key, loc)
}

func (idx *offsetIndex) tryGet(key string) (FileLocation, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.tree.Get(key)
}

func (idx *offsetIndex) contains(key string) bool {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.tree.Contains(key)
}

func (idx *offsetIndex) remove(key string) bool {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return idx.tree.Remove(key)
}

func (idx *offsetIndex) clear() {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.tree.Clear()
}

func (idx *offsetIndex) len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.tree.Len()
}
