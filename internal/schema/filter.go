package schema

import (
	"sync"

	"github.com/bits-and-blooms/bloom/v3"
)

// ShapeFilter remembers which (endpoint, shape) pairs were already stored
// so that repeat samples are dropped before touching the ledger.
type ShapeFilter struct {
	mu     sync.RWMutex
	filter *bloom.BloomFilter
	exact  map[string]struct{} // bloom false positives are settled here
}

// NewShapeFilter creates a filter sized for the expected number of pairs.
func NewShapeFilter(estimated int) *ShapeFilter {
	if estimated < 1000 {
		estimated = 1000
	}
	return &ShapeFilter{
		filter: bloom.NewWithEstimates(uint(estimated), 0.001),
		exact:  make(map[string]struct{}),
	}
}

// Add records a pair.
func (f *ShapeFilter) Add(key string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, exists := f.exact[key]; !exists {
		f.filter.AddString(key)
		f.exact[key] = struct{}{}
	}
}

// Seen reports whether the pair was added before.
func (f *ShapeFilter) Seen(key string) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if !f.filter.TestString(key) {
		return false
	}
	_, exists := f.exact[key]
	return exists
}

// Count returns the number of distinct pairs.
func (f *ShapeFilter) Count() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.exact)
}
