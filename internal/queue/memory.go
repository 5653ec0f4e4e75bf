package queue

import (
	"container/heap"
	"errors"
	"sync"
)

var (
	ErrQueueEmpty = errors.New("queue is empty")
	ErrQueueFull  = errors.New("queue at capacity")
)

// priorityQueue implements heap.Interface for Item.
type priorityQueue []*Item

func (pq priorityQueue) Len() int { return len(pq) }

func (pq priorityQueue) Less(i, j int) bool {
	// Lower depth first (breadth-first)
	if pq[i].Depth != pq[j].Depth {
		return pq[i].Depth < pq[j].Depth
	}
	// Arrival order within a depth
	return pq[i].seq < pq[j].seq
}

func (pq priorityQueue) Swap(i, j int) {
	pq[i], pq[j] = pq[j], pq[i]
}

func (pq *priorityQueue) Push(x interface{}) {
	*pq = append(*pq, x.(*Item))
}

func (pq *priorityQueue) Pop() interface{} {
	old := *pq
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*pq = old[0 : n-1]
	return item
}

// MemoryQueue is a thread-safe in-memory depth-ordered queue.
type MemoryQueue struct {
	mu       sync.RWMutex
	pq       priorityQueue
	keys     map[string]struct{}
	seq      uint64
	capacity int
}

// NewMemoryQueue creates a new in-memory queue. A capacity of zero means
// unbounded.
func NewMemoryQueue(capacity int) *MemoryQueue {
	mq := &MemoryQueue{
		pq:       make(priorityQueue, 0),
		keys:     make(map[string]struct{}),
		capacity: capacity,
	}
	heap.Init(&mq.pq)
	return mq
}

// Push adds an item to the queue. An item whose key is already queued is
// ignored.
func (mq *MemoryQueue) Push(item *Item) error {
	mq.mu.Lock()
	defer mq.mu.Unlock()

	if mq.capacity > 0 && len(mq.pq) >= mq.capacity {
		return ErrQueueFull
	}

	if _, exists := mq.keys[item.Key]; exists {
		return nil
	}

	mq.seq++
	item.seq = mq.seq
	mq.keys[item.Key] = struct{}{}
	heap.Push(&mq.pq, item)
	return nil
}

// Pop removes and returns the shallowest, oldest item.
func (mq *MemoryQueue) Pop() (*Item, error) {
	mq.mu.Lock()
	defer mq.mu.Unlock()

	if len(mq.pq) == 0 {
		return nil, ErrQueueEmpty
	}

	item := heap.Pop(&mq.pq).(*Item)
	delete(mq.keys, item.Key)
	return item, nil
}

// Len returns the number of items in the queue.
func (mq *MemoryQueue) Len() int {
	mq.mu.RLock()
	defer mq.mu.RUnlock()
	return len(mq.pq)
}

// IsEmpty returns true if the queue is empty.
func (mq *MemoryQueue) IsEmpty() bool {
	return mq.Len() == 0
}
