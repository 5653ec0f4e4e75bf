package queue

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

func item(key string, depth int) *Item {
	return &Item{Key: key, Path: key, Method: "GET", Depth: depth, Timestamp: time.Now()}
}

// =============================================================================
// MemoryQueue Tests
// =============================================================================

func TestMemoryQueue_NewMemoryQueue(t *testing.T) {
	tests := []struct {
		name     string
		capacity int
	}{
		{"small capacity", 10},
		{"large capacity", 100000},
		{"unbounded", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := NewMemoryQueue(tt.capacity)
			if q == nil {
				t.Fatal("NewMemoryQueue returned nil")
			}
			if q.Len() != 0 {
				t.Errorf("New queue length = %v, want 0", q.Len())
			}
			if !q.IsEmpty() {
				t.Error("New queue should be empty")
			}
		})
	}
}

func TestMemoryQueue_Push(t *testing.T) {
	q := NewMemoryQueue(0)

	if err := q.Push(item("GET /a", 0)); err != nil {
		t.Fatalf("Push() error = %v", err)
	}
	if err := q.Push(item("GET /b", 1)); err != nil {
		t.Fatalf("Push() error = %v", err)
	}
	// Duplicate key is ignored.
	if err := q.Push(item("GET /a", 0)); err != nil {
		t.Fatalf("Push() duplicate error = %v", err)
	}

	if q.Len() != 2 {
		t.Errorf("Len() = %v, want 2", q.Len())
	}
}

func TestMemoryQueue_Pop(t *testing.T) {
	q := NewMemoryQueue(0)

	if _, err := q.Pop(); err != ErrQueueEmpty {
		t.Errorf("Pop() on empty error = %v, want %v", err, ErrQueueEmpty)
	}

	q.Push(item("GET /a", 0))
	got, err := q.Pop()
	if err != nil {
		t.Fatalf("Pop() error = %v", err)
	}
	if got.Key != "GET /a" {
		t.Errorf("Pop().Key = %v, want GET /a", got.Key)
	}
	// A popped key may be queued again.
	q.Push(item("GET /a", 0))
	if q.Len() != 1 {
		t.Errorf("Len() after re-push = %v, want 1", q.Len())
	}
}

func TestMemoryQueue_BreadthFirst(t *testing.T) {
	q := NewMemoryQueue(0)

	q.Push(item("GET /deep", 3))
	q.Push(item("GET /mid1", 1))
	q.Push(item("GET /root", 0))
	q.Push(item("GET /mid2", 1))
	q.Push(item("GET /mid3", 1))

	want := []string{"GET /root", "GET /mid1", "GET /mid2", "GET /mid3", "GET /deep"}
	for i, w := range want {
		got, err := q.Pop()
		if err != nil {
			t.Fatalf("Pop() %d error = %v", i, err)
		}
		if got.Key != w {
			t.Errorf("Pop() %d = %v, want %v", i, got.Key, w)
		}
	}
}

func TestMemoryQueue_Capacity(t *testing.T) {
	q := NewMemoryQueue(2)

	q.Push(item("GET /1", 0))
	q.Push(item("GET /2", 0))
	if err := q.Push(item("GET /3", 0)); err != ErrQueueFull {
		t.Errorf("Push() over capacity error = %v, want %v", err, ErrQueueFull)
	}
}

func TestMemoryQueue_Concurrent(t *testing.T) {
	q := NewMemoryQueue(0)

	var wg sync.WaitGroup
	for g := 0; g < 10; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				q.Push(item(fmt.Sprintf("GET /%d/%d", g, i), i%4))
			}
		}(g)
	}
	wg.Wait()

	if q.Len() != 500 {
		t.Fatalf("Len() = %v, want 500", q.Len())
	}

	lastDepth := -1
	for !q.IsEmpty() {
		got, err := q.Pop()
		if err != nil {
			t.Fatalf("Pop() error = %v", err)
		}
		if got.Depth < lastDepth {
			t.Fatalf("depth went backwards: %d after %d", got.Depth, lastDepth)
		}
		lastDepth = got.Depth
	}
}
