package shutdown

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"
)

func TestNew(t *testing.T) {
	h := New(DefaultConfig())
	if h == nil {
		t.Fatal("New() returned nil")
	}
}

func TestNewDefault(t *testing.T) {
	h := NewDefault()
	if h == nil {
		t.Fatal("NewDefault() returned nil")
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Timeout != 30*time.Second {
		t.Errorf("Timeout = %v, want 30s", cfg.Timeout)
	}
	if len(cfg.Signals) != 2 {
		t.Errorf("Signals length = %d, want 2", len(cfg.Signals))
	}
}

func TestHandler_Register(t *testing.T) {
	h := NewDefault()
	called := false

	h.Register("test", func(ctx context.Context) error {
		called = true
		return nil
	})

	h.Shutdown()
	<-h.Done()

	if !called {
		t.Error("Callback was not called")
	}
}

func TestHandler_RegisterFunc(t *testing.T) {
	h := NewDefault()
	called := false

	h.RegisterFunc("test", func() {
		called = true
	})

	h.Shutdown()
	<-h.Done()

	if !called {
		t.Error("Function was not called")
	}
}

func TestHandler_Context(t *testing.T) {
	h := NewDefault()
	ctx := h.Context()

	if ctx == nil {
		t.Fatal("Context() returned nil")
	}

	// Context should not be done initially
	select {
	case <-ctx.Done():
		t.Error("Context should not be done initially")
	default:
		// OK
	}

	h.Shutdown()

	// Context should be done after shutdown
	select {
	case <-ctx.Done():
		// OK
	case <-time.After(time.Second):
		t.Error("Context should be done after shutdown")
	}
}

func TestHandler_IsShuttingDown(t *testing.T) {
	h := NewDefault()

	if h.IsShuttingDown() {
		t.Error("Should not be shutting down initially")
	}

	h.Shutdown()

	if !h.IsShuttingDown() {
		t.Error("Should be shutting down after Shutdown()")
	}
}

func TestHandler_Done(t *testing.T) {
	h := NewDefault()

	// Should not be closed initially
	select {
	case <-h.Done():
		t.Error("Done channel should not be closed initially")
	default:
		// OK
	}

	h.Shutdown()

	// Should be closed after shutdown
	select {
	case <-h.Done():
		// OK
	case <-time.After(time.Second):
		t.Error("Done channel should be closed after shutdown")
	}
}

func TestHandler_Shutdown_LIFO(t *testing.T) {
	h := NewDefault()
	order := make([]int, 0, 3)

	h.Register("first", func(ctx context.Context) error {
		order = append(order, 1)
		return nil
	})
	h.Register("second", func(ctx context.Context) error {
		order = append(order, 2)
		return nil
	})
	h.Register("third", func(ctx context.Context) error {
		order = append(order, 3)
		return nil
	})

	h.Shutdown()
	<-h.Done()

	// Should be LIFO order
	if len(order) != 3 {
		t.Fatalf("Expected 3 callbacks, got %d", len(order))
	}
	if order[0] != 3 || order[1] != 2 || order[2] != 1 {
		t.Errorf("Order = %v, want [3, 2, 1] (LIFO)", order)
	}
}

func TestHandler_Shutdown_MultipleCallsIdempotent(t *testing.T) {
	h := NewDefault()
	callCount := 0

	h.Register("test", func(ctx context.Context) error {
		callCount++
		return nil
	})

	// Call shutdown multiple times
	h.Shutdown()
	h.Shutdown()
	h.Shutdown()

	<-h.Done()

	if callCount != 1 {
		t.Errorf("Callback called %d times, want 1", callCount)
	}
}

func TestHandler_Shutdown_OnDone(t *testing.T) {
	doneCalled := false
	var doneErrors []error

	h := New(Config{
		Timeout: 5 * time.Second,
		OnShutdownDone: func(elapsed time.Duration, errors []error) {
			doneCalled = true
			doneErrors = errors
		},
	})

	h.Shutdown()
	<-h.Done()

	if !doneCalled {
		t.Error("OnShutdownDone was not called")
	}
	if len(doneErrors) != 0 {
		t.Errorf("Expected no errors, got %v", doneErrors)
	}
}

func TestHandler_Shutdown_WithErrors(t *testing.T) {
	var doneErrors []error

	h := New(Config{
		Timeout: 5 * time.Second,
		OnShutdownDone: func(elapsed time.Duration, errors []error) {
			doneErrors = errors
		},
	})

	testErr := errors.New("test error")
	h.Register("failing", func(ctx context.Context) error {
		return testErr
	})

	h.Shutdown()
	<-h.Done()

	if len(doneErrors) != 1 {
		t.Errorf("Expected 1 error, got %d", len(doneErrors))
	}
}

func TestHandler_Stop(t *testing.T) {
	var reason string
	h := New(Config{OnStop: func(r string) { reason = r }})
	called := false
	h.RegisterFunc("cleanup", func() { called = true })

	h.Stop("manual")
	h.Stop("again")

	select {
	case <-h.Context().Done():
	case <-time.After(time.Second):
		t.Fatal("Context should be done after Stop()")
	}
	if !h.IsStopping() {
		t.Error("IsStopping() should be true after Stop()")
	}
	if h.IsShuttingDown() {
		t.Error("Stop() must not start cleanup")
	}
	if called {
		t.Error("Stop() must not run callbacks")
	}
	if reason != "manual" {
		t.Errorf("OnStop reason = %q, want manual", reason)
	}
}

func TestHandler_Listen_Trigger(t *testing.T) {
	h := NewDefault()
	stopListening := h.Listen()
	defer stopListening()

	h.Trigger()

	select {
	case <-h.Context().Done():
	case <-time.After(time.Second):
		t.Fatal("Trigger() should stop the handler")
	}
	if !h.IsStopping() {
		t.Error("IsStopping() should be true after a signal")
	}
}

func TestHandler_Listen_StopListening(t *testing.T) {
	h := NewDefault()
	stopListening := h.Listen()
	stopListening()
	stopListening()

	select {
	case <-h.Context().Done():
		t.Error("Context should not be done without a signal")
	case <-time.After(20 * time.Millisecond):
	}
}

func TestHandler_WatchStopFile(t *testing.T) {
	h := NewDefault()
	path := filepath.Join(t.TempDir(), "STOP")
	h.WatchStopFile(path, 5*time.Millisecond)

	select {
	case <-h.Context().Done():
		t.Fatal("stopped before the file exists")
	case <-time.After(30 * time.Millisecond):
	}

	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatal(err)
	}

	select {
	case <-h.Context().Done():
	case <-time.After(time.Second):
		t.Fatal("stop file should stop the handler")
	}
}

func TestHandler_WatchStopFile_Empty(t *testing.T) {
	h := NewDefault()
	h.WatchStopFile("", time.Millisecond)

	if h.IsStopping() {
		t.Error("empty stop file path should be ignored")
	}
}

func TestHandler_Timeout(t *testing.T) {
	h := New(Config{
		Timeout: 50 * time.Millisecond,
	})

	h.Register("slow", func(ctx context.Context) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Second):
			return nil
		}
	})

	start := time.Now()
	h.Shutdown()
	<-h.Done()
	elapsed := time.Since(start)

	if elapsed > 200*time.Millisecond {
		t.Errorf("Shutdown took %v, should timeout faster", elapsed)
	}
}

func TestTimeoutError(t *testing.T) {
	err := &TimeoutError{CallbackName: "test"}

	if err.Error() != "shutdown callback timed out: test" {
		t.Errorf("Error() = %s", err.Error())
	}
}

func TestHandler_Concurrent(t *testing.T) {
	h := NewDefault()
	var count atomic.Int32

	for i := 0; i < 50; i++ {
		go h.RegisterFunc("cb", func() { count.Add(1) })
	}
	time.Sleep(20 * time.Millisecond)

	for i := 0; i < 10; i++ {
		go h.Stop("concurrent")
		go h.Shutdown()
	}
	<-h.Done()

	if count.Load() != 50 {
		t.Errorf("callbacks run = %d, want 50", count.Load())
	}
}
