// Package shutdown turns interrupts into a cooperative stop and runs
// cleanup callbacks once the session has wound down.
package shutdown

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"
)

// Handler manages graceful shutdown.
//
// A signal (or a stop file, or Stop) only cancels Context; the probing
// loop notices between candidates and returns. Cleanup callbacks run
// later, when the caller invokes Shutdown.
type Handler struct {
	mu sync.Mutex

	// Callbacks
	callbacks     []ShutdownCallback
	callbackNames []string

	// State
	stopping       atomic.Bool
	isShuttingDown atomic.Bool
	done           chan struct{}
	timeout        time.Duration

	// Context
	ctx    context.Context
	cancel context.CancelFunc

	// Signal handling
	sigChan chan os.Signal
	signals []os.Signal

	// Notification
	onStop         func(reason string)
	onShutdownDone func(elapsed time.Duration, errors []error)
}

// ShutdownCallback is a function called during shutdown.
type ShutdownCallback func(ctx context.Context) error

// Config holds shutdown configuration.
type Config struct {
	Timeout        time.Duration
	Signals        []os.Signal
	OnStop         func(reason string)
	OnShutdownDone func(elapsed time.Duration, errors []error)
}

// DefaultConfig returns default configuration.
func DefaultConfig() Config {
	return Config{
		Timeout: 30 * time.Second,
		Signals: []os.Signal{syscall.SIGINT, syscall.SIGTERM},
	}
}

// New creates a new shutdown handler.
func New(cfg Config) *Handler {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if len(cfg.Signals) == 0 {
		cfg.Signals = []os.Signal{syscall.SIGINT, syscall.SIGTERM}
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Handler{
		callbacks:      make([]ShutdownCallback, 0),
		callbackNames:  make([]string, 0),
		done:           make(chan struct{}),
		timeout:        cfg.Timeout,
		ctx:            ctx,
		cancel:         cancel,
		sigChan:        make(chan os.Signal, 1),
		signals:        cfg.Signals,
		onStop:         cfg.OnStop,
		onShutdownDone: cfg.OnShutdownDone,
	}
}

// NewDefault creates a handler with default configuration.
func NewDefault() *Handler {
	return New(DefaultConfig())
}

// Register registers a shutdown callback with a name.
func (h *Handler) Register(name string, callback ShutdownCallback) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.callbacks = append(h.callbacks, callback)
	h.callbackNames = append(h.callbackNames, name)
}

// RegisterFunc registers a simple cleanup function.
func (h *Handler) RegisterFunc(name string, fn func()) {
	h.Register(name, func(ctx context.Context) error {
		fn()
		return nil
	})
}

// Context returns the stop context. It is cancelled on the first signal.
func (h *Handler) Context() context.Context {
	return h.ctx
}

// IsStopping reports whether a stop was requested.
func (h *Handler) IsStopping() bool {
	return h.stopping.Load()
}

// IsShuttingDown returns whether cleanup is in progress or finished.
func (h *Handler) IsShuttingDown() bool {
	return h.isShuttingDown.Load()
}

// Done returns a channel that is closed when shutdown completes.
func (h *Handler) Done() <-chan struct{} {
	return h.done
}

// Listen starts turning signals into Stop. Call the returned function to
// stop listening.
func (h *Handler) Listen() func() {
	signal.Notify(h.sigChan, h.signals...)
	quit := make(chan struct{})

	go func() {
		select {
		case sig := <-h.sigChan:
			h.Stop("signal: " + sig.String())
		case <-quit:
		case <-h.ctx.Done():
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			signal.Stop(h.sigChan)
			close(quit)
		})
	}
}

// WatchStopFile requests a stop once path exists. It polls every interval
// until the stop context ends.
func (h *Handler) WatchStopFile(path string, interval time.Duration) {
	if path == "" {
		return
	}
	if interval <= 0 {
		interval = time.Second
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-h.ctx.Done():
				return
			case <-ticker.C:
				if _, err := os.Stat(path); err == nil {
					h.Stop("stop file: " + path)
					return
				}
			}
		}
	}()
}

// Stop cancels the stop context. It does not run callbacks.
func (h *Handler) Stop(reason string) {
	if !h.stopping.CompareAndSwap(false, true) {
		return
	}
	if h.onStop != nil {
		h.onStop(reason)
	}
	h.cancel()
}

// Trigger simulates a SIGTERM (for testing or programmatic stop).
func (h *Handler) Trigger() {
	select {
	case h.sigChan <- syscall.SIGTERM:
	default:
		// Signal already pending
	}
}

// Shutdown stops the session and runs the callbacks in reverse order of
// registration (LIFO).
func (h *Handler) Shutdown() {
	if !h.isShuttingDown.CompareAndSwap(false, true) {
		return
	}

	start := time.Now()
	h.stopping.Store(true)
	h.cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), h.timeout)
	defer shutdownCancel()

	var errors []error
	h.mu.Lock()
	callbacks := make([]ShutdownCallback, len(h.callbacks))
	names := make([]string, len(h.callbackNames))
	copy(callbacks, h.callbacks)
	copy(names, h.callbackNames)
	h.mu.Unlock()

	for i := len(callbacks) - 1; i >= 0; i-- {
		if err := h.executeCallback(shutdownCtx, names[i], callbacks[i]); err != nil {
			errors = append(errors, err)
		}
	}

	if h.onShutdownDone != nil {
		h.onShutdownDone(time.Since(start), errors)
	}

	close(h.done)
}

// executeCallback executes a shutdown callback with timeout handling.
func (h *Handler) executeCallback(ctx context.Context, name string, callback ShutdownCallback) error {
	done := make(chan error, 1)

	go func() {
		done <- callback(ctx)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return &TimeoutError{CallbackName: name}
	}
}

// TimeoutError is returned when a callback times out.
type TimeoutError struct {
	CallbackName string
}

func (e *TimeoutError) Error() string {
	return "shutdown callback timed out: " + e.CallbackName
}
