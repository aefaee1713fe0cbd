package flush

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sourcegraph/conc"
	"go.uber.org/multierr"

	"github.com/audiolibrelab/fusecapture/internal/window"
)

var (
	// ErrMemoryCeiling is returned by Dispatch once queued windows hold
	// more memory than the configured ceiling.
	ErrMemoryCeiling = errors.New("flush queue exceeded memory ceiling")

	ErrClosed = errors.New("flusher is closed")
)

// Appender persists one window. The flusher never calls it concurrently.
type Appender interface {
	Append(win *window.Window) (int, error)
}

// FlushError reports a window that could not be persisted
type FlushError struct {
	Window int
	Rows   int
	Err    error
}

func (e *FlushError) Error() string {
	return fmt.Sprintf("window %d (%d rows) not persisted: %v", e.Window, e.Rows, e.Err)
}

func (e *FlushError) Unwrap() error { return e.Err }

// Config controls retry and memory bounds of a Flusher
type Config struct {
	Retry RetryPolicy

	// MemoryCeiling is the maximum bytes of queued windows; 0 disables it
	MemoryCeiling int64
}

// Stats is a snapshot of flusher progress
type Stats struct {
	WindowsWritten   int   `json:"windows_written"`
	RowsWritten      int64 `json:"rows_written"`
	FailedAttempts   int   `json:"failed_attempts"`
	AbandonedWindows int   `json:"abandoned_windows"`
	AbandonedRows    int   `json:"abandoned_rows"`
	PendingWindows   int   `json:"pending_windows"`
	PendingBytes     int64 `json:"pending_bytes"`
	CircuitOpen      bool  `json:"circuit_open"`
}

// Flusher is the single serialized writer of a session's artifact.
// Windows handed to Dispatch are written in hand-off order by one
// background goroutine; Dispatch itself never blocks on storage.
type Flusher struct {
	appender Appender
	pool     *window.Pool
	cfg      Config

	mu      sync.Mutex
	queue   []*window.Window
	closing bool
	stats   Stats
	failed  error

	notify  chan struct{}
	closeCh chan struct{}
	wg      conc.WaitGroup
	once    sync.Once
}

// New creates a flusher writing through appender. Written windows are
// returned to pool when it is non-nil.
func New(appender Appender, pool *window.Pool, cfg Config) *Flusher {
	return &Flusher{
		appender: appender,
		pool:     pool,
		cfg:      cfg,
		notify:   make(chan struct{}, 1),
		closeCh:  make(chan struct{}),
	}
}

// Start launches the writer goroutine
func (f *Flusher) Start() {
	f.wg.Go(f.run)
}

// Dispatch transfers ownership of win to the flusher. The window is always
// queued; ErrMemoryCeiling signals that the caller must stop producing.
func (f *Flusher) Dispatch(win *window.Window) error {
	f.mu.Lock()
	if f.closing {
		f.mu.Unlock()
		return ErrClosed
	}
	f.queue = append(f.queue, win)
	f.stats.PendingWindows = len(f.queue)
	f.stats.PendingBytes += win.SizeBytes()
	over := f.cfg.MemoryCeiling > 0 && f.stats.PendingBytes > f.cfg.MemoryCeiling
	pending := f.stats.PendingBytes
	f.mu.Unlock()

	select {
	case f.notify <- struct{}{}:
	default:
	}

	slog.Debug("Window dispatched", "window", win.Seq(), "rows", win.Len(), "pending_bytes", pending)
	if over {
		return fmt.Errorf("%w: %d bytes queued, ceiling %d", ErrMemoryCeiling, pending, f.cfg.MemoryCeiling)
	}
	return nil
}

// Close stops accepting windows, waits until every queued window has been
// written or has failed its final retry round, and returns the failures.
func (f *Flusher) Close() error {
	f.once.Do(func() {
		f.mu.Lock()
		f.closing = true
		f.mu.Unlock()
		close(f.closeCh)
	})

	var err error
	if r := f.wg.WaitAndRecover(); r != nil {
		err = multierr.Append(err, r.AsError())
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	return multierr.Append(err, f.failed)
}

// Stats returns a snapshot of the flusher counters
func (f *Flusher) Stats() Stats {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stats
}

func (f *Flusher) run() {
	for {
		win, ok := f.head()
		if !ok {
			return
		}
		f.persist(win)
	}
}

// head blocks until a window is queued, or returns false once closing
// with an empty queue
func (f *Flusher) head() (*window.Window, bool) {
	for {
		f.mu.Lock()
		if len(f.queue) > 0 {
			win := f.queue[0]
			f.mu.Unlock()
			return win, true
		}
		closing := f.closing
		f.mu.Unlock()
		if closing {
			return nil, false
		}

		select {
		case <-f.notify:
		case <-f.closeCh:
		}
	}
}

// persist retries win in rounds separated by the cooldown. Once the
// flusher is closing, a failed round abandons the window.
func (f *Flusher) persist(win *window.Window) {
	for {
		rows, err := f.round(win)
		if err == nil {
			f.complete(win, rows)
			return
		}

		f.mu.Lock()
		closing := f.closing
		f.stats.CircuitOpen = !closing
		f.mu.Unlock()

		if closing {
			f.abandon(win, err)
			return
		}

		slog.Error("Flush round failed, pausing writes", "window", win.Seq(), "rows", win.Len(), "cooldown", f.cfg.Retry.Cooldown, "error", err)
		select {
		case <-time.After(f.cfg.Retry.Cooldown):
		case <-f.closeCh:
			slog.Info("Flusher closing, making final attempt", "window", win.Seq())
		}
	}
}

// round makes up to MaxRetries+1 attempts
func (f *Flusher) round(win *window.Window) (int, error) {
	policy := f.cfg.Retry
	var lastErr error
	for attempt := 0; attempt <= policy.MaxRetries; attempt++ {
		if attempt > 0 {
			if policy.OnRetry != nil {
				policy.OnRetry(attempt-1, lastErr)
			}
			if policy.Backoff != nil {
				delay, ok := policy.Backoff.Next(attempt - 1)
				if !ok {
					break
				}
				time.Sleep(delay)
			}
		}

		rows, err := f.appender.Append(win)
		if err == nil {
			return rows, nil
		}
		lastErr = err

		f.mu.Lock()
		f.stats.FailedAttempts++
		f.mu.Unlock()
		slog.Warn("Flush attempt failed", "window", win.Seq(), "attempt", attempt+1, "max_attempts", policy.MaxRetries+1, "error", err)
	}
	return 0, lastErr
}

func (f *Flusher) complete(win *window.Window, rows int) {
	f.mu.Lock()
	f.pop(win)
	f.stats.WindowsWritten++
	f.stats.RowsWritten += int64(rows)
	f.stats.CircuitOpen = false
	f.mu.Unlock()

	if f.pool != nil {
		f.pool.Put(win)
	}
}

func (f *Flusher) abandon(win *window.Window, err error) {
	ferr := &FlushError{Window: win.Seq(), Rows: win.Len(), Err: err}
	slog.Error("Window could not be persisted", "window", ferr.Window, "rows", ferr.Rows, "error", err)

	f.mu.Lock()
	f.pop(win)
	f.stats.AbandonedWindows++
	f.stats.AbandonedRows += win.Len()
	f.failed = multierr.Append(f.failed, ferr)
	f.mu.Unlock()
}

// pop removes the head window; callers hold f.mu
func (f *Flusher) pop(win *window.Window) {
	f.queue[0] = nil
	f.queue = f.queue[1:]
	f.stats.PendingWindows = len(f.queue)
	f.stats.PendingBytes -= win.SizeBytes()
}
