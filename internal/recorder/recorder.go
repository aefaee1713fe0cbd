package recorder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc"
	"github.com/spf13/afero"

	"github.com/audiolibrelab/fusecapture/internal/artifact"
	"github.com/audiolibrelab/fusecapture/internal/flush"
	"github.com/audiolibrelab/fusecapture/internal/label"
	"github.com/audiolibrelab/fusecapture/internal/source"
	"github.com/audiolibrelab/fusecapture/internal/window"
)

// Status represents the current state of the recorder
type Status string

const (
	StatusStandby   Status = "STANDBY"
	StatusRecording Status = "RECORDING"
	StatusFailed    Status = "FAILED"
)

// ErrNotReady is returned by Start when a source is missing
var ErrNotReady = errors.New("recorder not ready: sample and event sources are required")

// DefaultSourceErrorLimit is the number of consecutive sample source
// errors after which a session fails
const DefaultSourceErrorLimit = 50

// SessionInfo describes the current or most recent session
type SessionInfo struct {
	ID             string     `json:"id"`
	Name           string     `json:"name"`
	Artifact       string     `json:"artifact"`
	Channels       int        `json:"channels"`
	WindowCapacity int        `json:"window_capacity"`
	StartTime      time.Time  `json:"start_time"`
	StopTime       *time.Time `json:"stop_time,omitempty"`
	Paused         bool       `json:"paused"`
}

// Options configures a Recorder
type Options struct {
	// Directory receives one <name>.csv artifact per session
	Directory string

	Channels   int
	Capacity   int
	OneHot     bool
	ImageCount int

	Flush flush.Config

	// SourceErrorLimit is how many consecutive sample source errors end
	// the session. Defaults to DefaultSourceErrorLimit.
	SourceErrorLimit int

	// SourceBackoff paces reads after a sample source error. Defaults to
	// an exponential backoff from 1ms to 250ms.
	SourceBackoff flush.BackoffStrategy

	// Fs defaults to the OS filesystem
	Fs afero.Fs

	// OnSessionStart is called synchronously from Start before the pacing
	// goroutine runs, so it always precedes OnSessionEnd
	OnSessionStart func(info SessionInfo)

	// OnSessionEnd is called from the session goroutine once the final
	// window has been flushed or abandoned
	OnSessionEnd func(info SessionInfo, stats Stats, err error)
}

// Recorder fuses a sample source and an event source into a labeled
// artifact. It runs at most one session at a time.
type Recorder struct {
	opts Options

	mutex   sync.RWMutex
	samples source.SampleSource
	events  source.EventSource
	status  Status
	current *session
	lastErr error

	paused atomic.Bool
}

// session holds everything owned by one recording
type session struct {
	info    SessionInfo
	samples source.SampleSource
	events  source.EventSource

	pool    *window.Pool
	flusher *flush.Flusher
	win     *window.Window
	state   label.State
	seq     int
	stats   counters

	cancel context.CancelFunc
	stop   atomic.Bool
	wg     conc.WaitGroup
	err    error
}

func New(opts Options) *Recorder {
	if opts.Capacity <= 0 {
		opts.Capacity = window.DefaultCapacity
	}
	if opts.ImageCount <= 0 {
		opts.ImageCount = artifact.DefaultImageCount
	}
	if opts.Fs == nil {
		opts.Fs = afero.NewOsFs()
	}
	if opts.SourceErrorLimit <= 0 {
		opts.SourceErrorLimit = DefaultSourceErrorLimit
	}
	if opts.SourceBackoff == nil {
		opts.SourceBackoff = flush.ExponentialBackoff{Base: time.Millisecond, Max: 250 * time.Millisecond}
	}
	return &Recorder{opts: opts, status: StatusStandby}
}

// SetSources (re)binds the sources used by the next session
func (r *Recorder) SetSources(samples source.SampleSource, events source.EventSource) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.samples = samples
	r.events = events
}

// Ready reports whether both sources are bound
func (r *Recorder) Ready() bool {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return r.samples != nil && r.events != nil
}

// Recording reports whether a session is running
func (r *Recorder) Recording() bool {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return r.status == StatusRecording
}

// Start opens a session writing to <Directory>/<name>.csv and starts the
// pacing goroutine. It is a no-op while a session is running.
func (r *Recorder) Start(name string) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if r.status == StatusRecording {
		slog.Debug("Start ignored, already recording", "session", r.current.info.ID)
		return nil
	}
	if r.samples == nil || r.events == nil {
		return ErrNotReady
	}
	if name == "" {
		return fmt.Errorf("session name is required")
	}
	if r.opts.Channels <= 0 {
		return fmt.Errorf("channel count must be > 0, got %d", r.opts.Channels)
	}

	layout := artifact.Layout{Channels: r.opts.Channels, OneHot: r.opts.OneHot, ImageCount: r.opts.ImageCount}
	path := filepath.Join(r.opts.Directory, name+".csv")
	writer := artifact.NewWriter(r.opts.Fs, path, layout)
	pool := window.NewPool(r.opts.Capacity, r.opts.Channels, 2)

	s := &session{
		info: SessionInfo{
			ID:             uuid.Must(uuid.NewV7()).String(),
			Name:           name,
			Artifact:       path,
			Channels:       r.opts.Channels,
			WindowCapacity: r.opts.Capacity,
			StartTime:      time.Now(),
		},
		samples: r.samples,
		events:  r.events,
		pool:    pool,
		flusher: flush.New(writer, pool, r.opts.Flush),
		state:   label.Initial(),
	}
	s.win = pool.Get()
	s.win.SetSeq(s.seq)

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	r.paused.Store(false)
	r.current = s
	r.status = StatusRecording
	r.lastErr = nil

	if r.opts.OnSessionStart != nil {
		r.opts.OnSessionStart(s.info)
	}

	s.flusher.Start()
	s.wg.Go(func() { r.run(ctx, s) })

	slog.Info("Recording started", "session", s.info.ID, "name", name, "artifact", path,
		"channels", r.opts.Channels, "window", r.opts.Capacity)
	return nil
}

// Stop ends the session after the current iteration and returns once the
// final window has been flushed. Calling Stop without a running session
// does nothing.
func (r *Recorder) Stop() error {
	r.mutex.RLock()
	s := r.current
	recording := r.status == StatusRecording
	r.mutex.RUnlock()

	if s == nil || !recording {
		return nil
	}

	slog.Debug("Stopping recording", "session", s.info.ID)
	s.stop.Store(true)
	s.cancel()
	return r.wait(s)
}

// Wait blocks until the current session ends on its own (source
// exhausted, fatal error) or through Stop, and returns its error
func (r *Recorder) Wait() error {
	r.mutex.RLock()
	s := r.current
	r.mutex.RUnlock()
	if s == nil {
		return nil
	}
	return r.wait(s)
}

func (r *Recorder) wait(s *session) error {
	if rec := s.wg.WaitAndRecover(); rec != nil {
		err := rec.AsError()
		r.mutex.Lock()
		r.status = StatusFailed
		r.lastErr = err
		r.mutex.Unlock()
		return err
	}
	return s.err
}

// Pause discards samples and events until Resume
func (r *Recorder) Pause() {
	if !r.paused.Swap(true) {
		slog.Info("Recording paused")
	}
}

// Resume discards whatever both sources buffered while paused and
// records again from the next sample. Without a prior Pause it does
// nothing, so queued samples are kept.
func (r *Recorder) Resume() {
	if !r.paused.Load() {
		return
	}

	r.mutex.RLock()
	s := r.current
	r.mutex.RUnlock()

	if s != nil {
		s.samples.FlushBacklog()
		s.events.FlushBacklog()
	}
	if r.paused.Swap(false) {
		slog.Info("Recording resumed")
	}
}

// Paused reports whether the pause flag is set
func (r *Recorder) Paused() bool {
	return r.paused.Load()
}

// Status returns the current status and a copy of the session info
func (r *Recorder) Status() (Status, *SessionInfo) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	if r.current == nil {
		return r.status, nil
	}
	info := r.current.info
	if info.StopTime != nil {
		stop := *info.StopTime
		info.StopTime = &stop
	}
	info.Paused = r.status == StatusRecording && r.paused.Load()
	return r.status, &info
}

// LastError returns the error that ended the last session, if any
func (r *Recorder) LastError() error {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return r.lastErr
}

// Stats returns the counters of the current or last session
func (r *Recorder) Stats() Stats {
	r.mutex.RLock()
	s := r.current
	r.mutex.RUnlock()

	if s == nil {
		return Stats{}
	}
	st := s.stats.snapshot()
	st.Flush = s.flusher.Stats()
	return st
}
