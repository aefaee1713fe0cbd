package service

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/spf13/afero"
	"go.uber.org/multierr"
	"golang.org/x/text/unicode/norm"

	"github.com/audiolibrelab/fusecapture/internal/artifact"
	"github.com/audiolibrelab/fusecapture/internal/catalog"
	"github.com/audiolibrelab/fusecapture/internal/config"
	"github.com/audiolibrelab/fusecapture/internal/flush"
	"github.com/audiolibrelab/fusecapture/internal/label"
	"github.com/audiolibrelab/fusecapture/internal/recorder"
	"github.com/audiolibrelab/fusecapture/internal/source"
)

// Service represents the core FuseCapture service interface
type Service interface {
	// Recording operations
	StartRecording(name string) error
	StopRecording() error
	PauseRecording() error
	ResumeRecording() error
	WaitRecording() error
	GetRecordingStatus() (RecordingStatus, *RecordingSession)
	GetStats() recorder.Stats

	// Event injection for queue-backed event sources
	PushEvent(ev label.Event) error

	// Configuration operations
	LoadProfile(profile string) error
	GetConfig() *config.Config

	// Information operations
	ListSessions(limit int) ([]catalog.Session, error)
	InspectArtifact(name string) (*artifact.Summary, error)
	GetLastError() string

	Close() error
}

// RecordingStatus represents the current recording state
type RecordingStatus string

const (
	StatusStandby   RecordingStatus = "STANDBY"
	StatusRecording RecordingStatus = "RECORDING"
	StatusPaused    RecordingStatus = "PAUSED"
	StatusFailed    RecordingStatus = "FAILED"
)

// RecordingSession contains information about the current recording session
type RecordingSession struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	Profile   string     `json:"profile"`
	Artifact  string     `json:"artifact"`
	Channels  int        `json:"channels"`
	StartTime time.Time  `json:"start_time"`
	StopTime  *time.Time `json:"stop_time,omitempty"`
}

// FuseCaptureService is the main service implementation
type FuseCaptureService struct {
	configFile string
	fs         afero.Fs
	catalog    *catalog.Catalog

	// mu guards the profile and the bound sources
	mu       sync.Mutex
	cfg      *config.Config
	recorder *recorder.Recorder
	channels int
	samples  source.SampleSource
	events   source.EventSource

	// Error tracking
	lastError      string
	lastErrorMutex sync.RWMutex
}

// New creates a service for cfg and opens the session catalog
func New(cfg *config.Config, configFile string) (Service, error) {
	cat, err := catalog.Open(cfg.Catalog.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open session catalog: %w", err)
	}

	s := &FuseCaptureService{
		configFile: configFile,
		fs:         afero.NewOsFs(),
		catalog:    cat,
		cfg:        cfg,
	}
	s.recorder = s.newRecorder(cfg.SampleSource.Channels)
	return s, nil
}

func (s *FuseCaptureService) newRecorder(channels int) *recorder.Recorder {
	cfg := s.cfg
	s.channels = channels
	return recorder.New(recorder.Options{
		Directory:  cfg.Output.Directory,
		Channels:   channels,
		Capacity:   cfg.Window.Capacity,
		OneHot:     cfg.Output.OneHot,
		ImageCount: cfg.Output.ImageCount,
		Flush:      flushConfig(cfg.Flush),
		Fs:         s.fs,
		OnSessionStart: func(info recorder.SessionInfo) {
			s.recordStart(info, cfg.Name)
		},
		OnSessionEnd: func(info recorder.SessionInfo, stats recorder.Stats, err error) {
			s.recordOutcome(info, stats, err)
		},
	})
}

func flushConfig(fc config.FlushConfig) flush.Config {
	return flush.Config{
		Retry: flush.RetryPolicy{
			MaxRetries: fc.MaxRetries,
			Backoff: flush.ExponentialBackoff{
				Base:   fc.BackoffBase,
				Max:    fc.BackoffMax,
				Jitter: 0.1,
			},
			Cooldown: fc.Cooldown,
			OnRetry: func(attempt int, err error) {
				slog.Debug("Retrying window flush", "attempt", attempt+1, "error", err)
			},
		},
		MemoryCeiling: fc.MemoryCeiling,
	}
}

// StartRecording resolves fresh sources for the active profile and starts
// a session named after the cleaned name
func (s *FuseCaptureService) StartRecording(name string) error {
	slog.Debug("Service.StartRecording called", "name", name)
	s.clearLastError()

	cleanName := CleanFileName(name)
	if cleanName == "" {
		err := fmt.Errorf("session name %q has no usable characters", name)
		s.setLastError(err.Error())
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.recorder.Recording() {
		slog.Debug("Already recording, start ignored")
		return nil
	}

	resolveErr := s.resolveSources()
	err := s.recorder.Start(cleanName)
	if err != nil {
		if resolveErr != nil {
			err = fmt.Errorf("%w: %v", err, resolveErr)
		}
		slog.Error("Service.StartRecording failed", "error", err)
		s.setLastError(fmt.Sprintf("Failed to start recording: %v", err))
		return err
	}

	return nil
}

// resolveSources builds a fresh sample source and rebinds the recorder.
// Persistent event sources (queue, mqtt) are kept across sessions;
// scripts are rebuilt against the new sample clock. Callers hold s.mu.
func (s *FuseCaptureService) resolveSources() error {
	if s.samples != nil {
		if err := source.Close(s.samples); err != nil {
			slog.Warn("Failed to close previous sample source", "error", err)
		}
		s.samples = nil
	}

	samples, channels, err := source.NewSampleSource(s.cfg.SampleSource, s.fs)
	if err != nil {
		s.recorder.SetSources(nil, s.events)
		return fmt.Errorf("sample source '%s': %w", s.cfg.SampleSource.ID, err)
	}
	s.samples = samples

	if s.events == nil || s.cfg.EventSource.Kind == config.EventKindScript {
		if err := source.Close(s.events); err != nil {
			slog.Warn("Failed to close previous event source", "error", err)
		}
		events, err := source.NewEventSource(s.cfg.EventSource, s.fs, source.SampleClock(samples))
		if err != nil {
			s.events = nil
			s.recorder.SetSources(samples, nil)
			return fmt.Errorf("event source '%s': %w", s.cfg.EventSource.ID, err)
		}
		s.events = events
	}

	if channels != s.channels {
		slog.Debug("Channel count changed, rebuilding recorder", "from", s.channels, "to", channels)
		s.recorder = s.newRecorder(channels)
	}
	s.recorder.SetSources(s.samples, s.events)
	return nil
}

// recordStart catalogs a session that has just started
func (s *FuseCaptureService) recordStart(info recorder.SessionInfo, profile string) {
	entry := catalog.Session{
		ID:             info.ID,
		Name:           info.Name,
		Artifact:       info.Artifact,
		Profile:        profile,
		Channels:       info.Channels,
		WindowCapacity: info.WindowCapacity,
		StartedAt:      info.StartTime,
		Status:         string(recorder.StatusRecording),
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.catalog.Begin(ctx, entry); err != nil {
		slog.Warn("Failed to catalog session", "session", info.ID, "error", err)
	}
}

// recordOutcome persists how a session ended
func (s *FuseCaptureService) recordOutcome(info recorder.SessionInfo, stats recorder.Stats, err error) {
	status := string(recorder.StatusStandby)
	outcome := catalog.Outcome{
		RowsWritten:      stats.Flush.RowsWritten,
		WindowsWritten:   stats.Flush.WindowsWritten,
		AbandonedRows:    stats.Flush.AbandonedRows,
		Skipped:          stats.Skipped,
		Discarded:        stats.Discarded,
		ProtocolWarnings: stats.ProtocolWarnings,
	}
	if err != nil {
		status = string(recorder.StatusFailed)
		outcome.Error = err.Error()
		s.setLastError(fmt.Sprintf("Recording failed: %v", err))
	}

	stopped := time.Now()
	if info.StopTime != nil {
		stopped = *info.StopTime
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if cerr := s.catalog.Finish(ctx, info.ID, stopped, status, outcome); cerr != nil {
		slog.Warn("Failed to update session catalog", "session", info.ID, "error", cerr)
	}
}

// StopRecording stops the current recording session
func (s *FuseCaptureService) StopRecording() error {
	err := s.currentRecorder().Stop()
	if err != nil {
		s.setLastError(fmt.Sprintf("Failed to stop recording: %v", err))
	}
	return err
}

// WaitRecording blocks until the current session ends
func (s *FuseCaptureService) WaitRecording() error {
	return s.currentRecorder().Wait()
}

func (s *FuseCaptureService) PauseRecording() error {
	rec := s.currentRecorder()
	if !rec.Recording() {
		return fmt.Errorf("no recording in progress")
	}
	rec.Pause()
	return nil
}

func (s *FuseCaptureService) ResumeRecording() error {
	rec := s.currentRecorder()
	if !rec.Recording() {
		return fmt.Errorf("no recording in progress")
	}
	rec.Resume()
	return nil
}

func (s *FuseCaptureService) currentRecorder() *recorder.Recorder {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recorder
}

// GetRecordingStatus returns the current recording status and session info
func (s *FuseCaptureService) GetRecordingStatus() (RecordingStatus, *RecordingSession) {
	s.mu.Lock()
	rec := s.recorder
	profile := s.cfg.Name
	s.mu.Unlock()

	status, info := rec.Status()

	var svcStatus RecordingStatus
	switch status {
	case recorder.StatusStandby:
		svcStatus = StatusStandby
	case recorder.StatusRecording:
		svcStatus = StatusRecording
		if info != nil && info.Paused {
			svcStatus = StatusPaused
		}
	case recorder.StatusFailed:
		svcStatus = StatusFailed
	}

	var session *RecordingSession
	if info != nil {
		session = &RecordingSession{
			ID:        info.ID,
			Name:      info.Name,
			Profile:   profile,
			Artifact:  info.Artifact,
			Channels:  info.Channels,
			StartTime: info.StartTime,
			StopTime:  info.StopTime,
		}
	}
	return svcStatus, session
}

func (s *FuseCaptureService) GetStats() recorder.Stats {
	return s.currentRecorder().Stats()
}

// PushEvent injects an event into the bound event source when it accepts
// external events
func (s *FuseCaptureService) PushEvent(ev label.Event) error {
	s.mu.Lock()
	events := s.events
	kind := s.cfg.EventSource.Kind
	if events == nil && kind != config.EventKindScript {
		// Bind persistent event sources early so events can be queued
		// before the first session starts
		var err error
		events, err = source.NewEventSource(s.cfg.EventSource, s.fs, nil)
		if err != nil {
			s.mu.Unlock()
			return fmt.Errorf("event source '%s': %w", s.cfg.EventSource.ID, err)
		}
		s.events = events
	}
	s.mu.Unlock()

	pusher, ok := events.(source.Pusher)
	if !ok {
		return fmt.Errorf("event source '%s' (%s) does not accept injected events", s.cfg.EventSource.ID, kind)
	}
	pusher.Push(ev)
	slog.Debug("Event injected", "event", ev)
	return nil
}

// LoadProfile loads a new configuration profile
func (s *FuseCaptureService) LoadProfile(profile string) error {
	newCfg, err := config.LoadWithProfile(s.configFile, profile)
	if err != nil {
		return fmt.Errorf("failed to load profile '%s': %w", profile, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.recorder.Recording() {
		return fmt.Errorf("cannot switch profile while recording")
	}

	err = s.closeSources()
	s.cfg = newCfg
	s.recorder = s.newRecorder(newCfg.SampleSource.Channels)
	if err != nil {
		slog.Warn("Failed to release previous sources", "error", err)
	}
	slog.Info("Profile loaded", "profile", newCfg.Name)
	return nil
}

// GetConfig returns the current configuration
func (s *FuseCaptureService) GetConfig() *config.Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

func (s *FuseCaptureService) ListSessions(limit int) ([]catalog.Session, error) {
	return s.catalog.List(context.Background(), limit)
}

// InspectArtifact summarizes the artifact of the named session
func (s *FuseCaptureService) InspectArtifact(name string) (*artifact.Summary, error) {
	path := filepath.Join(s.GetConfig().Output.Directory, CleanFileName(name)+".csv")
	return artifact.Summarize(s.fs, path)
}

// Close stops any session and releases sources and the catalog
func (s *FuseCaptureService) Close() error {
	err := s.StopRecording()

	s.mu.Lock()
	err = multierr.Append(err, s.closeSources())
	s.mu.Unlock()

	return multierr.Append(err, s.catalog.Close())
}

// closeSources releases bound sources; callers hold s.mu
func (s *FuseCaptureService) closeSources() error {
	err := multierr.Append(source.Close(s.samples), source.Close(s.events))
	s.samples, s.events = nil, nil
	return err
}

// GetLastError returns the last error message
func (s *FuseCaptureService) GetLastError() string {
	s.lastErrorMutex.RLock()
	defer s.lastErrorMutex.RUnlock()
	return s.lastError
}

func (s *FuseCaptureService) setLastError(msg string) {
	s.lastErrorMutex.Lock()
	defer s.lastErrorMutex.Unlock()
	s.lastError = msg
}

func (s *FuseCaptureService) clearLastError() {
	s.lastErrorMutex.Lock()
	defer s.lastErrorMutex.Unlock()
	s.lastError = ""
}

// CleanFileName keeps ASCII letters, digits, '-' and '_' after folding
// accented characters to their base letter; spaces become underscores
func CleanFileName(name string) string {
	var result strings.Builder
	for _, r := range norm.NFKD.String(name) {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == ' ' || r == '-' || r == '_' {
			result.WriteRune(r)
		}
	}
	return strings.ReplaceAll(strings.TrimSpace(result.String()), " ", "_")
}
