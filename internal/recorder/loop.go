package recorder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.uber.org/multierr"

	"github.com/audiolibrelab/fusecapture/internal/flush"
	"github.com/audiolibrelab/fusecapture/internal/label"
	"github.com/audiolibrelab/fusecapture/internal/source"
)

func (r *Recorder) run(ctx context.Context, s *session) {
	err := r.pace(ctx, s)
	r.finish(s, err)
}

// pace is the acquisition loop. It returns nil when the session should
// close normally and an error when it must fail.
func (r *Recorder) pace(ctx context.Context, s *session) error {
	failures := 0
	for !s.stop.Load() {
		sample, err := s.samples.Next(ctx)
		if err != nil {
			if errors.Is(err, source.ErrExhausted) {
				slog.Info("Sample source exhausted, closing session", "session", s.info.ID)
				return nil
			}
			if ctx.Err() != nil {
				return nil
			}
			s.stats.skipped.Add(1)
			failures++
			if failures >= r.opts.SourceErrorLimit {
				return fmt.Errorf("sample source failed %d times in a row: %w", failures, err)
			}
			slog.Warn("Sample source error, skipping", "session", s.info.ID, "consecutive", failures, "error", err)
			if !sleepCtx(ctx, r.opts.SourceBackoff, failures-1) {
				return nil
			}
			continue
		}
		failures = 0

		// A sample already returned by Next is recorded even if Stop
		// raced with the read; the loop condition ends the session after it
		s.stats.acquired.Add(1)

		if err := r.step(s, sample); err != nil {
			return err
		}
	}
	return nil
}

// step handles one acquired sample
func (r *Recorder) step(s *session, sample source.Sample) error {
	if r.paused.Load() {
		s.stats.discarded.Add(1)
		for {
			if _, ok := s.events.TryNext(); !ok {
				break
			}
			s.stats.discardedEvents.Add(1)
		}
		return nil
	}

	ev, pending := drain(s.events)
	if pending > 1 {
		s.stats.protocolWarnings.Add(1)
		slog.Warn("ProtocolWarning: several events pending for one sample, keeping the last",
			"session", s.info.ID, "pending", pending, "event", ev, "timestamp", sample.Timestamp)
	}
	if pending > 0 {
		s.state = s.state.Apply(ev)
		s.stats.events.Add(1)
		if ev.Timestamp != 0 {
			slog.Debug("Event applied", "event", ev, "sample_ts", sample.Timestamp, "delta", sample.Timestamp-ev.Timestamp)
		}
	}

	if err := sample.Validate(s.info.Channels); err != nil {
		s.stats.skipped.Add(1)
		slog.Warn("Skipping malformed sample", "session", s.info.ID, "timestamp", sample.Timestamp, "error", err)
		return nil
	}

	if err := s.win.Append(sample.Timestamp, sample.Channels, s.state); err != nil {
		return fmt.Errorf("window %d: %w", s.win.Seq(), err)
	}
	s.stats.recorded.Add(1)

	if s.win.Full() {
		return r.rollover(s)
	}
	return nil
}

// sleepCtx waits for the backoff delay of the given attempt. It returns
// false if ctx ended first.
func sleepCtx(ctx context.Context, backoff flush.BackoffStrategy, attempt int) bool {
	delay, _ := backoff.Next(attempt)
	if delay <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(delay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// drain polls every pending event and returns the last one
func drain(events source.EventSource) (label.Event, int) {
	var last label.Event
	n := 0
	for {
		ev, ok := events.TryNext()
		if !ok {
			return last, n
		}
		last = ev
		n++
	}
}

// rollover hands the full window to the flusher and continues with a
// fresh one; the label state carries over
func (r *Recorder) rollover(s *session) error {
	full := s.win
	s.seq++
	s.win = s.pool.Get()
	s.win.SetSeq(s.seq)
	s.stats.windows.Add(1)

	if err := s.flusher.Dispatch(full); err != nil {
		slog.Error("Window hand-off failed, stopping acquisition", "session", s.info.ID, "window", full.Seq(), "error", err)
		return err
	}
	return nil
}

// finish flushes the final window, waits for the writer and publishes
// the session outcome
func (r *Recorder) finish(s *session, loopErr error) {
	err := loopErr
	if loopErr == nil {
		// The final window goes out even when empty so that the artifact
		// always exists with its header
		s.stats.windows.Add(1)
		if derr := s.flusher.Dispatch(s.win); derr != nil {
			err = multierr.Append(err, derr)
		}
	} else {
		s.pool.Put(s.win)
	}
	s.win = nil
	err = multierr.Append(err, s.flusher.Close())
	s.cancel()

	stop := time.Now()
	stats := s.stats.snapshot()
	stats.Flush = s.flusher.Stats()
	fs := stats.Flush

	// A new session may start as soon as the status leaves RECORDING, so
	// everything reported below is captured first
	r.mutex.Lock()
	s.info.StopTime = &stop
	s.err = err
	if err != nil {
		r.status = StatusFailed
		r.lastErr = err
	} else {
		r.status = StatusStandby
	}
	info := s.info
	r.mutex.Unlock()

	if err != nil {
		var ferr *flush.FlushError
		slog.Error("Recording failed", "session", info.ID, "rows", fs.RowsWritten,
			"abandoned_rows", fs.AbandonedRows, "flush_failure", errors.As(err, &ferr), "error", err)
	} else {
		slog.Info("Recording completed", "session", info.ID, "artifact", info.Artifact,
			"rows", fs.RowsWritten, "windows", fs.WindowsWritten, "duration", stop.Sub(info.StartTime).Round(time.Millisecond))
	}

	if r.opts.OnSessionEnd != nil {
		r.opts.OnSessionEnd(info, stats, err)
	}
}
