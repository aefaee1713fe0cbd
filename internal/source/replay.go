package source

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/spf13/afero"
)

// Replay streams samples from a CSV file with a `timestamp,ch1..chC`
// header. Extra columns (labels from a previous session) are ignored.
type Replay struct {
	file     afero.File
	reader   *csv.Reader
	channels []int
	realtime bool

	mu        sync.Mutex
	line      int
	start     time.Time
	firstTS   float64
	last      float64
	pending   *Sample
	exhausted bool
}

// OpenReplay opens path and reads its header
func OpenReplay(fs afero.Fs, path string, realtime bool) (*Replay, error) {
	f, err := fs.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open replay file: %w", err)
	}

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	header, err := r.Read()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to read replay header: %w", err)
	}
	if len(header) == 0 || header[0] != "timestamp" {
		f.Close()
		return nil, fmt.Errorf("replay file %s must start with a 'timestamp' column", path)
	}

	var channels []int
	for i, col := range header[1:] {
		if strings.HasPrefix(col, "ch") {
			channels = append(channels, i+1)
		}
	}
	if len(channels) == 0 {
		f.Close()
		return nil, fmt.Errorf("replay file %s has no channel columns", path)
	}

	return &Replay{
		file:     f,
		reader:   r,
		channels: channels,
		realtime: realtime,
		line:     1,
	}, nil
}

// Channels is the number of channel columns in the file
func (r *Replay) Channels() int { return len(r.channels) }

func (r *Replay) Next(ctx context.Context) (Sample, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return Sample{}, err
	}

	var s Sample
	if r.pending != nil {
		s, r.pending = *r.pending, nil
	} else {
		var err error
		if s, err = r.read(); err != nil {
			return Sample{}, err
		}
	}
	if r.realtime && !r.pace(ctx, s.Timestamp) {
		return Sample{}, ctx.Err()
	}
	r.last = s.Timestamp
	return s, nil
}

func (r *Replay) read() (Sample, error) {
	if r.exhausted {
		return Sample{}, ErrExhausted
	}
	fields, err := r.reader.Read()
	if errors.Is(err, io.EOF) {
		r.exhausted = true
		return Sample{}, ErrExhausted
	}
	r.line++
	if err != nil {
		return Sample{}, fmt.Errorf("replay line %d: %w", r.line, err)
	}

	ts, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return Sample{}, fmt.Errorf("replay line %d: invalid timestamp: %w", r.line, err)
	}
	s := Sample{Timestamp: ts, Channels: make([]float32, 0, len(r.channels))}
	for _, idx := range r.channels {
		if idx >= len(fields) {
			// Short rows surface as malformed samples downstream
			break
		}
		v, err := strconv.ParseFloat(fields[idx], 32)
		if err != nil {
			return Sample{}, fmt.Errorf("replay line %d: invalid channel value: %w", r.line, err)
		}
		s.Channels = append(s.Channels, float32(v))
	}
	return s, nil
}

// pace waits until ts is due relative to the first replayed sample
func (r *Replay) pace(ctx context.Context, ts float64) bool {
	if r.start.IsZero() {
		r.start = time.Now()
		r.firstTS = ts
		return true
	}
	due := r.start.Add(time.Duration((ts - r.firstTS) * float64(time.Second)))
	wait := time.Until(due)
	if wait <= 0 {
		return true
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// FlushBacklog skips rows that are already overdue in realtime mode
func (r *Replay) FlushBacklog() {
	if !r.realtime {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.start.IsZero() || r.pending != nil {
		return
	}
	now := r.firstTS + time.Since(r.start).Seconds()
	// Rows are read lazily, so skipping means consuming until caught up
	for !r.exhausted {
		s, err := r.read()
		if err != nil || s.Timestamp >= now {
			if err == nil {
				// Re-anchor so the first row after the gap plays immediately
				r.start = time.Now()
				r.firstTS = s.Timestamp
				r.pending = &s
			}
			return
		}
	}
}

// Now is the timestamp of the last replayed sample
func (r *Replay) Now() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last
}

// Close releases the underlying file
func (r *Replay) Close() error {
	return r.file.Close()
}
