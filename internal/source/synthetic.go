package source

import (
	"context"
	"math"
	"math/rand/v2"
	"sync"
	"time"
)

// SyntheticConfig shapes the generated signal
type SyntheticConfig struct {
	Channels  int
	RateHz    float64
	Amplitude float64
	Realtime  bool

	// Duration bounds the stream; zero means unbounded
	Duration time.Duration

	Seed uint64
}

// Synthetic generates an EEG-like signal (one sine per channel plus noise)
// at a fixed rate. Timestamps are seconds since the first sample. In
// realtime mode Next paces on the wall clock; otherwise it returns at once.
type Synthetic struct {
	cfg   SyntheticConfig
	limit int
	rng   *rand.Rand

	mu    sync.Mutex
	index int
	start time.Time
	last  float64
}

func NewSynthetic(cfg SyntheticConfig) *Synthetic {
	if cfg.Amplitude == 0 {
		cfg.Amplitude = 50
	}
	s := &Synthetic{
		cfg: cfg,
		//nolint:gosec // signal noise doesn't need cryptographic randomness
		rng: rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15)),
	}
	if cfg.Duration > 0 {
		s.limit = int(math.Round(cfg.Duration.Seconds() * cfg.RateHz))
	}
	return s
}

func (s *Synthetic) Next(ctx context.Context) (Sample, error) {
	s.mu.Lock()
	if s.limit > 0 && s.index >= s.limit {
		s.mu.Unlock()
		return Sample{}, ErrExhausted
	}
	if s.start.IsZero() {
		s.start = time.Now()
	}
	i := s.index
	start := s.start
	s.mu.Unlock()

	ts := float64(i) / s.cfg.RateHz
	if s.cfg.Realtime {
		due := start.Add(time.Duration(ts * float64(time.Second)))
		if wait := time.Until(due); wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return Sample{}, ctx.Err()
			}
		}
	}

	channels := make([]float32, s.cfg.Channels)
	for c := range channels {
		freq := 8.0 + 2.0*float64(c)
		v := s.cfg.Amplitude*math.Sin(2*math.Pi*freq*ts) + s.cfg.Amplitude*0.1*s.rng.NormFloat64()
		channels[c] = float32(v)
	}

	s.mu.Lock()
	// FlushBacklog may have skipped ahead while we waited
	if s.index == i {
		s.index++
	}
	s.last = ts
	s.mu.Unlock()

	return Sample{Timestamp: ts, Channels: channels}, nil
}

// FlushBacklog skips samples whose due time has already passed
func (s *Synthetic) FlushBacklog() {
	if !s.cfg.Realtime {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.start.IsZero() {
		return
	}
	due := int(time.Since(s.start).Seconds() * s.cfg.RateHz)
	if due > s.index {
		s.index = due
	}
}

// Now is the timestamp of the most recent sample
func (s *Synthetic) Now() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}
