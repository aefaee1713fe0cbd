package source

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/audiolibrelab/fusecapture/internal/label"
)

var (
	// ErrExhausted is returned by finite sample sources after their last sample
	ErrExhausted = errors.New("sample source exhausted")

	ErrMalformedSample = errors.New("malformed sample")
)

// Sample is one timestamped multi-channel reading
type Sample struct {
	Timestamp float64
	Channels  []float32
}

// Validate checks the channel count and that every value is finite
func (s Sample) Validate(channels int) error {
	if len(s.Channels) != channels {
		return fmt.Errorf("%w: expected %d channels, got %d", ErrMalformedSample, channels, len(s.Channels))
	}
	if math.IsNaN(s.Timestamp) || math.IsInf(s.Timestamp, 0) {
		return fmt.Errorf("%w: non-finite timestamp", ErrMalformedSample)
	}
	for i, v := range s.Channels {
		f := float64(v)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return fmt.Errorf("%w: non-finite value on ch%d", ErrMalformedSample, i+1)
		}
	}
	return nil
}

// SampleSource is a blocking, fixed-rate producer of samples
type SampleSource interface {
	// Next blocks until the next sample is available or ctx is done
	Next(ctx context.Context) (Sample, error)

	// FlushBacklog discards samples queued but not yet returned by Next
	FlushBacklog()
}

// EventSource is a non-blocking producer of marker events
type EventSource interface {
	// TryNext returns the oldest pending event without waiting
	TryNext() (label.Event, bool)

	// FlushBacklog discards all pending events
	FlushBacklog()
}

// Clock reports the current time of the sample stream in seconds
type Clock interface {
	Now() float64
}
