package source

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/afero"

	"github.com/audiolibrelab/fusecapture/internal/config"
	"github.com/audiolibrelab/fusecapture/internal/label"
)

// Pusher accepts events injected from outside the recorder, such as the
// HTTP control surface
type Pusher interface {
	Push(ev label.Event)
}

// NewSampleSource builds the sample source described by def and reports
// its channel count
func NewSampleSource(def config.SampleSourceDefinition, fs afero.Fs) (SampleSource, int, error) {
	if fs == nil {
		fs = afero.NewOsFs()
	}

	switch strings.ToLower(def.Kind) {
	case config.SampleKindSynthetic:
		if def.Channels <= 0 || def.RateHz <= 0 {
			return nil, 0, fmt.Errorf("synthetic source '%s' needs channels and rate_hz", def.ID)
		}
		src := NewSynthetic(SyntheticConfig{
			Channels:  def.Channels,
			RateHz:    def.RateHz,
			Amplitude: def.Amplitude,
			Realtime:  def.Realtime,
			Duration:  def.Duration,
			Seed:      def.Seed,
		})
		return src, def.Channels, nil

	case config.SampleKindReplay:
		src, err := OpenReplay(fs, def.Path, def.Realtime)
		if err != nil {
			return nil, 0, err
		}
		if def.Channels > 0 && def.Channels != src.Channels() {
			src.Close()
			return nil, 0, fmt.Errorf("replay file %s has %d channels, definition '%s' expects %d",
				def.Path, src.Channels(), def.ID, def.Channels)
		}
		return src, src.Channels(), nil

	default:
		return nil, 0, fmt.Errorf("unknown sample source kind '%s'", def.Kind)
	}
}

// NewEventSource builds the event source described by def. Scripted
// events are released against clock, normally the sample source.
func NewEventSource(def config.EventSourceDefinition, fs afero.Fs, clock Clock) (EventSource, error) {
	if fs == nil {
		fs = afero.NewOsFs()
	}

	switch strings.ToLower(def.Kind) {
	case config.EventKindQueue:
		return NewEventQueue(), nil

	case config.EventKindScript:
		if clock == nil {
			return nil, fmt.Errorf("script source '%s' needs a sample clock", def.ID)
		}
		events, err := LoadScript(fs, def.Script)
		if err != nil {
			return nil, err
		}
		return NewScript(clock, events), nil

	case config.EventKindMQTT:
		timeout := def.Timeout
		if timeout <= 0 {
			timeout = 5 * time.Second
		}
		m := NewMQTTEvents(MQTTConfig{
			Broker:   def.Broker,
			ClientID: def.ClientID,
			Topic:    def.Topic,
			QoS:      byte(def.QoS),
			Timeout:  timeout,
		})
		if err := m.Connect(); err != nil {
			return nil, err
		}
		return m, nil

	default:
		return nil, fmt.Errorf("unknown event source kind '%s'", def.Kind)
	}
}

// SampleClock returns src as a Clock when it tracks its own stream time
func SampleClock(src SampleSource) Clock {
	if c, ok := src.(Clock); ok {
		return c
	}
	return nil
}

// Close releases sources that hold files or connections
func Close(src any) error {
	if c, ok := src.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// AvailableSampleKinds lists the sample source kinds this build supports
func AvailableSampleKinds() []string {
	return []string{config.SampleKindSynthetic, config.SampleKindReplay}
}

// AvailableEventKinds lists the event source kinds this build supports
func AvailableEventKinds() []string {
	return []string{config.EventKindQueue, config.EventKindScript, config.EventKindMQTT}
}
