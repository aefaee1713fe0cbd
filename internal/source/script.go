package source

import (
	"fmt"
	"sort"
	"sync"

	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"

	"github.com/audiolibrelab/fusecapture/internal/label"
)

// ClockFunc adapts a function to Clock
type ClockFunc func() float64

func (f ClockFunc) Now() float64 { return f() }

// TimedEvent is an event scheduled at a sample-stream time
type TimedEvent struct {
	At    float64
	Event label.Event
}

type scriptEntry struct {
	At     float64 `yaml:"at"`
	Status string  `yaml:"status,omitempty"`
	Image  *int32  `yaml:"image,omitempty"`
}

type scriptFile struct {
	Events []scriptEntry `yaml:"events"`
}

// ParseScript decodes a YAML event script:
//
//	events:
//	  - at: 1.0
//	    status: baseline
//	  - at: 2.5
//	    image: 3
func ParseScript(data []byte) ([]TimedEvent, error) {
	var file scriptFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("error parsing event script: %w", err)
	}

	events := make([]TimedEvent, 0, len(file.Events))
	for i, e := range file.Events {
		if e.At < 0 {
			return nil, fmt.Errorf("events[%d]: 'at' must be >= 0, got %g", i, e.At)
		}
		var ev label.Event
		if e.Status != "" {
			st, err := label.ParseStatus(e.Status)
			if err != nil {
				return nil, fmt.Errorf("events[%d]: %w", i, err)
			}
			ev.HasStatus, ev.Status = true, st
		}
		if e.Image != nil {
			ev.HasImage, ev.Image = true, *e.Image
		}
		if !ev.HasStatus && !ev.HasImage {
			return nil, fmt.Errorf("events[%d]: needs a status or an image", i)
		}
		ev.Timestamp = e.At
		events = append(events, TimedEvent{At: e.At, Event: ev})
	}
	return events, nil
}

// LoadScript reads and parses the event script at path
func LoadScript(fs afero.Fs, path string) ([]TimedEvent, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, fmt.Errorf("error reading event script %s: %w", path, err)
	}
	return ParseScript(data)
}

// Script releases scheduled events once the clock reaches their time
type Script struct {
	clock Clock

	mu     sync.Mutex
	events []TimedEvent
	next   int
}

func NewScript(clock Clock, events []TimedEvent) *Script {
	sorted := append([]TimedEvent(nil), events...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].At < sorted[j].At })
	return &Script{clock: clock, events: sorted}
}

func (s *Script) TryNext() (label.Event, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.next >= len(s.events) || s.events[s.next].At > s.clock.Now() {
		return label.Event{}, false
	}
	ev := s.events[s.next].Event
	s.next++
	return ev, true
}

// FlushBacklog drops every event that is already due
func (s *Script) FlushBacklog() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock.Now()
	for s.next < len(s.events) && s.events[s.next].At <= now {
		s.next++
	}
}

// Remaining is the number of events not yet released or dropped
func (s *Script) Remaining() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events) - s.next
}
