package source

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/audiolibrelab/fusecapture/internal/config"
	"github.com/audiolibrelab/fusecapture/internal/label"
)

func TestSampleValidate(t *testing.T) {
	ok := Sample{Timestamp: 1, Channels: []float32{1, 2}}
	require.NoError(t, ok.Validate(2))

	tests := []struct {
		name   string
		sample Sample
	}{
		{"channel count", Sample{Timestamp: 1, Channels: []float32{1}}},
		{"nan timestamp", Sample{Timestamp: math.NaN(), Channels: []float32{1, 2}}},
		{"inf timestamp", Sample{Timestamp: math.Inf(1), Channels: []float32{1, 2}}},
		{"nan value", Sample{Timestamp: 1, Channels: []float32{1, float32(math.NaN())}}},
		{"inf value", Sample{Timestamp: 1, Channels: []float32{float32(math.Inf(-1)), 2}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.sample.Validate(2)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrMalformedSample)
		})
	}
}

func TestChanSamples(t *testing.T) {
	ch := make(chan Sample, 4)
	src := NewChanSamples(ch)

	ch <- Sample{Timestamp: 1}
	s, err := src.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1.0, s.Timestamp)

	ch <- Sample{Timestamp: 2}
	ch <- Sample{Timestamp: 3}
	src.FlushBacklog()
	ch <- Sample{Timestamp: 4}
	s, err = src.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4.0, s.Timestamp, "backlog should have been discarded")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = src.Next(ctx)
	assert.ErrorIs(t, err, context.Canceled)

	close(ch)
	_, err = src.Next(context.Background())
	assert.ErrorIs(t, err, ErrExhausted)
}

func TestEventQueue(t *testing.T) {
	q := NewEventQueue()
	_, ok := q.TryNext()
	assert.False(t, ok)

	q.Push(label.StatusEvent(label.StatusBaseline))
	q.Push(label.ImageEvent(3))
	assert.Equal(t, 2, q.Len())

	ev, ok := q.TryNext()
	require.True(t, ok)
	assert.Equal(t, label.StatusBaseline, ev.Status)

	q.Push(label.ImageEvent(4))
	q.FlushBacklog()
	assert.Equal(t, 0, q.Len())
	assert.Equal(t, 3, q.Pushed())
}

func TestSyntheticFast(t *testing.T) {
	src := NewSynthetic(SyntheticConfig{Channels: 3, RateHz: 256, Duration: time.Second, Seed: 7})

	var last Sample
	n := 0
	for {
		s, err := src.Next(context.Background())
		if errors.Is(err, ErrExhausted) {
			break
		}
		require.NoError(t, err)
		require.NoError(t, s.Validate(3))
		if n > 0 {
			assert.Greater(t, s.Timestamp, last.Timestamp)
		}
		last = s
		n++
	}
	assert.Equal(t, 256, n)
	assert.InDelta(t, 255.0/256.0, last.Timestamp, 1e-9)
	assert.Equal(t, last.Timestamp, src.Now())
}

func TestSyntheticRealtimeHonoursContext(t *testing.T) {
	src := NewSynthetic(SyntheticConfig{Channels: 1, RateHz: 1, Realtime: true})
	_, err := src.Next(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = src.Next(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

const script = `
events:
  - at: 2.0
    image: 5
  - at: 1.0
    status: baseline
  - at: 3.0
    status: imagine-eyes-closed
    image: 6
`

func TestParseScript(t *testing.T) {
	events, err := ParseScript([]byte(script))
	require.NoError(t, err)
	require.Len(t, events, 3)

	assert.True(t, events[0].Event.HasImage)
	assert.False(t, events[0].Event.HasStatus)
	assert.Equal(t, label.StatusImagineEyesClosed, events[2].Event.Status)
	assert.Equal(t, int32(6), events[2].Event.Image)

	_, err = ParseScript([]byte("events:\n  - at: 1\n"))
	assert.ErrorContains(t, err, "needs a status or an image")

	_, err = ParseScript([]byte("events:\n  - at: 1\n    status: sleeping\n"))
	assert.Error(t, err)

	_, err = ParseScript([]byte("events:\n  - at: -1\n    image: 1\n"))
	assert.ErrorContains(t, err, "'at' must be >= 0")
}

func TestScriptReleasesOnClock(t *testing.T) {
	events, err := ParseScript([]byte(script))
	require.NoError(t, err)

	now := 0.0
	s := NewScript(ClockFunc(func() float64 { return now }), events)

	_, ok := s.TryNext()
	assert.False(t, ok, "nothing is due at t=0")

	now = 1.0
	ev, ok := s.TryNext()
	require.True(t, ok)
	assert.Equal(t, label.StatusBaseline, ev.Status, "events are released in time order")
	_, ok = s.TryNext()
	assert.False(t, ok)

	now = 3.5
	s.FlushBacklog()
	assert.Equal(t, 0, s.Remaining())
}

func TestLoadScript(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/protocol.yaml", []byte(script), 0o644))

	events, err := LoadScript(fs, "/protocol.yaml")
	require.NoError(t, err)
	assert.Len(t, events, 3)

	_, err = LoadScript(fs, "/missing.yaml")
	assert.Error(t, err)
}

func TestDecodeMarkerPayload(t *testing.T) {
	ev, err := DecodeMarkerPayload([]byte(`{"marker":[1,7,1,2],"timestamp":12.5}`))
	require.NoError(t, err)
	assert.Equal(t, label.Event{HasImage: true, Image: 7, HasStatus: true, Status: label.StatusLook, Timestamp: 12.5}, ev)

	ev, err = DecodeMarkerPayload([]byte(`[0,-1,1,0]`))
	require.NoError(t, err)
	assert.False(t, ev.HasImage)
	assert.Equal(t, label.StatusBaseline, ev.Status)

	_, err = DecodeMarkerPayload([]byte(`[1,2]`))
	assert.Error(t, err)

	_, err = DecodeMarkerPayload([]byte(`not json`))
	assert.ErrorContains(t, err, "invalid marker payload")
}

const rawCSV = `timestamp,ch1,ch2,status
0,1.5,-2,0
0.5,0.25,3,1
1,4,5,1
`

func TestReplay(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/raw.csv", []byte(rawCSV), 0o644))

	r, err := OpenReplay(fs, "/raw.csv", false)
	require.NoError(t, err)
	defer r.Close()
	assert.Equal(t, 2, r.Channels())

	var got []Sample
	for {
		s, err := r.Next(context.Background())
		if errors.Is(err, ErrExhausted) {
			break
		}
		require.NoError(t, err)
		got = append(got, s)
	}
	require.Len(t, got, 3)
	assert.Equal(t, []float32{0.25, 3}, got[1].Channels)
	assert.Equal(t, 1.0, r.Now())
}

func TestReplayRejectsBadHeader(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/a.csv", []byte("time,ch1\n0,1\n"), 0o644))
	require.NoError(t, afero.WriteFile(fs, "/b.csv", []byte("timestamp,status\n0,1\n"), 0o644))

	_, err := OpenReplay(fs, "/a.csv", false)
	assert.ErrorContains(t, err, "must start with a 'timestamp' column")
	_, err = OpenReplay(fs, "/b.csv", false)
	assert.ErrorContains(t, err, "no channel columns")
}

func TestFactory(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/raw.csv", []byte(rawCSV), 0o644))
	require.NoError(t, afero.WriteFile(fs, "/protocol.yaml", []byte(script), 0o644))

	src, channels, err := NewSampleSource(config.SampleSourceDefinition{ID: "s", Kind: "synthetic", Channels: 8, RateHz: 256}, fs)
	require.NoError(t, err)
	assert.Equal(t, 8, channels)
	require.NotNil(t, SampleClock(src))

	replay, channels, err := NewSampleSource(config.SampleSourceDefinition{ID: "r", Kind: "replay", Path: "/raw.csv"}, fs)
	require.NoError(t, err)
	assert.Equal(t, 2, channels)
	require.NoError(t, Close(replay))

	_, _, err = NewSampleSource(config.SampleSourceDefinition{ID: "r", Kind: "replay", Path: "/raw.csv", Channels: 8}, fs)
	assert.ErrorContains(t, err, "expects 8")

	_, _, err = NewSampleSource(config.SampleSourceDefinition{ID: "x", Kind: "cyton"}, fs)
	assert.Error(t, err)

	q, err := NewEventSource(config.EventSourceDefinition{ID: "q", Kind: "queue"}, fs, nil)
	require.NoError(t, err)
	_, isPusher := q.(Pusher)
	assert.True(t, isPusher)

	sc, err := NewEventSource(config.EventSourceDefinition{ID: "p", Kind: "script", Script: "/protocol.yaml"}, fs, SampleClock(src))
	require.NoError(t, err)
	_, isPusher = sc.(Pusher)
	assert.False(t, isPusher)

	_, err = NewEventSource(config.EventSourceDefinition{ID: "p", Kind: "script", Script: "/protocol.yaml"}, fs, nil)
	assert.Error(t, err)

	assert.NoError(t, Close(q), "sources without resources close cleanly")
	assert.ElementsMatch(t, []string{"synthetic", "replay"}, AvailableSampleKinds())
	assert.Contains(t, AvailableEventKinds(), "mqtt")
}
