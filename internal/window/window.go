package window

import (
	"errors"
	"fmt"

	"github.com/audiolibrelab/fusecapture/internal/label"
)

// DefaultCapacity is the number of rows a window holds before rollover
const DefaultCapacity = 16384

var ErrFull = errors.New("window is full")

// Row is a read-only view of one labeled sample inside a window.
// Channels aliases the window's storage and must not be retained
// after the window is recycled.
type Row struct {
	Timestamp float64
	Channels  []float32
	Status    label.Status
	Image     int32
}

// Window is a fixed-capacity batch of labeled rows. Storage is allocated
// once and reused across Reset calls; only the write cursor moves.
type Window struct {
	seq      int
	capacity int
	channels int
	cursor   int

	timestamps []float64
	samples    []float32
	statuses   []label.Status
	images     []int32
}

// New allocates a window for capacity rows of the given channel count
func New(capacity, channels int) *Window {
	if capacity <= 0 {
		panic(fmt.Sprintf("window capacity must be > 0, got %d", capacity))
	}
	if channels <= 0 {
		panic(fmt.Sprintf("window channel count must be > 0, got %d", channels))
	}
	return &Window{
		capacity:   capacity,
		channels:   channels,
		timestamps: make([]float64, capacity),
		samples:    make([]float32, capacity*channels),
		statuses:   make([]label.Status, capacity),
		images:     make([]int32, capacity),
	}
}

// Append stamps a sample with the label state and stores it at the cursor
func (w *Window) Append(ts float64, channels []float32, st label.State) error {
	if w.cursor >= w.capacity {
		return ErrFull
	}
	if len(channels) != w.channels {
		return fmt.Errorf("expected %d channels, got %d", w.channels, len(channels))
	}
	i := w.cursor
	w.timestamps[i] = ts
	copy(w.samples[i*w.channels:(i+1)*w.channels], channels)
	w.statuses[i] = st.Status
	w.images[i] = st.Image
	w.cursor++
	return nil
}

// Row returns the i-th row
func (w *Window) Row(i int) Row {
	return Row{
		Timestamp: w.timestamps[i],
		Channels:  w.samples[i*w.channels : (i+1)*w.channels : (i+1)*w.channels],
		Status:    w.statuses[i],
		Image:     w.images[i],
	}
}

func (w *Window) Len() int      { return w.cursor }
func (w *Window) Cap() int      { return w.capacity }
func (w *Window) Channels() int { return w.channels }
func (w *Window) Full() bool    { return w.cursor >= w.capacity }
func (w *Window) Empty() bool   { return w.cursor == 0 }

// Seq is the window's position within its session, starting at 0
func (w *Window) Seq() int { return w.seq }

// SetSeq records the window's position within its session
func (w *Window) SetSeq(seq int) { w.seq = seq }

// FirstTimestamp returns the timestamp of the first row, 0 if empty
func (w *Window) FirstTimestamp() float64 {
	if w.cursor == 0 {
		return 0
	}
	return w.timestamps[0]
}

// LastTimestamp returns the timestamp of the last row, 0 if empty
func (w *Window) LastTimestamp() float64 {
	if w.cursor == 0 {
		return 0
	}
	return w.timestamps[w.cursor-1]
}

// Reset rewinds the cursor without releasing storage
func (w *Window) Reset() {
	w.cursor = 0
	w.seq = 0
}

// SizeBytes is the memory held by the window's storage
func (w *Window) SizeBytes() int64 {
	return SizeBytes(w.capacity, w.channels)
}

// SizeBytes is the memory a window of the given shape holds
func SizeBytes(capacity, channels int) int64 {
	// timestamp(8) + channels(4 each) + status(4) + image(4)
	return int64(capacity) * int64(8+4*channels+4+4)
}
