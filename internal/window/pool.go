package window

import "sync"

// Pool recycles windows of one shape between the recorder and the
// flush writer so rollover does not reallocate.
type Pool struct {
	capacity int
	channels int
	maxIdle  int

	mu   sync.Mutex
	idle []*Window

	allocated int
}

// NewPool creates a pool keeping at most maxIdle reset windows around
func NewPool(capacity, channels, maxIdle int) *Pool {
	if maxIdle < 1 {
		maxIdle = 1
	}
	return &Pool{
		capacity: capacity,
		channels: channels,
		maxIdle:  maxIdle,
	}
}

// Get returns an empty window, reusing an idle one when available
func (p *Pool) Get() *Window {
	p.mu.Lock()
	defer p.mu.Unlock()

	if n := len(p.idle); n > 0 {
		w := p.idle[n-1]
		p.idle[n-1] = nil
		p.idle = p.idle[:n-1]
		return w
	}
	p.allocated++
	return New(p.capacity, p.channels)
}

// Put resets w and makes it available to Get. Windows of another
// shape are dropped.
func (p *Pool) Put(w *Window) {
	if w == nil || w.capacity != p.capacity || w.channels != p.channels {
		return
	}
	w.Reset()

	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.idle) < p.maxIdle {
		p.idle = append(p.idle, w)
	}
}

// Allocated is the number of windows the pool has created
func (p *Pool) Allocated() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.allocated
}

func (p *Pool) Capacity() int { return p.capacity }
func (p *Pool) Channels() int { return p.channels }
