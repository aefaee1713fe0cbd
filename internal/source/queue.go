package source

import (
	"sync"

	"github.com/audiolibrelab/fusecapture/internal/label"
)

// EventQueue is an in-process FIFO event source. Producers such as the
// HTTP control surface or the MQTT subscriber push; the recorder polls.
type EventQueue struct {
	mu     sync.Mutex
	events []label.Event
	pushed int
}

func NewEventQueue() *EventQueue {
	return &EventQueue{}
}

// Push appends ev to the queue
func (q *EventQueue) Push(ev label.Event) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.events = append(q.events, ev)
	q.pushed++
}

func (q *EventQueue) TryNext() (label.Event, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.events) == 0 {
		return label.Event{}, false
	}
	ev := q.events[0]
	q.events[0] = label.Event{}
	q.events = q.events[1:]
	return ev, true
}

func (q *EventQueue) FlushBacklog() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.events = nil
}

// Len is the number of pending events
func (q *EventQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.events)
}

// Pushed is the number of events ever pushed
func (q *EventQueue) Pushed() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pushed
}
