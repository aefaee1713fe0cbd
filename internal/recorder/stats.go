package recorder

import (
	"sync/atomic"

	"github.com/audiolibrelab/fusecapture/internal/flush"
)

// Stats counts what the pacing loop did with each sample and event
type Stats struct {
	Acquired         int64       `json:"acquired"`
	Recorded         int64       `json:"recorded"`
	Discarded        int64       `json:"discarded"`
	Skipped          int64       `json:"skipped"`
	Events           int64       `json:"events"`
	DiscardedEvents  int64       `json:"discarded_events"`
	ProtocolWarnings int64       `json:"protocol_warnings"`
	Windows          int64       `json:"windows"`
	Flush            flush.Stats `json:"flush"`
}

type counters struct {
	acquired         atomic.Int64
	recorded         atomic.Int64
	discarded        atomic.Int64
	skipped          atomic.Int64
	events           atomic.Int64
	discardedEvents  atomic.Int64
	protocolWarnings atomic.Int64
	windows          atomic.Int64
}

func (c *counters) snapshot() Stats {
	return Stats{
		Acquired:         c.acquired.Load(),
		Recorded:         c.recorded.Load(),
		Discarded:        c.discarded.Load(),
		Skipped:          c.skipped.Load(),
		Events:           c.events.Load(),
		DiscardedEvents:  c.discardedEvents.Load(),
		ProtocolWarnings: c.protocolWarnings.Load(),
		Windows:          c.windows.Load(),
	}
}
