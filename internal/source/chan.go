package source

import "context"

// ChanSamples adapts a channel to SampleSource. A closed channel
// exhausts the source.
type ChanSamples struct {
	ch <-chan Sample
}

func NewChanSamples(ch <-chan Sample) *ChanSamples {
	return &ChanSamples{ch: ch}
}

func (c *ChanSamples) Next(ctx context.Context) (Sample, error) {
	select {
	case s, ok := <-c.ch:
		if !ok {
			return Sample{}, ErrExhausted
		}
		return s, nil
	case <-ctx.Done():
		return Sample{}, ctx.Err()
	}
}

// FlushBacklog drains whatever is buffered in the channel right now
func (c *ChanSamples) FlushBacklog() {
	for {
		select {
		case _, ok := <-c.ch:
			if !ok {
				return
			}
		default:
			return
		}
	}
}
