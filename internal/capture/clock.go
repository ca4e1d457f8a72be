package capture

import (
	"context"
	"sync"
	"time"

	"github.com/bryanchriswhite/IrisStreamer/internal/graph"
)

// Clock hands out microsecond timestamps relative to its creation. Each
// stamp is strictly greater than the previous one even when the wall
// clock stalls or steps back.
type Clock struct {
	mu    sync.Mutex
	start time.Time
	last  graph.Timestamp
	now   func() time.Time
}

// NewClock starts a clock at zero
func NewClock() *Clock {
	return newClockWith(time.Now)
}

func newClockWith(now func() time.Time) *Clock {
	return &Clock{start: now(), last: graph.Unset, now: now}
}

// Stamp returns the next timestamp
func (c *Clock) Stamp() graph.Timestamp {
	c.mu.Lock()
	defer c.mu.Unlock()

	ts := graph.Timestamp(c.now().Sub(c.start).Microseconds())
	if c.last.IsSet() && ts <= c.last {
		ts = c.last + 1
	}
	c.last = ts
	return ts
}

// pacer spaces frames at a fixed rate. A zero rate never waits.
type pacer struct {
	interval time.Duration
	next     time.Time
}

func newPacer(fps int) *pacer {
	p := &pacer{}
	if fps > 0 {
		p.interval = time.Second / time.Duration(fps)
	}
	return p
}

func (p *pacer) wait(ctx context.Context) error {
	if p.interval == 0 {
		return ctx.Err()
	}
	now := time.Now()
	if p.next.IsZero() || p.next.Before(now) {
		p.next = now
	}
	delay := p.next.Sub(now)
	p.next = p.next.Add(p.interval)
	if delay <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
