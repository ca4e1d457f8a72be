package graph

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/bryanchriswhite/IrisStreamer/internal/logger"
)

// Callback consumes packets delivered on a stream. It runs on the
// goroutine that pushed the frame; any hand-off to another goroutine is
// the subscriber's job.
type Callback func(Packet) error

// DeliveryStats counts callback invocations on one stream
type DeliveryStats struct {
	Delivered uint64 `json:"delivered"`
	Failed    uint64 `json:"failed"`
}

type subscription struct {
	callbacks []Callback
	delivered atomic.Uint64
	failed    atomic.Uint64
}

// Dispatcher delivers packets to the callbacks registered per stream.
// Delivery is synchronous and follows registration order.
type Dispatcher struct {
	mu   sync.RWMutex
	subs map[string]*subscription
}

// NewDispatcher creates an empty dispatcher
func NewDispatcher() *Dispatcher {
	return &Dispatcher{subs: make(map[string]*subscription)}
}

// Subscribe appends cb to the callbacks of stream.
func (d *Dispatcher) Subscribe(stream string, cb Callback) error {
	if stream == "" {
		return fmt.Errorf("%w: subscribe to empty stream name", ErrConfiguration)
	}
	if cb == nil {
		return fmt.Errorf("%w: nil callback for stream %q", ErrConfiguration, stream)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	sub, ok := d.subs[stream]
	if !ok {
		sub = &subscription{}
		d.subs[stream] = sub
	}
	sub.callbacks = append(sub.callbacks, cb)
	return nil
}

// HasSubscribers reports whether stream has at least one callback.
func (d *Dispatcher) HasSubscribers(stream string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	sub, ok := d.subs[stream]
	return ok && len(sub.callbacks) > 0
}

// Streams returns the subscribed stream names, sorted.
func (d *Dispatcher) Streams() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	names := make([]string, 0, len(d.subs))
	for name, sub := range d.subs {
		if len(sub.callbacks) > 0 {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// Dispatch invokes every callback of stream with p and returns once all
// of them have run. Failing callbacks are logged and skipped; the
// returned slice holds one CallbackError per failure.
func (d *Dispatcher) Dispatch(stream string, p Packet) []error {
	d.mu.RLock()
	sub, ok := d.subs[stream]
	var callbacks []Callback
	if ok {
		callbacks = make([]Callback, len(sub.callbacks))
		copy(callbacks, sub.callbacks)
	}
	d.mu.RUnlock()

	if len(callbacks) == 0 {
		return nil
	}

	var errs []error
	for i, cb := range callbacks {
		if err := invoke(cb, p); err != nil {
			cbErr := &CallbackError{Stream: stream, Index: i, Err: err}
			sub.failed.Add(1)
			logger.WithComponent("dispatcher").Warn().
				Err(err).
				Str("stream", stream).
				Int("callback", i).
				Str("timestamp", p.Timestamp().String()).
				Msg("Callback failed")
			errs = append(errs, cbErr)
			continue
		}
		sub.delivered.Add(1)
	}
	return errs
}

// Stats returns delivery counters for stream.
func (d *Dispatcher) Stats(stream string) DeliveryStats {
	d.mu.RLock()
	defer d.mu.RUnlock()

	sub, ok := d.subs[stream]
	if !ok {
		return DeliveryStats{}
	}
	return DeliveryStats{
		Delivered: sub.delivered.Load(),
		Failed:    sub.failed.Load(),
	}
}

func invoke(cb Callback, p Packet) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return cb(p)
}
