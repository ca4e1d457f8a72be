package output

import (
	"fmt"

	"github.com/bryanchriswhite/IrisStreamer/internal/graph"
)

// Sink consumes packets from one or more graph output streams.
// Implementations:
// - MJPEG HTTP stream (image packets)
// - websocket depth hub (float and landmark packets)
// - CBOR recorder
// - ZeroMQ publisher
type Sink interface {
	// Start initializes the sink
	Start() error

	// Stop cleanly shuts down the sink
	Stop() error

	// Name returns a human-readable name for this sink
	Name() string

	// IsRunning returns true if the sink is currently active
	IsRunning() bool

	// Consume handles one packet delivered on stream. It runs on the
	// goroutine pushing frames and must not block for long.
	Consume(stream string, p graph.Packet) error
}

// Subscriber is implemented by graph.Runner and graph.Dispatcher.
type Subscriber interface {
	Subscribe(stream string, cb graph.Callback) error
}

// Attach subscribes sink to every stream in streams.
func Attach(sub Subscriber, sink Sink, streams ...string) error {
	if len(streams) == 0 {
		return fmt.Errorf("no streams to attach %s to", sink.Name())
	}
	for _, stream := range streams {
		stream := stream
		err := sub.Subscribe(stream, func(p graph.Packet) error {
			if !sink.IsRunning() {
				return nil
			}
			return sink.Consume(stream, p)
		})
		if err != nil {
			return fmt.Errorf("failed to attach %s to %q: %w", sink.Name(), stream, err)
		}
	}
	return nil
}
