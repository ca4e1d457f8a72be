package output

import (
	"fmt"
	"sync"

	"github.com/pebbe/zmq4"

	"github.com/bryanchriswhite/IrisStreamer/internal/graph"
	"github.com/bryanchriswhite/IrisStreamer/internal/logger"
)

// ZMQPublisher publishes packets on a PUB socket as two-frame messages:
// the stream name as topic, then the CBOR encoded Message.
type ZMQPublisher struct {
	endpoint string
	runID    string

	mu     sync.Mutex
	socket *zmq4.Socket
	sent   uint64
}

// NewZMQPublisher creates a publisher that binds endpoint on Start.
func NewZMQPublisher(endpoint, runID string) *ZMQPublisher {
	return &ZMQPublisher{endpoint: endpoint, runID: runID}
}

func (z *ZMQPublisher) Start() error {
	z.mu.Lock()
	defer z.mu.Unlock()

	if z.socket != nil {
		return fmt.Errorf("zmq publisher already running")
	}
	socket, err := zmq4.NewSocket(zmq4.PUB)
	if err != nil {
		return fmt.Errorf("failed to create zmq socket: %w", err)
	}
	// Drop rather than block when subscribers fall behind.
	if err := socket.SetSndhwm(1000); err != nil {
		_ = socket.Close()
		return fmt.Errorf("failed to set zmq high water mark: %w", err)
	}
	if err := socket.SetLinger(0); err != nil {
		_ = socket.Close()
		return fmt.Errorf("failed to set zmq linger: %w", err)
	}
	if err := socket.Bind(z.endpoint); err != nil {
		_ = socket.Close()
		return fmt.Errorf("failed to bind %s: %w", z.endpoint, err)
	}
	z.socket = socket
	z.sent = 0

	logger.WithComponent("zmq").Info().
		Str("endpoint", z.endpoint).
		Str("run_id", z.runID).
		Msg("ZMQ publisher bound")
	return nil
}

func (z *ZMQPublisher) Stop() error {
	z.mu.Lock()
	defer z.mu.Unlock()

	if z.socket == nil {
		return nil
	}
	err := z.socket.Close()
	z.socket = nil

	logger.WithComponent("zmq").Info().
		Str("endpoint", z.endpoint).
		Uint64("sent", z.sent).
		Msg("ZMQ publisher closed")
	return err
}

func (z *ZMQPublisher) Name() string { return "ZMQ publisher" }

func (z *ZMQPublisher) IsRunning() bool {
	z.mu.Lock()
	defer z.mu.Unlock()
	return z.socket != nil
}

// Consume publishes p under the topic stream.
func (z *ZMQPublisher) Consume(stream string, p graph.Packet) error {
	msg, err := NewMessage(stream, p)
	if err != nil {
		return err
	}
	msg.RunID = z.runID
	payload, err := encMode.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}

	// zmq sockets are not safe for concurrent use.
	z.mu.Lock()
	defer z.mu.Unlock()
	if z.socket == nil {
		return fmt.Errorf("zmq publisher not running")
	}
	if _, err := z.socket.SendMessageDontwait(stream, payload); err != nil {
		return fmt.Errorf("failed to publish %q: %w", stream, err)
	}
	z.sent++
	return nil
}
