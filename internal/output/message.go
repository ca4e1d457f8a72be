package output

import (
	"errors"
	"fmt"

	"github.com/bryanchriswhite/IrisStreamer/internal/graph"
)

// ErrUnsupportedPacket is returned for packets a sink cannot serialise.
var ErrUnsupportedPacket = errors.New("unsupported packet")

// Message is the serialisable form of a float or landmark packet. It is
// shared by the websocket hub (JSON), the recorder and ZeroMQ (CBOR).
type Message struct {
	RunID     string             `json:"run_id,omitempty" cbor:"run_id,omitempty"`
	Stream    string             `json:"stream" cbor:"stream"`
	Timestamp int64              `json:"timestamp" cbor:"timestamp"`
	Kind      string             `json:"kind" cbor:"kind"`
	Value     *float32           `json:"value,omitempty" cbor:"value,omitempty"`
	Landmarks graph.LandmarkList `json:"landmarks,omitempty" cbor:"landmarks,omitempty"`
}

// NewMessage converts p. Image packets are not supported.
func NewMessage(stream string, p graph.Packet) (Message, error) {
	msg := Message{
		Stream:    stream,
		Timestamp: int64(p.Timestamp()),
		Kind:      p.Kind().String(),
	}
	switch p.Kind() {
	case graph.KindFloat:
		v, err := p.Float()
		if err != nil {
			return Message{}, err
		}
		msg.Value = &v
	case graph.KindLandmarks:
		l, err := p.Landmarks()
		if err != nil {
			return Message{}, err
		}
		msg.Landmarks = l
	default:
		return Message{}, fmt.Errorf("%w: %s on stream %q", ErrUnsupportedPacket, p.Kind(), stream)
	}
	return msg, nil
}

// Packet rebuilds the graph packet carried by m.
func (m Message) Packet() (graph.Packet, error) {
	var p graph.Packet
	switch {
	case m.Value != nil:
		p = graph.MakeFloat(*m.Value)
	case m.Kind == graph.KindLandmarks.String():
		p = graph.MakeLandmarks(m.Landmarks)
	default:
		return graph.Packet{}, fmt.Errorf("%w: %s on stream %q", ErrUnsupportedPacket, m.Kind, m.Stream)
	}
	return p.At(graph.Timestamp(m.Timestamp)), nil
}
