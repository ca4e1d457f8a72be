package graph

import (
	"errors"
	"fmt"
)

// SidePacketReader gives calculators read access to side packets.
type SidePacketReader interface {
	Get(name string) (Packet, error)
}

// Calculator is the transform owned by a Node. Open runs once at Start,
// Process once per frame whose required inputs are all present, Close
// once at Stop. Resources a calculator allocates stay inside it.
type Calculator interface {
	Open(side SidePacketReader) error
	Process(ctx *Context) error
	Close() error
}

// Node declares one calculator and its stream wiring.
type Node struct {
	Name           string
	Inputs         []string
	OptionalInputs []string
	Outputs        []string
	SideInputs     []string
	Calculator     Calculator
}

// Config is the static graph definition handed to NewRunner.
type Config struct {
	// InputStream is the stream frames are pushed into.
	InputStream string
	Nodes       []Node
}

var errUndeclaredOutput = errors.New("output stream not declared by node")

type emitted struct {
	stream string
	packet Packet
}

// Context carries one node's view of one frame.
type Context struct {
	node     string
	ts       Timestamp
	inputs   map[string]Packet
	declared map[string]bool
	outputs  []emitted
}

func newContext(n *Node, ts Timestamp) *Context {
	declared := make(map[string]bool, len(n.Outputs))
	for _, out := range n.Outputs {
		declared[out] = true
	}
	return &Context{
		node:     n.Name,
		ts:       ts,
		inputs:   make(map[string]Packet, len(n.Inputs)+len(n.OptionalInputs)),
		declared: declared,
	}
}

// Node returns the name of the running node.
func (c *Context) Node() string { return c.node }

// Timestamp returns the timestamp of the frame being processed.
func (c *Context) Timestamp() Timestamp { return c.ts }

// Input returns the packet present on stream for this frame.
func (c *Context) Input(stream string) (Packet, bool) {
	p, ok := c.inputs[stream]
	return p, ok
}

// Output emits p on stream. Unstamped packets take the frame timestamp.
func (c *Context) Output(stream string, p Packet) error {
	if !c.declared[stream] {
		return fmt.Errorf("%w: %q", errUndeclaredOutput, stream)
	}
	if p.IsEmpty() {
		return fmt.Errorf("empty packet emitted on %q", stream)
	}
	for _, e := range c.outputs {
		if e.stream == stream {
			return fmt.Errorf("%w: second packet on %q in one frame", ErrTimestampOrder, stream)
		}
	}
	if !p.Timestamp().IsSet() {
		p = p.At(c.ts)
	}
	c.outputs = append(c.outputs, emitted{stream: stream, packet: p})
	return nil
}

// OutputFloat emits a scalar stamped with the frame timestamp.
func (c *Context) OutputFloat(stream string, v float32) error {
	return c.Output(stream, MakeFloat(v))
}
