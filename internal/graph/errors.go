package graph

import (
	"errors"
	"fmt"
)

var (
	ErrConfiguration     = errors.New("graph: invalid configuration")
	ErrInvalidState      = errors.New("graph: invalid state")
	ErrMissingSidePacket = errors.New("graph: missing side packet")
	ErrCallback          = errors.New("graph: callback failed")
	ErrNodeFailed        = errors.New("graph: node failed")
	ErrTimestampOrder    = errors.New("graph: timestamp not increasing")
	ErrInvalidFrame      = errors.New("graph: invalid frame")
	ErrPacketType        = errors.New("graph: wrong packet type")
)

// NodeError reports a calculator failure for one frame.
type NodeError struct {
	Node      string
	Timestamp Timestamp
	Err       error
}

func (e *NodeError) Error() string {
	return fmt.Sprintf("graph: node %q failed at %s: %v", e.Node, e.Timestamp, e.Err)
}

func (e *NodeError) Unwrap() []error {
	return []error{ErrNodeFailed, e.Err}
}

// CallbackError reports a subscriber callback that returned an error or panicked.
type CallbackError struct {
	Stream string
	Index  int
	Err    error
}

func (e *CallbackError) Error() string {
	return fmt.Sprintf("graph: callback %d on stream %q: %v", e.Index, e.Stream, e.Err)
}

func (e *CallbackError) Unwrap() []error {
	return []error{ErrCallback, e.Err}
}

func invalidState(op string, s State) error {
	return fmt.Errorf("%w: %s not allowed while %s", ErrInvalidState, op, s)
}
