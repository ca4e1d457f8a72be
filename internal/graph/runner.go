package graph

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/bryanchriswhite/IrisStreamer/internal/logger"
)

// State is the lifecycle position of a Runner
type State int

const (
	StateUninitialized State = iota
	StateConfigured
	StateRunning
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateConfigured:
		return "configured"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// FrameSource produces frames for Runner.Run. Next returns io.EOF once the
// source is exhausted.
type FrameSource interface {
	Next(ctx context.Context) (Frame, error)
}

// StreamStats summarises one stream
type StreamStats struct {
	Packets       uint64 `json:"packets"`
	LastTimestamp int64  `json:"last_timestamp"`
	Delivered     uint64 `json:"delivered"`
	Failed        uint64 `json:"callback_failures"`
}

// Stats is a point-in-time snapshot of a Runner
type Stats struct {
	RunID          string                 `json:"run_id"`
	State          string                 `json:"state"`
	FramesPushed   uint64                 `json:"frames_pushed"`
	FramesFailed   uint64                 `json:"frames_failed"`
	FramesRejected uint64                 `json:"frames_rejected"`
	Streams        map[string]StreamStats `json:"streams"`
}

// Runner owns a fixed graph of nodes and pushes frames through it.
type Runner struct {
	cfg        Config
	runID      string
	side       *SidePacketStore
	dispatcher *Dispatcher

	// mu serialises the lifecycle and frame execution. state is written
	// under mu and may be read without it.
	mu        sync.Mutex
	state     atomic.Int32
	order     []int
	lastInput Timestamp
	last      map[string]Timestamp

	// dispatching is set while PushFrame delivers packets. A Stop that
	// arrives then, typically from a callback, is deferred until
	// delivery ends.
	dispatchMu  sync.Mutex
	dispatching bool
	stopPending bool

	statsMu        sync.RWMutex
	framesPushed   uint64
	framesFailed   uint64
	framesRejected uint64
	packets        map[string]uint64
	lastStamp      map[string]Timestamp
}

// NewRunner creates a runner for cfg. Node wiring is validated by Start.
func NewRunner(cfg Config) *Runner {
	return &Runner{
		cfg:        cfg,
		runID:      uuid.NewString(),
		side:       NewSidePacketStore(),
		dispatcher: NewDispatcher(),
		lastInput:  Unset,
		last:       make(map[string]Timestamp),
		packets:    make(map[string]uint64),
		lastStamp:  make(map[string]Timestamp),
	}
}

// RunID identifies this runner in logs and recordings.
func (r *Runner) RunID() string { return r.runID }

// InputStream returns the stream frames are pushed into.
func (r *Runner) InputStream() string { return r.cfg.InputStream }

// SidePackets exposes the store so side packets can be set before Start.
func (r *Runner) SidePackets() *SidePacketStore { return r.side }

// Dispatcher returns the output dispatcher.
func (r *Runner) Dispatcher() *Dispatcher { return r.dispatcher }

// Subscribe registers cb for every packet on stream.
func (r *Runner) Subscribe(stream string, cb Callback) error {
	return r.dispatcher.Subscribe(stream, cb)
}

// State returns the current lifecycle state.
func (r *Runner) State() State {
	return State(r.state.Load())
}

func (r *Runner) setState(s State) {
	r.state.Store(int32(s))
}

// Order returns node names in execution order. It is empty before Start.
func (r *Runner) Order() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, len(r.order))
	for i, idx := range r.order {
		names[i] = r.cfg.Nodes[idx].Name
	}
	return names
}

// Streams returns every declared stream, input stream first.
func (r *Runner) Streams() []string {
	streams := []string{r.cfg.InputStream}
	for _, n := range r.cfg.Nodes {
		streams = append(streams, n.Outputs...)
	}
	return streams
}

// Validate checks the graph wiring without changing state.
func (r *Runner) Validate() error {
	_, err := plan(r.cfg)
	return err
}

// Plan returns the node names in the order Start would run them.
func (r *Runner) Plan() ([]string, error) {
	order, err := plan(r.cfg)
	if err != nil {
		return nil, err
	}
	names := make([]string, len(order))
	for i, idx := range order {
		names[i] = r.cfg.Nodes[idx].Name
	}
	return names, nil
}

// SetInputSidePackets stores side packets ahead of Start.
func (r *Runner) SetInputSidePackets(packets map[string]Packet) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s := r.State(); s != StateUninitialized && s != StateConfigured {
		return invalidState("SetInputSidePackets", s)
	}
	for name, p := range packets {
		if err := r.side.Set(name, p); err != nil {
			return err
		}
	}
	r.setState(StateConfigured)
	return nil
}

// Start merges sidePackets into the store, validates the graph and opens
// every calculator. On failure nothing is left open and the state is
// unchanged.
func (r *Runner) Start(sidePackets map[string]Packet) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s := r.State(); s != StateUninitialized && s != StateConfigured {
		return invalidState("Start", s)
	}

	order, err := plan(r.cfg)
	if err != nil {
		return err
	}

	for _, n := range r.cfg.Nodes {
		for _, name := range n.SideInputs {
			if _, ok := sidePackets[name]; ok {
				continue
			}
			if !r.side.Has(name) {
				return fmt.Errorf("%w: node %q requires %q", ErrMissingSidePacket, n.Name, name)
			}
		}
	}

	previous := r.side.snapshot()
	for name, p := range sidePackets {
		if err := r.side.Set(name, p); err != nil {
			r.side.restore(previous)
			return err
		}
	}

	log := logger.WithComponent("graph")
	opened := make([]int, 0, len(order))
	for _, idx := range order {
		n := &r.cfg.Nodes[idx]
		if err := n.Calculator.Open(r.side); err != nil {
			r.closeNodes(opened)
			r.side.restore(previous)
			return fmt.Errorf("failed to open node %q: %w", n.Name, err)
		}
		opened = append(opened, idx)
	}

	r.side.Seal()
	r.order = order
	r.setState(StateRunning)

	log.Info().
		Str("run_id", r.runID).
		Strs("order", r.orderNamesLocked()).
		Strs("side_packets", r.side.Names()).
		Msg("Graph started")
	return nil
}

// PushFrame runs every node once for frame and dispatches the results.
// It returns after all callbacks have completed.
func (r *Runner) PushFrame(frame Frame) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s := r.State(); s != StateRunning {
		return invalidState("PushFrame", s)
	}
	if frame.Image == nil {
		r.countRejected()
		return fmt.Errorf("%w: frame has no image", ErrInvalidFrame)
	}
	if !frame.Timestamp.IsSet() || (r.lastInput.IsSet() && frame.Timestamp <= r.lastInput) {
		r.countRejected()
		return fmt.Errorf("%w: frame timestamp %s after %s", ErrTimestampOrder, frame.Timestamp, r.lastInput)
	}

	ts := frame.Timestamp
	pending := map[string]Packet{
		r.cfg.InputStream: MakeImage(frame.Image).At(ts),
	}
	produced := []string{r.cfg.InputStream}

	for _, idx := range r.order {
		n := &r.cfg.Nodes[idx]
		ctx := newContext(n, ts)

		ready := true
		for _, in := range n.Inputs {
			p, ok := pending[in]
			if !ok {
				ready = false
				break
			}
			ctx.inputs[in] = p
		}
		if !ready {
			continue
		}
		for _, in := range n.OptionalInputs {
			if p, ok := pending[in]; ok {
				ctx.inputs[in] = p
			}
		}

		if err := process(n.Calculator, ctx); err != nil {
			return r.fail(n.Name, ts, err)
		}

		for _, out := range ctx.outputs {
			if last, ok := r.last[out.stream]; ok && out.packet.Timestamp() <= last {
				return r.fail(n.Name, ts, fmt.Errorf("%w: stream %q got %s after %s",
					ErrTimestampOrder, out.stream, out.packet.Timestamp(), last))
			}
			pending[out.stream] = out.packet
			produced = append(produced, out.stream)
		}
	}

	r.lastInput = ts
	for _, stream := range produced {
		r.last[stream] = pending[stream].Timestamp()
	}
	r.countFrame(produced, pending)

	r.dispatchMu.Lock()
	r.dispatching = true
	r.dispatchMu.Unlock()

	for _, stream := range produced {
		if r.dispatcher.HasSubscribers(stream) {
			r.dispatcher.Dispatch(stream, pending[stream])
		}
	}

	r.dispatchMu.Lock()
	r.dispatching = false
	stop := r.stopPending
	r.stopPending = false
	r.dispatchMu.Unlock()

	if stop {
		// Close failures are logged by closeNodes; the frame itself
		// succeeded.
		_ = r.stopLocked()
	}
	return nil
}

// Run pulls frames from src until it is exhausted, ctx ends or the runner
// stops. Failed frames are logged and skipped.
func (r *Runner) Run(ctx context.Context, src FrameSource) error {
	log := logger.WithComponent("graph")
	for {
		if ctx.Err() != nil {
			return nil
		}

		frame, err := src.Next(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) {
				log.Info().Str("run_id", r.runID).Msg("Frame source exhausted")
				return nil
			}
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("failed to read frame: %w", err)
		}

		if err := r.PushFrame(frame); err != nil {
			if errors.Is(err, ErrInvalidState) {
				log.Info().Str("run_id", r.runID).Msg("Runner no longer accepts frames")
				return nil
			}
			log.Warn().
				Err(err).
				Str("timestamp", frame.Timestamp.String()).
				Msg("Frame dropped")
		}
	}
}

// Stop closes every calculator and drops side packets. The runner cannot
// be restarted. Stop waits for an in-flight PushFrame; called while that
// frame's packets are being delivered, for example from a callback, it
// returns at once and the runner stops when delivery ends.
func (r *Runner) Stop() error {
	r.dispatchMu.Lock()
	if r.dispatching {
		defer r.dispatchMu.Unlock()
		if r.stopPending {
			return invalidState("Stop", StateStopped)
		}
		r.stopPending = true
		return nil
	}
	r.dispatchMu.Unlock()

	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stopLocked()
}

func (r *Runner) stopLocked() error {
	s := r.State()
	if s == StateStopped {
		return invalidState("Stop", s)
	}

	var err error
	if s == StateRunning {
		err = r.closeNodes(r.order)
	}
	r.side.Clear()
	r.side.Seal()
	r.setState(StateStopped)

	logger.WithComponent("graph").Info().
		Str("run_id", r.runID).
		Msg("Graph stopped")
	return err
}

// Stats returns counters for the run so far.
func (r *Runner) Stats() Stats {
	r.statsMu.RLock()
	defer r.statsMu.RUnlock()

	streams := make(map[string]StreamStats, len(r.packets))
	for stream, count := range r.packets {
		d := r.dispatcher.Stats(stream)
		streams[stream] = StreamStats{
			Packets:       count,
			LastTimestamp: int64(r.lastStamp[stream]),
			Delivered:     d.Delivered,
			Failed:        d.Failed,
		}
	}
	return Stats{
		RunID:          r.runID,
		State:          r.State().String(),
		FramesPushed:   r.framesPushed,
		FramesFailed:   r.framesFailed,
		FramesRejected: r.framesRejected,
		Streams:        streams,
	}
}

func (r *Runner) fail(node string, ts Timestamp, err error) error {
	r.statsMu.Lock()
	r.framesFailed++
	r.statsMu.Unlock()
	return &NodeError{Node: node, Timestamp: ts, Err: err}
}

func (r *Runner) countRejected() {
	r.statsMu.Lock()
	r.framesRejected++
	r.statsMu.Unlock()
}

func (r *Runner) countFrame(produced []string, pending map[string]Packet) {
	r.statsMu.Lock()
	defer r.statsMu.Unlock()
	r.framesPushed++
	for _, stream := range produced {
		r.packets[stream]++
		r.lastStamp[stream] = pending[stream].Timestamp()
	}
}

func (r *Runner) closeNodes(order []int) error {
	var errs []error
	for i := len(order) - 1; i >= 0; i-- {
		n := &r.cfg.Nodes[order[i]]
		if err := n.Calculator.Close(); err != nil {
			logger.WithComponent("graph").Warn().
				Err(err).
				Str("node", n.Name).
				Msg("Failed to close node")
			errs = append(errs, fmt.Errorf("failed to close node %q: %w", n.Name, err))
		}
	}
	return errors.Join(errs...)
}

func (r *Runner) orderNamesLocked() []string {
	names := make([]string, len(r.order))
	for i, idx := range r.order {
		names[i] = r.cfg.Nodes[idx].Name
	}
	return names
}

func process(c Calculator, ctx *Context) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic: %v", rec)
		}
	}()
	return c.Process(ctx)
}
