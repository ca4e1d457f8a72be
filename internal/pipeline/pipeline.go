// Package pipeline assembles a frame source, a calculator graph and the
// output sinks described by a config.Config.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/bryanchriswhite/IrisStreamer/internal/calculators"
	"github.com/bryanchriswhite/IrisStreamer/internal/capture"
	"github.com/bryanchriswhite/IrisStreamer/internal/config"
	"github.com/bryanchriswhite/IrisStreamer/internal/graph"
	"github.com/bryanchriswhite/IrisStreamer/internal/logger"
	"github.com/bryanchriswhite/IrisStreamer/internal/output"
)

const rendererCalculator = "IrisRendererCalculator"

// Focal length origins reported by FocalLength
const (
	FocalFromConfig = "config"
	FocalFromSource = "source"
	FocalFromSide   = "side_packets"
	FocalUnknown    = "unknown"
)

// Option customises a Pipeline
type Option func(*Pipeline)

// WithSource replaces the source that would be built from the config.
func WithSource(src capture.Source) Option {
	return func(p *Pipeline) { p.source = src }
}

// WithoutHTTPSinks skips the MJPEG output and the depth hub, for headless runs.
func WithoutHTTPSinks() Option {
	return func(p *Pipeline) { p.headless = true }
}

// SinkStatus describes one attached sink
type SinkStatus struct {
	Name    string   `json:"name"`
	Running bool     `json:"running"`
	Streams []string `json:"streams"`
}

// Status is a snapshot of the pipeline for the API
type Status struct {
	Source           string       `json:"source"`
	FocalLengthPixel float64      `json:"focal_length_pixel"`
	FocalOrigin      string       `json:"focal_origin"`
	MJPEGStream      string       `json:"mjpeg_stream,omitempty"`
	Graph            graph.Stats  `json:"graph"`
	Sinks            []SinkStatus `json:"sinks"`
}

type attachedSink struct {
	sink    output.Sink
	streams []string
}

// Pipeline drives frames from a source through a graph runner.
type Pipeline struct {
	cfg      *config.Config
	graphCfg config.GraphConfig
	runner   *graph.Runner
	source   capture.Source
	headless bool

	mjpeg       *output.MJPEGOutput
	mjpegStream string
	hub         *output.DepthHub
	recorder    *output.Recorder
	zmq         *output.ZMQPublisher
	sinks       []attachedSink

	mu          sync.Mutex
	started     bool
	stopped     bool
	focal       float64
	focalOrigin string
}

// New builds the graph from cfg using reg and attaches the enabled sinks.
// Nothing is started.
func New(cfg *config.Config, reg *calculators.Registry, opts ...Option) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	p := &Pipeline{
		cfg:         cfg.Clone(),
		focalOrigin: FocalUnknown,
	}
	for _, opt := range opts {
		opt(p)
	}

	p.graphCfg = p.cfg.Graph
	if !p.cfg.Overlay.Enabled {
		p.graphCfg = WithoutRenderer(p.graphCfg)
	}

	built, err := reg.BuildGraph(p.graphCfg)
	if err != nil {
		return nil, err
	}
	p.runner = graph.NewRunner(built)
	if err := p.runner.Validate(); err != nil {
		return nil, err
	}

	if p.source == nil {
		src, err := capture.New(p.cfg.Source)
		if err != nil {
			return nil, fmt.Errorf("failed to create frame source: %w", err)
		}
		p.source = src
	}

	if err := p.attachSinks(); err != nil {
		return nil, err
	}

	logger.WithComponent("pipeline").Info().
		Str("run_id", p.runner.RunID()).
		Str("source", p.source.Name()).
		Int("nodes", len(p.graphCfg.Nodes)).
		Int("sinks", len(p.sinks)).
		Msg("Pipeline assembled")
	return p, nil
}

// WithoutRenderer drops the renderer nodes from g.
func WithoutRenderer(g config.GraphConfig) config.GraphConfig {
	out := config.GraphConfig{InputStream: g.InputStream}
	for _, n := range g.Nodes {
		if n.Calculator == rendererCalculator {
			continue
		}
		out.Nodes = append(out.Nodes, n)
	}
	return out
}

func (p *Pipeline) attachSinks() error {
	streams := make(map[string]bool)
	for _, s := range p.runner.Streams() {
		streams[s] = true
	}
	// Streams that no node produces are skipped rather than failing, so
	// a trimmed graph still runs with the default output config.
	known := func(names []string) []string {
		var out []string
		for _, n := range names {
			if streams[n] {
				out = append(out, n)
			}
		}
		return out
	}
	runID := p.runner.RunID()
	log := logger.WithComponent("pipeline")

	if !p.headless {
		if p.cfg.Output.MJPEG.Enabled {
			stream := p.cfg.Output.MJPEG.Stream
			if !streams[stream] {
				log.Info().
					Str("configured", stream).
					Str("using", p.graphCfg.InputStream).
					Msg("MJPEG stream not produced by graph, streaming input")
				stream = p.graphCfg.InputStream
			}
			mjpeg := output.NewMJPEGOutput(output.MJPEGConfig{
				Stream:  stream,
				Quality: p.cfg.Output.MJPEG.Quality,
				FPS:     p.cfg.Source.FPS,
			})
			if ok, err := p.attach(mjpeg, []string{stream}); err != nil {
				return err
			} else if ok {
				p.mjpeg, p.mjpegStream = mjpeg, stream
			}
		}

		hub := output.NewDepthHub(runID)
		if ok, err := p.attach(hub, known(p.cfg.Output.Depth.Streams)); err != nil {
			return err
		} else if ok {
			p.hub = hub
		}
	}

	if p.cfg.Output.Recorder.Enabled {
		dir := p.cfg.Output.Recorder.Dir
		if dir == "" {
			dir = "recordings"
		}
		recorder := output.NewRecorder(dir, runID)
		if ok, err := p.attach(recorder, known(p.cfg.Output.Recorder.Streams)); err != nil {
			return err
		} else if ok {
			p.recorder = recorder
		}
	}

	if p.cfg.Output.ZMQ.Enabled {
		zmq := output.NewZMQPublisher(p.cfg.Output.ZMQ.Endpoint, runID)
		if ok, err := p.attach(zmq, known(p.cfg.Output.ZMQ.Streams)); err != nil {
			return err
		} else if ok {
			p.zmq = zmq
		}
	}
	return nil
}

// attach subscribes sink to streams. A sink with no streams is skipped.
func (p *Pipeline) attach(sink output.Sink, streams []string) (bool, error) {
	if len(streams) == 0 {
		logger.WithComponent("pipeline").Warn().
			Str("sink", sink.Name()).
			Msg("No graph streams for sink, skipping it")
		return false, nil
	}
	if err := output.Attach(p.runner, sink, streams...); err != nil {
		return false, fmt.Errorf("%w: %v", graph.ErrConfiguration, err)
	}
	p.sinks = append(p.sinks, attachedSink{sink: sink, streams: streams})
	return true, nil
}

// Runner exposes the graph runner, e.g. to add callbacks before Start.
func (p *Pipeline) Runner() *graph.Runner { return p.runner }

// Source returns the frame source.
func (p *Pipeline) Source() capture.Source { return p.source }

// MJPEG returns the MJPEG output, or nil when it is disabled.
func (p *Pipeline) MJPEG() *output.MJPEGOutput { return p.mjpeg }

// DepthHub returns the websocket hub, or nil for headless pipelines.
func (p *Pipeline) DepthHub() *output.DepthHub { return p.hub }

// Recorder returns the recorder, or nil when recording is disabled.
func (p *Pipeline) Recorder() *output.Recorder { return p.recorder }

// Config returns the configuration the pipeline was built from.
func (p *Pipeline) Config() *config.Config { return p.cfg.Clone() }

// Graph returns the graph definition actually run.
func (p *Pipeline) Graph() config.GraphConfig { return p.graphCfg }

// FocalLength returns the focal length handed to the graph and where it
// came from. It is zero and FocalUnknown before Start or when unknown.
func (p *Pipeline) FocalLength() (float64, string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.focal, p.focalOrigin
}

// sidePackets collects the configured side packets and resolves the
// focal length: an explicit source override wins, then a value reported
// by the source, then side_packets. It is only set when known.
func (p *Pipeline) sidePackets() map[string]graph.Packet {
	side := make(map[string]graph.Packet, len(p.cfg.SidePackets)+1)
	for name, v := range p.cfg.SidePackets {
		side[name] = graph.MakeFloat(float32(v))
	}

	name := calculators.FocalLengthSidePacket
	p.focal, p.focalOrigin = p.resolveFocalLength()
	if p.focalOrigin != FocalUnknown {
		side[name] = graph.MakeFloat(float32(p.focal))
	}
	return side
}

func (p *Pipeline) resolveFocalLength() (float64, string) {
	if f := p.cfg.Source.FocalLengthPixel; f > 0 {
		return f, FocalFromConfig
	}
	if fp, ok := p.source.(capture.FocalLengthProvider); ok {
		if f, known := fp.FocalLengthPixel(); known && f > 0 {
			return f, FocalFromSource
		}
	}
	if f, ok := p.cfg.SidePackets[calculators.FocalLengthSidePacket]; ok && f > 0 {
		return f, FocalFromSide
	}
	return 0, FocalUnknown
}

// Start starts the source and sinks, then the graph. On failure
// everything started so far is stopped again.
func (p *Pipeline) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started {
		return fmt.Errorf("pipeline already started")
	}
	if p.stopped {
		return fmt.Errorf("pipeline already stopped")
	}
	log := logger.WithComponent("pipeline")

	if err := p.source.Start(); err != nil {
		return fmt.Errorf("failed to start %s source: %w", p.source.Name(), err)
	}

	var started []output.Sink
	rollback := func() {
		for i := len(started) - 1; i >= 0; i-- {
			_ = started[i].Stop()
		}
		_ = p.source.Stop()
	}
	for _, a := range p.sinks {
		if err := a.sink.Start(); err != nil {
			rollback()
			return fmt.Errorf("failed to start %s: %w", a.sink.Name(), err)
		}
		started = append(started, a.sink)
	}

	side := p.sidePackets()
	if err := p.runner.Start(side); err != nil {
		rollback()
		p.focal, p.focalOrigin = 0, FocalUnknown
		return err
	}
	p.started = true

	log.Info().
		Str("run_id", p.runner.RunID()).
		Float64("focal_length_pixel", p.focal).
		Str("focal_origin", p.focalOrigin).
		Msg("Pipeline started")
	return nil
}

// Run starts the pipeline if needed and pushes frames until the source is
// exhausted, ctx ends or Stop is called. The pipeline is stopped on return.
func (p *Pipeline) Run(ctx context.Context) error {
	p.mu.Lock()
	started, stopped := p.started, p.stopped
	p.mu.Unlock()
	if stopped {
		return fmt.Errorf("pipeline already stopped")
	}
	if !started {
		if err := p.Start(); err != nil {
			return err
		}
	}

	runErr := p.runner.Run(ctx, p.source)
	if err := p.Stop(); err != nil {
		return errors.Join(runErr, err)
	}
	return runErr
}

// Stop stops the source, the graph and the sinks. Calling it more than
// once is harmless.
func (p *Pipeline) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stopped {
		return nil
	}
	p.stopped = true

	var errs []error
	if err := p.source.Stop(); err != nil {
		errs = append(errs, fmt.Errorf("failed to stop source: %w", err))
	}
	if err := p.runner.Stop(); err != nil && !errors.Is(err, graph.ErrInvalidState) {
		errs = append(errs, err)
	}
	if p.started {
		for i := len(p.sinks) - 1; i >= 0; i-- {
			if err := p.sinks[i].sink.Stop(); err != nil {
				errs = append(errs, fmt.Errorf("failed to stop %s: %w", p.sinks[i].sink.Name(), err))
			}
		}
	}

	stats := p.runner.Stats()
	logger.WithComponent("pipeline").Info().
		Str("run_id", stats.RunID).
		Uint64("frames", stats.FramesPushed).
		Uint64("failed", stats.FramesFailed).
		Uint64("rejected", stats.FramesRejected).
		Msg("Pipeline stopped")
	return errors.Join(errs...)
}

// Status returns a snapshot for the API.
func (p *Pipeline) Status() Status {
	focal, origin := p.FocalLength()
	st := Status{
		Source:           p.source.Name(),
		FocalLengthPixel: focal,
		FocalOrigin:      origin,
		Graph:            p.runner.Stats(),
	}
	if p.mjpeg != nil {
		st.MJPEGStream = p.mjpegStream
	}
	for _, a := range p.sinks {
		st.Sinks = append(st.Sinks, SinkStatus{
			Name:    a.sink.Name(),
			Running: a.sink.IsRunning(),
			Streams: a.streams,
		})
	}
	return st
}

// ZMQ returns the ZeroMQ publisher, or nil when it is disabled.
func (p *Pipeline) ZMQ() *output.ZMQPublisher { return p.zmq }
