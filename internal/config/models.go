package config

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/bryanchriswhite/IrisStreamer/internal/logger"
)

// devicePattern accepts plain absolute paths such as /dev/video0.
var devicePattern = regexp.MustCompile(`^/[A-Za-z0-9._/-]+$`)

// Source types understood by capture.New
const (
	SourceSynthetic = "synthetic"
	SourceImages    = "images"
	SourceCamera    = "camera"
	SourceX11       = "x11"
)

// Config represents the application configuration
type Config struct {
	ServerPort  int                `json:"server_port" yaml:"server_port"`
	LogLevel    string             `json:"log_level" yaml:"log_level"`
	Source      SourceConfig       `json:"source" yaml:"source"`
	SidePackets map[string]float64 `json:"side_packets" yaml:"side_packets"`
	Graph       GraphConfig        `json:"graph" yaml:"graph"`
	Output      OutputConfig       `json:"output" yaml:"output"`
	Overlay     OverlayConfig      `json:"overlay" yaml:"overlay"`
}

// SourceConfig selects and tunes the frame source
type SourceConfig struct {
	Type    string `json:"type" yaml:"type"`
	Device  string `json:"device,omitempty" yaml:"device,omitempty"`
	Dir     string `json:"dir,omitempty" yaml:"dir,omitempty"`
	Display string `json:"display,omitempty" yaml:"display,omitempty"`
	Width   int    `json:"width" yaml:"width"`
	Height  int    `json:"height" yaml:"height"`
	FPS     int    `json:"fps" yaml:"fps"`
	Loop    bool   `json:"loop" yaml:"loop"`
	// FocalLengthPixel overrides the focal length reported by the source.
	// Zero means unknown.
	FocalLengthPixel float64 `json:"focal_length_pixel" yaml:"focal_length_pixel"`
	// Window is an X11 window id for the x11 source. Zero grabs the
	// root window.
	Window uint32 `json:"window,omitempty" yaml:"window,omitempty"`
}

// GraphConfig is the serialisable form of a graph
type GraphConfig struct {
	InputStream string       `json:"input_stream" yaml:"input_stream"`
	Nodes       []NodeConfig `json:"nodes" yaml:"nodes"`
}

// NodeConfig names a registered calculator and its stream wiring
type NodeConfig struct {
	Name           string                 `json:"name" yaml:"name"`
	Calculator     string                 `json:"calculator" yaml:"calculator"`
	Inputs         []string               `json:"inputs,omitempty" yaml:"inputs,omitempty"`
	OptionalInputs []string               `json:"optional_inputs,omitempty" yaml:"optional_inputs,omitempty"`
	Outputs        []string               `json:"outputs,omitempty" yaml:"outputs,omitempty"`
	SideInputs     []string               `json:"side_inputs,omitempty" yaml:"side_inputs,omitempty"`
	Options        map[string]interface{} `json:"options,omitempty" yaml:"options,omitempty"`
}

// OutputConfig configures the sinks attached to the graph
type OutputConfig struct {
	MJPEG    MJPEGConfig    `json:"mjpeg" yaml:"mjpeg"`
	Depth    DepthConfig    `json:"depth" yaml:"depth"`
	Recorder RecorderConfig `json:"recorder" yaml:"recorder"`
	ZMQ      ZMQConfig      `json:"zmq" yaml:"zmq"`
}

// MJPEGConfig configures the browser video stream
type MJPEGConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Stream  string `json:"stream" yaml:"stream"`
	Quality int    `json:"quality" yaml:"quality"`
}

// DepthConfig lists the streams pushed to websocket clients
type DepthConfig struct {
	Streams []string `json:"streams" yaml:"streams"`
}

// RecorderConfig configures the CBOR packet log
type RecorderConfig struct {
	Enabled bool     `json:"enabled" yaml:"enabled"`
	Dir     string   `json:"dir" yaml:"dir"`
	Streams []string `json:"streams" yaml:"streams"`
}

// ZMQConfig configures the PUB socket
type ZMQConfig struct {
	Enabled  bool     `json:"enabled" yaml:"enabled"`
	Endpoint string   `json:"endpoint" yaml:"endpoint"`
	Streams  []string `json:"streams" yaml:"streams"`
}

// OverlayConfig toggles the annotated output video
type OverlayConfig struct {
	Enabled bool `json:"enabled" yaml:"enabled"`
}

// Defaults returns the default configuration: a synthetic source feeding
// the iris depth graph.
func Defaults() *Config {
	return &Config{
		ServerPort: 8080,
		LogLevel:   "info",
		Source: SourceConfig{
			Type:   SourceSynthetic,
			Device: "/dev/video0",
			Width:  640,
			Height: 480,
			FPS:    15,
			Loop:   true,
		},
		SidePackets: map[string]float64{},
		Graph:       DefaultGraph(),
		Output: OutputConfig{
			MJPEG: MJPEGConfig{
				Enabled: true,
				Stream:  "output_video",
				Quality: 75,
			},
			Depth: DepthConfig{
				Streams: []string{"left_iris_depth_mm", "right_iris_depth_mm", "face_landmarks_with_iris"},
			},
			Recorder: RecorderConfig{
				Streams: []string{"left_iris_depth_mm", "right_iris_depth_mm", "face_landmarks_with_iris"},
			},
			ZMQ: ZMQConfig{
				Endpoint: "tcp://127.0.0.1:5556",
				Streams:  []string{"left_iris_depth_mm", "right_iris_depth_mm"},
			},
		},
		Overlay: OverlayConfig{Enabled: true},
	}
}

// DefaultGraph is the iris tracking graph: normalise the frame, locate
// both irises, estimate their depth and draw the result.
func DefaultGraph() GraphConfig {
	return GraphConfig{
		InputStream: "input_video",
		Nodes: []NodeConfig{
			{
				Name:       "transform",
				Calculator: "ImageTransformCalculator",
				Inputs:     []string{"input_video"},
				Outputs:    []string{"transformed_video"},
				Options: map[string]interface{}{
					"flip_vertically": false,
					"max_width":       640,
				},
			},
			{
				Name:       "iris_landmarks",
				Calculator: "IrisLandmarkCalculator",
				Inputs:     []string{"transformed_video"},
				Outputs:    []string{"face_landmarks_with_iris"},
			},
			{
				Name:       "iris_depth",
				Calculator: "IrisDepthCalculator",
				Inputs:     []string{"face_landmarks_with_iris", "input_video"},
				Outputs:    []string{"left_iris_depth_mm", "right_iris_depth_mm"},
				SideInputs: []string{"focal_length_pixel"},
				Options: map[string]interface{}{
					"smoothing": 0.1,
				},
			},
			{
				Name:           "renderer",
				Calculator:     "IrisRendererCalculator",
				Inputs:         []string{"transformed_video"},
				OptionalInputs: []string{"face_landmarks_with_iris", "left_iris_depth_mm", "right_iris_depth_mm"},
				Outputs:        []string{"output_video"},
			},
		},
	}
}

// Validate reports the first problem found in c.
func (c *Config) Validate() error {
	if c.ServerPort < 1 || c.ServerPort > 65535 {
		return fmt.Errorf("invalid server_port %d", c.ServerPort)
	}
	if !logger.IsValidLevel(c.LogLevel) {
		return fmt.Errorf("invalid log_level %q (use: trace, debug, info, warn, error, off)", c.LogLevel)
	}

	if c.Source.Device != "" && (!devicePattern.MatchString(c.Source.Device) || strings.Contains(c.Source.Device, "..")) {
		return fmt.Errorf("invalid source.device %q (use a plain path such as /dev/video0)", c.Source.Device)
	}

	switch c.Source.Type {
	case SourceSynthetic, SourceX11:
	case SourceCamera:
		if c.Source.Device == "" {
			return fmt.Errorf("source.device is required for the %s source", SourceCamera)
		}
	case SourceImages:
		if c.Source.Dir == "" {
			return fmt.Errorf("source.dir is required for the %s source", SourceImages)
		}
	default:
		return fmt.Errorf("unknown source.type %q", c.Source.Type)
	}
	if c.Source.FPS < 1 || c.Source.FPS > 240 {
		return fmt.Errorf("invalid source.fps %d", c.Source.FPS)
	}
	if c.Source.Width < 0 || c.Source.Height < 0 {
		return fmt.Errorf("invalid source size %dx%d", c.Source.Width, c.Source.Height)
	}
	if c.Source.FocalLengthPixel < 0 {
		return fmt.Errorf("invalid source.focal_length_pixel %g", c.Source.FocalLengthPixel)
	}

	if c.Graph.InputStream == "" {
		return fmt.Errorf("graph.input_stream is empty")
	}
	for i, n := range c.Graph.Nodes {
		if n.Name == "" {
			return fmt.Errorf("graph.nodes[%d] has no name", i)
		}
		if n.Calculator == "" {
			return fmt.Errorf("graph node %q has no calculator", n.Name)
		}
	}

	if c.Output.MJPEG.Enabled && (c.Output.MJPEG.Quality < 1 || c.Output.MJPEG.Quality > 100) {
		return fmt.Errorf("invalid output.mjpeg.quality %d", c.Output.MJPEG.Quality)
	}
	if c.Output.ZMQ.Enabled && c.Output.ZMQ.Endpoint == "" {
		return fmt.Errorf("output.zmq.endpoint is required when zmq is enabled")
	}
	return nil
}

// Clone returns a deep copy of c.
func (c *Config) Clone() *Config {
	cp := *c
	cp.SidePackets = make(map[string]float64, len(c.SidePackets))
	for k, v := range c.SidePackets {
		cp.SidePackets[k] = v
	}
	cp.Graph.Nodes = make([]NodeConfig, len(c.Graph.Nodes))
	for i, n := range c.Graph.Nodes {
		cp.Graph.Nodes[i] = n.clone()
	}
	cp.Output.Depth.Streams = cloneStrings(c.Output.Depth.Streams)
	cp.Output.Recorder.Streams = cloneStrings(c.Output.Recorder.Streams)
	cp.Output.ZMQ.Streams = cloneStrings(c.Output.ZMQ.Streams)
	return &cp
}

func (n NodeConfig) clone() NodeConfig {
	n.Inputs = cloneStrings(n.Inputs)
	n.OptionalInputs = cloneStrings(n.OptionalInputs)
	n.Outputs = cloneStrings(n.Outputs)
	n.SideInputs = cloneStrings(n.SideInputs)
	if n.Options != nil {
		opts := make(map[string]interface{}, len(n.Options))
		for k, v := range n.Options {
			opts[k] = v
		}
		n.Options = opts
	}
	return n
}

func cloneStrings(s []string) []string {
	if s == nil {
		return nil
	}
	return append([]string(nil), s...)
}
