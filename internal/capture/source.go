package capture

import (
	"context"

	"github.com/bryanchriswhite/IrisStreamer/internal/graph"
)

// Source defines the interface for frame producers feeding a graph
type Source interface {
	// Start initializes the source and any required resources
	Start() error

	// Stop releases resources and stops any background processes
	Stop() error

	// Next blocks until the next frame is available. It returns io.EOF
	// once the source is exhausted and ctx.Err() when ctx ends first.
	// Frame timestamps are strictly increasing.
	Next(ctx context.Context) (graph.Frame, error)

	// Name returns a human-readable name for this source
	Name() string

	// IsAvailable checks if this source can be used in the current environment
	IsAvailable() bool
}

// FocalLengthProvider is implemented by sources that know the focal
// length of their camera in pixels.
type FocalLengthProvider interface {
	FocalLengthPixel() (float64, bool)
}
