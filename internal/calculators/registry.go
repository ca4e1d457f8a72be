package calculators

import (
	"fmt"
	"sort"
	"sync"

	"github.com/bryanchriswhite/IrisStreamer/internal/config"
	"github.com/bryanchriswhite/IrisStreamer/internal/graph"
)

// Factory builds a calculator for one node. The node config carries the
// stream names and options.
type Factory func(cfg config.NodeConfig) (graph.Calculator, error)

// Registry maps calculator names used in config to factories
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Default returns a registry holding every built-in calculator
func Default() *Registry {
	r := NewRegistry()
	RegisterBuiltins(r)
	return r
}

// RegisterBuiltins adds the built-in calculators to r. Applications call
// it once before building graphs.
func RegisterBuiltins(r *Registry) {
	r.MustRegister("ImageTransformCalculator", NewImageTransform)
	r.MustRegister("IrisLandmarkCalculator", NewIrisLandmark)
	r.MustRegister("IrisDepthCalculator", NewIrisDepth)
	r.MustRegister("IrisRendererCalculator", NewIrisRenderer)
	r.MustRegister("FloatLoggerCalculator", NewFloatLogger)
}

// Register adds a factory under name
func (r *Registry) Register(name string, f Factory) error {
	if name == "" || f == nil {
		return fmt.Errorf("calculator name and factory are required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.factories[name]; exists {
		return fmt.Errorf("calculator %s already registered", name)
	}
	r.factories[name] = f
	return nil
}

// MustRegister is Register for package-level setup
func (r *Registry) MustRegister(name string, f Factory) {
	if err := r.Register(name, f); err != nil {
		panic(err)
	}
}

// Names returns the registered calculator names, sorted
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Build creates the graph node described by cfg
func (r *Registry) Build(cfg config.NodeConfig) (graph.Node, error) {
	r.mu.RLock()
	f, ok := r.factories[cfg.Calculator]
	r.mu.RUnlock()
	if !ok {
		return graph.Node{}, fmt.Errorf("%w: node %q uses unknown calculator %q",
			graph.ErrConfiguration, cfg.Name, cfg.Calculator)
	}

	calc, err := f(cfg)
	if err != nil {
		return graph.Node{}, fmt.Errorf("%w: node %q: %v", graph.ErrConfiguration, cfg.Name, err)
	}
	return graph.Node{
		Name:           cfg.Name,
		Inputs:         cfg.Inputs,
		OptionalInputs: cfg.OptionalInputs,
		Outputs:        cfg.Outputs,
		SideInputs:     cfg.SideInputs,
		Calculator:     calc,
	}, nil
}

// BuildGraph creates a runnable graph config from its serialised form
func (r *Registry) BuildGraph(cfg config.GraphConfig) (graph.Config, error) {
	out := graph.Config{InputStream: cfg.InputStream}
	for _, nc := range cfg.Nodes {
		n, err := r.Build(nc)
		if err != nil {
			return graph.Config{}, err
		}
		out.Nodes = append(out.Nodes, n)
	}
	return out, nil
}
