package graph

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	gonum "gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/topo"
)

// plan validates the stream wiring of cfg and returns node indexes in
// execution order. Ties between independent nodes keep declaration order.
func plan(cfg Config) ([]int, error) {
	if cfg.InputStream == "" {
		return nil, fmt.Errorf("%w: input stream name is empty", ErrConfiguration)
	}

	names := make(map[string]bool, len(cfg.Nodes))
	producer := make(map[string]int)
	for i, n := range cfg.Nodes {
		if n.Name == "" {
			return nil, fmt.Errorf("%w: node %d has no name", ErrConfiguration, i)
		}
		if names[n.Name] {
			return nil, fmt.Errorf("%w: duplicate node name %q", ErrConfiguration, n.Name)
		}
		names[n.Name] = true
		if n.Calculator == nil {
			return nil, fmt.Errorf("%w: node %q has no calculator", ErrConfiguration, n.Name)
		}
		for _, out := range n.Outputs {
			if out == cfg.InputStream {
				return nil, fmt.Errorf("%w: node %q writes the graph input stream %q", ErrConfiguration, n.Name, out)
			}
			if prev, ok := producer[out]; ok {
				return nil, fmt.Errorf("%w: stream %q produced by both %q and %q",
					ErrConfiguration, out, cfg.Nodes[prev].Name, n.Name)
			}
			producer[out] = i
		}
	}

	g := simple.NewDirectedGraph()
	for i := range cfg.Nodes {
		g.AddNode(simple.Node(int64(i)))
	}

	for i, n := range cfg.Nodes {
		inputs := append(append([]string(nil), n.Inputs...), n.OptionalInputs...)
		for _, in := range inputs {
			if in == cfg.InputStream {
				continue
			}
			from, ok := producer[in]
			if !ok {
				return nil, fmt.Errorf("%w: node %q consumes %q which nothing produces", ErrConfiguration, n.Name, in)
			}
			if from == i {
				return nil, fmt.Errorf("%w: node %q consumes its own output %q", ErrConfiguration, n.Name, in)
			}
			g.SetEdge(g.NewEdge(simple.Node(int64(from)), simple.Node(int64(i))))
		}
	}

	sorted, err := topo.SortStabilized(g, byID)
	if err != nil {
		var cycles topo.Unorderable
		if errors.As(err, &cycles) {
			return nil, fmt.Errorf("%w: cycle between %s", ErrConfiguration, describeCycles(cfg, cycles))
		}
		return nil, fmt.Errorf("%w: %v", ErrConfiguration, err)
	}

	order := make([]int, len(sorted))
	for i, n := range sorted {
		order[i] = int(n.ID())
	}
	return order, nil
}

func byID(nodes []gonum.Node) {
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].ID() < nodes[j].ID() })
}

func describeCycles(cfg Config, cycles topo.Unorderable) string {
	parts := make([]string, 0, len(cycles))
	for _, component := range cycles {
		members := make([]string, 0, len(component))
		for _, n := range component {
			members = append(members, cfg.Nodes[n.ID()].Name)
		}
		sort.Strings(members)
		parts = append(parts, "["+strings.Join(members, ", ")+"]")
	}
	return strings.Join(parts, " ")
}
