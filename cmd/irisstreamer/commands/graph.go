package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/bryanchriswhite/IrisStreamer/internal/calculators"
	"github.com/bryanchriswhite/IrisStreamer/internal/capture"
	"github.com/bryanchriswhite/IrisStreamer/internal/config"
	"github.com/bryanchriswhite/IrisStreamer/internal/graph"
	"github.com/bryanchriswhite/IrisStreamer/internal/pipeline"
)

var graphCmd = &cobra.Command{
	Use:   "graph",
	Short: "Inspect the calculator graph",
	Long:  `Show and validate the calculator graph from the configuration.`,
}

var graphShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the graph in execution order",
	RunE:  runGraphShow,
}

var graphValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the graph wiring and side packets",
	Long: `Build the graph, check its stream wiring and report whether every
side packet a node needs can be provided by the configuration or the
source.`,
	RunE: runGraphValidate,
}

var graphCalculatorsCmd = &cobra.Command{
	Use:   "calculators",
	Short: "List the registered calculators",
	RunE: func(cmd *cobra.Command, args []string) error {
		for _, name := range calculators.Default().Names() {
			fmt.Fprintln(cmd.OutOrStdout(), name)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(graphCmd)
	graphCmd.AddCommand(graphShowCmd)
	graphCmd.AddCommand(graphValidateCmd)
	graphCmd.AddCommand(graphCalculatorsCmd)
}

// startGraph builds the configured graph and starts it with the side
// packets the pipeline would provide, then stops it again. Starting is
// what computes the execution order and checks side packets.
func startGraph(cfg *config.Config) (*graph.Runner, error) {
	reg := calculators.Default()
	gcfg := cfg.Graph
	if !cfg.Overlay.Enabled {
		gcfg = pipeline.WithoutRenderer(gcfg)
	}
	built, err := reg.BuildGraph(gcfg)
	if err != nil {
		return nil, err
	}
	runner := graph.NewRunner(built)

	side := map[string]graph.Packet{}
	for name, v := range cfg.SidePackets {
		side[name] = graph.MakeFloat(float32(v))
	}
	if cfg.Source.FocalLengthPixel > 0 {
		side[calculators.FocalLengthSidePacket] = graph.MakeFloat(float32(cfg.Source.FocalLengthPixel))
	} else if cfg.Source.Type == config.SourceSynthetic {
		// The synthetic source reports its focal length once started.
		f, _ := capture.NewSyntheticSource(cfg.Source.Width, cfg.Source.Height, 0, 1).FocalLengthPixel()
		side[calculators.FocalLengthSidePacket] = graph.MakeFloat(float32(f))
	}

	if err := runner.Start(side); err != nil {
		return runner, err
	}
	return runner, nil
}

func runGraphShow(cmd *cobra.Command, args []string) error {
	_, cfg, err := loadConfig()
	if err != nil {
		return err
	}
	gcfg := cfg.Graph
	if !cfg.Overlay.Enabled {
		gcfg = pipeline.WithoutRenderer(gcfg)
	}
	built, err := calculators.Default().BuildGraph(gcfg)
	if err != nil {
		return err
	}
	order, err := graph.NewRunner(built).Plan()
	if err != nil {
		return err
	}

	nodes := map[string]config.NodeConfig{}
	for _, n := range gcfg.Nodes {
		nodes[n.Name] = n
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "input: %s\n", gcfg.InputStream)
	for i, name := range order {
		n := nodes[name]
		fmt.Fprintf(out, "%d. %s (%s)\n", i+1, n.Name, n.Calculator)
		fmt.Fprintf(out, "     in:   %s\n", strings.Join(n.Inputs, ", "))
		if len(n.OptionalInputs) > 0 {
			fmt.Fprintf(out, "     opt:  %s\n", strings.Join(n.OptionalInputs, ", "))
		}
		fmt.Fprintf(out, "     out:  %s\n", strings.Join(n.Outputs, ", "))
		if len(n.SideInputs) > 0 {
			fmt.Fprintf(out, "     side: %s\n", strings.Join(n.SideInputs, ", "))
		}
	}
	return nil
}

func runGraphValidate(cmd *cobra.Command, args []string) error {
	_, cfg, err := loadConfig()
	if err != nil {
		return err
	}
	runner, err := startGraph(cfg)
	if runner != nil {
		defer runner.Stop()
	}
	if err != nil {
		return fmt.Errorf("graph is invalid: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "graph OK: %s\n", strings.Join(runner.Order(), " -> "))
	return nil
}
