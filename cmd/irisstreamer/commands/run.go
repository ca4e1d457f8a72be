package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/bryanchriswhite/IrisStreamer/internal/calculators"
	"github.com/bryanchriswhite/IrisStreamer/internal/config"
	"github.com/bryanchriswhite/IrisStreamer/internal/graph"
	"github.com/bryanchriswhite/IrisStreamer/internal/logger"
	"github.com/bryanchriswhite/IrisStreamer/internal/pipeline"
)

var (
	runFrames    int
	runSource    string
	runDir       string
	runFocal     float64
	runRecord    string
	runLandmarks bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the graph headless and print per-eye depth",
	Long: `Run the configured graph without the HTTP server. Every depth packet
is printed to stdout as it is produced.`,
	Example: `  # Ten frames of the synthetic scene
  irisstreamer run --frames 10

  # A directory of images with a known focal length
  irisstreamer run --source images --dir ./frames --focal 1450

  # Record depth values to a CBOR log
  irisstreamer run --frames 100 --record ./recordings`,
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().IntVarP(&runFrames, "frames", "n", 0, "stop after this many frames (0 runs until the source ends)")
	runCmd.Flags().StringVar(&runSource, "source", "", "override source.type (synthetic, images, camera, x11)")
	runCmd.Flags().StringVar(&runDir, "dir", "", "override source.dir for the images source")
	runCmd.Flags().Float64Var(&runFocal, "focal", 0, "override the focal length in pixels")
	runCmd.Flags().StringVar(&runRecord, "record", "", "record depth packets into this directory")
	runCmd.Flags().BoolVar(&runLandmarks, "landmarks", false, "also print iris landmarks")
}

// depthPrinter writes one line per depth packet.
type depthPrinter struct {
	mu sync.Mutex
	w  io.Writer
}

func (d *depthPrinter) callback(stream string) graph.Callback {
	label := calculators.DisplayName(stream)
	return func(p graph.Packet) error {
		v, err := p.Float()
		if err != nil {
			return err
		}
		d.mu.Lock()
		defer d.mu.Unlock()
		_, err = fmt.Fprintf(d.w, "[TS:%s] %s: %.1f mm\n", p.Timestamp(), label, v)
		return err
	}
}

func (d *depthPrinter) landmarks(p graph.Packet) error {
	l, err := p.Landmarks()
	if err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	_, err = fmt.Fprintf(d.w, "[TS:%s] #Landmarks: %d\n%s", p.Timestamp(), len(l), l.DebugString(0, len(l)-1))
	return err
}

func applyRunFlags(cfg *config.Config) {
	if runSource != "" {
		cfg.Source.Type = runSource
	}
	if runDir != "" {
		cfg.Source.Dir = runDir
	}
	if runFocal > 0 {
		cfg.Source.FocalLengthPixel = runFocal
	}
	if runRecord != "" {
		cfg.Output.Recorder.Enabled = true
		cfg.Output.Recorder.Dir = runRecord
	}
	if runFrames > 0 {
		// A bounded run should end on its own.
		cfg.Source.Loop = false
	}
}

func runRun(cmd *cobra.Command, args []string) error {
	_, cfg, err := loadConfig()
	if err != nil {
		return err
	}
	applyRunFlags(cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}

	pipe, err := pipeline.New(cfg, calculators.Default(), pipeline.WithoutHTTPSinks())
	if err != nil {
		return fmt.Errorf("failed to build pipeline: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	printer := &depthPrinter{w: cmd.OutOrStdout()}
	runner := pipe.Runner()
	for _, stream := range []string{"left_iris_depth_mm", "right_iris_depth_mm"} {
		if err := runner.Subscribe(stream, printer.callback(stream)); err != nil {
			return err
		}
	}
	if runLandmarks {
		if err := runner.Subscribe("face_landmarks_with_iris", printer.landmarks); err != nil {
			return err
		}
	}
	if runFrames > 0 {
		// Count frames on the input stream and stop once enough have run.
		var seen int
		err := runner.Subscribe(runner.InputStream(), func(graph.Packet) error {
			seen++
			if seen >= runFrames {
				stop()
			}
			return nil
		})
		if err != nil {
			return err
		}
	}

	if err := pipe.Run(ctx); err != nil {
		return err
	}

	stats := runner.Stats()
	logger.WithComponent("run").Info().
		Str("run_id", stats.RunID).
		Uint64("frames", stats.FramesPushed).
		Uint64("failed", stats.FramesFailed).
		Msg("Run finished")
	if rec := pipe.Recorder(); rec != nil {
		fmt.Fprintf(cmd.OutOrStdout(), "Recording: %s\n", rec.Path())
	}
	return nil
}
