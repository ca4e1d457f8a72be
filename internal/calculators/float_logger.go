package calculators

import (
	"github.com/rs/zerolog"

	"github.com/bryanchriswhite/IrisStreamer/internal/config"
	"github.com/bryanchriswhite/IrisStreamer/internal/graph"
	"github.com/bryanchriswhite/IrisStreamer/internal/logger"
)

// FloatLogger logs every float it sees and forwards Inputs[i] to
// Outputs[i] when that output is declared.
//
// Options: level (zerolog level name, default debug).
type FloatLogger struct {
	node    string
	inputs  []string
	outputs []string
	level   zerolog.Level
}

// NewFloatLogger is the FloatLoggerCalculator factory
func NewFloatLogger(cfg config.NodeConfig) (graph.Calculator, error) {
	if err := requireStreams(cfg, 1, 0); err != nil {
		return nil, err
	}
	return &FloatLogger{
		node:    cfg.Name,
		inputs:  cfg.Inputs,
		outputs: cfg.Outputs,
		level:   logger.ParseLevel(optString(cfg.Options, "level", "debug")),
	}, nil
}

func (c *FloatLogger) Open(graph.SidePacketReader) error { return nil }
func (c *FloatLogger) Close() error                      { return nil }

func (c *FloatLogger) Process(ctx *graph.Context) error {
	log := logger.WithComponent("calculator")
	for i, stream := range c.inputs {
		p, ok := ctx.Input(stream)
		if !ok {
			continue
		}
		v, err := p.Float()
		if err != nil {
			return err
		}
		log.WithLevel(c.level).
			Str("node", c.node).
			Str("stream", stream).
			Int64("timestamp", int64(p.Timestamp())).
			Float32("value", v).
			Msg("Float packet")

		if i < len(c.outputs) {
			if err := ctx.Output(c.outputs[i], p.At(graph.Unset)); err != nil {
				return err
			}
		}
	}
	return nil
}
