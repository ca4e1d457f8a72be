package capture

import (
	"fmt"

	"github.com/bryanchriswhite/IrisStreamer/internal/config"
	"github.com/bryanchriswhite/IrisStreamer/internal/logger"
)

// New creates the source selected by cfg.Type. The source is not started.
func New(cfg config.SourceConfig) (Source, error) {
	var src Source
	switch cfg.Type {
	case config.SourceSynthetic, "":
		frames := 0
		if !cfg.Loop {
			// One full depth cycle of the simulated scene.
			frames = 8 * max(cfg.FPS, 1)
		}
		src = NewSyntheticSource(cfg.Width, cfg.Height, cfg.FPS, frames)
	case config.SourceImages:
		src = NewImageSequenceSource(cfg.Dir, cfg.FPS, cfg.Loop)
	case config.SourceCamera:
		src = NewCameraSource(cfg.Device, cfg.Width, cfg.Height, cfg.FPS)
	case config.SourceX11:
		src = NewX11Source(cfg.Display, cfg.Window, cfg.Width, cfg.Height, cfg.FPS)
	default:
		return nil, fmt.Errorf("unknown source type %q", cfg.Type)
	}

	if !src.IsAvailable() {
		return nil, fmt.Errorf("%s source is not available in this environment", src.Name())
	}

	logger.WithComponent("capture").Debug().
		Str("source", src.Name()).
		Msg("Frame source selected")
	return src, nil
}
