package capture

import (
	"context"
	"fmt"
	"image"
	"io"
	"os"
	"sync"

	"github.com/BurntSushi/xgb"
	"github.com/BurntSushi/xgb/composite"
	"github.com/BurntSushi/xgb/xproto"

	"github.com/bryanchriswhite/IrisStreamer/internal/graph"
	"github.com/bryanchriswhite/IrisStreamer/internal/logger"
)

// X11Source grabs frames from an X11 display, for example a video call
// showing a face. With a window id it captures that window through the
// Composite extension so it works while obscured; otherwise it grabs a
// region of the root window.
type X11Source struct {
	display       string
	window        uint32
	width, height int
	fps           int

	mu        sync.Mutex
	conn      *xgb.Conn
	root      xproto.Window
	depth     byte
	composite bool
	running   bool
	clock     *Clock
	pacer     *pacer
}

// NewX11Source captures width x height pixels from the top left of
// display. An empty display uses $DISPLAY and a zero size uses the whole
// screen. A non-zero window captures that window instead of the root.
func NewX11Source(display string, window uint32, width, height, fps int) *X11Source {
	return &X11Source{display: display, window: window, width: width, height: height, fps: fps}
}

// Start connects to the X server
func (s *X11Source) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	log := logger.WithComponent("x11-source")

	conn, err := xgb.NewConnDisplay(s.display)
	if err != nil {
		return fmt.Errorf("failed to connect to X server: %w", err)
	}

	screen := xproto.Setup(conn).DefaultScreen(conn)
	s.conn = conn
	s.root = screen.Root
	s.depth = screen.RootDepth
	if s.width <= 0 || s.width > int(screen.WidthInPixels) {
		s.width = int(screen.WidthInPixels)
	}
	if s.height <= 0 || s.height > int(screen.HeightInPixels) {
		s.height = int(screen.HeightInPixels)
	}

	if s.window != 0 {
		if err := composite.Init(conn); err != nil {
			log.Warn().
				Err(err).
				Msg("Composite extension not available, obscured windows will capture badly")
		} else {
			s.composite = true
		}
	}

	s.running = true
	s.clock = NewClock()
	s.pacer = newPacer(s.fps)

	log.Info().
		Int("width", s.width).
		Int("height", s.height).
		Uint8("depth", s.depth).
		Uint32("window", s.window).
		Bool("composite", s.composite).
		Msg("X11 source started")
	return nil
}

// Stop closes the X11 connection
func (s *X11Source) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
	s.running = false
	return nil
}

// Name returns the source name
func (s *X11Source) Name() string {
	return "x11"
}

// IsAvailable checks for a display to connect to
func (s *X11Source) IsAvailable() bool {
	return s.display != "" || os.Getenv("DISPLAY") != ""
}

// Next captures one frame
func (s *X11Source) Next(ctx context.Context) (graph.Frame, error) {
	s.mu.Lock()
	running, p := s.running, s.pacer
	s.mu.Unlock()
	if !running {
		return graph.Frame{}, io.EOF
	}
	if err := p.wait(ctx); err != nil {
		return graph.Frame{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return graph.Frame{}, io.EOF
	}

	var (
		img *image.RGBA
		err error
	)
	if s.window != 0 {
		img, err = s.captureWindow(xproto.Window(s.window))
	} else {
		img, err = s.grab(xproto.Drawable(s.root), s.width, s.height)
	}
	if err != nil {
		return graph.Frame{}, err
	}
	return graph.NewFrame(img, s.clock.Stamp()), nil
}

// captureWindow reads win's contents, through its Composite pixmap when
// the extension is available.
func (s *X11Source) captureWindow(win xproto.Window) (*image.RGBA, error) {
	geom, err := xproto.GetGeometry(s.conn, xproto.Drawable(win)).Reply()
	if err != nil {
		return nil, fmt.Errorf("failed to get window geometry: %w", err)
	}

	drawable := xproto.Drawable(win)
	if s.composite {
		if err := composite.RedirectWindowChecked(s.conn, win, composite.RedirectAutomatic).Check(); err == nil {
			defer composite.UnredirectWindow(s.conn, win, composite.RedirectAutomatic)
			if pixmap, err := xproto.NewPixmapId(s.conn); err == nil {
				if err := composite.NameWindowPixmapChecked(s.conn, win, pixmap).Check(); err == nil {
					defer xproto.FreePixmap(s.conn, pixmap)
					drawable = xproto.Drawable(pixmap)
				}
			}
		} else {
			logger.WithComponent("x11-source").Debug().
				Err(err).
				Uint32("window", uint32(win)).
				Msg("Composite redirect failed, reading window directly")
		}
	}
	return s.grab(drawable, int(geom.Width), int(geom.Height))
}

func (s *X11Source) grab(d xproto.Drawable, width, height int) (*image.RGBA, error) {
	reply, err := xproto.GetImage(
		s.conn,
		xproto.ImageFormatZPixmap,
		d,
		0, 0,
		uint16(width), uint16(height),
		0xffffffff,
	).Reply()
	if err != nil {
		return nil, fmt.Errorf("failed to get image: %w", err)
	}
	return convertZPixmap(reply.Data, width, height, s.depth)
}

// convertZPixmap converts 24/32 bit BGRX pixel data to opaque RGBA
func convertZPixmap(data []byte, width, height int, depth byte) (*image.RGBA, error) {
	if depth != 24 && depth != 32 {
		return nil, fmt.Errorf("unsupported X11 depth %d", depth)
	}
	if len(data) < width*height*4 {
		return nil, fmt.Errorf("short X11 image: %d bytes for %dx%d", len(data), width, height)
	}

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for i := 0; i < width*height*4; i += 4 {
		img.Pix[i] = data[i+2]
		img.Pix[i+1] = data[i+1]
		img.Pix[i+2] = data[i]
		img.Pix[i+3] = 255
	}
	return img, nil
}
