package capture

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"

	"github.com/bryanchriswhite/IrisStreamer/internal/graph"
	"github.com/bryanchriswhite/IrisStreamer/internal/logger"
)

// CameraSource reads a V4L2 camera through a gst-launch-1.0 subprocess
// that writes raw RGBA frames to stdout. Running GStreamer out of process
// keeps cgo out of the binary.
type CameraSource struct {
	device        string
	width, height int
	fps           int

	// command builds the process from gst-launch arguments; tests
	// replace it.
	command func(args []string) *exec.Cmd

	mu      sync.Mutex
	cmd     *exec.Cmd
	frames  chan *image.RGBA
	done    chan struct{}
	readErr error
	running bool
	clock   *Clock
}

// NewCameraSource creates a camera source for device at the given size
func NewCameraSource(device string, width, height, fps int) *CameraSource {
	return &CameraSource{
		device: device,
		width:  width,
		height: height,
		fps:    fps,
		command: func(args []string) *exec.Cmd {
			return exec.Command("gst-launch-1.0", args...)
		},
	}
}

// Args returns the gst-launch-1.0 arguments, one element per pipeline
// token. No shell is involved, so the device is never interpreted.
func (c *CameraSource) Args() []string {
	return []string{
		"-q",
		"v4l2src", "device=" + c.device, "do-timestamp=true", "!",
		"videoconvert", "!",
		"videoscale", "!",
		"videorate", "!",
		fmt.Sprintf("video/x-raw,format=RGBA,width=%d,height=%d,framerate=%d/1", c.width, c.height, c.fps), "!",
		"fdsink", "fd=1", "sync=false",
	}
}

// Pipeline returns the pipeline description for logging
func (c *CameraSource) Pipeline() string {
	return strings.Join(c.Args()[1:], " ")
}

// Start launches the subprocess
func (c *CameraSource) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		return fmt.Errorf("camera already running")
	}
	if c.width <= 0 || c.height <= 0 {
		return fmt.Errorf("camera needs an explicit size, got %dx%d", c.width, c.height)
	}

	log := logger.WithComponent("camera-source")
	log.Debug().Str("pipeline", c.Pipeline()).Msg("Starting GStreamer subprocess")

	cmd := c.command(c.Args())
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to get stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("failed to get stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start gst-launch: %w", err)
	}

	c.cmd = cmd
	c.frames = make(chan *image.RGBA, 1)
	c.done = make(chan struct{})
	c.readErr = nil
	c.running = true
	c.clock = NewClock()

	go c.readFrames(stdout, c.frames, c.done)
	go logStderr(stderr)

	log.Info().
		Str("device", c.device).
		Int("pid", cmd.Process.Pid).
		Msg("Camera subprocess started")
	return nil
}

// readFrames reads fixed-size RGBA frames until EOF. Only the newest
// unread frame is kept.
func (c *CameraSource) readFrames(stdout io.Reader, frames chan *image.RGBA, done chan struct{}) {
	defer close(done)
	log := logger.WithComponent("camera-source")

	frameSize := c.width * c.height * 4
	reader := bufio.NewReaderSize(stdout, frameSize)
	for {
		img := image.NewRGBA(image.Rect(0, 0, c.width, c.height))
		if _, err := io.ReadFull(reader, img.Pix); err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, os.ErrClosed) {
				log.Error().Err(err).Msg("Error reading frame")
				c.mu.Lock()
				c.readErr = err
				c.mu.Unlock()
			}
			return
		}

		select {
		case frames <- img:
		default:
			// Drop the stale frame in favour of this one.
			select {
			case <-frames:
			default:
			}
			frames <- img
		}
	}
}

func logStderr(stderr io.Reader) {
	log := logger.WithComponent("camera-source")
	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.Contains(line, "ERROR") || strings.Contains(line, "WARN") {
			log.Warn().Str("gst", line).Msg("GStreamer message")
		} else {
			log.Debug().Str("gst", line).Msg("GStreamer output")
		}
	}
}

// Next returns the newest frame read from the camera
func (c *CameraSource) Next(ctx context.Context) (graph.Frame, error) {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return graph.Frame{}, io.EOF
	}
	frames, done, clock := c.frames, c.done, c.clock
	c.mu.Unlock()

	select {
	case img := <-frames:
		return graph.NewFrame(img, clock.Stamp()), nil
	case <-ctx.Done():
		return graph.Frame{}, ctx.Err()
	case <-done:
		// The reader may have queued a last frame before exiting.
		select {
		case img := <-frames:
			return graph.NewFrame(img, clock.Stamp()), nil
		default:
		}
		c.mu.Lock()
		err := c.readErr
		c.mu.Unlock()
		if err != nil {
			return graph.Frame{}, fmt.Errorf("camera stream failed: %w", err)
		}
		return graph.Frame{}, io.EOF
	}
}

// Stop kills the subprocess
func (c *CameraSource) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running {
		return nil
	}
	if c.cmd != nil && c.cmd.Process != nil {
		logger.WithComponent("camera-source").Debug().
			Int("pid", c.cmd.Process.Pid).
			Msg("Killing GStreamer subprocess")
		_ = c.cmd.Process.Kill()
		_ = c.cmd.Wait()
	}
	c.running = false
	logger.WithComponent("camera-source").Info().Msg("Camera subprocess stopped")
	return nil
}

// Name returns the source name
func (c *CameraSource) Name() string {
	return "camera"
}

// IsAvailable checks that gst-launch-1.0 is installed
func (c *CameraSource) IsAvailable() bool {
	_, err := exec.LookPath("gst-launch-1.0")
	return err == nil
}
