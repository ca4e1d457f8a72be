package capture

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"io"
	"math"
	"sync"

	"github.com/bryanchriswhite/IrisStreamer/internal/graph"
	"github.com/bryanchriswhite/IrisStreamer/internal/logger"
)

const (
	interpupillaryMM = 63.0
	faceWidthMM      = 150.0
	faceHeightMM     = 200.0
	syntheticIrisMM  = 11.8
)

var (
	backgroundColor = color.RGBA{90, 100, 110, 255}
	skinColor       = color.RGBA{224, 188, 160, 255}
	scleraColor     = color.RGBA{245, 245, 240, 255}
	irisColor       = color.RGBA{40, 30, 25, 255}
	pupilColor      = color.RGBA{5, 5, 5, 255}
)

// SyntheticSource renders a pinhole-camera view of a face whose distance
// and position drift over time. The scene is deterministic in the frame
// index, which makes it usable as a test fixture.
type SyntheticSource struct {
	width, height int
	fps           int
	frames        int
	focal         float64

	mu      sync.Mutex
	running bool
	index   int
	clock   *Clock
	pacer   *pacer
}

// Scene is the simulated head pose for one frame, in millimetres
// relative to the camera.
type Scene struct {
	Depth   float64
	OffsetX float64
	OffsetY float64
}

// NewSyntheticSource creates a width x height source. fps of zero renders
// as fast as frames are requested; frames of zero never ends.
func NewSyntheticSource(width, height, fps, frames int) *SyntheticSource {
	return &SyntheticSource{
		width:  width,
		height: height,
		fps:    fps,
		frames: frames,
		focal:  float64(width),
	}
}

// Start initializes the source
func (s *SyntheticSource) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.width < 16 || s.height < 16 {
		return fmt.Errorf("synthetic source needs at least 16x16, got %dx%d", s.width, s.height)
	}
	s.running = true
	s.index = 0
	s.clock = NewClock()
	s.pacer = newPacer(s.fps)

	logger.WithComponent("synthetic-source").Info().
		Int("width", s.width).
		Int("height", s.height).
		Int("fps", s.fps).
		Float64("focal_length_pixel", s.focal).
		Msg("Synthetic source started")
	return nil
}

// Stop ends the stream; Next returns io.EOF afterwards
func (s *SyntheticSource) Stop() error {
	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
	return nil
}

// Name returns the source name
func (s *SyntheticSource) Name() string {
	return "synthetic"
}

// IsAvailable always reports true
func (s *SyntheticSource) IsAvailable() bool {
	return true
}

// FocalLengthPixel reports the simulated camera's focal length
func (s *SyntheticSource) FocalLengthPixel() (float64, bool) {
	return s.focal, true
}

// SceneAt returns the head pose rendered in frame n
func (s *SyntheticSource) SceneAt(n int) Scene {
	rate := float64(s.fps)
	if rate <= 0 {
		rate = 15
	}
	t := float64(n) / rate
	return Scene{
		Depth:   450 + 150*math.Sin(2*math.Pi*t/8),
		OffsetX: 40 * math.Sin(2*math.Pi*t/5),
		OffsetY: 15 * math.Sin(2*math.Pi*t/3),
	}
}

// EyeDistance returns the camera to iris distance for the subject's left
// (+1) or right (-1) eye in the given scene.
func EyeDistance(sc Scene, side float64) float64 {
	x := sc.OffsetX + side*interpupillaryMM/2
	return math.Sqrt(sc.Depth*sc.Depth + x*x + sc.OffsetY*sc.OffsetY)
}

// Next renders the next frame
func (s *SyntheticSource) Next(ctx context.Context) (graph.Frame, error) {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return graph.Frame{}, io.EOF
	}
	if s.frames > 0 && s.index >= s.frames {
		s.mu.Unlock()
		return graph.Frame{}, io.EOF
	}
	n := s.index
	s.index++
	p := s.pacer
	clock := s.clock
	s.mu.Unlock()

	if err := p.wait(ctx); err != nil {
		return graph.Frame{}, err
	}
	img := s.Render(s.SceneAt(n))
	return graph.NewFrame(img, clock.Stamp()), nil
}

// Render draws sc through a pinhole camera
func (s *SyntheticSource) Render(sc Scene) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, s.width, s.height))
	project := func(xmm, ymm float64) (float64, float64) {
		return float64(s.width)/2 + s.focal*xmm/sc.Depth, float64(s.height)/2 + s.focal*ymm/sc.Depth
	}
	scale := s.focal / sc.Depth

	faceX, faceY := project(sc.OffsetX, sc.OffsetY+20)
	faceRX, faceRY := scale*faceWidthMM/2, scale*faceHeightMM/2

	// Subject's left eye is on the image's right.
	leftX, leftY := project(sc.OffsetX+interpupillaryMM/2, sc.OffsetY)
	rightX, rightY := project(sc.OffsetX-interpupillaryMM/2, sc.OffsetY)
	irisR := scale * syntheticIrisMM / 2

	for y := 0; y < s.height; y++ {
		py := float64(y) + 0.5
		for x := 0; x < s.width; x++ {
			px := float64(x) + 0.5
			c := backgroundColor
			if inEllipse(px, py, faceX, faceY, faceRX, faceRY) {
				c = skinColor
			}
			for _, eye := range [2][2]float64{{leftX, leftY}, {rightX, rightY}} {
				if inEllipse(px, py, eye[0], eye[1], irisR*2.4, irisR*1.3) {
					c = scleraColor
				}
				d := math.Hypot(px-eye[0], py-eye[1])
				if d <= irisR {
					c = irisColor
				}
				if d <= irisR*0.45 {
					c = pupilColor
				}
			}
			img.SetRGBA(x, y, c)
		}
	}
	return img
}

func inEllipse(px, py, cx, cy, rx, ry float64) bool {
	if rx <= 0 || ry <= 0 {
		return false
	}
	dx, dy := (px-cx)/rx, (py-cy)/ry
	return dx*dx+dy*dy <= 1
}
