package capture

import (
	"context"
	"fmt"
	"image"
	"image/draw"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/bryanchriswhite/IrisStreamer/internal/graph"
	"github.com/bryanchriswhite/IrisStreamer/internal/logger"
)

var imageExtensions = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".bmp":  true,
	".tif":  true,
	".tiff": true,
	".webp": true,
}

// ImageSequenceSource replays the images in a directory in file name
// order.
type ImageSequenceSource struct {
	dir  string
	fps  int
	loop bool

	mu      sync.Mutex
	files   []string
	index   int
	running bool
	clock   *Clock
	pacer   *pacer
}

// NewImageSequenceSource creates a source over dir. With loop set the
// sequence restarts instead of ending.
func NewImageSequenceSource(dir string, fps int, loop bool) *ImageSequenceSource {
	return &ImageSequenceSource{dir: dir, fps: fps, loop: loop}
}

// Start lists the directory
func (s *ImageSequenceSource) Start() error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return fmt.Errorf("failed to read image directory: %w", err)
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() || !imageExtensions[strings.ToLower(filepath.Ext(e.Name()))] {
			continue
		}
		files = append(files, filepath.Join(s.dir, e.Name()))
	}
	if len(files) == 0 {
		return fmt.Errorf("no images found in %s", s.dir)
	}
	sort.Strings(files)

	s.mu.Lock()
	s.files = files
	s.index = 0
	s.running = true
	s.clock = NewClock()
	s.pacer = newPacer(s.fps)
	s.mu.Unlock()

	logger.WithComponent("image-source").Info().
		Str("dir", s.dir).
		Int("images", len(files)).
		Bool("loop", s.loop).
		Msg("Image sequence source started")
	return nil
}

// Stop ends the sequence
func (s *ImageSequenceSource) Stop() error {
	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
	return nil
}

// Name returns the source name
func (s *ImageSequenceSource) Name() string {
	return "images"
}

// IsAvailable checks that the directory exists
func (s *ImageSequenceSource) IsAvailable() bool {
	info, err := os.Stat(s.dir)
	return err == nil && info.IsDir()
}

// Next decodes the next image
func (s *ImageSequenceSource) Next(ctx context.Context) (graph.Frame, error) {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return graph.Frame{}, io.EOF
	}
	if s.index >= len(s.files) {
		if !s.loop {
			s.mu.Unlock()
			return graph.Frame{}, io.EOF
		}
		s.index = 0
	}
	path := s.files[s.index]
	s.index++
	p := s.pacer
	clock := s.clock
	s.mu.Unlock()

	if err := p.wait(ctx); err != nil {
		return graph.Frame{}, err
	}
	img, err := LoadRGBA(path)
	if err != nil {
		return graph.Frame{}, err
	}
	return graph.NewFrame(img, clock.Stamp()), nil
}

// LoadRGBA decodes any supported image file into an RGBA image with its
// origin at (0, 0).
func LoadRGBA(path string) (*image.RGBA, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open image: %w", err)
	}
	defer f.Close()

	src, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", filepath.Base(path), err)
	}
	if rgba, ok := src.(*image.RGBA); ok && rgba.Bounds().Min == (image.Point{}) {
		return rgba, nil
	}
	b := src.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), src, b.Min, draw.Src)
	return dst, nil
}
