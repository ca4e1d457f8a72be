package calculators

import (
	"fmt"
	"image"
	"math"

	"github.com/bryanchriswhite/IrisStreamer/internal/config"
	"github.com/bryanchriswhite/IrisStreamer/internal/graph"
)

// Iris landmark layout. Each eye has five points: the iris centre
// followed by four contour points at +x, -y, -x and +y. The subject's
// left eye comes first.
const (
	LandmarksPerEye = 5
	LeftEyeOffset   = 0
	RightEyeOffset  = LandmarksPerEye
	IrisLandmarks   = 2 * LandmarksPerEye
)

// Detector locates both irises in an image. ok is false when either eye
// cannot be found.
type Detector interface {
	Detect(img *image.RGBA) (graph.LandmarkList, bool)
}

// IrisLandmark runs a Detector over each frame and emits the iris
// landmark list. Nothing is emitted for frames without two eyes.
//
// Options: threshold (luma 0-255), min_area (pixels), max_area_fraction
// and mirrored (bool) configure the built-in PupilDetector.
type IrisLandmark struct {
	input, output string
	detector      Detector
}

// NewIrisLandmark is the IrisLandmarkCalculator factory
func NewIrisLandmark(cfg config.NodeConfig) (graph.Calculator, error) {
	if err := requireStreams(cfg, 1, 1); err != nil {
		return nil, err
	}
	d := DefaultPupilDetector()

	var err error
	if d.Threshold, err = optInt(cfg.Options, "threshold", d.Threshold); err != nil {
		return nil, err
	}
	if d.MinArea, err = optInt(cfg.Options, "min_area", d.MinArea); err != nil {
		return nil, err
	}
	if d.MaxAreaFraction, err = optFloat(cfg.Options, "max_area_fraction", d.MaxAreaFraction); err != nil {
		return nil, err
	}
	if d.Mirrored, err = optBool(cfg.Options, "mirrored", d.Mirrored); err != nil {
		return nil, err
	}
	if d.Threshold < 1 || d.Threshold > 255 {
		return nil, fmt.Errorf("threshold must be in 1..255")
	}
	if d.MinArea < 1 {
		return nil, fmt.Errorf("min_area must be at least 1")
	}

	return &IrisLandmark{input: cfg.Inputs[0], output: cfg.Outputs[0], detector: d}, nil
}

// NewIrisLandmarkWithDetector wires a custom detector between two streams
func NewIrisLandmarkWithDetector(input, output string, d Detector) *IrisLandmark {
	return &IrisLandmark{input: input, output: output, detector: d}
}

func (c *IrisLandmark) Open(graph.SidePacketReader) error { return nil }
func (c *IrisLandmark) Close() error                      { return nil }

func (c *IrisLandmark) Process(ctx *graph.Context) error {
	p, ok := ctx.Input(c.input)
	if !ok {
		return nil
	}
	img, err := p.Image()
	if err != nil {
		return err
	}
	landmarks, found := c.detector.Detect(img)
	if !found {
		return nil
	}
	return ctx.Output(c.output, graph.MakeLandmarks(landmarks))
}

// PupilDetector finds the dark iris disc in each half of the image. The
// subject's left eye appears in the right half of an unmirrored camera
// image.
type PupilDetector struct {
	// Threshold is the luma at or below which a pixel counts as iris.
	Threshold int
	// MinArea rejects specks smaller than this many pixels.
	MinArea int
	// MaxAreaFraction rejects halves where too much of the image is dark.
	MaxAreaFraction float64
	// Mirrored swaps the halves for selfie-style images.
	Mirrored bool
}

// DefaultPupilDetector returns a detector tuned for well-lit frames
func DefaultPupilDetector() *PupilDetector {
	return &PupilDetector{
		Threshold:       60,
		MinArea:         12,
		MaxAreaFraction: 0.05,
	}
}

type blob struct {
	cx, cy float64
	radius float64
}

// Detect implements Detector
func (d *PupilDetector) Detect(img *image.RGBA) (graph.LandmarkList, bool) {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w < 2 || h < 1 {
		return nil, false
	}
	mid := b.Min.X + w/2

	leftHalf := image.Rect(b.Min.X, b.Min.Y, mid, b.Max.Y)
	rightHalf := image.Rect(mid, b.Min.Y, b.Max.X, b.Max.Y)

	subjectLeft, subjectRight := rightHalf, leftHalf
	if d.Mirrored {
		subjectLeft, subjectRight = leftHalf, rightHalf
	}

	left, ok := d.find(img, subjectLeft)
	if !ok {
		return nil, false
	}
	right, ok := d.find(img, subjectRight)
	if !ok {
		return nil, false
	}

	out := make(graph.LandmarkList, 0, IrisLandmarks)
	out = appendEye(out, left, b, w, h)
	out = appendEye(out, right, b, w, h)
	return out, true
}

func (d *PupilDetector) find(img *image.RGBA, r image.Rectangle) (blob, bool) {
	var sumX, sumY float64
	var n int
	for y := r.Min.Y; y < r.Max.Y; y++ {
		off := img.PixOffset(r.Min.X, y)
		for x := r.Min.X; x < r.Max.X; x++ {
			px := img.Pix[off : off+3 : off+3]
			off += 4
			// ITU-R BT.601 luma
			luma := (299*int(px[0]) + 587*int(px[1]) + 114*int(px[2])) / 1000
			if luma <= d.Threshold {
				sumX += float64(x) + 0.5
				sumY += float64(y) + 0.5
				n++
			}
		}
	}

	if n == 0 || n < d.MinArea {
		return blob{}, false
	}
	if d.MaxAreaFraction > 0 && float64(n) > d.MaxAreaFraction*float64(r.Dx()*r.Dy()) {
		return blob{}, false
	}
	return blob{
		cx:     sumX / float64(n),
		cy:     sumY / float64(n),
		radius: math.Sqrt(float64(n) / math.Pi),
	}, true
}

func appendEye(out graph.LandmarkList, e blob, b image.Rectangle, w, h int) graph.LandmarkList {
	norm := func(x, y float64) graph.Landmark {
		return graph.Landmark{
			X: float32((x - float64(b.Min.X)) / float64(w)),
			Y: float32((y - float64(b.Min.Y)) / float64(h)),
		}
	}
	return append(out,
		norm(e.cx, e.cy),
		norm(e.cx+e.radius, e.cy),
		norm(e.cx, e.cy-e.radius),
		norm(e.cx-e.radius, e.cy),
		norm(e.cx, e.cy+e.radius),
	)
}
