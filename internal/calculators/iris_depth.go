package calculators

import (
	"fmt"
	"math"

	"github.com/bryanchriswhite/IrisStreamer/internal/config"
	"github.com/bryanchriswhite/IrisStreamer/internal/graph"
)

// IrisSizeMM is the average human iris diameter.
const IrisSizeMM = 11.8

// FocalLengthSidePacket is the side packet holding the camera focal
// length in pixels.
const FocalLengthSidePacket = "focal_length_pixel"

// IrisDepth estimates the distance from the camera to each iris.
//
// Inputs: iris landmarks, then the image the landmarks were normalised
// against. Outputs: left depth, then optionally right depth, in mm.
// Side input: the focal length in pixels.
//
// Options: smoothing (0..1, weight of the newest value; 0 disables),
// iris_size_mm.
type IrisDepth struct {
	landmarks, image string
	left, right      string
	sideName         string
	smoothing        float64
	irisSize         float64

	focal    float64
	smoothed [2]float64
	primed   [2]bool
}

// NewIrisDepth is the IrisDepthCalculator factory
func NewIrisDepth(cfg config.NodeConfig) (graph.Calculator, error) {
	if err := requireStreams(cfg, 2, 1); err != nil {
		return nil, err
	}
	c := &IrisDepth{
		landmarks: cfg.Inputs[0],
		image:     cfg.Inputs[1],
		left:      cfg.Outputs[0],
		sideName:  FocalLengthSidePacket,
	}
	if len(cfg.Outputs) > 1 {
		c.right = cfg.Outputs[1]
	}
	if len(cfg.SideInputs) > 0 {
		c.sideName = cfg.SideInputs[0]
	}

	var err error
	if c.smoothing, err = optFloat(cfg.Options, "smoothing", 0); err != nil {
		return nil, err
	}
	if c.smoothing < 0 || c.smoothing > 1 {
		return nil, fmt.Errorf("smoothing must be in 0..1")
	}
	if c.irisSize, err = optFloat(cfg.Options, "iris_size_mm", IrisSizeMM); err != nil {
		return nil, err
	}
	if c.irisSize <= 0 {
		return nil, fmt.Errorf("iris_size_mm must be positive")
	}
	return c, nil
}

func (c *IrisDepth) Open(side graph.SidePacketReader) error {
	p, err := side.Get(c.sideName)
	if err != nil {
		return err
	}
	f, err := p.Float()
	if err != nil {
		return fmt.Errorf("side packet %s: %w", c.sideName, err)
	}
	if f <= 0 || math.IsNaN(float64(f)) || math.IsInf(float64(f), 0) {
		return fmt.Errorf("side packet %s must be a positive focal length, got %g", c.sideName, f)
	}
	c.focal = float64(f)
	c.primed = [2]bool{}
	return nil
}

func (c *IrisDepth) Close() error { return nil }

func (c *IrisDepth) Process(ctx *graph.Context) error {
	lp, ok := ctx.Input(c.landmarks)
	if !ok {
		return nil
	}
	ip, ok := ctx.Input(c.image)
	if !ok {
		return nil
	}
	landmarks, err := lp.Landmarks()
	if err != nil {
		return err
	}
	img, err := ip.Image()
	if err != nil {
		return err
	}
	b := img.Bounds()
	w, h := float64(b.Dx()), float64(b.Dy())

	eyes := []struct {
		offset int
		stream string
	}{
		{LeftEyeOffset, c.left},
		{RightEyeOffset, c.right},
	}
	for i, eye := range eyes {
		if eye.stream == "" || len(landmarks) < eye.offset+LandmarksPerEye {
			continue
		}
		iris := landmarks[eye.offset : eye.offset+LandmarksPerEye]
		depth, ok := EstimateDepth(iris, w, h, c.focal, c.irisSize)
		if !ok {
			continue
		}
		depth = c.smooth(i, depth)
		if err := ctx.OutputFloat(eye.stream, float32(depth)); err != nil {
			return err
		}
	}
	return nil
}

func (c *IrisDepth) smooth(eye int, depth float64) float64 {
	if c.smoothing <= 0 || !c.primed[eye] {
		c.smoothed[eye] = depth
		c.primed[eye] = true
		return depth
	}
	c.smoothed[eye] = c.smoothed[eye]*(1-c.smoothing) + depth*c.smoothing
	return c.smoothed[eye]
}

// IrisDiameter returns the iris diameter in pixels, the mean of the
// horizontal and vertical contour distances.
func IrisDiameter(iris graph.LandmarkList, w, h float64) float64 {
	return (pixelDistance(iris[1], iris[3], w, h) + pixelDistance(iris[2], iris[4], w, h)) / 2
}

// EstimateDepth returns the camera to iris distance in mm for one eye's
// five landmarks. ok is false for degenerate input.
func EstimateDepth(iris graph.LandmarkList, w, h, focal, irisSize float64) (float64, bool) {
	if len(iris) < LandmarksPerEye || w <= 0 || h <= 0 {
		return 0, false
	}
	diameter := IrisDiameter(iris, w, h)
	// Also false for NaN.
	if !(diameter > 0) {
		return 0, false
	}
	// Off-axis distance from the optical centre to the iris centre.
	r := math.Hypot(w/2-float64(iris[0].X)*w, h/2-float64(iris[0].Y)*h)
	depth := irisSize * math.Sqrt(focal*focal+r*r) / diameter
	if math.IsNaN(depth) || math.IsInf(depth, 0) {
		return 0, false
	}
	return depth, true
}

func pixelDistance(a, b graph.Landmark, w, h float64) float64 {
	return math.Hypot(float64(a.X-b.X)*w, float64(a.Y-b.Y)*h)
}
