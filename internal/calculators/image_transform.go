package calculators

import (
	"fmt"
	"image"

	"golang.org/x/image/draw"

	"github.com/bryanchriswhite/IrisStreamer/internal/config"
	"github.com/bryanchriswhite/IrisStreamer/internal/graph"
)

// ImageTransform flips and downscales frames. The input image is never
// modified; a new image is emitted every frame.
//
// Options: flip_vertically, flip_horizontally (bool), max_width (int,
// 0 keeps the input size).
type ImageTransform struct {
	input, output string
	flipV, flipH  bool
	maxWidth      int
}

// NewImageTransform is the ImageTransformCalculator factory
func NewImageTransform(cfg config.NodeConfig) (graph.Calculator, error) {
	if err := requireStreams(cfg, 1, 1); err != nil {
		return nil, err
	}
	t := &ImageTransform{input: cfg.Inputs[0], output: cfg.Outputs[0]}

	var err error
	if t.flipV, err = optBool(cfg.Options, "flip_vertically", false); err != nil {
		return nil, err
	}
	if t.flipH, err = optBool(cfg.Options, "flip_horizontally", false); err != nil {
		return nil, err
	}
	if t.maxWidth, err = optInt(cfg.Options, "max_width", 0); err != nil {
		return nil, err
	}
	if t.maxWidth < 0 {
		return nil, fmt.Errorf("max_width must not be negative")
	}
	return t, nil
}

func (t *ImageTransform) Open(graph.SidePacketReader) error { return nil }
func (t *ImageTransform) Close() error                      { return nil }

func (t *ImageTransform) Process(ctx *graph.Context) error {
	p, ok := ctx.Input(t.input)
	if !ok {
		return nil
	}
	src, err := p.Image()
	if err != nil {
		return err
	}
	return ctx.Output(t.output, graph.MakeImage(t.Apply(src)))
}

// Apply returns the transformed copy of src
func (t *ImageTransform) Apply(src *image.RGBA) *image.RGBA {
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	if t.maxWidth > 0 && w > t.maxWidth {
		h = h * t.maxWidth / w
		if h < 1 {
			h = 1
		}
		w = t.maxWidth
	}

	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	if w == b.Dx() && h == b.Dy() {
		draw.Copy(dst, image.Point{}, src, b, draw.Src, nil)
	} else {
		draw.ApproxBiLinear.Scale(dst, dst.Bounds(), src, b, draw.Src, nil)
	}

	if t.flipV {
		flipVertical(dst)
	}
	if t.flipH {
		flipHorizontal(dst)
	}
	return dst
}

func flipVertical(img *image.RGBA) {
	h := img.Bounds().Dy()
	row := make([]byte, img.Stride)
	for y := 0; y < h/2; y++ {
		top := img.Pix[y*img.Stride : (y+1)*img.Stride]
		bottom := img.Pix[(h-1-y)*img.Stride : (h-y)*img.Stride]
		copy(row, top)
		copy(top, bottom)
		copy(bottom, row)
	}
}

func flipHorizontal(img *image.RGBA) {
	b := img.Bounds()
	w := b.Dx()
	for y := 0; y < b.Dy(); y++ {
		line := img.Pix[y*img.Stride : y*img.Stride+w*4]
		for x := 0; x < w/2; x++ {
			l, r := x*4, (w-1-x)*4
			for c := 0; c < 4; c++ {
				line[l+c], line[r+c] = line[r+c], line[l+c]
			}
		}
	}
}
