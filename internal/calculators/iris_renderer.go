package calculators

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"strings"

	"github.com/bryanchriswhite/IrisStreamer/internal/config"
	"github.com/bryanchriswhite/IrisStreamer/internal/graph"
	"github.com/bryanchriswhite/IrisStreamer/internal/overlay"
)

var (
	leftIrisColor  = color.RGBA{0, 230, 118, 255}
	rightIrisColor = color.RGBA{41, 182, 246, 255}
	labelBg        = color.RGBA{0, 0, 0, 160}
)

// IrisRenderer draws iris markers and depth readouts on a copy of its
// image input. Optional inputs are recognised by packet kind: landmark
// lists become markers, floats become labels in declaration order.
//
// Options: opacity (0..1).
type IrisRenderer struct {
	image    string
	optional []string
	output   string

	overlay *overlay.Manager
	markers [2]*overlay.MarkerWidget
	labels  map[string]*overlay.TextWidget
}

// NewIrisRenderer is the IrisRendererCalculator factory
func NewIrisRenderer(cfg config.NodeConfig) (graph.Calculator, error) {
	if err := requireStreams(cfg, 1, 1); err != nil {
		return nil, err
	}
	opacity, err := optFloat(cfg.Options, "opacity", 1.0)
	if err != nil {
		return nil, err
	}

	r := &IrisRenderer{
		image:    cfg.Inputs[0],
		optional: cfg.OptionalInputs,
		output:   cfg.Outputs[0],
		overlay:  overlay.NewManager(),
		labels:   make(map[string]*overlay.TextWidget),
	}

	r.markers[0] = overlay.NewMarkerWidget("left_iris", leftIrisColor)
	r.markers[1] = overlay.NewMarkerWidget("right_iris", rightIrisColor)
	for _, m := range r.markers {
		m.SetOpacity(opacity)
		if err := r.overlay.AddWidget(m); err != nil {
			return nil, err
		}
	}

	y := 4
	for _, stream := range cfg.OptionalInputs {
		label := overlay.NewTextWidget("label_"+stream, 4, y)
		bg := labelBg
		label.SetBackground(&bg)
		label.SetOpacity(opacity)
		switch {
		case strings.HasPrefix(stream, "left"):
			label.SetColor(leftIrisColor)
		case strings.HasPrefix(stream, "right"):
			label.SetColor(rightIrisColor)
		}
		// Added to the overlay when the stream has a value.
		r.labels[stream] = label
		y += 24
	}
	return r, nil
}

func (r *IrisRenderer) Open(graph.SidePacketReader) error { return nil }
func (r *IrisRenderer) Close() error                      { return nil }

func (r *IrisRenderer) Process(ctx *graph.Context) error {
	p, ok := ctx.Input(r.image)
	if !ok {
		return nil
	}
	src, err := p.Image()
	if err != nil {
		return err
	}

	for _, m := range r.markers {
		m.Hide()
	}

	for _, stream := range r.optional {
		in, ok := ctx.Input(stream)
		switch {
		case ok && in.Kind() == graph.KindLandmarks:
			landmarks, _ := in.Landmarks()
			r.placeMarkers(landmarks)
		case ok && in.Kind() == graph.KindFloat:
			v, _ := in.Float()
			if err := r.showLabel(stream, fmt.Sprintf("%s %.0f mm", DisplayName(stream), v)); err != nil {
				return err
			}
		default:
			r.hideLabel(stream)
		}
	}

	b := src.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), src, b.Min, draw.Src)
	if err := r.overlay.Render(dst); err != nil {
		return err
	}
	return ctx.Output(r.output, graph.MakeImage(dst))
}

func (r *IrisRenderer) showLabel(stream, text string) error {
	label := r.labels[stream]
	label.SetText(text)
	if _, ok := r.overlay.GetWidget(label.ID()); ok {
		return nil
	}
	return r.overlay.AddWidget(label)
}

func (r *IrisRenderer) hideLabel(stream string) {
	label, ok := r.labels[stream]
	if !ok {
		return
	}
	if _, ok := r.overlay.GetWidget(label.ID()); ok {
		_ = r.overlay.RemoveWidget(label.ID())
	}
}

func (r *IrisRenderer) placeMarkers(l graph.LandmarkList) {
	for eye, offset := range []int{LeftEyeOffset, RightEyeOffset} {
		if len(l) < offset+LandmarksPerEye {
			continue
		}
		iris := l[offset : offset+LandmarksPerEye]
		// Radius as a fraction of width, from the horizontal contour.
		radius := float64(iris[1].X-iris[3].X) / 2
		if radius < 0 {
			radius = -radius
		}
		r.markers[eye].Place(float64(iris[0].X), float64(iris[0].Y), radius)
	}
}

// DisplayName turns a stream name such as left_iris_depth_mm into
// "left iris depth".
func DisplayName(stream string) string {
	return strings.ReplaceAll(strings.TrimSuffix(stream, "_mm"), "_", " ")
}
