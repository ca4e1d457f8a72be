package overlay

import (
	"image"
	"image/color"
)

// MarkerWidget outlines a circle given in normalized image coordinates.
// It is hidden until Place is called.
type MarkerWidget struct {
	*BaseWidget
	cx, cy, radius float64
	placed         bool
	thickness      float64
	color          color.RGBA
}

// NewMarkerWidget creates a hidden marker drawn in c
func NewMarkerWidget(id string, c color.RGBA) *MarkerWidget {
	return &MarkerWidget{
		BaseWidget: NewBaseWidget(id, 0, 0, 1.0),
		thickness:  2,
		color:      c,
	}
}

// Type returns the widget type
func (w *MarkerWidget) Type() string {
	return "marker"
}

// Place positions the marker. cx, cy and radius are fractions of the
// image width.
func (w *MarkerWidget) Place(cx, cy, radius float64) {
	w.cx, w.cy, w.radius = cx, cy, radius
	w.placed = true
}

// Hide removes the marker until the next Place
func (w *MarkerWidget) Hide() {
	w.placed = false
}

// Render draws the marker ring
func (w *MarkerWidget) Render(img *image.RGBA) error {
	if !w.IsEnabled() || !w.placed {
		return nil
	}
	b := img.Bounds()
	width, height := float64(b.Dx()), float64(b.Dy())
	DrawRing(img,
		float64(b.Min.X)+w.cx*width,
		float64(b.Min.Y)+w.cy*height,
		w.radius*width,
		w.thickness,
		w.color,
		w.opacity)
	return nil
}
