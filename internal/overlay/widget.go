package overlay

import (
	"image"
	"image/color"
	"image/draw"
	"math"
)

// Widget represents a renderable overlay widget
type Widget interface {
	// ID returns the unique identifier for this widget instance
	ID() string

	// Type returns the widget type name
	Type() string

	// Render draws the widget onto the provided image
	Render(img *image.RGBA) error

	// IsEnabled returns whether the widget should be rendered
	IsEnabled() bool

	// SetEnabled sets whether the widget should be rendered
	SetEnabled(enabled bool)
}

// BaseWidget provides common functionality for all widgets
type BaseWidget struct {
	id      string
	enabled bool
	x       int
	y       int
	opacity float64 // 0.0 to 1.0
}

// NewBaseWidget creates a new base widget
func NewBaseWidget(id string, x, y int, opacity float64) *BaseWidget {
	w := &BaseWidget{
		id:      id,
		enabled: true,
		x:       x,
		y:       y,
	}
	w.SetOpacity(opacity)
	return w
}

// ID returns the widget's unique identifier
func (w *BaseWidget) ID() string {
	return w.id
}

// IsEnabled returns whether the widget should be rendered
func (w *BaseWidget) IsEnabled() bool {
	return w.enabled
}

// SetEnabled sets whether the widget should be rendered
func (w *BaseWidget) SetEnabled(enabled bool) {
	w.enabled = enabled
}

// GetPosition returns the widget's position
func (w *BaseWidget) GetPosition() (int, int) {
	return w.x, w.y
}

// SetPosition sets the widget's position
func (w *BaseWidget) SetPosition(x, y int) {
	w.x = x
	w.y = y
}

// SetOpacity sets the widget's opacity (0.0 to 1.0)
func (w *BaseWidget) SetOpacity(opacity float64) {
	w.opacity = math.Max(0, math.Min(1, opacity))
}

// BlendImage blends src onto dst at (x, y) with the given opacity,
// clipping to dst.
func BlendImage(dst *image.RGBA, src image.Image, x, y int, opacity float64) {
	srcBounds := src.Bounds()
	dstBounds := dst.Bounds()

	for sy := srcBounds.Min.Y; sy < srcBounds.Max.Y; sy++ {
		dy := y + (sy - srcBounds.Min.Y)
		if dy < dstBounds.Min.Y || dy >= dstBounds.Max.Y {
			continue
		}
		for sx := srcBounds.Min.X; sx < srcBounds.Max.X; sx++ {
			dx := x + (sx - srcBounds.Min.X)
			if dx < dstBounds.Min.X || dx >= dstBounds.Max.X {
				continue
			}
			_, _, _, sa := src.At(sx, sy).RGBA()
			alpha := float64(sa) * opacity / 65535.0
			if alpha > 0 {
				blendPixel(dst, dx, dy, src.At(sx, sy), alpha)
			}
		}
	}
}

// blendPixel composites c over dst at (x, y) with coverage alpha.
func blendPixel(dst *image.RGBA, x, y int, c color.Color, alpha float64) {
	sr, sg, sb, _ := c.RGBA()
	dr, dg, db, da := dst.At(x, y).RGBA()

	dAlpha := float64(da) / 65535.0
	outAlpha := alpha + dAlpha*(1-alpha)
	if outAlpha <= 0 {
		return
	}
	mix := func(s, d uint32) uint8 {
		return uint8((float64(s)*alpha + float64(d)*dAlpha*(1-alpha)) / outAlpha / 257)
	}
	dst.SetRGBA(x, y, color.RGBA{
		R: mix(sr, dr),
		G: mix(sg, dg),
		B: mix(sb, db),
		A: uint8(outAlpha * 255),
	})
}

// DrawRectangle draws a filled rectangle with the specified color and opacity
func DrawRectangle(dst *image.RGBA, x, y, width, height int, c color.Color, opacity float64) {
	rect := image.Rect(0, 0, width, height)
	tmp := image.NewRGBA(rect)
	draw.Draw(tmp, rect, image.NewUniform(c), image.Point{}, draw.Src)
	BlendImage(dst, tmp, x, y, opacity)
}

// DrawRing draws a circle outline of the given thickness centred on (cx, cy).
func DrawRing(dst *image.RGBA, cx, cy, radius, thickness float64, c color.Color, opacity float64) {
	if radius <= 0 || thickness <= 0 {
		return
	}
	outer := radius + thickness/2
	inner := math.Max(0, radius-thickness/2)
	b := dst.Bounds()
	x0 := int(math.Max(float64(b.Min.X), math.Floor(cx-outer)))
	x1 := int(math.Min(float64(b.Max.X-1), math.Ceil(cx+outer)))
	y0 := int(math.Max(float64(b.Min.Y), math.Floor(cy-outer)))
	y1 := int(math.Min(float64(b.Max.Y-1), math.Ceil(cy+outer)))

	for y := y0; y <= y1; y++ {
		for x := x0; x <= x1; x++ {
			d := math.Hypot(float64(x)+0.5-cx, float64(y)+0.5-cy)
			if d >= inner && d <= outer {
				blendPixel(dst, x, y, c, opacity)
			}
		}
	}
}
