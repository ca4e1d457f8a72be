package overlay

import (
	"image"
	"image/color"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

const textHeight = 13 // basicfont.Face7x13

// TextWidget displays a line of text with an optional background box
type TextWidget struct {
	*BaseWidget
	text      string
	textColor color.RGBA
	bgColor   *color.RGBA
	padding   int
}

// NewTextWidget creates a white text widget at (x, y)
func NewTextWidget(id string, x, y int) *TextWidget {
	return &TextWidget{
		BaseWidget: NewBaseWidget(id, x, y, 1.0),
		textColor:  color.RGBA{255, 255, 255, 255},
		padding:    4,
	}
}

// Type returns the widget type
func (w *TextWidget) Type() string {
	return "text"
}

// Render draws the text widget
func (w *TextWidget) Render(img *image.RGBA) error {
	if !w.IsEnabled() || w.text == "" {
		return nil
	}

	face := basicfont.Face7x13
	textWidthPx := font.MeasureString(face, w.text).Ceil()

	if w.bgColor != nil {
		DrawRectangle(img, w.x, w.y, textWidthPx+w.padding*2, textHeight+w.padding*2, *w.bgColor, w.opacity)
	}

	textImg := image.NewRGBA(image.Rect(0, 0, textWidthPx, textHeight))
	d := &font.Drawer{
		Dst:  textImg,
		Src:  image.NewUniform(w.textColor),
		Face: face,
		Dot:  fixed.Point26_6{X: 0, Y: fixed.I(face.Ascent)},
	}
	d.DrawString(w.text)

	BlendImage(img, textImg, w.x+w.padding, w.y+w.padding, w.opacity)
	return nil
}

// SetText updates the text content
func (w *TextWidget) SetText(text string) {
	w.text = text
}

// SetColor sets the text color
func (w *TextWidget) SetColor(c color.RGBA) {
	w.textColor = c
}

// SetBackground sets the background color (nil for transparent)
func (w *TextWidget) SetBackground(c *color.RGBA) {
	w.bgColor = c
}
