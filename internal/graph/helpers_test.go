package graph

import (
	"errors"
	"image"
)

// stubCalc adapts plain functions to Calculator.
type stubCalc struct {
	open    func(side SidePacketReader) error
	process func(ctx *Context) error
	close   func() error

	opened int
	closed int
}

func (s *stubCalc) Open(side SidePacketReader) error {
	s.opened++
	if s.open != nil {
		return s.open(side)
	}
	return nil
}

func (s *stubCalc) Process(ctx *Context) error {
	if s.process != nil {
		return s.process(ctx)
	}
	return nil
}

func (s *stubCalc) Close() error {
	s.closed++
	if s.close != nil {
		return s.close()
	}
	return nil
}

// passthrough copies the first input packet to the first output.
func passthrough(in, out string) *stubCalc {
	return &stubCalc{process: func(ctx *Context) error {
		p, ok := ctx.Input(in)
		if !ok {
			return errors.New("missing input")
		}
		return ctx.Output(out, p.At(Unset))
	}}
}

func testImage() *image.RGBA {
	return image.NewRGBA(image.Rect(0, 0, 4, 4))
}

func testFrame(ts Timestamp) Frame {
	return NewFrame(testImage(), ts)
}
