package graph

import (
	"fmt"
	"image"
	"math"
	"strings"
)

// Timestamp is a packet time in microseconds.
type Timestamp int64

// Unset marks a packet that is not bound to any frame yet.
const Unset Timestamp = math.MinInt64

// IsSet reports whether the timestamp refers to a frame.
func (t Timestamp) IsSet() bool {
	return t != Unset
}

func (t Timestamp) String() string {
	if t == Unset {
		return "unset"
	}
	return fmt.Sprintf("%d", int64(t))
}

// PacketKind identifies the payload carried by a Packet
type PacketKind int

const (
	KindEmpty PacketKind = iota
	KindImage
	KindFloat
	KindLandmarks
)

func (k PacketKind) String() string {
	switch k {
	case KindImage:
		return "image"
	case KindFloat:
		return "float"
	case KindLandmarks:
		return "landmarks"
	default:
		return "empty"
	}
}

// Landmark is a point in normalized image coordinates (0..1). Z is relative depth.
type Landmark struct {
	X float32 `json:"x" cbor:"x"`
	Y float32 `json:"y" cbor:"y"`
	Z float32 `json:"z" cbor:"z"`
}

// LandmarkList is an ordered set of landmarks produced for one frame
type LandmarkList []Landmark

// DebugString renders the landmarks in [from, to] one per line.
func (l LandmarkList) DebugString(from, to int) string {
	var b strings.Builder
	for i := from; i <= to && i < len(l); i++ {
		if i < 0 {
			continue
		}
		fmt.Fprintf(&b, "\t\tLandmark[%d]: (%g, %g, %g)\n", i, l[i].X, l[i].Y, l[i].Z)
	}
	return b.String()
}

// Packet is an immutable timestamped value flowing through one stream.
// Exactly one payload is set, selected by Kind.
type Packet struct {
	kind      PacketKind
	timestamp Timestamp
	image     *image.RGBA
	value     float32
	landmarks LandmarkList
}

// MakeImage builds an unstamped image packet. The image must not be
// modified after it is wrapped.
func MakeImage(img *image.RGBA) Packet {
	return Packet{kind: KindImage, timestamp: Unset, image: img}
}

// MakeFloat builds an unstamped scalar packet.
func MakeFloat(v float32) Packet {
	return Packet{kind: KindFloat, timestamp: Unset, value: v}
}

// MakeLandmarks builds an unstamped landmark packet. The list is copied.
func MakeLandmarks(l LandmarkList) Packet {
	cp := make(LandmarkList, len(l))
	copy(cp, l)
	return Packet{kind: KindLandmarks, timestamp: Unset, landmarks: cp}
}

// At returns a copy of the packet stamped with ts.
func (p Packet) At(ts Timestamp) Packet {
	p.timestamp = ts
	return p
}

func (p Packet) Kind() PacketKind     { return p.kind }
func (p Packet) Timestamp() Timestamp { return p.timestamp }
func (p Packet) IsEmpty() bool        { return p.kind == KindEmpty }

// Image returns the image payload.
func (p Packet) Image() (*image.RGBA, error) {
	if p.kind != KindImage {
		return nil, fmt.Errorf("%w: packet holds %s, not image", ErrPacketType, p.kind)
	}
	return p.image, nil
}

// Float returns the scalar payload.
func (p Packet) Float() (float32, error) {
	if p.kind != KindFloat {
		return 0, fmt.Errorf("%w: packet holds %s, not float", ErrPacketType, p.kind)
	}
	return p.value, nil
}

// Landmarks returns a copy of the landmark payload.
func (p Packet) Landmarks() (LandmarkList, error) {
	if p.kind != KindLandmarks {
		return nil, fmt.Errorf("%w: packet holds %s, not landmarks", ErrPacketType, p.kind)
	}
	cp := make(LandmarkList, len(p.landmarks))
	copy(cp, p.landmarks)
	return cp, nil
}

func (p Packet) String() string {
	switch p.kind {
	case KindImage:
		b := p.image.Bounds()
		return fmt.Sprintf("image(%dx%d)@%s", b.Dx(), b.Dy(), p.timestamp)
	case KindFloat:
		return fmt.Sprintf("float(%g)@%s", p.value, p.timestamp)
	case KindLandmarks:
		return fmt.Sprintf("landmarks(%d)@%s", len(p.landmarks), p.timestamp)
	default:
		return "empty"
	}
}

// Frame is one image produced by a frame source.
type Frame struct {
	Image     *image.RGBA
	Timestamp Timestamp
	Width     int
	Height    int
}

// NewFrame wraps img with its dimensions.
func NewFrame(img *image.RGBA, ts Timestamp) Frame {
	b := img.Bounds()
	return Frame{
		Image:     img,
		Timestamp: ts,
		Width:     b.Dx(),
		Height:    b.Dy(),
	}
}
