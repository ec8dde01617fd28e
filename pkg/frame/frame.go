// Package frame holds the interleaved 8-bit pixel buffer that moves through
// the capture pipeline.
package frame

import (
	"fmt"
	"time"
)

type Encoding string

const (
	RGB8  Encoding = "rgb8"
	Mono8 Encoding = "mono8"
)

// EncodingFor returns the encoding tag used for a buffer with the given
// channel count: three channels are colour, everything else mono.
func EncodingFor(channels int) Encoding {
	if channels == 3 {
		return RGB8
	}
	return Mono8
}

// Frame is a row-major pixel buffer. Pixel (x, y) channel c lives at
// Pix[(y*Width+x)*Channels+c].
type Frame struct {
	Width    int
	Height   int
	Channels int
	Pix      []byte

	Encoding Encoding
	Stamp    time.Time
	FrameID  string
	Seq      uint64
}

func New(width, height, channels int) *Frame {
	return &Frame{
		Width:    width,
		Height:   height,
		Channels: channels,
		Pix:      make([]byte, width*height*channels),
		Encoding: EncodingFor(channels),
	}
}

// Reset resizes f in place, reusing Pix when it is large enough.
func (f *Frame) Reset(width, height, channels int) {
	n := width * height * channels
	if cap(f.Pix) < n {
		f.Pix = make([]byte, n)
	}
	f.Pix = f.Pix[:n]
	f.Width, f.Height, f.Channels = width, height, channels
	f.Encoding = EncodingFor(channels)
}

func (f *Frame) Stride() int {
	return f.Width * f.Channels
}

func (f *Frame) Empty() bool {
	return f == nil || f.Width == 0 || f.Height == 0
}

func (f *Frame) Clone() *Frame {
	if f == nil {
		return nil
	}
	c := *f
	c.Pix = append([]byte(nil), f.Pix...)
	return &c
}

func (f *Frame) String() string {
	return fmt.Sprintf("%dx%dx%d %s", f.Width, f.Height, f.Channels, f.Encoding)
}
