package frame

import (
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	"io"
)

// RGB adapts a three channel frame to image.Image without copying.
type RGB struct {
	// Pix holds the image's pixels, in R, G, B order. The pixel at
	// (x, y) starts at Pix[(y-Rect.Min.Y)*Stride + (x-Rect.Min.X)*3].
	Pix []byte
	// Stride is the Pix stride (in bytes) between vertically adjacent pixels.
	Stride int
	// Rect is the image's bounds.
	Rect image.Rectangle
}

func (p *RGB) ColorModel() color.Model { return color.RGBAModel }

func (p *RGB) Bounds() image.Rectangle { return p.Rect }

func (p *RGB) At(x, y int) color.Color {
	if !(image.Point{X: x, Y: y}.In(p.Rect)) {
		return color.RGBA{}
	}
	i := (y-p.Rect.Min.Y)*p.Stride + (x-p.Rect.Min.X)*3
	s := p.Pix[i : i+3 : i+3] // Small cap improves performance, see https://golang.org/issue/27857
	return color.RGBA{R: s[0], G: s[1], B: s[2], A: 0xff}
}

// Image returns a view of f. Mono frames share Pix with an *image.Gray.
func (f *Frame) Image() image.Image {
	rect := image.Rect(0, 0, f.Width, f.Height)
	if f.Channels == 1 {
		return &image.Gray{Pix: f.Pix, Stride: f.Stride(), Rect: rect}
	}
	return &RGB{Pix: f.Pix, Stride: f.Stride(), Rect: rect}
}

// FromImage copies img into f, converting to three channel RGB unless the
// source is already grayscale.
func (f *Frame) FromImage(img image.Image) {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	switch src := img.(type) {
	case *image.Gray:
		f.Reset(w, h, 1)
		for y := 0; y < h; y++ {
			copy(f.Pix[y*w:(y+1)*w], src.Pix[y*src.Stride:y*src.Stride+w])
		}
	case *image.RGBA:
		f.Reset(w, h, 3)
		rgbaToRGB(src.Pix, src.Stride, f.Pix, w, h)
	default:
		rgba := image.NewRGBA(image.Rect(0, 0, w, h))
		draw.Draw(rgba, rgba.Bounds(), img, b.Min, draw.Src)
		f.Reset(w, h, 3)
		rgbaToRGB(rgba.Pix, rgba.Stride, f.Pix, w, h)
	}
}

// FromRGB24 copies a packed RGB24 buffer whose rows are bytesPerLine long.
func (f *Frame) FromRGB24(data []byte, width, height, bytesPerLine int) {
	f.Reset(width, height, 3)
	if bytesPerLine <= 0 {
		bytesPerLine = width * 3
	}
	stride := f.Stride()
	for y := 0; y < height; y++ {
		start := y * bytesPerLine
		if start+stride > len(data) {
			break
		}
		copy(f.Pix[y*stride:(y+1)*stride], data[start:start+stride])
	}
}

// FromYUYV converts a packed YUYV 4:2:2 buffer to RGB using BT.601
// coefficients.
func (f *Frame) FromYUYV(data []byte, width, height, bytesPerLine int) {
	f.Reset(width, height, 3)
	if bytesPerLine <= 0 {
		bytesPerLine = width * 2
	}
	stride := f.Stride()
	for y := 0; y < height; y++ {
		row := y * bytesPerLine
		if row+width*2 > len(data) {
			break
		}
		out := f.Pix[y*stride : (y+1)*stride]
		for x := 0; x+1 < width; x += 2 {
			i := row + x*2
			y0, u, y1, v := data[i], data[i+1], data[i+2], data[i+3]
			r, g, b := color.YCbCrToRGB(y0, u, v)
			out[x*3], out[x*3+1], out[x*3+2] = r, g, b
			r, g, b = color.YCbCrToRGB(y1, u, v)
			out[x*3+3], out[x*3+4], out[x*3+5] = r, g, b
		}
	}
}

func rgbaToRGB(in []byte, inStride int, out []byte, width, height int) {
	outStride := width * 3
	for i := 0; i < height; i++ {
		oIndex := i * outStride
		iIndex := i * inStride
		for j := 0; j < width; j++ {
			out[oIndex] = in[iIndex]
			out[oIndex+1] = in[iIndex+1]
			out[oIndex+2] = in[iIndex+2]

			oIndex += 3
			iIndex += 4
		}
	}
}

func EncodeJPEG(f *Frame, dst io.Writer, quality int) error {
	return jpeg.Encode(dst, f.Image(), &jpeg.Options{Quality: quality})
}
