package undistort

import (
	"image"

	"golang.org/x/image/draw"

	"cv-capture/pkg/frame"
)

// resize scales src into dst at width x height with bilinear interpolation.
func resize(src, dst *frame.Frame, width, height int) {
	if src.Channels == 1 {
		dst.Reset(width, height, 1)
		g := dst.Image().(*image.Gray)
		draw.BiLinear.Scale(g, g.Bounds(), src.Image(), src.Image().Bounds(), draw.Src, nil)
		return
	}
	rgba := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.BiLinear.Scale(rgba, rgba.Bounds(), src.Image(), src.Image().Bounds(), draw.Src, nil)
	dst.FromImage(rgba)
}
