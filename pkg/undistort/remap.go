package undistort

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"cv-capture/pkg/calib"
	"cv-capture/pkg/frame"
)

// RemapTable maps every pixel of the undistorted output to the source
// coordinate it is sampled from.
type RemapTable struct {
	Width  int
	Height int
	MapX   []float32
	MapY   []float32
}

type distortFunc func(x, y float64, d [4]float64) (float64, float64)

// BuildRemapTable computes the lookup maps for undistorting an image taken
// with src intrinsics into target. model selects the lens model: "fisheye"
// uses the equidistant model with k1..k4, anything else the radial-tangential
// model with k1, k2, p1, p2.
func BuildRemapTable(src calib.Intrinsics, target calib.Intrinsics, model string) (*RemapTable, error) {
	if target.Width <= 0 || target.Height <= 0 {
		return nil, fmt.Errorf("invalid target size %dx%d", target.Width, target.Height)
	}
	var inv mat.Dense
	if err := inv.Inverse(mat.NewDense(3, 3, target.K[:])); err != nil {
		return nil, fmt.Errorf("invert target camera matrix: %w", err)
	}
	ir := inv.RawMatrix()
	at := func(r, c int) float64 { return ir.Data[r*ir.Stride+c] }

	distort := distortPinhole
	if model == calib.ModelFisheye {
		distort = distortFisheye
	}

	d := src.Distortion4()
	fx, fy, cx, cy := src.Fx(), src.Fy(), src.Cx(), src.Cy()
	w, h := target.Width, target.Height
	t := &RemapTable{
		Width:  w,
		Height: h,
		MapX:   make([]float32, w*h),
		MapY:   make([]float32, w*h),
	}
	for v := 0; v < h; v++ {
		fv := float64(v)
		rx := fv*at(0, 1) + at(0, 2)
		ry := fv*at(1, 1) + at(1, 2)
		rw := fv*at(2, 1) + at(2, 2)
		for u := 0; u < w; u++ {
			fu := float64(u)
			hw := rw + fu*at(2, 0)
			x := (rx + fu*at(0, 0)) / hw
			y := (ry + fu*at(1, 0)) / hw
			xd, yd := distort(x, y, d)

			i := v*w + u
			t.MapX[i] = float32(fx*xd + cx)
			t.MapY[i] = float32(fy*yd + cy)
		}
	}

	return t, nil
}

func distortPinhole(x, y float64, d [4]float64) (float64, float64) {
	k1, k2, p1, p2 := d[0], d[1], d[2], d[3]
	x2, y2 := x*x, y*y
	r2 := x2 + y2
	xy2 := 2 * x * y
	kr := 1 + (k2*r2+k1)*r2
	return x*kr + p1*xy2 + p2*(r2+2*x2), y*kr + p1*(r2+2*y2) + p2*xy2
}

func distortFisheye(x, y float64, d [4]float64) (float64, float64) {
	r := math.Sqrt(x*x + y*y)
	if r == 0 {
		return x, y
	}
	theta := math.Atan(r)
	t2 := theta * theta
	t4 := t2 * t2
	t6 := t4 * t2
	t8 := t4 * t4
	thetaD := theta * (1 + d[0]*t2 + d[1]*t4 + d[2]*t6 + d[3]*t8)
	scale := thetaD / r
	return x * scale, y * scale
}

// Apply resamples src into dst with bilinear interpolation. Samples that
// fall outside src read as zero. dst must already have the table's size and
// src's channel count.
func (t *RemapTable) Apply(src, dst *frame.Frame) {
	ch := src.Channels
	sw, sh := src.Width, src.Height
	sstride := src.Stride()
	sample := func(x, y, c int) float64 {
		if x < 0 || y < 0 || x >= sw || y >= sh {
			return 0
		}
		return float64(src.Pix[y*sstride+x*ch+c])
	}

	for i := range t.MapX {
		out := dst.Pix[i*ch : (i+1)*ch]
		x, y := float64(t.MapX[i]), float64(t.MapY[i])
		x0f, y0f := math.Floor(x), math.Floor(y)
		x0, y0 := int(x0f), int(y0f)
		if x0 < -1 || y0 < -1 || x0 >= sw || y0 >= sh {
			clear(out)
			continue
		}
		ax, ay := x-x0f, y-y0f
		w00 := (1 - ax) * (1 - ay)
		w10 := ax * (1 - ay)
		w01 := (1 - ax) * ay
		w11 := ax * ay
		for c := 0; c < ch; c++ {
			v := w00*sample(x0, y0, c) + w10*sample(x0+1, y0, c) +
				w01*sample(x0, y0+1, c) + w11*sample(x0+1, y0+1, c)
			out[c] = clampByte(v)
		}
	}
}

func clampByte(v float64) byte {
	switch {
	case v <= 0:
		return 0
	case v >= 255:
		return 255
	default:
		return byte(v + 0.5)
	}
}
