// Package calib holds camera calibration records, the store they are loaded
// from and the logic that keeps them consistent with the captured resolution.
package calib

import (
	"strings"
	"time"
)

// Index positions inside the row-major K (3x3) and P (3x4) matrices.
const (
	kFx = 0
	kCx = 2
	kFy = 4
	kCy = 5

	pFx = 0
	pCx = 2
	pFy = 5
	pCy = 6
)

const (
	ModelPlumbBob = "plumb_bob"
	ModelFisheye  = "fisheye"
	ModelNone     = "none"
)

// Intrinsics describes the pinhole projection of one camera at one
// resolution. K and P entries for the horizontal axis are only meaningful
// together with Width, the vertical ones with Height.
type Intrinsics struct {
	Width           int         `json:"width"`
	Height          int         `json:"height"`
	DistortionModel string      `json:"distortion_model"`
	D               []float64   `json:"D"`
	K               [9]float64  `json:"K"`
	R               [9]float64  `json:"R"`
	P               [12]float64 `json:"P"`
}

// Record is the calibration published together with a frame.
type Record struct {
	Intrinsics
	Stamp   time.Time `json:"stamp"`
	FrameID string    `json:"frame_id"`
}

var identity3 = [9]float64{1, 0, 0, 0, 1, 0, 0, 0, 1}

// NewIntrinsics returns an intrinsics block for an ideal pinhole camera.
func NewIntrinsics(width, height int, fx, fy, cx, cy float64) Intrinsics {
	return Intrinsics{
		Width:           width,
		Height:          height,
		DistortionModel: ModelPlumbBob,
		D:               make([]float64, 5),
		K:               [9]float64{fx, 0, cx, 0, fy, cy, 0, 0, 1},
		R:               identity3,
		P:               [12]float64{fx, 0, cx, 0, 0, fy, cy, 0, 0, 0, 1, 0},
	}
}

func (in Intrinsics) Fx() float64 { return in.K[kFx] }
func (in Intrinsics) Fy() float64 { return in.K[kFy] }
func (in Intrinsics) Cx() float64 { return in.K[kCx] }
func (in Intrinsics) Cy() float64 { return in.K[kCy] }

// Calibrated reports whether the intrinsics carry a real focal length.
func (in Intrinsics) Calibrated() bool {
	return in.K[kFx] != 0
}

// Model returns the case-folded distortion model tag.
func (in Intrinsics) Model() string {
	return strings.ToLower(strings.TrimSpace(in.DistortionModel))
}

// Scale multiplies the focal lengths by (fxCoeff, fyCoeff) and the
// principal point by (cxCoeff, cyCoeff) in both K and P.
func (in *Intrinsics) Scale(fxCoeff, fyCoeff, cxCoeff, cyCoeff float64) {
	in.K[kFx] *= fxCoeff
	in.K[kCx] *= cxCoeff
	in.K[kFy] *= fyCoeff
	in.K[kCy] *= cyCoeff

	in.P[pFx] *= fxCoeff
	in.P[pCx] *= cxCoeff
	in.P[pFy] *= fyCoeff
	in.P[pCy] *= cyCoeff
}

// Resize rescales the intrinsics for a uniform, crop-free resize by
// (widthCoeff, heightCoeff). Width and Height are not touched.
func (in *Intrinsics) Resize(widthCoeff, heightCoeff float64) {
	in.Scale(widthCoeff, heightCoeff, widthCoeff, heightCoeff)
}

// Distortion4 returns the first four distortion coefficients, zero padded
// when fewer are stored.
func (in Intrinsics) Distortion4() [4]float64 {
	var d [4]float64
	copy(d[:], in.D)
	return d
}

func (r Record) Clone() Record {
	r.Intrinsics = cloneIntrinsics(r.Intrinsics)
	return r
}
