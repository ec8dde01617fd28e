package undistort

import (
	"fmt"
	"math"

	"cv-capture/pkg/calib"
)

// ScaleFactors control the undistorted output. FOV above 1 keeps more of the
// original field of view by shrinking the focal length; Resolution scales
// the output pixel grid.
type ScaleFactors struct {
	FOV        float64
	Resolution float64
}

func DefaultScaleFactors() ScaleFactors {
	return ScaleFactors{FOV: 1, Resolution: 1}
}

func (s ScaleFactors) Validate() error {
	if !(s.FOV > 0) || math.IsInf(s.FOV, 0) {
		return fmt.Errorf("fov scale must be positive, got %v", s.FOV)
	}
	if !(s.Resolution > 0) || math.IsInf(s.Resolution, 0) {
		return fmt.Errorf("resolution scale must be positive, got %v", s.Resolution)
	}
	return nil
}

// TargetSize returns the undistorted output size for a width x height frame.
func (s ScaleFactors) TargetSize(width, height int) (int, int) {
	return scaleDim(width, s.Resolution), scaleDim(height, s.Resolution)
}

// Target derives the intrinsics of the undistorted output of a width x
// height frame from the calibrated intrinsics in.
func (s ScaleFactors) Target(in calib.Intrinsics, width, height int) calib.Intrinsics {
	out := in
	out.D = nil
	focal := s.Resolution / s.FOV
	out.Scale(focal, focal, s.Resolution, s.Resolution)
	out.Width, out.Height = s.TargetSize(width, height)
	return out
}

func scaleDim(n int, scale float64) int {
	v := int(math.Round(float64(n) * scale))
	if v < 1 && n > 0 {
		return 1
	}
	return v
}
