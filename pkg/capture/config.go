package capture

import (
	"fmt"
	"time"

	"cv-capture/pkg/param"
	"cv-capture/pkg/undistort"
)

// Config is the part of the session behaviour driven by parameters. It is
// read once when the session is created.
type Config struct {
	Topic      string
	BufferSize int
	FrameID    string

	CaptureDelay time.Duration
	Flip         bool
	FlipCode     int
	Undistort    bool
	Scales       undistort.ScaleFactors
}

// LoadConfig reads the capture parameters from p on top of base. Topic,
// BufferSize and FrameID come from base unchanged.
func LoadConfig(p param.Source, base Config) (Config, error) {
	cfg := base
	if cfg.Topic == "" {
		cfg.Topic = "image_raw"
	}
	if cfg.BufferSize < 1 {
		cfg.BufferSize = 1
	}
	if cfg.FrameID == "" {
		cfg.FrameID = "camera"
	}

	delay := param.FloatOr(p, param.CaptureDelay, 0)
	cfg.CaptureDelay = time.Duration(delay * float64(time.Second))
	cfg.Flip = param.BoolOr(p, param.FlipImage, false)
	cfg.FlipCode = param.IntOr(p, param.ImageFlipCode, 1)
	cfg.Undistort = param.BoolOr(p, param.UndistortedOn, false)

	def := undistort.DefaultScaleFactors()
	cfg.Scales = undistort.ScaleFactors{
		FOV:        param.FloatOr(p, param.UndistortedFOVScale, def.FOV),
		Resolution: param.FloatOr(p, param.UndistortedResolutionScale, def.Resolution),
	}
	if err := cfg.Scales.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid undistort parameters: %w", err)
	}
	return cfg, nil
}
