// Package param is the read-only key/value configuration used by the capture
// session. Lookups report whether a key was set so callers can tell "absent"
// from a zero value.
package param

import (
	"fmt"
	"strings"

	"github.com/spf13/cast"
	"github.com/spf13/viper"
)

// Source is a key/value lookup. Every accessor returns false when the key is
// not set or cannot be converted to the requested type.
type Source interface {
	Float(key string) (float64, bool)
	Int(key string) (int, bool)
	Bool(key string) (bool, bool)
	String(key string) (string, bool)
}

const (
	CaptureDelay               = "capture_delay"
	FlipImage                  = "flip_image"
	ImageFlipCode              = "image_flip_code"
	UndistortedOn              = "undistorted_on"
	UndistortedFOVScale        = "undistorted_fov_scale"
	UndistortedResolutionScale = "undistorted_resolution_scale"
	CameraInfoURL              = "camera_info_url"
	RescaleCameraInfo          = "rescale_camera_info"
)

// PropertyCode and PropertyValue name the i-th device property override.
func PropertyCode(i int) string  { return fmt.Sprintf("property_%d_code", i) }
func PropertyValue(i int) string { return fmt.Sprintf("property_%d_value", i) }

// Viper adapts a *viper.Viper, optionally scoped to a key prefix.
type Viper struct {
	v      *viper.Viper
	prefix string
}

func NewViper(v *viper.Viper, prefix string) *Viper {
	if prefix != "" && !strings.HasSuffix(prefix, ".") {
		prefix += "."
	}
	return &Viper{v: v, prefix: prefix}
}

// FromMap builds a source from literal values; handy for tests and tools.
func FromMap(values map[string]interface{}) *Viper {
	v := viper.New()
	for k, val := range values {
		v.Set(k, val)
	}
	return NewViper(v, "")
}

func (p *Viper) lookup(key string) (interface{}, bool) {
	key = p.prefix + key
	if !p.v.IsSet(key) {
		return nil, false
	}
	return p.v.Get(key), true
}

func (p *Viper) Float(key string) (float64, bool) {
	raw, ok := p.lookup(key)
	if !ok {
		return 0, false
	}
	f, err := cast.ToFloat64E(raw)
	return f, err == nil
}

func (p *Viper) Int(key string) (int, bool) {
	raw, ok := p.lookup(key)
	if !ok {
		return 0, false
	}
	i, err := cast.ToIntE(raw)
	return i, err == nil
}

func (p *Viper) Bool(key string) (bool, bool) {
	raw, ok := p.lookup(key)
	if !ok {
		return false, false
	}
	b, err := cast.ToBoolE(raw)
	return b, err == nil
}

func (p *Viper) String(key string) (string, bool) {
	raw, ok := p.lookup(key)
	if !ok {
		return "", false
	}
	s, err := cast.ToStringE(raw)
	return s, err == nil
}

// FloatOr, BoolOr and IntOr return def when key is absent.
func FloatOr(s Source, key string, def float64) float64 {
	if v, ok := s.Float(key); ok {
		return v
	}
	return def
}

func BoolOr(s Source, key string, def bool) bool {
	if v, ok := s.Bool(key); ok {
		return v
	}
	return def
}

func IntOr(s Source, key string, def int) int {
	if v, ok := s.Int(key); ok {
		return v
	}
	return def
}
