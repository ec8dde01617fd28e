// Package undistort removes lens distortion from captured frames using a
// cached per-pixel remap table.
package undistort

import (
	"go.uber.org/zap"

	"cv-capture/pkg/calib"
	"cv-capture/pkg/frame"
)

// cacheKey holds everything a RemapTable depends on. Two equal keys always
// produce the same table.
type cacheKey struct {
	k      [9]float64
	d      [4]float64
	target [9]float64
	width  int
	height int
	model  string
}

// Engine undistorts the frames of a single capture session. It is not safe
// for concurrent use.
type Engine struct {
	logger *zap.SugaredLogger

	key    cacheKey
	table  *RemapTable
	work   *frame.Frame
	builds int
}

func NewEngine(logger *zap.SugaredLogger) *Engine {
	return &Engine{logger: logger, work: &frame.Frame{}}
}

// Apply undistorts src according to rec and returns the corrected frame
// together with the calibration that describes it. The returned frame is the
// engine's working buffer and is overwritten by the next call.
func (e *Engine) Apply(src *frame.Frame, rec calib.Record, s ScaleFactors) (*frame.Frame, calib.Record, error) {
	model := rec.Model()
	target := s.Target(rec.Intrinsics, src.Width, src.Height)
	key := cacheKey{
		k:      rec.K,
		d:      rec.Distortion4(),
		target: target.K,
		width:  target.Width,
		height: target.Height,
		model:  model,
	}

	if e.table == nil || key != e.key {
		table, err := BuildRemapTable(rec.Intrinsics, target, model)
		if err != nil {
			return nil, rec, err
		}
		e.table, e.key = table, key
		e.builds++
		resize(src, e.work, target.Width, target.Height)
		e.logger.Debugf("built %s remap table %dx%d (build %d)", model, target.Width, target.Height, e.builds)
	}
	if e.work.Width != target.Width || e.work.Height != target.Height || e.work.Channels != src.Channels {
		e.work.Reset(target.Width, target.Height, src.Channels)
	}

	e.table.Apply(src, e.work)
	e.work.Stamp, e.work.FrameID, e.work.Seq = src.Stamp, src.FrameID, src.Seq
	e.work.Encoding = src.Encoding

	out := rec
	out.Intrinsics = target
	out.D = make([]float64, 5)
	out.DistortionModel = calib.ModelNone

	return e.work, out, nil
}

// Builds returns how many remap tables were computed so far.
func (e *Engine) Builds() int {
	return e.builds
}

// Invalidate drops the cached table; the next Apply rebuilds it.
func (e *Engine) Invalidate() {
	e.table = nil
}
