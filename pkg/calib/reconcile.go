package calib

import "math"

// Outcome tells the caller what Reconcile did so it can decide what, if
// anything, to log.
type Outcome int

const (
	Unchanged Outcome = iota
	// Adopted means the record had no size and took the frame size as is.
	Adopted
	// Mismatch means the sizes differ and rescaling is disabled.
	Mismatch
	Rescaled
)

func (o Outcome) String() string {
	switch o {
	case Adopted:
		return "adopted"
	case Mismatch:
		return "mismatch"
	case Rescaled:
		return "rescaled"
	default:
		return "unchanged"
	}
}

// aspectTolerance bounds how far the width and height coefficients may
// drift apart before a rescale is reported as non-uniform.
const aspectTolerance = 1e-3

// Reconciliation is the result of aligning a record with a frame size.
type Reconciliation struct {
	Outcome
	OldWidth, OldHeight int
	// AspectChanged is set for rescales whose horizontal and vertical
	// coefficients differ, i.e. the frame was most likely cropped or
	// letterboxed. The linear rescale is still applied but cannot be trusted.
	AspectChanged bool
}

// Reconcile aligns rec with a frame of width x height, modifying rec in
// place. A record with a zero dimension has nothing to scale from and simply
// adopts the frame size.
func Reconcile(rec *Record, width, height int, rescale bool) Reconciliation {
	res := Reconciliation{OldWidth: rec.Width, OldHeight: rec.Height}
	switch {
	case rec.Width == 0 || rec.Height == 0:
		rec.Width, rec.Height = width, height
		res.Outcome = Adopted
	case rec.Width == width && rec.Height == height:
		res.Outcome = Unchanged
	case !rescale:
		res.Outcome = Mismatch
	default:
		widthCoeff := float64(width) / float64(rec.Width)
		heightCoeff := float64(height) / float64(rec.Height)
		rec.Resize(widthCoeff, heightCoeff)
		rec.Width, rec.Height = width, height
		res.Outcome = Rescaled
		res.AspectChanged = math.Abs(widthCoeff-heightCoeff) > aspectTolerance*math.Max(widthCoeff, heightCoeff)
	}
	return res
}
