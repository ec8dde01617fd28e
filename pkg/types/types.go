package types

import (
	"time"

	"github.com/vladimirvivien/go4vl/v4l2"
)

// CameraSettings are V4L2 control values keyed by control id.
type CameraSettings map[v4l2.CtrlID]v4l2.CtrlValue

type File struct {
	Name    string    `json:"name"`
	Size    string    `json:"size"`
	ModTime time.Time `json:"modTime"`
}
