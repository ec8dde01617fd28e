// Package camera provides the video sources a capture session reads from:
// V4L2 devices through go4vl and image sequences on disk.
package camera

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"cv-capture/pkg/frame"
	"cv-capture/pkg/utils"
)

// Property ids understood by Set in addition to raw V4L2 control ids. The
// values match the common capture property numbering so existing
// property_<i>_code settings keep working.
const (
	PropFrameWidth  = 3
	PropFrameHeight = 4
	PropFPS         = 5
)

var (
	ErrNotOpened           = errors.New("device not opened")
	ErrEndOfStream         = errors.New("end of stream")
	ErrUnsupportedProperty = errors.New("property not supported")
)

var logger *zap.SugaredLogger

func init() {
	logger = utils.GetLogger().Named("camera")
}

// Device is a frame source owned by exactly one capture session.
type Device interface {
	// Open acquires the source named by selector.
	Open(selector string) error
	IsOpened() bool
	// Read blocks until the next frame is available and writes it into dst.
	Read(dst *frame.Frame) error
	// Set changes a device property.
	Set(property int, value float64) error
	// Close releases the source. Closing a closed device is a no-op.
	Close() error
}

// DevicePath turns a selector into a device node path: a bare index n
// becomes /dev/videoN, anything else is used as is.
func DevicePath(selector string) string {
	selector = strings.TrimSpace(selector)
	if n, err := strconv.Atoi(selector); err == nil && n >= 0 {
		return fmt.Sprintf("/dev/video%d", n)
	}
	return selector
}
