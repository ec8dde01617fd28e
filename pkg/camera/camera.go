package camera

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image/jpeg"
	"maps"
	"math"
	"sync"
	"time"

	"github.com/vladimirvivien/go4vl/device"
	"github.com/vladimirvivien/go4vl/v4l2"

	"cv-capture/pkg/frame"
	"cv-capture/pkg/types"
)

const (
	DefaultDevice     = "/dev/video0"
	DefaultFPS        = 30
	DefaultBufferSize = 2
)

var (
	StartedErr = errors.New("already started")
)

// V4L2 is a Device backed by a video4linux node.
type V4L2 struct {
	ctx context.Context

	lock    sync.Mutex
	devName string
	cancel  context.CancelFunc
	camera  *device.Device
	frames  <-chan []byte

	// requested format; Width/Height 0 keeps the driver default
	want       v4l2.PixFormat
	fps        uint32
	bufferSize uint32
	// negotiated format of the running stream
	format v4l2.PixFormat

	settings types.CameraSettings
}

type Option func(*V4L2)

func WithPixFormat(pixelFormat v4l2.FourCCType, width, height int) Option {
	return func(c *V4L2) {
		c.want = v4l2.PixFormat{
			PixelFormat: pixelFormat,
			Width:       uint32(width),
			Height:      uint32(height),
			Field:       v4l2.FieldNone,
		}
	}
}

func WithFPS(fps int) Option {
	return func(c *V4L2) { c.fps = uint32(fps) }
}

func WithBufferSize(n int) Option {
	return func(c *V4L2) { c.bufferSize = uint32(n) }
}

func NewV4L2(ctx context.Context, opts ...Option) *V4L2 {
	c := &V4L2{
		ctx:        ctx,
		want:       v4l2.PixFormat{PixelFormat: v4l2.PixelFmtMJPEG, Field: v4l2.FieldNone},
		fps:        DefaultFPS,
		bufferSize: DefaultBufferSize,
		settings:   make(types.CameraSettings),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *V4L2) Open(selector string) error {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.devName = DevicePath(selector)
	logger.Infof("open %s", c.devName)

	return c.start()
}

func (c *V4L2) IsOpened() bool {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.camera != nil
}

func (c *V4L2) Close() error {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.stop()
}

func (c *V4L2) Read(dst *frame.Frame) error {
	c.lock.Lock()
	frames, format := c.frames, c.format
	c.lock.Unlock()
	if frames == nil {
		return ErrNotOpened
	}

	data, ok := <-frames
	if !ok {
		return ErrEndOfStream
	}
	return decode(data, format, dst)
}

// Set applies a property. Frame size changes restart the stream with the new
// format; every other id except PropFPS is written as a V4L2 control and
// remembered so it survives restarts.
func (c *V4L2) Set(property int, value float64) error {
	c.lock.Lock()
	defer c.lock.Unlock()

	switch property {
	case PropFrameWidth, PropFrameHeight:
		if value <= 0 {
			return fmt.Errorf("invalid frame size %v", value)
		}
		if property == PropFrameWidth {
			c.want.Width = uint32(value)
		} else {
			c.want.Height = uint32(value)
		}
		if c.camera == nil {
			return nil
		}
		if err := c.stop(); err != nil {
			return err
		}
		return c.start()
	case PropFPS:
		c.fps = uint32(value)
		if c.camera == nil {
			return nil
		}
		return c.camera.SetFrameRate(c.fps)
	default:
		key, v := v4l2.CtrlID(property), v4l2.CtrlValue(int32(math.Round(value)))
		c.settings[key] = v
		if c.camera == nil {
			return nil
		}
		return c.camera.SetControlValue(key, v)
	}
}

// Format returns the negotiated pixel format of the running stream.
func (c *V4L2) Format() v4l2.PixFormat {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.format
}

// Settings returns the controls that are re-applied after every restart.
func (c *V4L2) Settings() types.CameraSettings {
	c.lock.Lock()
	defer c.lock.Unlock()
	return maps.Clone(c.settings)
}

func (c *V4L2) start() error {
	if c.camera != nil {
		return StartedErr
	}
	opts := []device.Option{
		device.WithBufferSize(c.bufferSize),
		device.WithFPS(c.fps),
	}
	if c.want.Width > 0 && c.want.Height > 0 {
		opts = append(opts, device.WithPixFormat(c.want))
	}
	camera, err := device.Open(c.devName, opts...)
	if err != nil {
		return err
	}

	newCtx, cancel := context.WithCancel(c.ctx)
	if err = camera.Start(newCtx); err != nil {
		cancel()
		_ = camera.Close()
		return err
	}
	format, err := camera.GetPixFormat()
	if err != nil {
		cancel()
		_ = camera.Close()
		return err
	}

	c.camera, c.cancel = camera, cancel
	c.format = format
	c.frames = camera.GetOutput()
	logger.Infof("%s streaming %s %dx%d", c.devName, v4l2.PixelFormats[format.PixelFormat], format.Width, format.Height)

	c.applySettings()

	return nil
}

func (c *V4L2) stop() error {
	if c.cancel != nil {
		// cancel first so the stream goroutine reaches ctx.Done and stops the
		// device before Close runs
		c.cancel()
		time.Sleep(100 * time.Millisecond)
		c.cancel = nil
	}
	c.frames = nil
	if c.camera != nil {
		err := c.camera.Close()
		c.camera = nil
		return err
	}
	return nil
}

func (c *V4L2) applySettings() {
	if c.camera == nil {
		return
	}
	for k, v := range c.settings {
		if err := c.camera.SetControlValue(k, v); err != nil {
			logger.Warnf("set ctrl(%d) to %d, err: %s", k, v, err)
		}
	}
}

func decode(data []byte, format v4l2.PixFormat, dst *frame.Frame) error {
	w, h, bpl := int(format.Width), int(format.Height), int(format.BytesPerLine)
	switch format.PixelFormat {
	case v4l2.PixelFmtMJPEG, v4l2.PixelFmtJPEG:
		img, err := jpeg.Decode(bytes.NewReader(data))
		if err != nil {
			return fmt.Errorf("decode jpeg frame: %w", err)
		}
		dst.FromImage(img)
	case v4l2.PixelFmtRGB24:
		dst.FromRGB24(data, w, h, bpl)
	case v4l2.PixelFmtYUYV:
		dst.FromYUYV(data, w, h, bpl)
	default:
		return fmt.Errorf("unsupported pixel format %s", v4l2.PixelFormats[format.PixelFormat])
	}
	return nil
}
