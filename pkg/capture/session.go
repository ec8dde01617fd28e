// Package capture runs the per-frame pipeline of one camera: read, flip,
// calibration reconcile, optional undistortion and paired publish.
package capture

import (
	"fmt"

	"go.uber.org/zap"

	"cv-capture/pkg/calib"
	"cv-capture/pkg/camera"
	"cv-capture/pkg/clock"
	"cv-capture/pkg/frame"
	"cv-capture/pkg/param"
	"cv-capture/pkg/publish"
	"cv-capture/pkg/undistort"
	"cv-capture/pkg/utils"
)

// CalibrationStore is where the session gets its calibration from.
type CalibrationStore interface {
	ValidateURL(url string) bool
	LoadCameraInfo(url string) (calib.Record, error)
	// CameraInfo returns a copy the caller may modify.
	CameraInfo() calib.Record
	IsCalibrated() bool
}

type State int

const (
	StateClosed State = iota
	StateOpen
	StateCaptured
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateCaptured:
		return "captured"
	default:
		return "closed"
	}
}

// DeviceOpenError is returned when the video source cannot be acquired.
type DeviceOpenError struct {
	Selector string
	Err      error
}

func (e *DeviceOpenError) Error() string {
	return fmt.Sprintf("device %s cannot be opened: %v", e.Selector, e.Err)
}

func (e *DeviceOpenError) Unwrap() error { return e.Err }

// Warn-once keys.
const (
	onceMismatch = "calibration-size-mismatch"
	onceRescaled = "calibration-rescaled"
	onceAspect   = "calibration-aspect-changed"
	onceShortD   = "calibration-short-distortion"
	onceUndist   = "undistort-failed"
)

// Session owns one device. All methods must be called from the same
// goroutine.
type Session struct {
	cfg    Config
	params param.Source
	store  CalibrationStore
	dev    camera.Device
	adv    publish.Advertiser
	clock  clock.Clock
	logger *zap.SugaredLogger
	once   *utils.OnceLogger
	engine *undistort.Engine

	pub     publish.Channel
	state   State
	rescale bool

	// raw and next are swapped after every successful read so a failed read
	// never touches the frame that is waiting to be published.
	raw  *frame.Frame
	next *frame.Frame
	out  *frame.Frame
	info calib.Record
	seq  uint64

	readErr error
}

type Option func(*Session)

func WithClock(c clock.Clock) Option {
	return func(s *Session) { s.clock = c }
}

func WithLogger(l *zap.SugaredLogger) Option {
	return func(s *Session) { s.logger = l }
}

// NewSession reads the capture parameters and prepares a closed session.
func NewSession(base Config, params param.Source, store CalibrationStore, dev camera.Device, adv publish.Advertiser, opts ...Option) (*Session, error) {
	cfg, err := LoadConfig(params, base)
	if err != nil {
		return nil, err
	}
	s := &Session{
		cfg:    cfg,
		params: params,
		store:  store,
		dev:    dev,
		adv:    adv,
		clock:  clock.System{},
		logger: utils.GetLogger().Named("capture"),
		raw:    &frame.Frame{},
		next:   &frame.Frame{},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.once = utils.NewOnceLogger(s.logger)
	s.engine = undistort.NewEngine(s.logger)
	return s, nil
}

func (s *Session) Config() Config { return s.cfg }

func (s *Session) State() State { return s.state }

// Engine exposes the undistortion engine, mostly for its build counter.
func (s *Session) Engine() *undistort.Engine { return s.engine }

// Open acquires a live device and applies the property_<i> overrides.
func (s *Session) Open(selector string) error {
	if err := s.open(selector); err != nil {
		return err
	}
	s.applyPropertyOverrides()
	return nil
}

// OpenFile acquires a file or image-sequence source. Property overrides do
// not apply to files.
func (s *Session) OpenFile(path string) error {
	return s.open(path)
}

func (s *Session) open(selector string) error {
	if err := s.dev.Open(selector); err != nil || !s.dev.IsOpened() {
		_ = s.dev.Close()
		if err == nil {
			err = camera.ErrNotOpened
		}
		return &DeviceOpenError{Selector: selector, Err: err}
	}

	if s.pub == nil {
		pub, err := s.adv.Advertise(s.cfg.Topic, s.cfg.BufferSize)
		if err != nil {
			_ = s.dev.Close()
			return fmt.Errorf("advertise %s: %w", s.cfg.Topic, err)
		}
		s.pub = pub
	}

	s.loadCalibration()
	s.rescale = param.BoolOr(s.params, param.RescaleCameraInfo, false)
	s.state = StateOpen
	s.logger.Infof("opened %s, publishing on %s", selector, s.cfg.Topic)
	return nil
}

func (s *Session) loadCalibration() {
	url, ok := s.params.String(param.CameraInfoURL)
	if !ok || !s.store.ValidateURL(url) {
		return
	}
	if _, err := s.store.LoadCameraInfo(url); err != nil {
		s.logger.Warnf("failed to load camera info from %s: %s", url, err)
	}
}

func (s *Session) applyPropertyOverrides() {
	for i := 0; ; i++ {
		code, ok := s.params.Int(param.PropertyCode(i))
		if !ok {
			return
		}
		value, ok := s.params.Float(param.PropertyValue(i))
		if !ok {
			return
		}
		if err := s.dev.Set(code, value); err != nil {
			s.logger.Errorf("setting with code %d and value %v failed: %s", code, value, err)
		}
	}
}

// SetPropertyFromParam forwards the parameter name to the device as property
// id. It reports false only when the device rejected the value.
func (s *Session) SetPropertyFromParam(id int, name string) bool {
	if !s.dev.IsOpened() {
		return true
	}
	value, ok := s.params.Float(name)
	if !ok {
		return true
	}
	s.logger.Infof("setting property %s = %v", name, value)
	if err := s.dev.Set(id, value); err != nil {
		s.logger.Errorf("setting property %s failed: %s", name, err)
		return false
	}
	return true
}

// CaptureOnce reads one frame and prepares the (frame, calibration) pair for
// Publish. It returns false, leaving the previous pair untouched, when the
// device delivered nothing.
func (s *Session) CaptureOnce() bool {
	if s.state == StateClosed {
		return false
	}
	if err := s.dev.Read(s.next); err != nil {
		s.readErr = err
		s.logger.Debugf("read failed: %s", err)
		return false
	}
	s.readErr = nil
	if s.next.Empty() {
		return false
	}
	s.raw, s.next = s.next, s.raw

	stamp := s.clock.Now().Add(-s.cfg.CaptureDelay)
	s.seq++
	f := s.raw
	f.Encoding = frame.EncodingFor(f.Channels)
	f.Stamp, f.FrameID, f.Seq = stamp, s.cfg.FrameID, s.seq

	if s.cfg.Flip {
		f.Flip(s.cfg.FlipCode)
	}

	info := s.store.CameraInfo()
	s.reconcile(&info, f.Width, f.Height)
	info.Stamp, info.FrameID = stamp, s.cfg.FrameID

	s.out, s.info = f, info
	if s.cfg.Undistort && s.store.IsCalibrated() {
		s.undistort(f, info)
	}
	s.state = StateCaptured
	return true
}

func (s *Session) reconcile(info *calib.Record, width, height int) {
	res := calib.Reconcile(info, width, height, s.rescale)
	switch res.Outcome {
	case calib.Mismatch:
		s.once.Warnf(onceMismatch, "Calibration resolution %dx%d does not match camera resolution %dx%d. "+
			"Use rescale_camera_info param for rescaling", res.OldWidth, res.OldHeight, width, height)
	case calib.Rescaled:
		s.once.Infof(onceRescaled, "Camera calibration automatically rescaled from %dx%d to %dx%d",
			res.OldWidth, res.OldHeight, width, height)
		if res.AspectChanged {
			s.once.Warnf(onceAspect, "Calibration %dx%d rescaled to %dx%d with a different aspect ratio; "+
				"the result is wrong if the image is cropped or letterboxed",
				res.OldWidth, res.OldHeight, width, height)
		}
	}
}

func (s *Session) undistort(f *frame.Frame, info calib.Record) {
	if len(info.D) < 4 {
		s.once.Warnf(onceShortD, "distortion vector has %d coefficients, missing ones are treated as zero", len(info.D))
	}
	out, outInfo, err := s.engine.Apply(f, info, s.cfg.Scales)
	if err != nil {
		s.once.Warnf(onceUndist, "undistortion disabled for this calibration: %s", err)
		return
	}
	s.out, s.info = out, outInfo
}

// ReadErr is the error of the last device read, nil after a good one.
func (s *Session) ReadErr() error { return s.readErr }

// Frame returns the last captured frame. It is overwritten by later cycles.
func (s *Session) Frame() *frame.Frame { return s.out }

// CameraInfo returns the calibration paired with Frame.
func (s *Session) CameraInfo() calib.Record { return s.info }

// Publish sends the last captured pair. It reports false when there is
// nothing new to send.
func (s *Session) Publish() bool {
	if s.state != StateCaptured || s.pub == nil {
		return false
	}
	s.pub.Publish(s.out, s.info)
	s.state = StateOpen
	return true
}

// Close releases the device.
func (s *Session) Close() error {
	s.state = StateClosed
	return s.dev.Close()
}
