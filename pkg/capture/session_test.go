package capture

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"cv-capture/pkg/calib"
	"cv-capture/pkg/camera"
	"cv-capture/pkg/clock"
	"cv-capture/pkg/frame"
	"cv-capture/pkg/param"
	"cv-capture/pkg/publish"
)

type setCall struct {
	id    int
	value float64
}

type fakeDevice struct {
	openErr error
	opened  bool
	closed  int
	reject  map[int]bool
	sets    []setCall

	width, height, channels int
	fill                    byte
	pattern                 []byte
	readErr                 error
}

func (d *fakeDevice) Open(string) error {
	if d.openErr != nil {
		return d.openErr
	}
	d.opened = true
	return nil
}

func (d *fakeDevice) IsOpened() bool { return d.opened }

func (d *fakeDevice) Read(dst *frame.Frame) error {
	if !d.opened {
		return camera.ErrNotOpened
	}
	if d.readErr != nil {
		dst.Reset(1, 1, 1)
		dst.Pix[0] = 0xEE
		return d.readErr
	}
	dst.Reset(d.width, d.height, d.channels)
	for i := range dst.Pix {
		dst.Pix[i] = d.fill
	}
	copy(dst.Pix, d.pattern)
	return nil
}

func (d *fakeDevice) Set(id int, value float64) error {
	d.sets = append(d.sets, setCall{id, value})
	if d.reject[id] {
		return camera.ErrUnsupportedProperty
	}
	return nil
}

func (d *fakeDevice) Close() error {
	d.opened = false
	d.closed++
	return nil
}

type fakeStore struct {
	rec     calib.Record
	loadErr error
	loaded  []string
}

func (s *fakeStore) ValidateURL(url string) bool { return url != "" && url != "invalid" }

func (s *fakeStore) LoadCameraInfo(url string) (calib.Record, error) {
	s.loaded = append(s.loaded, url)
	return s.rec.Clone(), s.loadErr
}

func (s *fakeStore) CameraInfo() calib.Record { return s.rec.Clone() }

func (s *fakeStore) IsCalibrated() bool { return s.rec.Calibrated() }

type harness struct {
	session *Session
	dev     *fakeDevice
	store   *fakeStore
	bus     *publish.Bus
	logs    *observer.ObservedLogs
}

var epoch = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func newHarness(t *testing.T, params map[string]interface{}, rec calib.Record, width, height int) *harness {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)
	h := &harness{
		dev:   &fakeDevice{width: width, height: height, channels: 1, fill: 7, reject: map[int]bool{}},
		store: &fakeStore{rec: rec},
		bus:   publish.NewBus(),
		logs:  logs,
	}
	t.Cleanup(func() { _ = h.bus.Close() })
	s, err := NewSession(Config{Topic: "image_raw", FrameID: "cam0"}, param.FromMap(params), h.store, h.dev, h.bus,
		WithClock(clock.Fixed(epoch)), WithLogger(zap.New(core).Sugar()))
	require.NoError(t, err)
	h.session = s
	return h
}

func (h *harness) count(level zapcore.Level, snippet string) int {
	return h.logs.FilterLevelExact(level).FilterMessageSnippet(snippet).Len()
}

func calibrated(width, height int) calib.Record {
	return calib.Record{Intrinsics: calib.NewIntrinsics(width, height, 500, 500, float64(width)/2, float64(height)/2)}
}

func TestCaptureRescalesCalibration(t *testing.T) {
	h := newHarness(t, map[string]interface{}{
		param.RescaleCameraInfo: true,
		param.CameraInfoURL:     "file:///tmp/cam.yaml",
	}, calibrated(800, 600), 1600, 1200)
	require.NoError(t, h.session.Open("0"))
	assert.Equal(t, []string{"file:///tmp/cam.yaml"}, h.store.loaded)

	for i := 0; i < 3; i++ {
		require.True(t, h.session.CaptureOnce())
	}

	info := h.session.CameraInfo()
	assert.Equal(t, 1600, info.Width)
	assert.Equal(t, 1200, info.Height)
	assert.InDelta(t, 1000, info.K[0], 1e-9)
	assert.InDelta(t, 800, info.K[2], 1e-9)
	assert.InDelta(t, 1000, info.K[4], 1e-9)
	assert.InDelta(t, 600, info.K[5], 1e-9)
	assert.InDelta(t, 1000, info.P[0], 1e-9)
	assert.InDelta(t, 600, info.P[6], 1e-9)
	assert.Equal(t, 1, h.count(zapcore.InfoLevel, "automatically rescaled from 800x600 to 1600x1200"))
	assert.Zero(t, h.count(zapcore.WarnLevel, "aspect ratio"))

	// the store itself is never modified
	assert.Equal(t, 800, h.store.rec.Width)
}

func TestCaptureWarnsOnceOnMismatch(t *testing.T) {
	h := newHarness(t, nil, calibrated(800, 600), 640, 480)
	require.NoError(t, h.session.Open("0"))

	for i := 0; i < 5; i++ {
		require.True(t, h.session.CaptureOnce())
	}

	info := h.session.CameraInfo()
	assert.Equal(t, 800, info.Width)
	assert.Equal(t, 600, info.Height)
	assert.Equal(t, 500.0, info.K[0])
	assert.Equal(t, 1, h.count(zapcore.WarnLevel, "does not match camera resolution"))
}

func TestCaptureWarnsOnAspectChange(t *testing.T) {
	h := newHarness(t, map[string]interface{}{param.RescaleCameraInfo: true}, calibrated(800, 600), 640, 360)
	require.NoError(t, h.session.Open("0"))
	require.True(t, h.session.CaptureOnce())
	require.True(t, h.session.CaptureOnce())
	assert.Equal(t, 1, h.count(zapcore.WarnLevel, "different aspect ratio"))
}

func TestCaptureAdoptsFrameSize(t *testing.T) {
	h := newHarness(t, nil, calib.Record{}, 320, 240)
	require.NoError(t, h.session.Open("0"))
	require.True(t, h.session.CaptureOnce())

	info := h.session.CameraInfo()
	assert.Equal(t, 320, info.Width)
	assert.Equal(t, 240, info.Height)
	assert.Zero(t, h.logs.FilterLevelExact(zapcore.WarnLevel).Len())
}

func TestCaptureUndistortsAtHalfResolution(t *testing.T) {
	rec := calibrated(640, 480)
	rec.D = []float64{-0.2, 0.05, 0.001, 0.001, 0}
	h := newHarness(t, map[string]interface{}{
		param.UndistortedOn:              true,
		param.UndistortedResolutionScale: 0.5,
	}, rec, 640, 480)
	require.NoError(t, h.session.Open("0"))

	for i := 0; i < 3; i++ {
		require.True(t, h.session.CaptureOnce())
	}

	f := h.session.Frame()
	assert.Equal(t, 320, f.Width)
	assert.Equal(t, 240, f.Height)
	info := h.session.CameraInfo()
	assert.Equal(t, 320, info.Width)
	assert.Equal(t, 240, info.Height)
	assert.Equal(t, []float64{0, 0, 0, 0, 0}, info.D)
	assert.Equal(t, calib.ModelNone, info.DistortionModel)
	assert.InDelta(t, 250, info.K[0], 1e-9)
	assert.InDelta(t, 160, info.K[2], 1e-9)
	assert.Equal(t, 1, h.session.Engine().Builds())
}

func TestCaptureSkipsUndistortWhenUncalibrated(t *testing.T) {
	h := newHarness(t, map[string]interface{}{param.UndistortedOn: true}, calib.Record{}, 64, 48)
	require.NoError(t, h.session.Open("0"))
	require.True(t, h.session.CaptureOnce())
	assert.Equal(t, 64, h.session.Frame().Width)
	assert.Zero(t, h.session.Engine().Builds())
}

func TestCaptureWarnsOnShortDistortion(t *testing.T) {
	rec := calibrated(64, 48)
	rec.D = []float64{0.1}
	h := newHarness(t, map[string]interface{}{param.UndistortedOn: true}, rec, 64, 48)
	require.NoError(t, h.session.Open("0"))
	require.True(t, h.session.CaptureOnce())
	require.True(t, h.session.CaptureOnce())
	assert.Equal(t, 1, h.count(zapcore.WarnLevel, "distortion vector has 1 coefficients"))
}

func TestCaptureReadFailureKeepsState(t *testing.T) {
	h := newHarness(t, nil, calibrated(32, 24), 32, 24)
	require.NoError(t, h.session.Open("0"))
	require.True(t, h.session.CaptureOnce())

	before := h.session.Frame()
	pix := append([]byte(nil), before.Pix...)
	info := h.session.CameraInfo()

	h.dev.readErr = errors.New("timeout")
	assert.False(t, h.session.CaptureOnce())
	assert.EqualError(t, h.session.ReadErr(), "timeout")
	assert.Same(t, before, h.session.Frame())
	assert.Equal(t, pix, h.session.Frame().Pix)
	assert.Equal(t, uint64(1), h.session.Frame().Seq)
	assert.Equal(t, info, h.session.CameraInfo())
	assert.Equal(t, StateCaptured, h.session.State())
}

func TestCaptureStampsFrame(t *testing.T) {
	h := newHarness(t, map[string]interface{}{param.CaptureDelay: 0.25}, calib.Record{}, 4, 2)
	require.NoError(t, h.session.Open("0"))
	require.True(t, h.session.CaptureOnce())

	f := h.session.Frame()
	want := epoch.Add(-250 * time.Millisecond)
	assert.Equal(t, want, f.Stamp)
	assert.Equal(t, "cam0", f.FrameID)
	assert.Equal(t, frame.Mono8, f.Encoding)
	assert.Equal(t, want, h.session.CameraInfo().Stamp)
	assert.Equal(t, "cam0", h.session.CameraInfo().FrameID)
}

func TestCaptureFlips(t *testing.T) {
	h := newHarness(t, map[string]interface{}{param.FlipImage: true, param.ImageFlipCode: 1}, calib.Record{}, 3, 1)
	h.dev.pattern = []byte{1, 2, 3}
	require.NoError(t, h.session.Open("0"))
	require.True(t, h.session.CaptureOnce())
	assert.Equal(t, []byte{3, 2, 1}, h.session.Frame().Pix)
}

func TestOpenFailure(t *testing.T) {
	h := newHarness(t, nil, calib.Record{}, 4, 4)
	h.dev.openErr = errors.New("no such device")

	err := h.session.Open("3")
	var openErr *DeviceOpenError
	require.ErrorAs(t, err, &openErr)
	assert.Equal(t, "3", openErr.Selector)
	assert.EqualError(t, errors.Unwrap(err), "no such device")
	assert.Equal(t, 1, h.dev.closed)
	assert.Equal(t, StateClosed, h.session.State())
	assert.False(t, h.session.CaptureOnce())
}

func TestOpenAppliesPropertyOverrides(t *testing.T) {
	h := newHarness(t, map[string]interface{}{
		param.PropertyCode(0):  camera.PropFrameWidth,
		param.PropertyValue(0): 640,
		param.PropertyCode(1):  0x00980900,
		param.PropertyValue(1): 12.5,
		param.PropertyCode(3):  camera.PropFPS,
		param.PropertyValue(3): 30,
	}, calib.Record{}, 4, 4)
	h.dev.reject[0x00980900] = true

	require.NoError(t, h.session.Open("0"))
	assert.Equal(t, []setCall{{camera.PropFrameWidth, 640}, {0x00980900, 12.5}}, h.dev.sets)
	assert.Equal(t, 1, h.count(zapcore.ErrorLevel, "failed"))
}

func TestOpenFileSkipsPropertyOverrides(t *testing.T) {
	h := newHarness(t, map[string]interface{}{
		param.PropertyCode(0):  camera.PropFrameWidth,
		param.PropertyValue(0): 640,
	}, calib.Record{}, 4, 4)
	require.NoError(t, h.session.OpenFile("/tmp/frames"))
	assert.Empty(t, h.dev.sets)
	assert.Equal(t, StateOpen, h.session.State())
}

func TestOpenCalibrationLoading(t *testing.T) {
	h := newHarness(t, map[string]interface{}{param.CameraInfoURL: "invalid"}, calib.Record{}, 4, 4)
	require.NoError(t, h.session.Open("0"))
	assert.Empty(t, h.store.loaded)
	assert.Zero(t, h.logs.FilterLevelExact(zapcore.WarnLevel).Len())

	h = newHarness(t, map[string]interface{}{param.CameraInfoURL: "file:///missing.yaml"}, calib.Record{}, 4, 4)
	h.store.loadErr = errors.New("not found")
	require.NoError(t, h.session.Open("0"))
	assert.Equal(t, 1, h.count(zapcore.WarnLevel, "failed to load camera info"))
}

func TestSetPropertyFromParam(t *testing.T) {
	h := newHarness(t, map[string]interface{}{"exposure": 100, "gain": 3}, calib.Record{}, 4, 4)
	h.dev.reject[2] = true

	assert.True(t, h.session.SetPropertyFromParam(1, "exposure"), "device closed")
	assert.Empty(t, h.dev.sets)

	require.NoError(t, h.session.Open("0"))
	assert.True(t, h.session.SetPropertyFromParam(1, "missing"))
	assert.True(t, h.session.SetPropertyFromParam(1, "exposure"))
	assert.False(t, h.session.SetPropertyFromParam(2, "gain"))
	assert.Equal(t, []setCall{{1, 100}, {2, 3}}, h.dev.sets)
}

func TestPublishSendsLastPair(t *testing.T) {
	h := newHarness(t, nil, calibrated(4, 4), 4, 4)
	require.NoError(t, h.session.Open("0"))
	sub, err := h.bus.Subscribe("image_raw", "test")
	require.NoError(t, err)

	assert.False(t, h.session.Publish(), "nothing captured yet")
	require.True(t, h.session.CaptureOnce())
	assert.True(t, h.session.Publish())
	assert.False(t, h.session.Publish(), "pair already sent")

	p := <-sub
	assert.Equal(t, 4, p.Frame.Width)
	assert.Equal(t, 4, p.Info.Width)
	assert.NotSame(t, h.session.Frame(), p.Frame)
}

func TestClose(t *testing.T) {
	h := newHarness(t, nil, calib.Record{}, 4, 4)
	require.NoError(t, h.session.Open("0"))
	require.NoError(t, h.session.Close())
	assert.Equal(t, StateClosed, h.session.State())
	assert.False(t, h.session.CaptureOnce())
}

func TestNewSessionRejectsBadScales(t *testing.T) {
	_, err := NewSession(Config{}, param.FromMap(map[string]interface{}{param.UndistortedFOVScale: 0}),
		&fakeStore{}, &fakeDevice{}, publish.NewBus())
	assert.Error(t, err)
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig(param.FromMap(nil), Config{})
	require.NoError(t, err)
	assert.Equal(t, "image_raw", cfg.Topic)
	assert.Equal(t, 1, cfg.BufferSize)
	assert.Equal(t, "camera", cfg.FrameID)
	assert.False(t, cfg.Flip)
	assert.Equal(t, 1.0, cfg.Scales.Resolution)
}
