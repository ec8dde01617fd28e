package calib

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const cameraInfoYAML = `image_width: 640
image_height: 480
camera_name: front
camera_matrix:
  rows: 3
  cols: 3
  data: [400, 0, 320, 0, 410, 240, 0, 0, 1]
distortion_model: plumb_bob
distortion_coefficients:
  rows: 1
  cols: 5
  data: [-0.28, 0.07, 0.0002, 0.00002, 0]
rectification_matrix:
  rows: 3
  cols: 3
  data: [1, 0, 0, 0, 1, 0, 0, 0, 1]
projection_matrix:
  rows: 3
  cols: 4
  data: [400, 0, 320, 0, 0, 410, 240, 0, 0, 0, 1, 0]
`

func newManager() *Manager {
	return NewManager("front", zap.NewNop().Sugar())
}

func TestValidateURL(t *testing.T) {
	m := newManager()
	assert.True(t, m.ValidateURL("file:///etc/camera/front.yaml"))
	assert.True(t, m.ValidateURL("/etc/camera/${NAME}.yml"))
	assert.True(t, m.ValidateURL("calib.json"))
	assert.False(t, m.ValidateURL(""))
	assert.False(t, m.ValidateURL("package://camera/front.yaml"))
	assert.False(t, m.ValidateURL("file://"))
	assert.False(t, m.ValidateURL("/etc/camera/front.ini"))
}

func TestLoadCameraInfoYAML(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "front.yaml"), []byte(cameraInfoYAML), 0600))

	m := newManager()
	assert.False(t, m.IsCalibrated())

	rec, err := m.LoadCameraInfo("file://" + filepath.Join(dir, "${NAME}.yaml"))
	require.NoError(t, err)

	assert.True(t, m.IsCalibrated())
	assert.Equal(t, 640, rec.Width)
	assert.Equal(t, 480, rec.Height)
	assert.Equal(t, 400.0, rec.Fx())
	assert.Equal(t, 410.0, rec.Fy())
	assert.Equal(t, []float64{-0.28, 0.07, 0.0002, 0.00002, 0}, rec.D)
	assert.Equal(t, 240.0, rec.P[pCy])
	assert.Equal(t, rec.Intrinsics, m.CameraInfo().Intrinsics)
}

func TestCameraInfoReturnsCopy(t *testing.T) {
	m := newManager()
	m.SetCameraInfo(NewIntrinsics(10, 10, 1, 1, 5, 5))

	rec := m.CameraInfo()
	rec.D[0] = 42
	rec.K[0] = 7

	assert.Equal(t, 0.0, m.CameraInfo().D[0])
	assert.Equal(t, 1.0, m.CameraInfo().K[0])
}

func TestLoadCameraInfoKeepsPreviousOnError(t *testing.T) {
	dir := t.TempDir()
	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("camera_matrix: {rows: 3, cols: 3, data: [1, 2]}\n"), 0600))

	m := newManager()
	m.SetCameraInfo(NewIntrinsics(10, 10, 1, 1, 5, 5))

	_, err := m.LoadCameraInfo(bad)
	assert.Error(t, err)
	_, err = m.LoadCameraInfo(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
	_, err = m.LoadCameraInfo("http://example.com/front.yaml")
	assert.ErrorIs(t, err, ErrUnsupportedURL)

	assert.Equal(t, 10, m.CameraInfo().Width)
}

func TestLoadCameraInfoDerivesProjection(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "front.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
  "image_width": 320,
  "image_height": 240,
  "camera_matrix": {"rows": 3, "cols": 3, "data": [200, 0, 160, 0, 201, 120, 0, 0, 1]},
  "distortion_coefficients": {"rows": 1, "cols": 4, "data": [0.1, 0, 0, 0]}
}`), 0600))

	m := newManager()
	rec, err := m.LoadCameraInfo(path)
	require.NoError(t, err)

	assert.Equal(t, ModelPlumbBob, rec.DistortionModel)
	assert.Equal(t, [12]float64{200, 0, 160, 0, 0, 201, 120, 0, 0, 0, 1, 0}, rec.P)
	assert.Equal(t, identity3, rec.R)
}

func TestSaveCameraInfoRoundTrip(t *testing.T) {
	for _, ext := range []string{".yaml", ".json"} {
		t.Run(ext, func(t *testing.T) {
			dir := t.TempDir()
			url := "file://" + filepath.Join(dir, "out", "front"+ext)

			in := NewIntrinsics(640, 480, 400, 410, 320, 240)
			in.D = []float64{0.1, -0.05, 0, 0, 0.01}
			in.DistortionModel = ModelFisheye

			m := newManager()
			m.SetCameraInfo(in)
			require.NoError(t, m.SaveCameraInfo(url))

			other := newManager()
			rec, err := other.LoadCameraInfo(url)
			require.NoError(t, err)
			assert.Equal(t, in, rec.Intrinsics)
			assert.Equal(t, url, other.URL())
		})
	}
}
