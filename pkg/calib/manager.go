package calib

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"
)

var (
	ErrUnsupportedURL = errors.New("unsupported camera info url")
)

const nameVar = "${NAME}"

// Manager is the calibration store of one camera. It is shared between the
// capture loop and the HTTP API, so every access goes through mu.
type Manager struct {
	cameraName string
	logger     *zap.SugaredLogger

	mu   sync.RWMutex
	url  string
	info Intrinsics
}

func NewManager(cameraName string, logger *zap.SugaredLogger) *Manager {
	return &Manager{cameraName: cameraName, logger: logger}
}

// ValidateURL reports whether url names a calibration file this manager can
// read: a plain path or a file:// url ending in .yaml, .yml or .json.
func (m *Manager) ValidateURL(url string) bool {
	_, _, err := m.resolve(url)
	return err == nil
}

// LoadCameraInfo replaces the stored calibration with the content of url.
// On error the previous calibration is kept.
func (m *Manager) LoadCameraInfo(url string) (Record, error) {
	path, f, err := m.resolve(url)
	if err != nil {
		return Record{}, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Record{}, fmt.Errorf("read camera info: %w", err)
	}
	in, name, err := decodeCameraInfo(data, f)
	if err != nil {
		return Record{}, fmt.Errorf("%s: %w", path, err)
	}
	if name != "" && m.cameraName != "" && name != m.cameraName {
		m.logger.Warnf("camera name %q in %s does not match %q", name, path, m.cameraName)
	}

	m.mu.Lock()
	m.url = url
	m.info = in
	m.mu.Unlock()
	m.logger.Infof("loaded camera info from %s (%dx%d, model %s)", path, in.Width, in.Height, in.DistortionModel)

	return Record{Intrinsics: cloneIntrinsics(in)}, nil
}

// CameraInfo returns a copy of the stored calibration.
func (m *Manager) CameraInfo() Record {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Record{Intrinsics: cloneIntrinsics(m.info)}
}

func (m *Manager) IsCalibrated() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.info.Calibrated()
}

// SetCameraInfo replaces the stored calibration in memory.
func (m *Manager) SetCameraInfo(in Intrinsics) {
	m.mu.Lock()
	m.info = cloneIntrinsics(in)
	m.mu.Unlock()
}

// SaveCameraInfo writes the stored calibration to url, or to the url it was
// loaded from when url is empty.
func (m *Manager) SaveCameraInfo(url string) error {
	m.mu.RLock()
	if url == "" {
		url = m.url
	}
	in := cloneIntrinsics(m.info)
	m.mu.RUnlock()

	path, f, err := m.resolve(url)
	if err != nil {
		return err
	}
	data, err := encodeCameraInfo(in, m.cameraName, f)
	if err != nil {
		return err
	}
	if err = os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return err
	}

	return os.WriteFile(path, data, 0660)
}

func (m *Manager) URL() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.url
}

func (m *Manager) resolve(url string) (string, format, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		return "", 0, fmt.Errorf("%w: empty", ErrUnsupportedURL)
	}
	url = strings.ReplaceAll(url, nameVar, m.cameraName)

	path := url
	if i := strings.Index(url, "://"); i >= 0 {
		if !strings.EqualFold(url[:i], "file") {
			return "", 0, fmt.Errorf("%w: %s", ErrUnsupportedURL, url)
		}
		path = url[i+3:]
	}
	if path == "" {
		return "", 0, fmt.Errorf("%w: %s", ErrUnsupportedURL, url)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return path, formatYAML, nil
	case ".json":
		return path, formatJSON, nil
	default:
		return "", 0, fmt.Errorf("%w: unknown extension in %s", ErrUnsupportedURL, url)
	}
}

func cloneIntrinsics(in Intrinsics) Intrinsics {
	if in.D != nil {
		in.D = append([]float64(nil), in.D...)
	}
	return in
}
