package camera

import (
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	_ "golang.org/x/image/bmp"

	"cv-capture/pkg/frame"
)

var imageExts = []string{".jpg", ".jpeg", ".png", ".bmp"}

// FileSource replays a single image or a directory of images in name order.
type FileSource struct {
	// Loop restarts from the first image instead of reporting ErrEndOfStream.
	Loop bool
	// Interval paces Read; zero returns frames as fast as they decode.
	Interval time.Duration

	files []string
	next  int
	last  time.Time
}

func NewFileSource(fps float64, loop bool) *FileSource {
	s := &FileSource{Loop: loop}
	if fps > 0 {
		s.Interval = time.Duration(float64(time.Second) / fps)
	}
	return s
}

func (s *FileSource) Open(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	var files []string
	if info.IsDir() {
		entries, err := os.ReadDir(path)
		if err != nil {
			return err
		}
		for _, e := range entries {
			if e.IsDir() || !slices.Contains(imageExts, strings.ToLower(filepath.Ext(e.Name()))) {
				continue
			}
			files = append(files, filepath.Join(path, e.Name()))
		}
		slices.Sort(files)
	} else {
		files = []string{path}
	}
	if len(files) == 0 {
		return fmt.Errorf("no images in %s", path)
	}

	s.files, s.next = files, 0
	logger.Infof("replaying %d image(s) from %s", len(files), path)
	return nil
}

func (s *FileSource) IsOpened() bool {
	return s.files != nil
}

func (s *FileSource) Read(dst *frame.Frame) error {
	if s.files == nil {
		return ErrNotOpened
	}
	if s.next >= len(s.files) {
		if !s.Loop {
			return ErrEndOfStream
		}
		s.next = 0
	}
	if s.Interval > 0 && !s.last.IsZero() {
		if wait := s.Interval - time.Since(s.last); wait > 0 {
			time.Sleep(wait)
		}
	}

	name := s.files[s.next]
	s.next++
	s.last = time.Now()

	f, err := os.Open(name)
	if err != nil {
		return err
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	if err != nil {
		return fmt.Errorf("decode %s: %w", name, err)
	}
	dst.FromImage(img)

	return nil
}

func (s *FileSource) Set(property int, _ float64) error {
	return fmt.Errorf("%w: %d on file source", ErrUnsupportedProperty, property)
}

func (s *FileSource) Close() error {
	s.files = nil
	return nil
}
