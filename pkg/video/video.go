// Package video records published frames into MJPEG AVI files.
package video

import (
	"bytes"
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/icza/mjpeg"
	"go.uber.org/zap"

	"cv-capture/pkg/frame"
	"cv-capture/pkg/publish"
)

// Builder appends JPEG frames to one AVI file. The frame size is fixed by
// the first frame; later frames of another size are skipped.
type Builder struct {
	path    string
	fps     int
	quality int

	width  int
	height int
	cnt    int
	bytes  uint64
	buf    bytes.Buffer
	aw     mjpeg.AviWriter
}

func NewBuilder(path string, fps, quality int) *Builder {
	return &Builder{path: path, fps: fps, quality: quality}
}

// Add encodes f and appends it. It reports false when f was skipped.
func (b *Builder) Add(f *frame.Frame) (bool, error) {
	if f.Empty() {
		return false, nil
	}
	if b.aw == nil {
		aw, err := mjpeg.New(b.path, int32(f.Width), int32(f.Height), int32(b.fps))
		if err != nil {
			return false, err
		}
		b.aw, b.width, b.height = aw, f.Width, f.Height
	}
	if f.Width != b.width || f.Height != b.height {
		return false, nil
	}

	b.buf.Reset()
	if err := frame.EncodeJPEG(f, &b.buf, b.quality); err != nil {
		return false, err
	}
	if err := b.aw.AddFrame(b.buf.Bytes()); err != nil {
		return false, err
	}
	b.cnt++
	b.bytes += uint64(b.buf.Len())

	return true, nil
}

// Close finalizes the AVI. A builder that never received a frame writes
// nothing.
func (b *Builder) Close() error {
	if b.aw == nil {
		return nil
	}
	return b.aw.Close()
}

func (b *Builder) GetCnt() int {
	return b.cnt
}

func (b *Builder) Path() string {
	return b.path
}

// Record writes every pair from pairs into path until the channel closes.
func Record(path string, fps int, pairs <-chan publish.Pair, logger *zap.SugaredLogger) error {
	b := NewBuilder(path, fps, 80)
	skipped := 0
	for p := range pairs {
		ok, err := b.Add(p.Frame)
		if err != nil {
			_ = b.Close()
			return fmt.Errorf("record %s: %w", path, err)
		}
		if !ok {
			skipped++
			if skipped == 1 {
				logger.Warnf("recording %s: frame %s does not match %dx%d, skipping", path, p.Frame, b.width, b.height)
			}
		}
	}
	if err := b.Close(); err != nil {
		return err
	}
	logger.Infof("recorded %d frames (%s) to %s, %d skipped", b.cnt, humanize.Bytes(b.bytes), path, skipped)

	return nil
}
