// Package storage keeps snapshots of published pairs and recorded videos on
// disk. A snapshot is a JPEG next to a JSON file with its calibration.
package storage

import (
	"bytes"
	"fmt"
	"os"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/goccy/go-json"

	"cv-capture/pkg/calib"
	"cv-capture/pkg/frame"
	"cv-capture/pkg/types"
)

type Storage struct {
	root string
	// guards info.json
	lock sync.Mutex
}

func New(root string) (*Storage, error) {
	if root == "" {
		return nil, fmt.Errorf("storage path can not be empty")
	}
	s := &Storage{root: root}
	if err := mkdirAll(s.snapshotDir(), s.videoDir()); err != nil {
		return nil, err
	}
	if _, err := os.Stat(s.infoPath()); os.IsNotExist(err) {
		if err = s.dumpInfo(&SnapshotsInfo{}); err != nil {
			return nil, err
		}
	} else if err != nil {
		return nil, err
	}

	return s, nil
}

// Root is the directory shared over webdav.
func (s *Storage) Root() string {
	return s.root
}

// SaveSnapshot writes f as JPEG and rec as JSON under the next free number.
func (s *Storage) SaveSnapshot(f *frame.Frame, rec calib.Record) (Snapshot, error) {
	if f.Empty() {
		return Snapshot{}, fmt.Errorf("empty frame")
	}
	var img bytes.Buffer
	if err := frame.EncodeJPEG(f, &img, DefaultJPEGQuality); err != nil {
		return Snapshot{}, fmt.Errorf("encode snapshot: %w", err)
	}
	meta, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return Snapshot{}, fmt.Errorf("marshal calibration: %w", err)
	}

	s.lock.Lock()
	defer s.lock.Unlock()
	info, err := s.loadInfo()
	if err != nil {
		return Snapshot{}, err
	}
	name := fmt.Sprintf("snapshot-%d", info.MaxNumber)
	snap := Snapshot{
		Name:        name,
		Image:       name + DefaultImageExt,
		Calibration: name + DefaultCalibExt,
		Size:        humanize.Bytes(uint64(img.Len())),
		Stamp:       f.Stamp,
	}
	if err = os.WriteFile(s.SnapshotPath(snap.Image), img.Bytes(), DefaultFilePerm); err != nil {
		return Snapshot{}, err
	}
	if err = os.WriteFile(s.SnapshotPath(snap.Calibration), meta, DefaultFilePerm); err != nil {
		return Snapshot{}, err
	}

	info.MaxNumber++
	info.LatestSnapshot = name
	if err = s.dumpInfo(info); err != nil {
		return Snapshot{}, err
	}

	return snap, nil
}

func (s *Storage) LatestSnapshot() (string, error) {
	s.lock.Lock()
	defer s.lock.Unlock()
	info, err := s.loadInfo()
	if err != nil {
		return "", err
	}

	return info.LatestSnapshot, nil
}

// ListSnapshots returns the snapshot images, oldest first.
func (s *Storage) ListSnapshots() ([]types.File, error) {
	return listFiles(s.snapshotDir(), DefaultImageExt)
}

func (s *Storage) ListVideos() ([]types.File, error) {
	return listFiles(s.videoDir(), DefaultVideoExt)
}

// ReadCalibration loads the calibration saved with snapshot name.
func (s *Storage) ReadCalibration(name string) (calib.Record, error) {
	data, err := os.ReadFile(s.SnapshotPath(path.Base(name) + DefaultCalibExt))
	if err != nil {
		return calib.Record{}, fmt.Errorf("snapshot not found, %w", err)
	}
	var rec calib.Record
	if err = json.Unmarshal(data, &rec); err != nil {
		return calib.Record{}, fmt.Errorf("unmarshal calibration err: %w", err)
	}

	return rec, nil
}

func (s *Storage) SnapshotPath(name string) string {
	return path.Join(s.snapshotDir(), path.Base(name))
}

// NewVideoPath returns a fresh file name for a recording started at t.
func (s *Storage) NewVideoPath(t time.Time) string {
	return path.Join(s.videoDir(), t.Format("20060102-150405")+DefaultVideoExt)
}

// Usage is the total size of everything stored.
func (s *Storage) Usage() (uint64, error) {
	var total uint64
	for _, dir := range []string{s.snapshotDir(), s.videoDir()} {
		entries, err := os.ReadDir(dir)
		if err != nil {
			return 0, err
		}
		for _, e := range entries {
			fi, err := e.Info()
			if err != nil {
				return 0, err
			}
			if !fi.IsDir() {
				total += uint64(fi.Size())
			}
		}
	}

	return total, nil
}

func (s *Storage) loadInfo() (*SnapshotsInfo, error) {
	data, err := os.ReadFile(s.infoPath())
	if err != nil {
		return nil, fmt.Errorf("read snapshot info err: %w", err)
	}
	info := &SnapshotsInfo{}
	if err = json.Unmarshal(data, info); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot info err: %w", err)
	}

	return info, nil
}

func (s *Storage) dumpInfo(info *SnapshotsInfo) error {
	info.UpdateAt = time.Now()
	data, err := json.Marshal(info)
	if err != nil {
		return err
	}

	return os.WriteFile(s.infoPath(), data, DefaultFilePerm)
}

func (s *Storage) infoPath() string {
	return path.Join(s.root, DefaultSnapshotsDir, DefaultInfoFile)
}

func (s *Storage) snapshotDir() string {
	return path.Join(s.root, DefaultSnapshotsDir)
}

func (s *Storage) videoDir() string {
	return path.Join(s.root, DefaultVideosDir)
}

func listFiles(dir, ext string) ([]types.File, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	res := make([]types.File, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ext) {
			continue
		}
		fi, err := e.Info()
		if err != nil {
			return nil, err
		}
		res = append(res, types.File{
			Name:    e.Name(),
			Size:    humanize.Bytes(uint64(fi.Size())),
			ModTime: fi.ModTime(),
		})
	}
	sort.Slice(res, func(i, j int) bool {
		return res[i].ModTime.Before(res[j].ModTime)
	})

	return res, nil
}

func mkdirAll(dirs ...string) error {
	for _, d := range dirs {
		err := os.MkdirAll(d, DefaultDirPerm)
		if err != nil {
			return err
		}
	}
	return nil
}
