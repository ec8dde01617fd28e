package storage

import "time"

const (
	DefaultSnapshotsDir = "snapshots"
	DefaultVideosDir    = "videos"
	DefaultInfoFile     = "info.json"

	DefaultImageExt = ".jpg"
	DefaultCalibExt = ".json"
	DefaultVideoExt = ".avi"

	DefaultFilePerm = 0660
	DefaultDirPerm  = 0750

	DefaultJPEGQuality = 90
)

// SnapshotsInfo is the index kept next to the snapshots.
type SnapshotsInfo struct {
	MaxNumber      int    `json:"maxNumber"`
	LatestSnapshot string `json:"latestSnapshot"`

	UpdateAt time.Time `json:"updateAt"`
}

// Snapshot names the two files written for one saved pair.
type Snapshot struct {
	Name        string    `json:"name"`
	Image       string    `json:"image"`
	Calibration string    `json:"calibration"`
	Size        string    `json:"size"`
	Stamp       time.Time `json:"stamp"`
}
