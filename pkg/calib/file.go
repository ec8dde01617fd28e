package calib

import (
	"bytes"
	"fmt"

	"github.com/goccy/go-json"
	"gopkg.in/yaml.v3"
)

type matrix struct {
	Rows int       `yaml:"rows" json:"rows"`
	Cols int       `yaml:"cols" json:"cols"`
	Data []float64 `yaml:"data,flow" json:"data"`
}

// cameraInfoFile is the on-disk calibration layout shared by the YAML and
// JSON encodings.
type cameraInfoFile struct {
	ImageWidth             int    `yaml:"image_width" json:"image_width"`
	ImageHeight            int    `yaml:"image_height" json:"image_height"`
	CameraName             string `yaml:"camera_name" json:"camera_name"`
	CameraMatrix           matrix `yaml:"camera_matrix" json:"camera_matrix"`
	DistortionModel        string `yaml:"distortion_model" json:"distortion_model"`
	DistortionCoefficients matrix `yaml:"distortion_coefficients" json:"distortion_coefficients"`
	RectificationMatrix    matrix `yaml:"rectification_matrix" json:"rectification_matrix"`
	ProjectionMatrix       matrix `yaml:"projection_matrix" json:"projection_matrix"`
}

type format int

const (
	formatYAML format = iota
	formatJSON
)

func decodeCameraInfo(data []byte, f format) (Intrinsics, string, error) {
	var cf cameraInfoFile
	var err error
	switch f {
	case formatJSON:
		err = json.Unmarshal(data, &cf)
	default:
		err = yaml.Unmarshal(data, &cf)
	}
	if err != nil {
		return Intrinsics{}, "", fmt.Errorf("decode camera info: %w", err)
	}
	in, err := cf.intrinsics()
	return in, cf.CameraName, err
}

func encodeCameraInfo(in Intrinsics, cameraName string, f format) ([]byte, error) {
	cf := cameraInfoFile{
		ImageWidth:             in.Width,
		ImageHeight:            in.Height,
		CameraName:             cameraName,
		CameraMatrix:           matrix{Rows: 3, Cols: 3, Data: in.K[:]},
		DistortionModel:        in.DistortionModel,
		DistortionCoefficients: matrix{Rows: 1, Cols: len(in.D), Data: in.D},
		RectificationMatrix:    matrix{Rows: 3, Cols: 3, Data: in.R[:]},
		ProjectionMatrix:       matrix{Rows: 3, Cols: 4, Data: in.P[:]},
	}
	if f == formatJSON {
		return json.MarshalIndent(cf, "", "  ")
	}
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(cf); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (cf *cameraInfoFile) intrinsics() (Intrinsics, error) {
	in := Intrinsics{
		Width:           cf.ImageWidth,
		Height:          cf.ImageHeight,
		DistortionModel: cf.DistortionModel,
		D:               append([]float64(nil), cf.DistortionCoefficients.Data...),
		R:               identity3,
	}
	if n := len(cf.CameraMatrix.Data); n != 9 {
		return Intrinsics{}, fmt.Errorf("camera_matrix: expected 9 values, got %d", n)
	}
	copy(in.K[:], cf.CameraMatrix.Data)

	switch n := len(cf.RectificationMatrix.Data); n {
	case 0:
	case 9:
		copy(in.R[:], cf.RectificationMatrix.Data)
	default:
		return Intrinsics{}, fmt.Errorf("rectification_matrix: expected 9 values, got %d", n)
	}

	switch n := len(cf.ProjectionMatrix.Data); n {
	case 0:
		in.P = [12]float64{in.K[0], in.K[1], in.K[2], 0, in.K[3], in.K[4], in.K[5], 0, 0, 0, 1, 0}
	case 12:
		copy(in.P[:], cf.ProjectionMatrix.Data)
	default:
		return Intrinsics{}, fmt.Errorf("projection_matrix: expected 12 values, got %d", n)
	}
	if in.DistortionModel == "" {
		in.DistortionModel = ModelPlumbBob
	}
	return in, nil
}
