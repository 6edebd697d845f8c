// Package dataset serves labelled classifier test cases stored in a data
// directory:
//
//	dataset.yaml           manifest (this package's Manifest)
//	testcases.safetensors  "images" [N, C, H, W] as U8 or F32, "labels" [N] as I32
//
// U8 pixels are normalised as (pixel - mean) * scale when served.
package dataset

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/samcharles93/qref/internal/classifier"
	"github.com/samcharles93/qref/internal/safetensors"
	"github.com/samcharles93/qref/internal/tensor"
)

const (
	ManifestFile = "dataset.yaml"
	DataFile     = "testcases.safetensors"

	ImagesTensor = "images"
	LabelsTensor = "labels"
)

var ErrInvalidDataset = errors.New("dataset: invalid dataset")

// Manifest describes a dataset directory.
type Manifest struct {
	Name    string `yaml:"name"`
	Classes int    `yaml:"classes"`
	// File defaults to DataFile.
	File string `yaml:"file,omitempty"`
	// Scale and Mean normalise U8 pixels; Scale 0 means 1/255.
	Scale float32 `yaml:"scale,omitempty"`
	Mean  float32 `yaml:"mean,omitempty"`
	// DefaultIDs are the test cases run when no iteration count is given.
	DefaultIDs []int `yaml:"default_ids"`
}

// Database holds a fully loaded dataset in memory.
type Database struct {
	Manifest Manifest

	shape  tensor.Shape
	pixels []float32
	labels []int32
}

var _ classifier.Database = (*Database)(nil)

// Open loads the dataset in dir.
func Open(dir string) (*Database, error) {
	m, err := readManifest(filepath.Join(dir, ManifestFile))
	if err != nil {
		return nil, err
	}
	file := m.File
	if file == "" {
		file = DataFile
	}
	st, err := safetensors.Open(filepath.Join(dir, file))
	if err != nil {
		return nil, fmt.Errorf("dataset %s: %w", dir, err)
	}

	info, ok := st.Tensor(ImagesTensor)
	if !ok {
		return nil, fmt.Errorf("%w: %s has no %q tensor", ErrInvalidDataset, st.Path, ImagesTensor)
	}
	shape, err := tensor.NewShape(info.Shape)
	if err != nil {
		return nil, fmt.Errorf("%w: images: %w", ErrInvalidDataset, err)
	}

	var pixels []float32
	switch info.DType {
	case safetensors.U8:
		raw, _, err := st.ReadTensorU8(ImagesTensor)
		if err != nil {
			return nil, err
		}
		scale := m.Scale
		if scale == 0 {
			scale = 1.0 / 255
		}
		pixels = make([]float32, len(raw))
		for i, p := range raw {
			pixels[i] = (float32(p) - m.Mean) * scale
		}
	default:
		pixels, _, err = st.ReadTensorF32(ImagesTensor)
		if err != nil {
			return nil, err
		}
	}

	labels, linfo, err := st.ReadTensorI32(LabelsTensor)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidDataset, err)
	}
	if len(linfo.Shape) != 1 || linfo.Shape[0] != shape.Batch() {
		return nil, fmt.Errorf("%w: labels shape %v, want [%d]", ErrInvalidDataset, linfo.Shape, shape.Batch())
	}
	for i, l := range labels {
		if l < 0 || (m.Classes > 0 && int(l) >= m.Classes) {
			return nil, fmt.Errorf("%w: label %d of test case %d outside [0, %d)", ErrInvalidDataset, l, i, m.Classes)
		}
	}
	for _, id := range m.DefaultIDs {
		if id < 0 || id >= shape.Batch() {
			return nil, fmt.Errorf("%w: default id %d outside [0, %d)", ErrInvalidDataset, id, shape.Batch())
		}
	}

	return &Database{Manifest: m, shape: shape, pixels: pixels, labels: labels}, nil
}

func readManifest(path string) (Manifest, error) {
	var m Manifest
	data, err := os.ReadFile(path)
	if err != nil {
		return m, fmt.Errorf("read manifest: %w", err)
	}
	if err := yaml.Unmarshal(data, &m); err != nil {
		return m, fmt.Errorf("parse manifest %s: %w", path, err)
	}
	if m.Classes < 0 {
		return m, fmt.Errorf("%w: classes must be >= 0", ErrInvalidDataset)
	}
	return m, nil
}

// Len returns the number of test cases.
func (d *Database) Len() int { return d.shape.Batch() }

// ImageShape is the shape of a single test case input, batch 1.
func (d *Database) ImageShape() tensor.Shape {
	return tensor.Shape{1, d.shape.Channels(), d.shape.Height(), d.shape.Width()}
}

func (d *Database) DefaultIDs() []int { return d.Manifest.DefaultIDs }

// TestCase returns a copy of test case id.
func (d *Database) TestCase(id int) (*classifier.TestCase, error) {
	if id < 0 || id >= d.Len() {
		return nil, fmt.Errorf("%w: %d (dataset has %d)", classifier.ErrTestCaseNotFound, id, d.Len())
	}
	per := d.ImageShape().NumElements()
	input := make([]float32, per)
	copy(input, d.pixels[id*per:(id+1)*per])
	return &classifier.TestCase{ID: id, Label: int(d.labels[id]), Input: input}, nil
}

// Write creates a dataset directory from U8 images laid out as shape.
func Write(dir string, m Manifest, shape tensor.Shape, images []uint8, labels []int32) error {
	if err := shape.Validate(); err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	if m.File == "" {
		m.File = DataFile
	}

	w := safetensors.NewWriter()
	w.SetMetadata("name", m.Name)
	if err := w.AddU8(ImagesTensor, shape[:], images); err != nil {
		return err
	}
	if err := w.AddI32(LabelsTensor, []int{len(labels)}, labels); err != nil {
		return err
	}
	if err := w.WriteFile(filepath.Join(dir, m.File)); err != nil {
		return err
	}

	data, err := yaml.Marshal(m)
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, ManifestFile), data, 0o644)
}
