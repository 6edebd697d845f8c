package model

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/samcharles93/qref/internal/conv"
	"github.com/samcharles93/qref/pkg/quant"
)

const (
	ManifestFile = "model.yaml"
	WeightsFile  = "weights.safetensors"
)

// Element types a network can run in.
const (
	DTypeU8  = "u8"
	DTypeI8  = "i8"
	DTypeF32 = "f32"
)

var ErrInvalidModel = errors.New("model: invalid model")

// Manifest describes a convolutional classifier stored in a model directory.
type Manifest struct {
	Name  string `yaml:"name"`
	DType string `yaml:"dtype"`
	// Weights defaults to WeightsFile.
	Weights string      `yaml:"weights,omitempty"`
	Input   InputSpec   `yaml:"input"`
	Layers  []LayerSpec `yaml:"layers"`
	Head    HeadSpec    `yaml:"head"`
}

type InputSpec struct {
	// Shape is [channels, height, width].
	Shape []int        `yaml:"shape"`
	Quant quant.Params `yaml:"quant"`
}

// LayerSpec is one convolution. Tensor names default to "<name>.weight" and
// "<name>.bias".
type LayerSpec struct {
	Name        string       `yaml:"name"`
	Depthwise   bool         `yaml:"depthwise,omitempty"`
	Params      conv.Params  `yaml:"params"`
	Filter      string       `yaml:"filter,omitempty"`
	Bias        string       `yaml:"bias,omitempty"`
	FilterQuant quant.Params `yaml:"filter_quant"`
	OutputQuant quant.Params `yaml:"output_quant"`
	ReLU        bool         `yaml:"relu,omitempty"`
}

func (l LayerSpec) filterName() string {
	if l.Filter != "" {
		return l.Filter
	}
	return l.Name + ".weight"
}

func (l LayerSpec) biasName() string {
	if l.Bias != "" {
		return l.Bias
	}
	return l.Name + ".bias"
}

// HeadSpec turns the last layer's output into class confidences.
type HeadSpec struct {
	// GlobalPool averages each output channel over H*W. Without it the last
	// layer must produce a 1x1 map.
	GlobalPool bool `yaml:"global_pool,omitempty"`
	Softmax    bool `yaml:"softmax,omitempty"`
}

func (m Manifest) validate() error {
	switch m.DType {
	case DTypeU8, DTypeI8, DTypeF32:
	default:
		return fmt.Errorf("%w: unsupported dtype %q", ErrInvalidModel, m.DType)
	}
	if len(m.Input.Shape) != 3 {
		return fmt.Errorf("%w: input shape must be [C, H, W], got %v", ErrInvalidModel, m.Input.Shape)
	}
	if len(m.Layers) == 0 {
		return fmt.Errorf("%w: no layers", ErrInvalidModel)
	}
	quantized := m.DType != DTypeF32
	if quantized != m.Input.Quant.Active() {
		return fmt.Errorf("%w: input quantization %v does not suit dtype %s", ErrInvalidModel, m.Input.Quant, m.DType)
	}
	seen := make(map[string]bool, len(m.Layers))
	for i, l := range m.Layers {
		if l.Name == "" {
			return fmt.Errorf("%w: layer %d has no name", ErrInvalidModel, i)
		}
		if seen[l.Name] {
			return fmt.Errorf("%w: duplicate layer %q", ErrInvalidModel, l.Name)
		}
		seen[l.Name] = true
		if quantized != l.OutputQuant.Active() {
			return fmt.Errorf("%w: layer %s output quantization %v does not suit dtype %s", ErrInvalidModel, l.Name, l.OutputQuant, m.DType)
		}
	}
	return nil
}

// ReadManifest loads dir/model.yaml.
func ReadManifest(dir string) (Manifest, error) {
	var m Manifest
	path := filepath.Join(dir, ManifestFile)
	data, err := os.ReadFile(path)
	if err != nil {
		return m, fmt.Errorf("read manifest: %w", err)
	}
	if err := yaml.Unmarshal(data, &m); err != nil {
		return m, fmt.Errorf("parse manifest %s: %w", path, err)
	}
	return m, nil
}

// WriteManifest stores m as dir/model.yaml.
func WriteManifest(dir string, m Manifest) error {
	data, err := yaml.Marshal(m)
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, ManifestFile), data, 0o644)
}
