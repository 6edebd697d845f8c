// Package model loads convolutional image classifiers and runs them on the
// reference convolution kernel.
//
// A model directory holds model.yaml (Manifest) and a safetensors weights
// file. Quantized models keep activations in u8 or i8 between layers and
// requantize after every convolution; f32 models run the float path.
package model

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/samcharles93/qref/internal/classifier"
	"github.com/samcharles93/qref/internal/conv"
	"github.com/samcharles93/qref/internal/safetensors"
	"github.com/samcharles93/qref/internal/tensor"
	"github.com/samcharles93/qref/pkg/quant"
)

// Network is a loaded classifier. Infer is safe for concurrent use; calls are
// serialized over preallocated activation buffers.
type Network struct {
	Manifest Manifest

	inShape  tensor.Shape
	outShape tensor.Shape

	mu      sync.Mutex
	forward func(input []float32) ([]float32, error)
}

var _ classifier.Model = (*Network)(nil)

// Load reads the model in dir.
func Load(dir string) (*Network, error) {
	m, err := ReadManifest(dir)
	if err != nil {
		return nil, err
	}
	weights := m.Weights
	if weights == "" {
		weights = WeightsFile
	}
	st, err := safetensors.Open(filepath.Join(dir, weights))
	if err != nil {
		return nil, fmt.Errorf("model %s: %w", dir, err)
	}
	return Build(m, st)
}

// Build assembles a network from a manifest and an opened weights file.
func Build(m Manifest, st *safetensors.File) (*Network, error) {
	if err := m.validate(); err != nil {
		return nil, err
	}
	switch m.DType {
	case DTypeU8:
		return build[int32](m, st, codec[uint8, int32]{
			filter: (*safetensors.File).ReadTensorU8,
			bias:   (*safetensors.File).ReadTensorI32,
			encode: quant.QuantizeInto[uint8],
			decode: quant.DequantizeInto[uint8],
		})
	case DTypeI8:
		return build[int32](m, st, codec[int8, int32]{
			filter: (*safetensors.File).ReadTensorI8,
			bias:   (*safetensors.File).ReadTensorI32,
			encode: quant.QuantizeInto[int8],
			decode: quant.DequantizeInto[int8],
		})
	default:
		return build[float32](m, st, codec[float32, float32]{
			filter: (*safetensors.File).ReadTensorF32,
			bias:   (*safetensors.File).ReadTensorF32,
			encode: func(dst, src []float32, _ quant.Params) { copy(dst, src) },
			decode: func(dst, src []float32, _ quant.Params) { copy(dst, src) },
		})
	}
}

// codec binds a storage type to its weight readers and activation
// conversions.
type codec[T tensor.Element, B tensor.Number] struct {
	filter func(*safetensors.File, string) ([]T, safetensors.TensorInfo, error)
	bias   func(*safetensors.File, string) ([]B, safetensors.TensorInfo, error)
	encode func(dst []T, src []float32, p quant.Params)
	decode func(dst []float32, src []T, p quant.Params)
}

type layer[T tensor.Element, B tensor.Number] struct {
	name string
	args conv.Args[T, B]
	relu bool
}

func build[A tensor.Accumulator, T tensor.Element, B tensor.Number](m Manifest, st *safetensors.File, c codec[T, B]) (*Network, error) {
	inShape, err := tensor.NewShape(append([]int{1}, m.Input.Shape...))
	if err != nil {
		return nil, fmt.Errorf("%w: input: %w", ErrInvalidModel, err)
	}

	input := tensor.Info{Shape: inShape, Quant: m.Input.Quant}
	buf := make([]T, inShape.NumElements())
	first := buf
	layers := make([]layer[T, B], 0, len(m.Layers))

	for _, spec := range m.Layers {
		filter, finfo, err := c.filter(st, spec.filterName())
		if err != nil {
			return nil, fmt.Errorf("layer %s: %w", spec.Name, err)
		}
		fshape, err := tensor.NewShape(finfo.Shape)
		if err != nil {
			return nil, fmt.Errorf("%w: layer %s filter: %w", ErrInvalidModel, spec.Name, err)
		}

		p := spec.Params
		chOut := fshape.Batch()
		if spec.Depthwise {
			chOut = input.Shape.Channels() * fshape.Batch()
		}
		outShape := tensor.Shape{
			1,
			chOut,
			conv.OutputSize(input.Shape.Height(), fshape.Height(), p.StrideY, p.PadTop, p.PadBottom),
			conv.OutputSize(input.Shape.Width(), fshape.Width(), p.StrideX, p.PadLeft, p.PadRight),
		}
		if err := outShape.Validate(); err != nil {
			return nil, fmt.Errorf("%w: layer %s: filter %v does not fit input %v", ErrInvalidModel, spec.Name, fshape, input.Shape)
		}

		var bias []B
		if p.BiasEnabled {
			if bias, _, err = c.bias(st, spec.biasName()); err != nil {
				return nil, fmt.Errorf("layer %s: %w", spec.Name, err)
			}
		}

		output := tensor.Info{Shape: outShape, Quant: spec.OutputQuant}
		args := conv.Args[T, B]{
			Input:      buf,
			InputInfo:  input,
			Filter:     filter,
			FilterInfo: tensor.Info{Shape: fshape, Quant: spec.FilterQuant},
			Bias:       bias,
			Output:     make([]T, outShape.NumElements()),
			OutputInfo: output,
			Params:     p,
			Depthwise:  spec.Depthwise,
		}
		if err := conv.Validate(args); err != nil {
			return nil, fmt.Errorf("%w: layer %s: %w", ErrInvalidModel, spec.Name, err)
		}
		layers = append(layers, layer[T, B]{name: spec.Name, args: args, relu: spec.ReLU})

		buf, input = args.Output, output
	}

	if !m.Head.GlobalPool && (input.Shape.Height() != 1 || input.Shape.Width() != 1) {
		return nil, fmt.Errorf("%w: last layer produces %v; enable head.global_pool or reduce to 1x1", ErrInvalidModel, input.Shape)
	}

	last, outQ := buf, input.Quant
	decoded := make([]float32, len(last))
	n := &Network{Manifest: m, inShape: inShape, outShape: input.Shape}
	n.forward = func(x []float32) ([]float32, error) {
		c.encode(first, x, m.Input.Quant)
		for _, l := range layers {
			if err := conv.RunChecked[A](l.args); err != nil {
				return nil, fmt.Errorf("layer %s: %w", l.name, err)
			}
			if l.relu {
				tensor.ReLU(l.args.Output, tensor.Saturate[T](int64(l.args.OutputInfo.Quant.Offset)))
			}
		}
		c.decode(decoded, last, outQ)

		var out []float32
		if m.Head.GlobalPool {
			out = tensor.GlobalAvgPool(decoded, n.outShape)
		} else {
			out = append([]float32(nil), decoded...)
		}
		if m.Head.Softmax {
			tensor.Softmax(out)
		}
		return out, nil
	}
	return n, nil
}

// InputShape is the NCHW shape Infer expects, batch 1.
func (n *Network) InputShape() tensor.Shape { return n.inShape }

// NumClasses is the length of the vectors Infer returns.
func (n *Network) NumClasses() int { return n.outShape.Channels() }

// Infer runs one image through the network and returns class confidences.
func (n *Network) Infer(ctx context.Context, input []float32) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if want := n.inShape.NumElements(); len(input) != want {
		return nil, fmt.Errorf("%w: input has %d values, model %s expects %d (%v)",
			tensor.ErrSizeMismatch, len(input), n.Manifest.Name, want, n.inShape)
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.forward(input)
}
