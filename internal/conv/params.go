// Package conv is the reference 2D convolution kernel for NCHW tensors. It
// covers standard and depthwise convolution over quantized or float data and
// reproduces the fixed-point requantization of the Android NN executor.
//
// The kernel is deliberately the plainest correct loop nest: no blocking, no
// vectorization, no goroutines. It exists to be compared against.
package conv

import (
	"errors"
	"fmt"
)

var (
	ErrBiasMissing   = errors.New("conv: bias enabled but no bias data")
	ErrShapeMismatch = errors.New("conv: shape mismatch")
	ErrInvalidParams = errors.New("conv: invalid convolution parameters")
	ErrAccumulator   = errors.New("conv: accumulator cannot represent the element type")
)

// Params describes the spatial behaviour of a convolution.
//
// Padding is virtual: samples that fall in the padded border read as a raw
// input value of zero. PadBottom and PadRight only take part in the output
// shape check.
type Params struct {
	StrideX int `yaml:"stride_x" json:"stride_x"`
	StrideY int `yaml:"stride_y" json:"stride_y"`

	PadLeft   int `yaml:"pad_left" json:"pad_left"`
	PadRight  int `yaml:"pad_right" json:"pad_right"`
	PadTop    int `yaml:"pad_top" json:"pad_top"`
	PadBottom int `yaml:"pad_bottom" json:"pad_bottom"`

	BiasEnabled bool `yaml:"bias" json:"bias"`
}

func (p Params) validate() error {
	if p.StrideX <= 0 || p.StrideY <= 0 {
		return fmt.Errorf("%w: strides must be positive, got x=%d y=%d", ErrInvalidParams, p.StrideX, p.StrideY)
	}
	if p.PadLeft < 0 || p.PadRight < 0 || p.PadTop < 0 || p.PadBottom < 0 {
		return fmt.Errorf("%w: negative padding %+v", ErrInvalidParams, p)
	}
	return nil
}

func (p Params) String() string {
	return fmt.Sprintf("stride=(%d,%d) pad=(t%d,l%d,b%d,r%d) bias=%t",
		p.StrideY, p.StrideX, p.PadTop, p.PadLeft, p.PadBottom, p.PadRight, p.BiasEnabled)
}

// OutputSize returns the output extent of one spatial dimension:
//
//	(in + padBefore + padAfter - filter) / stride + 1
//
// It returns 0 when the filter does not fit in the padded input.
func OutputSize(in, filter, stride, padBefore, padAfter int) int {
	if stride <= 0 {
		return 0
	}
	span := in + padBefore + padAfter - filter
	if span < 0 {
		return 0
	}
	return span/stride + 1
}
