package tensor

import (
	"fmt"

	"github.com/samcharles93/qref/pkg/quant"
)

// Shape is a 4D tensor shape in NCHW order: batch, channels, height, width.
// Buffers described by a Shape are dense and row major.
type Shape [4]int

// NewShape builds a Shape from a dims slice such as the one stored in a
// safetensors header. It returns an error unless dims has exactly four
// positive entries.
func NewShape(dims []int) (Shape, error) {
	if len(dims) != 4 {
		return Shape{}, fmt.Errorf("%w: expected 4 dims, got %d", ErrInvalidShape, len(dims))
	}
	s := Shape{dims[0], dims[1], dims[2], dims[3]}
	if err := s.Validate(); err != nil {
		return Shape{}, err
	}
	return s, nil
}

func (s Shape) Batch() int    { return s[0] }
func (s Shape) Channels() int { return s[1] }
func (s Shape) Height() int   { return s[2] }
func (s Shape) Width() int    { return s[3] }

// Validate checks that every dimension is positive and the element count
// fits in an int.
func (s Shape) Validate() error {
	n := 1
	for i, d := range s {
		if d <= 0 {
			return fmt.Errorf("%w: dim %d is %d in %v", ErrInvalidShape, i, d, s)
		}
		if n > maxInt/d {
			return fmt.Errorf("%w: %v is too large", ErrInvalidShape, s)
		}
		n *= d
	}
	return nil
}

// NumElements returns the number of elements a buffer of this shape holds.
func (s Shape) NumElements() int {
	return s[0] * s[1] * s[2] * s[3]
}

// Offset returns the flat index of element (n, c, h, w).
func (s Shape) Offset(n, c, h, w int) int {
	return ((n*s[1]+c)*s[2]+h)*s[3] + w
}

func (s Shape) String() string {
	return fmt.Sprintf("[%d %d %d %d]", s[0], s[1], s[2], s[3])
}

// Info describes a tensor the kernels read or write: its shape and, for
// quantized tensors, the affine parameters of its elements.
type Info struct {
	Shape Shape
	Quant quant.Params
}

// Check verifies that buf has exactly as many elements as the shape.
func Check[T Number](name string, buf []T, info Info) error {
	if err := info.Shape.Validate(); err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	if len(buf) != info.Shape.NumElements() {
		return fmt.Errorf("%w: %s has %d elements, shape %v needs %d",
			ErrSizeMismatch, name, len(buf), info.Shape, info.Shape.NumElements())
	}
	return nil
}

const maxInt = int(^uint(0) >> 1)
