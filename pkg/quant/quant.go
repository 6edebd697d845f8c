// Package quant implements the affine quantization scheme used by the
// reference kernels: real = Scale * (q - Offset), plus the fixed-point
// multiplier used to move accumulators between quantization domains.
package quant

import (
	"errors"
	"fmt"
	"math"
)

var (
	ErrMultiplierRange = errors.New("quant: multiplier must be in (0, 1)")
	ErrInvalidScale    = errors.New("quant: scale must be finite and non-negative")
)

// Params holds per-tensor quantization parameters.
//
// A zero Scale marks a tensor whose values are not rescaled; the kernels pass
// accumulators through unchanged in that case.
type Params struct {
	Scale  float32 `yaml:"scale" json:"scale"`
	Offset int32   `yaml:"offset" json:"offset"`
}

// Active reports whether the params request requantization.
func (p Params) Active() bool {
	return p.Scale != 0
}

// Validate checks that Scale is usable.
func (p Params) Validate() error {
	s := float64(p.Scale)
	if math.IsNaN(s) || math.IsInf(s, 0) || s < 0 {
		return fmt.Errorf("%w: %g", ErrInvalidScale, p.Scale)
	}
	return nil
}

func (p Params) String() string {
	return fmt.Sprintf("scale=%g offset=%d", p.Scale, p.Offset)
}

// Integer is the set of storage types a quantized tensor may use.
type Integer interface {
	uint8 | int8 | int32
}

// Bounds returns the representable range of T.
func Bounds[T Integer]() (lo, hi int64) {
	var zero T
	switch any(zero).(type) {
	case uint8:
		return 0, math.MaxUint8
	case int8:
		return math.MinInt8, math.MaxInt8
	default:
		return math.MinInt32, math.MaxInt32
	}
}

// Quantize maps a real value into T, rounding half away from zero and
// saturating at the bounds of T.
func Quantize[T Integer](v float32, p Params) T {
	lo, hi := Bounds[T]()
	if p.Scale == 0 {
		panic("quant: Quantize with zero scale")
	}
	q := math.Round(float64(v)/float64(p.Scale)) + float64(p.Offset)
	switch {
	case math.IsNaN(q):
		q = float64(p.Offset)
	case q < float64(lo):
		q = float64(lo)
	case q > float64(hi):
		q = float64(hi)
	}
	return T(q)
}

// Dequantize maps a quantized value back to a real value.
func Dequantize[T Integer](q T, p Params) float32 {
	return p.Scale * float32(int64(q)-int64(p.Offset))
}

// QuantizeInto quantizes src into dst. dst must be at least len(src) long.
func QuantizeInto[T Integer](dst []T, src []float32, p Params) {
	if len(dst) < len(src) {
		panic("quant: destination too small")
	}
	for i, v := range src {
		dst[i] = Quantize[T](v, p)
	}
}

// DequantizeInto dequantizes src into dst. dst must be at least len(src) long.
func DequantizeInto[T Integer](dst []float32, src []T, p Params) {
	if len(dst) < len(src) {
		panic("quant: destination too small")
	}
	for i, q := range src {
		dst[i] = Dequantize(q, p)
	}
}
