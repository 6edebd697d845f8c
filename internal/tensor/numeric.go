package tensor

import (
	"errors"
	"fmt"
	"math"
)

var (
	ErrInvalidShape = errors.New("tensor: invalid shape")
	ErrSizeMismatch = errors.New("tensor: buffer size mismatch")
	ErrNarrowing    = errors.New("tensor: value out of range for destination type")
)

// Number is the closed set of numeric kinds the reference kernels are
// instantiated over.
type Number interface {
	uint8 | int8 | int16 | int32 | int64 | float32 | float64
}

// Element is a tensor storage type.
type Element interface {
	uint8 | int8 | int32 | float32
}

// Accumulator is a type wide enough to sum products of Elements.
type Accumulator interface {
	int32 | int64 | float32 | float64
}

type kind struct {
	integer bool
	lo, hi  int64
	maxAbs  float64
}

func kindOf[T Number]() kind {
	var zero T
	switch any(zero).(type) {
	case uint8:
		return kind{integer: true, lo: 0, hi: math.MaxUint8}
	case int8:
		return kind{integer: true, lo: math.MinInt8, hi: math.MaxInt8}
	case int16:
		return kind{integer: true, lo: math.MinInt16, hi: math.MaxInt16}
	case int32:
		return kind{integer: true, lo: math.MinInt32, hi: math.MaxInt32}
	case int64:
		return kind{integer: true, lo: math.MinInt64, hi: math.MaxInt64}
	case float32:
		return kind{maxAbs: math.MaxFloat32}
	default:
		return kind{maxAbs: math.MaxFloat64}
	}
}

// IsInteger reports whether T is an integer kind.
func IsInteger[T Number]() bool {
	return kindOf[T]().integer
}

// Limits returns the representable range of T as float64. For integer kinds
// the bounds are exact up to 2^53.
func Limits[T Number]() (lo, hi float64) {
	k := kindOf[T]()
	if k.integer {
		return float64(k.lo), float64(k.hi)
	}
	return -k.maxAbs, k.maxAbs
}

// Cast converts v to D. It reports false instead of wrapping or truncating
// when v is outside the range of D. Float to integer conversion truncates
// toward zero like a C cast once the range check passes. Integer to float
// conversion always succeeds and may round.
func Cast[D, S Number](v S) (D, bool) {
	dk := kindOf[D]()
	if kindOf[S]().integer {
		i := int64(v)
		if dk.integer && (i < dk.lo || i > dk.hi) {
			return 0, false
		}
		return D(i), true
	}

	f := float64(v)
	if dk.integer {
		if math.IsNaN(f) || f <= float64(dk.lo)-1 || f >= float64(dk.hi)+1 {
			return 0, false
		}
		return D(f), true
	}
	if !math.IsInf(f, 0) && math.Abs(f) > dk.maxAbs {
		return 0, false
	}
	return D(f), true
}

// MustCast is Cast for callers that treat overflow as a bug.
func MustCast[D, S Number](v S) D {
	d, ok := Cast[D](v)
	if !ok {
		panic(fmt.Sprintf("tensor: %v overflows %T", v, d))
	}
	return d
}

// CastErr is Cast returning ErrNarrowing on overflow.
func CastErr[D, S Number](v S) (D, error) {
	d, ok := Cast[D](v)
	if !ok {
		return d, fmt.Errorf("%w: %v does not fit %T", ErrNarrowing, v, d)
	}
	return d, nil
}

// Saturate clamps v into the integer range of T. For float kinds v is
// converted unchanged.
func Saturate[T Number](v int64) T {
	k := kindOf[T]()
	if k.integer {
		v = min(max(v, k.lo), k.hi)
	}
	return T(v)
}
