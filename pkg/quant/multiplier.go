package quant

import (
	"fmt"
	"math"
)

// Multiplier multiplies 32-bit integers by a real factor in (0, 1) using only
// integer arithmetic. Results match the gemmlowp / Android NN reference
// executor bit for bit.
//
// The factor is stored as a Q0.31 significand in [2^30, 2^31) and a right
// shift, so that factor ≈ multiplier / 2^31 / 2^shift.
type Multiplier struct {
	multiplier int32
	rightShift int32
}

// NewMultiplier builds a Multiplier for m. It panics unless 0 < m < 1: an out
// of range multiplier is a caller bug, not an input to recover from.
func NewMultiplier(m float32) Multiplier {
	qm, err := TryMultiplier(m)
	if err != nil {
		panic(err.Error())
	}
	return qm
}

// TryMultiplier is the checked form of NewMultiplier.
func TryMultiplier(m float32) (Multiplier, error) {
	if !(m > 0 && m < 1) {
		return Multiplier{}, fmt.Errorf("%w: got %g", ErrMultiplierRange, m)
	}

	q, exp := math.Frexp(float64(m))
	shift := -exp
	qFixed := int64(math.Round(q * (1 << 31)))
	if qFixed > 1<<31 {
		return Multiplier{}, fmt.Errorf("quant: significand overflow for %g", m)
	}
	if qFixed == 1<<31 {
		qFixed /= 2
		shift--
	}
	if shift < 0 || qFixed > math.MaxInt32 {
		return Multiplier{}, fmt.Errorf("%w: got %g", ErrMultiplierRange, m)
	}
	return Multiplier{
		multiplier: int32(qFixed),
		rightShift: int32(shift),
	}, nil
}

// Value returns the fixed-point significand.
func (m Multiplier) Value() int32 { return m.multiplier }

// Shift returns the rounding right shift applied after the high multiply.
func (m Multiplier) Shift() int32 { return m.rightShift }

// Float returns the real factor the Multiplier represents.
func (m Multiplier) Float() float64 {
	return math.Ldexp(float64(m.multiplier), -31-int(m.rightShift))
}

func (m Multiplier) String() string {
	return fmt.Sprintf("%d*2^-%d", m.multiplier, 31+m.rightShift)
}

// Apply returns round(x * factor), saturated to the int32 range.
func (m Multiplier) Apply(x int32) int32 {
	return RoundingDivideByPOT(SaturatingRoundingDoublingHighMul(x, m.multiplier), int(m.rightShift))
}

// SaturatingRoundingDoublingHighMul returns the high 32 bits of 2*a*b,
// rounded to nearest using gemmlowp's signed nudge (exact halves round toward
// positive infinity). The single overflowing input (a == b == MinInt32)
// saturates to MaxInt32.
func SaturatingRoundingDoublingHighMul(a, b int32) int32 {
	if a == b && a == math.MinInt32 {
		return math.MaxInt32
	}
	ab := int64(a) * int64(b)
	nudge := int64(1 << 30)
	if ab < 0 {
		nudge = 1 - (1 << 30)
	}
	// Division truncates toward zero, as in the C reference.
	return int32((ab + nudge) / (1 << 31))
}

// RoundingDivideByPOT returns x / 2^exponent rounded to nearest, ties away
// from zero. exponent must be non-negative. Exponents of 32 and above are
// well defined: the result is 0, or ±1 for exact half-way inputs.
func RoundingDivideByPOT(x int32, exponent int) int32 {
	if exponent < 0 {
		panic("quant: negative exponent")
	}
	if exponent == 0 {
		return x
	}
	if exponent > 62 {
		exponent = 62
	}
	v := int64(x)
	mask := int64(1)<<exponent - 1
	remainder := v & mask
	threshold := mask >> 1
	if v < 0 {
		threshold++
	}
	q := v >> exponent
	if remainder > threshold {
		q++
	}
	return int32(q)
}
