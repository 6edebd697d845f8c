package conv

import (
	"fmt"
	"math"

	"github.com/samcharles93/qref/internal/tensor"
)

// checkAccumulator rejects accumulator types that cannot hold every value of
// T exactly: float data needs a float accumulator, and float32 cannot carry
// the full int32 range. A float bias likewise needs a float accumulator.
func checkAccumulator[A tensor.Accumulator, T tensor.Element, B tensor.Number]() error {
	var (
		acc  A
		elem T
		bias B
	)
	if !tensor.IsInteger[B]() && tensor.IsInteger[A]() {
		return fmt.Errorf("%w: %T bias needs a float accumulator, got %T", ErrAccumulator, bias, acc)
	}
	switch any(elem).(type) {
	case float32:
		if tensor.IsInteger[A]() {
			return fmt.Errorf("%w: %T data needs a float accumulator, got %T", ErrAccumulator, elem, acc)
		}
	case int32:
		if _, ok := any(acc).(float32); ok {
			return fmt.Errorf("%w: %T cannot hold every %T exactly", ErrAccumulator, acc, elem)
		}
	}
	return nil
}

// accumulator performs the kernel's arithmetic in A. Integer accumulators
// report false where a step would leave the range of A instead of wrapping.
type accumulator[A tensor.Accumulator] struct {
	integer bool
}

func newAccumulator[A tensor.Accumulator]() accumulator[A] {
	return accumulator[A]{integer: tensor.IsInteger[A]()}
}

// mac returns sum + (f-fo)*(x-xo).
func (c accumulator[A]) mac(sum, f, fo, x, xo A) (A, bool) {
	if !c.integer {
		return sum + (f-fo)*(x-xo), true
	}
	df, ok1 := sub64(int64(f), int64(fo))
	dx, ok2 := sub64(int64(x), int64(xo))
	p, ok3 := mul64(df, dx)
	s, ok4 := add64(int64(sum), p)
	if !(ok1 && ok2 && ok3 && ok4) {
		return sum, false
	}
	return tensor.Cast[A](s)
}

// add returns a + b.
func (c accumulator[A]) add(a, b A) (A, bool) {
	if !c.integer {
		return a + b, true
	}
	s, ok := add64(int64(a), int64(b))
	if !ok {
		return a, false
	}
	return tensor.Cast[A](s)
}

func add64(a, b int64) (int64, bool) {
	s := a + b
	return s, (b >= 0) == (s >= a)
}

func sub64(a, b int64) (int64, bool) {
	s := a - b
	return s, (b >= 0) == (s <= a)
}

func mul64(a, b int64) (int64, bool) {
	if a == 0 || b == 0 {
		return 0, true
	}
	if (a == -1 && b == math.MinInt64) || (b == -1 && a == math.MinInt64) {
		return 0, false
	}
	p := a * b
	return p, p/b == a
}
