package conv

import (
	"fmt"

	"github.com/samcharles93/qref/internal/tensor"
	"github.com/samcharles93/qref/pkg/quant"
)

// Args carries the operands of one convolution. T is the storage type of the
// input, filter and output buffers; B is the bias type.
//
// Filter shapes:
//   - standard:  [outChannels, inChannels, filterH, filterW]
//   - depthwise: [multiplier, inChannels, filterH, filterW]; the output has
//     inChannels*multiplier channels and channel c reads input channel
//     c/multiplier through multiplier lane c%multiplier.
type Args[T tensor.Element, B tensor.Number] struct {
	Input     []T
	InputInfo tensor.Info

	Filter     []T
	FilterInfo tensor.Info

	// Bias has one entry per output channel. Required iff Params.BiasEnabled.
	Bias []B

	Output     []T
	OutputInfo tensor.Info

	Params    Params
	Depthwise bool
}

type geometry struct {
	batch     int
	depthMult int
	chIn      int
	chOut     int
	hIn       int
	wIn       int
	hOut      int
	wOut      int
	hFilter   int
	wFilter   int
}

func geometryOf(in, filter, out tensor.Shape, depthwise bool) geometry {
	g := geometry{
		batch:     out.Batch(),
		depthMult: 1,
		chIn:      filter[1],
		chOut:     filter[0],
		hIn:       in.Height(),
		wIn:       in.Width(),
		hOut:      out.Height(),
		wOut:      out.Width(),
		hFilter:   filter.Height(),
		wFilter:   filter.Width(),
	}
	if depthwise {
		g.depthMult = filter[0]
		g.chOut = g.chIn * g.depthMult
	}
	return g
}

// Validate checks every precondition Run asserts. It never inspects element
// values, so a validated call can still fail with tensor.ErrNarrowing.
func Validate[T tensor.Element, B tensor.Number](a Args[T, B]) error {
	if err := a.Params.validate(); err != nil {
		return err
	}
	if err := tensor.Check("input", a.Input, a.InputInfo); err != nil {
		return err
	}
	if err := tensor.Check("filter", a.Filter, a.FilterInfo); err != nil {
		return err
	}
	if err := tensor.Check("output", a.Output, a.OutputInfo); err != nil {
		return err
	}

	in, filter, out := a.InputInfo.Shape, a.FilterInfo.Shape, a.OutputInfo.Shape
	g := geometryOf(in, filter, out, a.Depthwise)

	if in.Batch() != out.Batch() {
		return fmt.Errorf("%w: input batch %d, output batch %d", ErrShapeMismatch, in.Batch(), out.Batch())
	}
	if in.Channels() != g.chIn {
		return fmt.Errorf("%w: input has %d channels, filter expects %d", ErrShapeMismatch, in.Channels(), g.chIn)
	}
	if out.Channels() != g.chOut {
		return fmt.Errorf("%w: output has %d channels, want %d", ErrShapeMismatch, out.Channels(), g.chOut)
	}
	p := a.Params
	if want := OutputSize(g.hIn, g.hFilter, p.StrideY, p.PadTop, p.PadBottom); want != g.hOut {
		return fmt.Errorf("%w: output height %d, want %d", ErrShapeMismatch, g.hOut, want)
	}
	if want := OutputSize(g.wIn, g.wFilter, p.StrideX, p.PadLeft, p.PadRight); want != g.wOut {
		return fmt.Errorf("%w: output width %d, want %d", ErrShapeMismatch, g.wOut, want)
	}

	if p.BiasEnabled {
		if len(a.Bias) == 0 {
			return ErrBiasMissing
		}
		if len(a.Bias) != g.chOut {
			return fmt.Errorf("%w: bias has %d entries, want %d", tensor.ErrSizeMismatch, len(a.Bias), g.chOut)
		}
	}

	for _, q := range []struct {
		name string
		p    quant.Params
	}{
		{"input", a.InputInfo.Quant},
		{"filter", a.FilterInfo.Quant},
		{"output", a.OutputInfo.Quant},
	} {
		if err := q.p.Validate(); err != nil {
			return fmt.Errorf("%s: %w", q.name, err)
		}
	}
	if a.OutputInfo.Quant.Active() {
		if _, err := quant.TryMultiplier(effectiveMultiplier(a.InputInfo, a.FilterInfo, a.OutputInfo)); err != nil {
			return err
		}
	}
	return nil
}

// Run computes the convolution described by a into a.Output, accumulating in
// A. A must hold every value of T exactly (ErrAccumulator otherwise), and an
// integer accumulator that would overflow is reported as tensor.ErrNarrowing.
// Contract violations and lossy narrowing panic; use RunChecked when the
// operands come from an untrusted source.
func Run[A tensor.Accumulator, T tensor.Element, B tensor.Number](a Args[T, B]) {
	if err := Validate(a); err != nil {
		panic(err.Error())
	}
	if err := convolve[A](a); err != nil {
		panic(err.Error())
	}
}

// RunChecked is Run returning errors instead of panicking. On error the
// contents of a.Output are unspecified.
func RunChecked[A tensor.Accumulator, T tensor.Element, B tensor.Number](a Args[T, B]) error {
	if err := Validate(a); err != nil {
		return err
	}
	return convolve[A](a)
}

func effectiveMultiplier(in, filter, out tensor.Info) float32 {
	return (in.Quant.Scale * filter.Quant.Scale) / out.Quant.Scale
}

func convolve[A tensor.Accumulator, T tensor.Element, B tensor.Number](a Args[T, B]) error {
	in, out := a.InputInfo.Shape, a.OutputInfo.Shape
	g := geometryOf(in, a.FilterInfo.Shape, out, a.Depthwise)
	p := a.Params

	if err := checkAccumulator[A, T, B](); err != nil {
		return err
	}
	arith := newAccumulator[A]()

	inputOffset, err := tensor.CastErr[A](a.InputInfo.Quant.Offset)
	if err != nil {
		return fmt.Errorf("input offset: %w", err)
	}
	filterOffset, err := tensor.CastErr[A](a.FilterInfo.Quant.Offset)
	if err != nil {
		return fmt.Errorf("filter offset: %w", err)
	}

	// The multiplier only depends on per-tensor scales, so it is built once.
	outQ := a.OutputInfo.Quant
	requant := outQ.Active()
	var mult quant.Multiplier
	if requant {
		mult = quant.NewMultiplier(effectiveMultiplier(a.InputInfo, a.FilterInfo, a.OutputInfo))
	}

	filterPlane := g.hFilter * g.wFilter
	for n := 0; n < g.batch; n++ {
		for cOut := 0; cOut < g.chOut; cOut++ {
			// Standard convolution reads every input channel through filter
			// row cOut. Depthwise reads one input channel through the filter
			// lane, which is the outermost filter dimension.
			cFirst, cLast, filterRow := 0, g.chIn, cOut
			if a.Depthwise {
				cFirst = cOut / g.depthMult
				cLast = cFirst + 1
				filterRow = cOut % g.depthMult
			}

			for yOut := 0; yOut < g.hOut; yOut++ {
				for xOut := 0; xOut < g.wOut; xOut++ {
					idx := out.Offset(n, cOut, yOut, xOut)
					var (
						sum A
						ok  bool
					)
					for cIn := cFirst; cIn < cLast; cIn++ {
						filterBase := (filterRow*g.chIn + cIn) * filterPlane
						for yFilter := 0; yFilter < g.hFilter; yFilter++ {
							for xFilter := 0; xFilter < g.wFilter; xFilter++ {
								filterValue := A(a.Filter[filterBase+yFilter*g.wFilter+xFilter])

								yIn := yOut*p.StrideY + yFilter
								xIn := xOut*p.StrideX + xFilter

								var raw A
								if yIn >= p.PadTop && yIn < g.hIn+p.PadTop &&
									xIn >= p.PadLeft && xIn < g.wIn+p.PadLeft {
									raw = A(a.Input[in.Offset(n, cIn, yIn-p.PadTop, xIn-p.PadLeft)])
								}
								if sum, ok = arith.mac(sum, filterValue, filterOffset, raw, inputOffset); !ok {
									return fmt.Errorf("%w: accumulator overflows %T at output[%d]", tensor.ErrNarrowing, sum, idx)
								}
							}
						}
					}

					if p.BiasEnabled {
						b, err := tensor.CastErr[A](a.Bias[cOut])
						if err != nil {
							return fmt.Errorf("bias[%d]: %w", cOut, err)
						}
						if sum, ok = arith.add(sum, b); !ok {
							return fmt.Errorf("%w: bias overflows %T at output[%d]", tensor.ErrNarrowing, sum, idx)
						}
					}

					if !requant {
						v, err := tensor.CastErr[T](sum)
						if err != nil {
							return fmt.Errorf("output[%d]: %w", idx, err)
						}
						a.Output[idx] = v
						continue
					}

					acc, err := tensor.CastErr[int32](sum)
					if err != nil {
						return fmt.Errorf("accumulator at output[%d]: %w", idx, err)
					}
					scaled := int64(mult.Apply(acc)) + int64(outQ.Offset)
					a.Output[idx] = tensor.Saturate[T](scaled)
				}
			}
		}
	}
	return nil
}
