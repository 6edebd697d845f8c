package tensor

import "math"

// Softmax normalizes x in place into a probability distribution.
func Softmax(x []float32) {
	if len(x) == 0 {
		return
	}
	maxv := x[0]
	for i := 1; i < len(x); i++ {
		if x[i] > maxv {
			maxv = x[i]
		}
	}
	var sum float64
	for i := range x {
		v := math.Exp(float64(x[i] - maxv))
		x[i] = float32(v)
		sum += v
	}
	if sum == 0 {
		return
	}
	inv := float32(1.0 / sum)
	for i := range x {
		x[i] *= inv
	}
}

// ReLU clamps x in place to be at least zero. For quantized buffers pass the
// quantized representation of 0.0, i.e. the tensor's offset.
func ReLU[T Element](x []T, zero T) {
	for i, v := range x {
		if v < zero {
			x[i] = zero
		}
	}
}

// GlobalAvgPool averages every H*W plane of an NCHW buffer, returning
// [batch*channels] values.
func GlobalAvgPool(x []float32, s Shape) []float32 {
	plane := s.Height() * s.Width()
	out := make([]float32, s.Batch()*s.Channels())
	for i := range out {
		var sum float64
		for _, v := range x[i*plane : (i+1)*plane] {
			sum += float64(v)
		}
		out[i] = float32(sum / float64(plane))
	}
	return out
}
