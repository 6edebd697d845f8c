package conv

// The kernel is generic, but callers almost always want one of these.

// RunUint8 runs the asymmetric uint8 path: int32 accumulation, int32 bias,
// outputs clamped to [0, 255] after requantization.
func RunUint8(a Args[uint8, int32]) { Run[int32](a) }

// RunInt8 runs the signed int8 path; outputs clamp to [-128, 127].
func RunInt8(a Args[int8, int32]) { Run[int32](a) }

// RunFloat32 runs the float path. Leave the output scale at zero so the
// accumulator is stored as is.
func RunFloat32(a Args[float32, float32]) { Run[float32](a) }
