package utils

// MeanSquareFloat32 returns the mean energy of values, zero for an empty slice.
func MeanSquareFloat32(values []float32) float32 {
	if len(values) == 0 {
		return 0
	}
	var sum float32
	for _, v := range values {
		sum += v * v
	}
	return sum / float32(len(values))
}

// ClampFloat32 limits v to [lo, hi].
func ClampFloat32(v, lo, hi float32) float32 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
