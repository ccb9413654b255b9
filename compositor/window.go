// Package compositor stitches fixed-length model segments back into
// continuous signals with a weighted overlap-add.
package compositor

import "math"

// Window returns a triangular window of the given length: a linear ramp up to
// 1 over the first half and back down over the second half, raised to power.
// Every value is strictly positive.
func Window(length int, power float64) []float32 {
	if length <= 0 {
		return nil
	}
	w := make([]float32, length)
	peak := float64((length + 1) / 2)
	for i := range w {
		v := float64(min(i+1, length-i)) / peak
		if power != 1 {
			v = math.Pow(v, power)
		}
		w[i] = float32(v)
	}
	return w
}

func ones(length int) []float32 {
	w := make([]float32, length)
	for i := range w {
		w[i] = 1
	}
	return w
}
