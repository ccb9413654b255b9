package compositor

// Interleave zips two planar channels into one interleaved stereo buffer.
// The result covers the shorter of the two channels.
func Interleave(left, right []float32) []float32 {
	return AppendInterleaved(make([]float32, 0, 2*min(len(left), len(right))), left, right)
}

// AppendInterleaved appends the interleaved frames of left and right to dst.
func AppendInterleaved(dst, left, right []float32) []float32 {
	n := min(len(left), len(right))
	for i := 0; i < n; i++ {
		dst = append(dst, left[i], right[i])
	}
	return dst
}

// Deinterleave splits an interleaved stereo buffer into planar channels. A
// trailing half frame is dropped.
func Deinterleave(in []float32) (left, right []float32) {
	n := len(in) / 2
	left = make([]float32, n)
	right = make([]float32, n)
	for i := 0; i < n; i++ {
		left[i] = in[2*i]
		right[i] = in[2*i+1]
	}
	return left, right
}
