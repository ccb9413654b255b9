package playback

import "stemgen/store"

// AllStems is the mask with every stem audible.
const AllStems uint8 = 0x0f

// selectStreams returns the read buffers needed for mask: the master alone
// when every stem is audible, otherwise the audible stems. A silent mask
// still reads the master so the cursor advances.
func selectStreams(bufs [store.StreamCount][]float32, mask uint8) [store.StreamCount][]float32 {
	var req [store.StreamCount][]float32
	if mask&AllStems == AllStems || mask&AllStems == 0 {
		req[0] = bufs[0]
		return req
	}
	for i := 0; i < store.StreamCount-1; i++ {
		if mask&(1<<i) != 0 {
			req[i+1] = bufs[i+1]
		}
	}
	return req
}

// Mix sums the first n samples of the streams selected by mask into a new
// buffer.
func Mix(bufs [store.StreamCount][]float32, mask uint8, n int) []float32 {
	out := make([]float32, n)
	switch mask & AllStems {
	case AllStems:
		copy(out, bufs[0][:n])
	case 0:
	default:
		for i := 0; i < store.StreamCount-1; i++ {
			if mask&(1<<i) == 0 || bufs[i+1] == nil {
				continue
			}
			for j, v := range bufs[i+1][:n] {
				out[j] += v
			}
		}
	}
	return out
}
