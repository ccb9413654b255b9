package compositor

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidParameter = errors.New("compositor: invalid parameter")
	ErrChannelMismatch  = errors.New("compositor: channel mismatch")
	ErrAlreadyDrained   = errors.New("compositor: segment starts before drained position")
)

// Compositor accumulates window-weighted segments at absolute offsets and
// hands back normalised samples once no later segment can touch them.
//
// With overlap 0 the window is flat and segments are simply laid end to end.
type Compositor struct {
	segmentLength int
	stride        int
	channels      int
	window        []float32

	sum    [][]float32
	weight []float32
	base   int // absolute position of sum[c][0]
	end    int // one past the last position any segment reached
}

// New returns a compositor for segments of segmentLength samples per channel.
// overlap must lie in [0, 1); power shapes the triangular window and must be
// positive.
func New(segmentLength int, overlap, power float64, channels int) (*Compositor, error) {
	switch {
	case segmentLength <= 0:
		return nil, fmt.Errorf("%w: segment length %d", ErrInvalidParameter, segmentLength)
	case overlap < 0 || overlap >= 1:
		return nil, fmt.Errorf("%w: overlap %v not in [0, 1)", ErrInvalidParameter, overlap)
	case power <= 0:
		return nil, fmt.Errorf("%w: transition power %v", ErrInvalidParameter, power)
	case channels <= 0:
		return nil, fmt.Errorf("%w: %d channels", ErrInvalidParameter, channels)
	}

	c := &Compositor{
		segmentLength: segmentLength,
		stride:        max(1, int((1-overlap)*float64(segmentLength))),
		channels:      channels,
		sum:           make([][]float32, channels),
	}
	if overlap == 0 {
		c.window = ones(segmentLength)
	} else {
		c.window = Window(segmentLength, power)
	}
	return c, nil
}

// SegmentLength returns the segment length per channel.
func (c *Compositor) SegmentLength() int {
	return c.segmentLength
}

// Stride returns the distance between consecutive segment offsets.
func (c *Compositor) Stride() int {
	return c.stride
}

// Channels returns the number of planar channels per segment.
func (c *Compositor) Channels() int {
	return c.channels
}

// Pending returns the number of accumulated samples per channel not yet drained.
func (c *Compositor) Pending() int {
	return c.end - c.base
}

// Add accumulates the first valid samples of segment, which starts at the
// absolute position offset. Samples past valid (zero padding fed to the model)
// are ignored.
func (c *Compositor) Add(offset int, segment [][]float32, valid int) error {
	if len(segment) != c.channels {
		return fmt.Errorf("%w: got %d channels, want %d", ErrChannelMismatch, len(segment), c.channels)
	}
	if offset < c.base {
		return fmt.Errorf("%w: offset %d, drained up to %d", ErrAlreadyDrained, offset, c.base)
	}
	valid = min(valid, c.segmentLength)
	for ch, s := range segment {
		if len(s) < valid {
			return fmt.Errorf("%w: channel %d has %d samples, want %d", ErrChannelMismatch, ch, len(s), valid)
		}
	}
	if valid <= 0 {
		return nil
	}

	start := offset - c.base
	c.grow(start + valid)
	w := c.window[:valid]
	for ch, s := range segment {
		dst := c.sum[ch][start : start+valid]
		for i, v := range s[:valid] {
			dst[i] += v * w[i]
		}
	}
	weight := c.weight[start : start+valid]
	for i := range weight {
		weight[i] += w[i]
	}
	c.end = max(c.end, offset+valid)
	return nil
}

func (c *Compositor) grow(n int) {
	if len(c.weight) >= n {
		return
	}
	c.weight = append(c.weight, make([]float32, n-len(c.weight))...)
	for ch := range c.sum {
		c.sum[ch] = append(c.sum[ch], make([]float32, n-len(c.sum[ch]))...)
	}
}

// Drain returns the normalised samples from the last drained position up to
// the absolute position upTo (capped at the furthest accumulated sample), one
// slice per channel. Positions with zero accumulated weight are returned as
// accumulated.
func (c *Compositor) Drain(upTo int) [][]float32 {
	n := max(0, min(upTo, c.end)-c.base)
	out := make([][]float32, c.channels)
	for ch := range out {
		out[ch] = make([]float32, n)
		for i := 0; i < n; i++ {
			v := c.sum[ch][i]
			if w := c.weight[i]; w != 0 {
				v /= w
			}
			out[ch][i] = v
		}
		c.sum[ch] = shift(c.sum[ch], n)
	}
	c.weight = shift(c.weight, n)
	c.base += n
	return out
}

// shift drops the first n values, reusing the backing array.
func shift(s []float32, n int) []float32 {
	if n == 0 {
		return s
	}
	m := copy(s, s[n:])
	return s[:m]
}

// Reset discards all accumulated state.
func (c *Compositor) Reset() {
	for ch := range c.sum {
		c.sum[ch] = c.sum[ch][:0]
	}
	c.weight = c.weight[:0]
	c.base = 0
	c.end = 0
}

// Overlap composites a whole signal of totalLength samples per channel from
// segments, where segment k starts at k*Stride(). The last segments are
// truncated to the signal length.
func Overlap(totalLength int, segments [][][]float32, overlap, power float64) ([][]float32, error) {
	if len(segments) == 0 {
		return nil, fmt.Errorf("%w: no segments", ErrInvalidParameter)
	}
	if len(segments[0]) == 0 {
		return nil, fmt.Errorf("%w: segment without channels", ErrInvalidParameter)
	}
	c, err := New(len(segments[0][0]), overlap, power, len(segments[0]))
	if err != nil {
		return nil, err
	}
	for k, seg := range segments {
		offset := k * c.stride
		if offset >= totalLength {
			break
		}
		if err := c.Add(offset, seg, totalLength-offset); err != nil {
			return nil, err
		}
	}
	return c.Drain(totalLength), nil
}
