// Package waveform builds peak summaries of stereo streams for previews.
package waveform

import (
	"errors"
	"math"
	"strings"

	"stemgen/store"
)

// DefaultBuckets is the number of buckets in a preview.
const DefaultBuckets = 2048

// Peak holds the largest absolute sample per channel within one bucket.
type Peak struct {
	Left, Right float32
}

// Peaks is a downsampled preview of one stream.
type Peaks []Peak

// Builder accumulates interleaved stereo samples of a stream of known length
// into a fixed number of buckets.
type Builder struct {
	peaks      Peaks
	frames     uint64
	position   uint64
	bucketSize uint64

	pending    float32
	hasPending bool
}

// NewBuilder returns a builder for totalSamples interleaved samples.
func NewBuilder(totalSamples uint64, buckets int) *Builder {
	if buckets <= 0 {
		buckets = DefaultBuckets
	}
	frames := totalSamples / 2
	size := max(1, (frames+uint64(buckets)-1)/uint64(buckets))
	n := min(uint64(buckets), (frames+size-1)/size)
	return &Builder{
		peaks:      make(Peaks, n),
		frames:     frames,
		bucketSize: size,
	}
}

// Add feeds the next interleaved samples. A call may end inside a frame;
// the left sample is kept until the next call. Samples past the declared
// length are ignored.
func (b *Builder) Add(interleaved []float32) {
	if b.hasPending && len(interleaved) > 0 {
		b.addFrame(b.pending, interleaved[0])
		b.hasPending = false
		interleaved = interleaved[1:]
	}
	i := 0
	for ; i+1 < len(interleaved); i += 2 {
		b.addFrame(interleaved[i], interleaved[i+1])
	}
	if i < len(interleaved) {
		b.pending = interleaved[i]
		b.hasPending = true
	}
}

func (b *Builder) addFrame(left, right float32) {
	if b.position >= b.frames {
		return
	}
	p := &b.peaks[b.position/b.bucketSize]
	p.Left = max(p.Left, abs(left))
	p.Right = max(p.Right, abs(right))
	b.position++
}

// Peaks returns the summary built so far.
func (b *Builder) Peaks() Peaks {
	return b.peaks
}

func abs(v float32) float32 {
	return float32(math.Abs(float64(v)))
}

// Reader is the read side of a sealed store.
type Reader interface {
	TotalSamples() (uint64, bool)
	Read(bufs [store.StreamCount][]float32) (int, error)
	Seek(progress float32) (uint64, error)
}

// FromStore builds the preview of one stream of a sealed store. The read
// position is rewound before and after.
func FromStore(r Reader, stream, buckets int) (Peaks, error) {
	if stream < 0 || stream >= store.StreamCount {
		return nil, errors.New("waveform: stream index out of range")
	}
	total, ok := r.TotalSamples()
	if !ok {
		return nil, store.ErrNotSealed
	}
	if _, err := r.Seek(0); err != nil {
		return nil, err
	}
	defer r.Seek(0)

	b := NewBuilder(total, buckets)
	var bufs [store.StreamCount][]float32
	bufs[stream] = make([]float32, 1<<14)
	for {
		n, err := r.Read(bufs)
		if err != nil {
			return nil, err
		}
		b.Add(bufs[stream][:n])
		if n < len(bufs[stream]) {
			return b.Peaks(), nil
		}
	}
}

var levels = []rune("▁▂▃▄▅▆▇█")

// Sparkline renders the peaks as a line of block characters of the given
// width, scaled to the loudest bucket.
func (p Peaks) Sparkline(width int) string {
	if len(p) == 0 || width <= 0 {
		return ""
	}
	width = min(width, len(p))
	cols := make([]float32, width)
	var loudest float32
	for i, pk := range p {
		c := i * width / len(p)
		cols[c] = max(cols[c], pk.Left, pk.Right)
		loudest = max(loudest, cols[c])
	}

	var sb strings.Builder
	for _, v := range cols {
		idx := 0
		if loudest > 0 {
			idx = int(v / loudest * float32(len(levels)-1))
		}
		sb.WriteRune(levels[idx])
	}
	return sb.String()
}
