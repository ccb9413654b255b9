// Package separator feeds decoded audio to a source-separation model in
// fixed-length segments and composites the per-segment stems back into
// continuous streams.
package separator

import (
	"context"
	"errors"
)

const (
	// StemCount is the number of stems produced per segment.
	StemCount = 4
	// DefaultSegmentLength is the per-channel segment length of the
	// reference hybrid transformer model.
	DefaultSegmentLength = 343980
	// SampleRate is the rate every model input and output runs at.
	SampleRate = 44100
)

// ErrModelInference wraps any failure reported by a Model.
var ErrModelInference = errors.New("separator: model inference failed")

// Model separates one planar stereo segment of SegmentLength samples per
// channel into StemCount planar stereo stems of the same length.
type Model interface {
	SegmentLength() int
	Infer(ctx context.Context, segment [2][]float32) ([StemCount][2][]float32, error)
}

// Chunk is a span of finished output: the master (the input itself) and the
// four stems, all interleaved stereo and of equal length.
type Chunk struct {
	Master []float32
	Stems  [StemCount][]float32
}

// Len returns the number of samples in each stream of the chunk.
func (c Chunk) Len() int {
	return len(c.Master)
}

// Streams returns the master followed by the stems, the layout stored per record.
func (c Chunk) Streams() [][]float32 {
	streams := make([][]float32, 0, StemCount+1)
	streams = append(streams, c.Master)
	for _, s := range c.Stems {
		streams = append(streams, s)
	}
	return streams
}
