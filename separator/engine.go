package separator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"stemgen/compositor"
	"stemgen/logger"
)

// Engine buffers interleaved input until a full model segment is available,
// runs the model, and composites the results with a weighted overlap-add.
// An Engine is used by one goroutine.
type Engine struct {
	model  Model
	comp   *compositor.Compositor
	segLen int
	stride int
	logger *slog.Logger

	left, right []float32 // buffered input, left[0] sits at offset
	offset      int
	processed   bool

	// Input frames not yet emitted as master; masterL[0] sits at the
	// compositor's drained position.
	masterL, masterR []float32

	// A Send ending on a left sample leaves it here for the next call.
	pending    float32
	hasPending bool

	segments int
}

// NewEngine returns an engine running model with the given overlap ratio and
// window transition power.
func NewEngine(model Model, overlap, power float64) (*Engine, error) {
	segLen := model.SegmentLength()
	comp, err := compositor.New(segLen, overlap, power, 2*StemCount)
	if err != nil {
		return nil, err
	}
	return &Engine{
		model:  model,
		comp:   comp,
		segLen: segLen,
		stride: comp.Stride(),
		logger: logger.WithComponent("separator"),
	}, nil
}

// SegmentLength returns the model segment length per channel.
func (e *Engine) SegmentLength() int {
	return e.segLen
}

// Segments returns the number of model invocations since the engine was created.
func (e *Engine) Segments() int {
	return e.segments
}

// Send appends interleaved stereo input and runs the model for every full
// segment now buffered. The returned chunk holds the output that no later
// segment can change; it is empty while not enough input is buffered.
//
// interleaved may end in the middle of a frame: the trailing left sample is
// held back and paired with the first sample of the next call.
func (e *Engine) Send(ctx context.Context, interleaved []float32) (Chunk, error) {
	if e.hasPending && len(interleaved) > 0 {
		interleaved = append([]float32{e.pending}, interleaved...)
		e.hasPending = false
	}
	if len(interleaved)%2 != 0 {
		e.pending = interleaved[len(interleaved)-1]
		e.hasPending = true
		interleaved = interleaved[:len(interleaved)-1]
	}
	l, r := compositor.Deinterleave(interleaved)
	e.left = append(e.left, l...)
	e.right = append(e.right, r...)
	e.masterL = append(e.masterL, l...)
	e.masterR = append(e.masterR, r...)

	for len(e.left) >= e.segLen {
		if err := e.process(ctx, e.left[:e.segLen], e.right[:e.segLen], e.segLen); err != nil {
			return Chunk{}, err
		}
		e.left = e.left[:copy(e.left, e.left[e.stride:])]
		e.right = e.right[:copy(e.right, e.right[e.stride:])]
		e.offset += e.stride
	}
	return e.drain(e.offset), nil
}

// Flush zero-pads the remaining input to a full segment, runs the model a
// last time, and returns everything still pending truncated to the true input
// length. A held back half frame has no right sample and is dropped. The
// engine is reset afterwards.
func (e *Engine) Flush(ctx context.Context) (Chunk, error) {
	if e.hasPending {
		e.logger.Warn("Dropping trailing half frame", slog.Float64("sample", float64(e.pending)))
	}
	covered := 0
	if e.processed {
		covered = e.segLen - e.stride
	}
	remaining := len(e.left)
	if remaining > covered {
		left := make([]float32, e.segLen)
		right := make([]float32, e.segLen)
		copy(left, e.left)
		copy(right, e.right)
		if err := e.process(ctx, left, right, remaining); err != nil {
			return Chunk{}, err
		}
	}
	out := e.drain(e.offset + remaining)
	e.logger.Debug("Flushed separator", slog.Int("segments", e.segments), slog.Int("tail", remaining))
	e.Reset()
	return out, nil
}

// Reset discards buffered input and composited output.
func (e *Engine) Reset() {
	e.comp.Reset()
	e.left = e.left[:0]
	e.right = e.right[:0]
	e.masterL = e.masterL[:0]
	e.masterR = e.masterR[:0]
	e.offset = 0
	e.processed = false
	e.pending = 0
	e.hasPending = false
}

func (e *Engine) process(ctx context.Context, left, right []float32, valid int) error {
	stems, err := e.model.Infer(ctx, [2][]float32{left, right})
	if err != nil {
		if errors.Is(err, ErrModelInference) {
			return err
		}
		return fmt.Errorf("%w: segment %d: %w", ErrModelInference, e.segments, err)
	}

	planar := make([][]float32, 0, 2*StemCount)
	for s := range stems {
		planar = append(planar, stems[s][0], stems[s][1])
	}
	if err := e.comp.Add(e.offset, planar, valid); err != nil {
		return fmt.Errorf("%w: segment %d: %w", ErrModelInference, e.segments, err)
	}
	e.processed = true
	e.segments++
	e.logger.Debug("Separated segment", slog.Int("segment", e.segments), slog.Int("offset", e.offset), slog.Int("valid", valid))
	return nil
}

func (e *Engine) drain(upTo int) Chunk {
	planar := e.comp.Drain(upTo)
	n := len(planar[0])

	var c Chunk
	c.Master = compositor.Interleave(e.masterL[:n], e.masterR[:n])
	for s := range c.Stems {
		c.Stems[s] = compositor.Interleave(planar[2*s], planar[2*s+1])
	}
	e.masterL = e.masterL[:copy(e.masterL, e.masterL[n:])]
	e.masterR = e.masterR[:copy(e.masterR, e.masterR[n:])]
	return c
}
