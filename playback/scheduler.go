package playback

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"stemgen/logger"
	"stemgen/store"

	"github.com/google/uuid"
)

const (
	// DefaultWindow is the number of interleaved samples read per tick.
	DefaultWindow = 2048
	// DefaultLowWater is the number of queued buffers above which the
	// scheduler waits for the sink to drain.
	DefaultLowWater = 4
	// SampleRate is the rate of every stored stream.
	SampleRate = 44100
)

// Reader is the read side of a sealed store.
type Reader interface {
	ID() uuid.UUID
	TotalSamples() (uint64, bool)
	Read(bufs [store.StreamCount][]float32) (int, error)
	Seek(progress float32) (uint64, error)
	Close() error
}

// Opener opens a read handle on the store identified by id.
type Opener func(id uuid.UUID) (Reader, error)

// StoreOpener returns an Opener that opens sealed stores from dir.
func StoreOpener(dir string) Opener {
	return func(id uuid.UUID) (Reader, error) {
		st, err := store.OpenExisting(id, store.WithDir(dir))
		if err != nil {
			return nil, err
		}
		return st, nil
	}
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithWindow sets the number of interleaved samples read per tick.
func WithWindow(samples int) Option {
	return func(s *Scheduler) {
		if samples > 0 {
			s.window = samples - samples%2
		}
	}
}

// WithLowWater sets the queued buffer count that triggers waiting.
func WithLowWater(buffers int64) Option {
	return func(s *Scheduler) {
		s.lowWater = buffers
	}
}

// WithLogger sets the scheduler logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) {
		if l != nil {
			s.logger = l
		}
	}
}

// Scheduler reads mixed windows from a store and feeds them to a Sink,
// pacing itself on the number of buffers the sink has not yet played.
//
// Run owns all playback state; other goroutines interact through Commands
// and Events.
type Scheduler struct {
	sink   Sink
	open   Opener
	logger *slog.Logger

	commands chan Command
	events   chan Event

	window   int
	lowWater int64
	pause    time.Duration

	// buffered counts buffers handed to the sink and not yet played. It is
	// the only state shared with the sink's callbacks.
	buffered   atomic.Int64
	generation atomic.Uint64
	state      atomic.Int32

	current Reader
	mask    uint8
	cursor  uint64
	total   uint64
	seekTo  float32
	bufs    [store.StreamCount][]float32
}

// New returns a scheduler feeding sink with stores opened by open.
func New(sink Sink, open Opener, opts ...Option) *Scheduler {
	s := &Scheduler{
		sink:     sink,
		open:     open,
		logger:   logger.WithComponent("playback"),
		commands: make(chan Command, 16),
		events:   make(chan Event, 64),
		window:   DefaultWindow,
		lowWater: DefaultLowWater,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.pause = time.Duration(float64(time.Second) * float64(s.window) / SampleRate / 2)
	for i := range s.bufs {
		s.bufs[i] = make([]float32, s.window)
	}
	return s
}

// Commands returns the channel the scheduler reads commands from.
func (s *Scheduler) Commands() chan<- Command {
	return s.commands
}

// Events returns the channel the scheduler publishes events on.
func (s *Scheduler) Events() <-chan Event {
	return s.events
}

// State returns the current scheduler state.
func (s *Scheduler) State() State {
	return State(s.state.Load())
}

// Buffered returns the number of buffers queued on the sink and not yet played.
func (s *Scheduler) Buffered() int64 {
	return s.buffered.Load()
}

func (s *Scheduler) setState(state State) {
	prev := State(s.state.Swap(int32(state)))
	if prev != state {
		s.logger.Debug("State changed", slog.String("from", prev.String()), slog.String("to", state.String()))
	}
}

// Run drives the scheduler until an Exit command, a closed command channel
// or ctx cancellation. The events channel is closed on return.
func (s *Scheduler) Run(ctx context.Context) error {
	defer close(s.events)
	defer s.release()

	s.emit(ctx, Ready{})
	s.logger.Info("Playback scheduler ready", slog.Int("window", s.window), slog.Int64("low_water", s.lowWater))

	for {
		if s.State() == Idle {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case cmd, ok := <-s.commands:
				s.handle(cmd, ok)
			}
		} else {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case cmd, ok := <-s.commands:
				s.handle(cmd, ok)
			default:
			}
		}

		switch s.State() {
		case Exited:
			s.logger.Info("Playback scheduler exiting")
			return nil
		case Stopping:
			s.resetSink()
			s.closeCurrent()
			s.setState(Idle)
		case Seeking:
			s.seek(ctx)
		case Playing:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) handle(cmd Command, ok bool) {
	if !ok {
		s.setState(Exited)
		return
	}

	switch c := cmd.(type) {
	case PlayFile:
		state := s.State()
		if s.current != nil && s.current.ID() == c.StoreID && (state == Playing || state == Seeking) {
			s.mask = c.Mask
			s.logger.Debug("Updated mute mask", slog.String("store", c.StoreID.String()), slog.Int("mask", int(c.Mask)))
			return
		}
		s.play(c)
	case Seek:
		if s.current == nil {
			s.logger.Debug("Ignoring seek without a track")
			return
		}
		s.seekTo = c.Progress
		s.setState(Seeking)
	case Stop:
		s.setState(Stopping)
	case Exit:
		s.setState(Exited)
	default:
		s.logger.Warn("Unknown playback command", slog.Any("command", cmd))
	}
}

func (s *Scheduler) play(c PlayFile) {
	s.resetSink()
	s.closeCurrent()

	r, err := s.open(c.StoreID)
	if err != nil {
		s.logger.Error("Failed to open store", slog.String("store", c.StoreID.String()), slog.Any("error", err))
		s.setState(Idle)
		return
	}
	total, ok := r.TotalSamples()
	if !ok {
		s.logger.Error("Store is not sealed", slog.String("store", c.StoreID.String()))
		r.Close()
		s.setState(Idle)
		return
	}

	s.current = r
	s.total = total
	s.cursor = 0
	s.mask = c.Mask
	s.logger.Info("Playing store", slog.String("store", c.StoreID.String()), slog.Uint64("samples", total), slog.Int("mask", int(c.Mask)))
	s.setState(Playing)
}

func (s *Scheduler) seek(ctx context.Context) {
	s.resetSink()
	pos, err := s.current.Seek(s.seekTo)
	if err != nil {
		s.fail(ctx, err)
		return
	}
	s.cursor = pos
	s.setState(Playing)
	s.emit(ctx, Progress{StoreID: s.current.ID(), Value: s.progress()})
}

func (s *Scheduler) tick(ctx context.Context) {
	if s.buffered.Load() > s.lowWater {
		t := time.NewTimer(s.pause)
		defer t.Stop()
		select {
		case <-ctx.Done():
		case <-t.C:
		}
		return
	}

	if s.cursor >= s.total {
		s.finish(ctx, nil)
		return
	}

	req := selectStreams(s.bufs, s.mask)
	n, err := s.current.Read(req)
	if err != nil {
		s.fail(ctx, err)
		return
	}
	if n == 0 {
		s.finish(ctx, nil)
		return
	}

	mixed := Mix(req, s.mask, n)
	gen := s.generation.Load()
	s.buffered.Add(1)
	s.sink.Queue(mixed, func() {
		if s.generation.Load() == gen {
			s.buffered.Add(-1)
		}
	})

	s.cursor += uint64(n)
	s.emit(ctx, Progress{StoreID: s.current.ID(), Value: s.progress()})
	if s.cursor >= s.total {
		s.finish(ctx, nil)
	}
}

func (s *Scheduler) progress() float32 {
	if s.total == 0 {
		return 1
	}
	return float32(float64(s.cursor) / float64(s.total))
}

func (s *Scheduler) fail(ctx context.Context, err error) {
	s.logger.Error("Playback read failed", slog.String("store", s.current.ID().String()), slog.Any("error", err))
	s.finish(ctx, err)
}

func (s *Scheduler) finish(ctx context.Context, err error) {
	id := s.current.ID()
	s.closeCurrent()
	s.setState(Idle)
	s.emit(ctx, Finished{StoreID: id, Err: err})
}

// resetSink drops everything queued on the sink. Callbacks of dropped
// buffers belong to an old generation and no longer count.
func (s *Scheduler) resetSink() {
	s.generation.Add(1)
	s.sink.Clear()
	s.buffered.Store(0)
}

func (s *Scheduler) closeCurrent() {
	if s.current == nil {
		return
	}
	if err := s.current.Close(); err != nil {
		s.logger.Warn("Failed to close store", slog.Any("error", err))
	}
	s.current = nil
	s.total = 0
	s.cursor = 0
}

func (s *Scheduler) release() {
	s.resetSink()
	s.closeCurrent()
	s.setState(Exited)
}

// emit publishes ev. Progress events are dropped when nobody keeps up.
func (s *Scheduler) emit(ctx context.Context, ev Event) {
	if _, ok := ev.(Progress); ok {
		select {
		case s.events <- ev:
		default:
		}
		return
	}
	select {
	case s.events <- ev:
	case <-ctx.Done():
	}
}
