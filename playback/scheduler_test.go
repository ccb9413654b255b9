package playback

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"stemgen/store"

	"github.com/google/uuid"
)

const testTimeout = 5 * time.Second

type fakeSink struct {
	mu       sync.Mutex
	autoDone bool
	queued   [][]float32
	dones    []func()
	cleared  int
}

func (f *fakeSink) Queue(samples []float32, done func()) {
	f.mu.Lock()
	f.queued = append(f.queued, samples)
	if !f.autoDone {
		f.dones = append(f.dones, done)
	}
	f.mu.Unlock()
	if f.autoDone {
		done()
	}
}

func (f *fakeSink) Clear() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cleared++
	f.dones = nil
}

func (f *fakeSink) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.queued)
}

func (f *fakeSink) clears() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cleared
}

func (f *fakeSink) buffers() [][]float32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]float32(nil), f.queued...)
}

func (f *fakeSink) release() {
	f.mu.Lock()
	dones := f.dones
	f.dones = nil
	f.mu.Unlock()
	for _, done := range dones {
		done()
	}
}

// writeTestStore seals a store where stream i holds i*1000 + j.
func writeTestStore(t *testing.T, dir string, samples int) uuid.UUID {
	t.Helper()
	id := uuid.New()
	s, err := store.Create(id, store.WithDir(dir), store.WithKeep(true))
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	defer s.Close()
	streams := make([][]float32, store.StreamCount)
	for i := range streams {
		streams[i] = make([]float32, samples)
		for j := range streams[i] {
			streams[i][j] = float32(i*1000 + j)
		}
	}
	if err := s.Write(nil, streams); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if err := s.Complete(); err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	return id
}

func startScheduler(t *testing.T, s *Scheduler) {
	t.Helper()
	errCh := make(chan error, 1)
	go func() { errCh <- s.Run(context.Background()) }()
	t.Cleanup(func() {
		s.Commands() <- Exit{}
		go func() {
			for range s.Events() {
			}
		}()
		select {
		case err := <-errCh:
			if err != nil {
				t.Errorf("Run() error = %v", err)
			}
		case <-time.After(testTimeout):
			t.Error("Run() did not return after Exit")
		}
	})
	waitEvent(t, s, func(ev Event) bool { _, ok := ev.(Ready); return ok })
}

func waitEvent(t *testing.T, s *Scheduler, match func(Event) bool) Event {
	t.Helper()
	deadline := time.After(testTimeout)
	for {
		select {
		case ev, ok := <-s.Events():
			if !ok {
				t.Fatal("events closed")
			}
			if match(ev) {
				return ev
			}
		case <-deadline:
			t.Fatal("timed out waiting for event")
		}
	}
}

func waitUntil(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(testTimeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for condition")
		}
		time.Sleep(time.Millisecond)
	}
}

func isFinished(ev Event) bool {
	_, ok := ev.(Finished)
	return ok
}

func flatten(bufs [][]float32) []float32 {
	var out []float32
	for _, b := range bufs {
		out = append(out, b...)
	}
	return out
}

func TestSchedulerMixing(t *testing.T) {
	tests := []struct {
		name string
		mask uint8
		want func(j int) float32
	}{
		{name: "all stems plays master", mask: AllStems, want: func(j int) float32 { return float32(j) }},
		{name: "single stem", mask: 0b0010, want: func(j int) float32 { return float32(2000 + j) }},
		{name: "two stems summed", mask: 0b0101, want: func(j int) float32 { return float32(1000+j) + float32(3000+j) }},
		{name: "silent", mask: 0, want: func(int) float32 { return 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			id := writeTestStore(t, dir, 1000)
			sink := &fakeSink{autoDone: true}
			s := New(sink, StoreOpener(dir), WithWindow(128))
			startScheduler(t, s)

			s.Commands() <- PlayFile{StoreID: id, Mask: tt.mask}
			ev := waitEvent(t, s, isFinished).(Finished)
			if ev.Err != nil || ev.StoreID != id {
				t.Fatalf("Finished = %+v", ev)
			}

			got := flatten(sink.buffers())
			if len(got) != 1000 {
				t.Fatalf("played %d samples, want 1000", len(got))
			}
			for j, v := range got {
				if v != tt.want(j) {
					t.Fatalf("sample %d = %v, want %v", j, v, tt.want(j))
				}
			}
			waitUntil(t, func() bool { return s.State() == Idle })
		})
	}
}

func TestSchedulerProgress(t *testing.T) {
	dir := t.TempDir()
	id := writeTestStore(t, dir, 400)
	s := New(&fakeSink{autoDone: true}, StoreOpener(dir), WithWindow(100))
	startScheduler(t, s)

	s.Commands() <- PlayFile{StoreID: id, Mask: AllStems}
	var values []float32
	waitEvent(t, s, func(ev Event) bool {
		if p, ok := ev.(Progress); ok {
			values = append(values, p.Value)
		}
		return isFinished(ev)
	})

	want := []float32{0.25, 0.5, 0.75, 1}
	if len(values) != len(want) {
		t.Fatalf("progress = %v, want %v", values, want)
	}
	for i := range want {
		if values[i] != want[i] {
			t.Errorf("progress = %v, want %v", values, want)
		}
	}
}

func TestSchedulerBackpressure(t *testing.T) {
	dir := t.TempDir()
	id := writeTestStore(t, dir, 10_000)
	sink := &fakeSink{}
	s := New(sink, StoreOpener(dir), WithWindow(100), WithLowWater(4))
	startScheduler(t, s)

	s.Commands() <- PlayFile{StoreID: id, Mask: AllStems}
	waitUntil(t, func() bool { return sink.count() == 5 })
	time.Sleep(20 * time.Millisecond)
	if n := sink.count(); n != 5 {
		t.Fatalf("queued %d buffers with nothing played, want 5", n)
	}
	if b := s.Buffered(); b != 5 {
		t.Errorf("Buffered() = %d, want 5", b)
	}

	sink.release()
	waitUntil(t, func() bool { return sink.count() == 10 })
	if s.State() != Playing {
		t.Errorf("State() = %v, want playing", s.State())
	}
}

func TestSchedulerSeek(t *testing.T) {
	dir := t.TempDir()
	id := writeTestStore(t, dir, 1000)
	sink := &fakeSink{}
	s := New(sink, StoreOpener(dir), WithWindow(100), WithLowWater(4))
	startScheduler(t, s)

	s.Commands() <- PlayFile{StoreID: id, Mask: AllStems}
	waitUntil(t, func() bool { return sink.count() == 5 })
	s.Commands() <- Seek{Progress: 0.5}
	waitEvent(t, s, isFinished)

	bufs := sink.buffers()
	if len(bufs) != 10 {
		t.Fatalf("queued %d buffers, want 10", len(bufs))
	}
	for k, b := range bufs[5:] {
		if want := float32(500 + 100*k); b[0] != want {
			t.Errorf("buffer %d starts at %v, want %v", 5+k, b[0], want)
		}
	}
	if n := sink.clears(); n < 2 {
		t.Errorf("sink cleared %d times, want at least 2", n)
	}
}

func TestSchedulerStop(t *testing.T) {
	dir := t.TempDir()
	id := writeTestStore(t, dir, 10_000)
	sink := &fakeSink{}
	s := New(sink, StoreOpener(dir), WithWindow(100))
	startScheduler(t, s)

	s.Commands() <- PlayFile{StoreID: id, Mask: AllStems}
	waitUntil(t, func() bool { return sink.count() == 5 })
	s.Commands() <- Stop{}
	waitUntil(t, func() bool { return s.State() == Idle })
	if b := s.Buffered(); b != 0 {
		t.Errorf("Buffered() after Stop = %d, want 0", b)
	}

	// Seek without a track is ignored.
	s.Commands() <- Seek{Progress: 0.5}
	time.Sleep(10 * time.Millisecond)
	if s.State() != Idle {
		t.Errorf("State() after Seek while idle = %v, want idle", s.State())
	}
}

func TestSchedulerSameStoreUpdatesMask(t *testing.T) {
	dir := t.TempDir()
	id := writeTestStore(t, dir, 1000)
	sink := &fakeSink{}
	s := New(sink, StoreOpener(dir), WithWindow(100), WithLowWater(4))
	startScheduler(t, s)

	s.Commands() <- PlayFile{StoreID: id, Mask: AllStems}
	waitUntil(t, func() bool { return sink.count() == 5 })
	s.Commands() <- PlayFile{StoreID: id, Mask: 0b0001}
	waitUntil(t, func() bool { return len(s.commands) == 0 })
	sink.release()
	waitEvent(t, s, isFinished)

	bufs := sink.buffers()
	if len(bufs) != 10 {
		t.Fatalf("queued %d buffers, want 10", len(bufs))
	}
	if bufs[4][0] != 400 {
		t.Errorf("buffer 4 starts at %v, want 400", bufs[4][0])
	}
	if bufs[5][0] != 1500 {
		t.Errorf("buffer 5 starts at %v, want 1500", bufs[5][0])
	}
}

type failingReader struct {
	id uuid.UUID
}

func (r failingReader) ID() uuid.UUID                { return r.id }
func (r failingReader) TotalSamples() (uint64, bool) { return 4096, true }
func (r failingReader) Read([store.StreamCount][]float32) (int, error) {
	return 0, store.ErrCorruptRecord
}
func (r failingReader) Seek(float32) (uint64, error) { return 0, nil }
func (r failingReader) Close() error                 { return nil }

func TestSchedulerReadFailure(t *testing.T) {
	id := uuid.New()
	open := func(uuid.UUID) (Reader, error) { return failingReader{id: id}, nil }
	s := New(&fakeSink{autoDone: true}, open)
	startScheduler(t, s)

	s.Commands() <- PlayFile{StoreID: id, Mask: AllStems}
	ev := waitEvent(t, s, isFinished).(Finished)
	if !errors.Is(ev.Err, store.ErrCorruptRecord) {
		t.Errorf("Finished.Err = %v, want ErrCorruptRecord", ev.Err)
	}
	waitUntil(t, func() bool { return s.State() == Idle })
}

func TestSchedulerOpenFailure(t *testing.T) {
	s := New(&fakeSink{autoDone: true}, StoreOpener(t.TempDir()))
	startScheduler(t, s)

	s.Commands() <- PlayFile{StoreID: uuid.New(), Mask: AllStems}
	waitUntil(t, func() bool { return len(s.commands) == 0 })
	time.Sleep(10 * time.Millisecond)
	if s.State() != Idle {
		t.Errorf("State() = %v, want idle", s.State())
	}
}

func TestMix(t *testing.T) {
	var bufs [store.StreamCount][]float32
	for i := range bufs {
		bufs[i] = []float32{float32(i), float32(10 * i), 7}
	}

	tests := []struct {
		name string
		mask uint8
		want []float32
	}{
		{name: "master", mask: AllStems, want: []float32{0, 0}},
		{name: "stems 1 and 4", mask: 0b1001, want: []float32{5, 50}},
		{name: "none", mask: 0, want: []float32{0, 0}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Mix(bufs, tt.mask, 2)
			if len(got) != len(tt.want) {
				t.Fatalf("Mix() = %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Fatalf("Mix() = %v, want %v", got, tt.want)
				}
			}
		})
	}
}

func TestQueueStreamsInOrder(t *testing.T) {
	q := &Queue{}
	q.Add(NewPCMStreamer([]float32{0.1, 0.2, 0.3, 0.4}), NewPCMStreamer([]float32{0.5, 0.6}))

	samples := make([][2]float64, 4)
	n, ok := q.Stream(samples)
	if n != 4 || !ok {
		t.Fatalf("Stream() = %d, %v", n, ok)
	}
	want := [][2]float64{{0.1, 0.2}, {0.3, 0.4}, {0.5, 0.6}, {0, 0}}
	for i := range want {
		if float32(samples[i][0]) != float32(want[i][0]) || float32(samples[i][1]) != float32(want[i][1]) {
			t.Errorf("frame %d = %v, want %v", i, samples[i], want[i])
		}
	}
	if q.Len() != 0 {
		t.Errorf("Len() = %d after draining", q.Len())
	}
}
