package waveform

import (
	"testing"
	"unicode/utf8"

	"stemgen/store"

	"github.com/google/uuid"
)

func TestBuilder(t *testing.T) {
	tests := []struct {
		name        string
		frames      int
		buckets     int
		chunk       int // samples per Add; 0 feeds two halves
		wantBuckets int
	}{
		{name: "more frames than buckets", frames: 1000, buckets: 10, wantBuckets: 10},
		{name: "uneven split", frames: 1001, buckets: 10, wantBuckets: 10},
		{name: "odd chunks", frames: 500, buckets: 7, chunk: 3, wantBuckets: 7},
		{name: "single samples", frames: 40, buckets: 4, chunk: 1, wantBuckets: 4},
		{name: "fewer frames than buckets", frames: 4, buckets: 10, wantBuckets: 4},
		{name: "empty", frames: 0, buckets: 10, wantBuckets: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := NewBuilder(uint64(2*tt.frames), tt.buckets)
			in := make([]float32, 2*tt.frames)
			for i := 0; i < tt.frames; i++ {
				in[2*i] = float32(i) / 10000
				in[2*i+1] = -float32(i) / 5000
			}
			if tt.chunk == 0 {
				b.Add(in[:len(in)/2])
				b.Add(in[len(in)/2:])
			} else {
				for start := 0; start < len(in); start += tt.chunk {
					b.Add(in[start:min(start+tt.chunk, len(in))])
				}
			}

			peaks := b.Peaks()
			if len(peaks) != tt.wantBuckets {
				t.Fatalf("len(Peaks()) = %d, want %d", len(peaks), tt.wantBuckets)
			}
			if tt.frames == 0 {
				return
			}
			last := peaks[len(peaks)-1]
			wantLeft := float32(tt.frames-1) / 10000
			if last.Left != wantLeft || last.Right != 2*wantLeft {
				t.Errorf("last peak = %+v, want {%v %v}", last, wantLeft, 2*wantLeft)
			}
			for i := 1; i < len(peaks); i++ {
				if peaks[i].Left < peaks[i-1].Left {
					t.Errorf("peaks not increasing at %d", i)
				}
			}
		})
	}
}

func TestFromStore(t *testing.T) {
	s, err := store.Create(uuid.New(), store.WithDir(t.TempDir()))
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	defer s.Close()

	streams := make([][]float32, store.StreamCount)
	for i := range streams {
		streams[i] = make([]float32, 40_000)
	}
	for j := range streams[3] {
		if j >= 20_000 {
			streams[3][j] = 0.5
		}
	}
	if err := s.Write(nil, streams); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if err := s.Complete(); err != nil {
		t.Fatalf("Complete() error = %v", err)
	}

	peaks, err := FromStore(s, 3, 4)
	if err != nil {
		t.Fatalf("FromStore() error = %v", err)
	}
	want := Peaks{{0, 0}, {0, 0}, {0.5, 0.5}, {0.5, 0.5}}
	if len(peaks) != len(want) {
		t.Fatalf("FromStore() = %v, want %v", peaks, want)
	}
	for i := range want {
		if peaks[i] != want[i] {
			t.Errorf("FromStore() = %v, want %v", peaks, want)
		}
	}
	if s.Position() != 0 {
		t.Errorf("Position() after FromStore = %d, want 0", s.Position())
	}

	line := peaks.Sparkline(4)
	if utf8.RuneCountInString(line) != 4 || line != "▁▁██" {
		t.Errorf("Sparkline() = %q", line)
	}
}
