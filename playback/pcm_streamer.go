package playback

import (
	"github.com/gopxl/beep/v2"
)

// PCMStreamer plays one interleaved stereo float32 buffer.
type PCMStreamer struct {
	pcm    []float32
	pcmIdx int
}

var _ beep.Streamer = (*PCMStreamer)(nil)

func NewPCMStreamer(pcm []float32) *PCMStreamer {
	return &PCMStreamer{pcm: pcm}
}

func (s *PCMStreamer) Err() error {
	return nil
}

// Len returns the number of frames left to play.
func (s *PCMStreamer) Len() int {
	return (len(s.pcm) - s.pcmIdx) / 2
}

func (s *PCMStreamer) Stream(samples [][2]float64) (n int, ok bool) {
	for ; n < len(samples) && s.pcmIdx+1 < len(s.pcm); n++ {
		samples[n][0] = float64(s.pcm[s.pcmIdx])
		samples[n][1] = float64(s.pcm[s.pcmIdx+1])
		s.pcmIdx += 2
	}
	return n, n > 0
}

// Queue plays streamers one after another and outputs silence when empty,
// so it can stay attached to the speaker for the lifetime of the sink.
type Queue struct {
	streamers []beep.Streamer
}

var _ beep.Streamer = (*Queue)(nil)

// Add appends streamers to the queue. The speaker lock must be held.
func (q *Queue) Add(streamers ...beep.Streamer) {
	q.streamers = append(q.streamers, streamers...)
}

// Clear drops every queued streamer. The speaker lock must be held.
func (q *Queue) Clear() {
	q.streamers = nil
}

// Len returns the number of queued streamers.
func (q *Queue) Len() int {
	return len(q.streamers)
}

func (q *Queue) Stream(samples [][2]float64) (n int, ok bool) {
	filled := 0
	for filled < len(samples) {
		if len(q.streamers) == 0 {
			for i := range samples[filled:] {
				samples[filled+i] = [2]float64{}
			}
			break
		}
		n, ok := q.streamers[0].Stream(samples[filled:])
		if !ok {
			q.streamers = q.streamers[1:]
		}
		filled += n
	}
	return len(samples), true
}

func (q *Queue) Err() error {
	return nil
}
