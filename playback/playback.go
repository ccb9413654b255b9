package playback

import (
	"fmt"
	"sync"
	"time"

	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/effects"
	"github.com/gopxl/beep/v2/speaker"
)

// SpeakerSink plays mixed buffers on the default audio device.
type SpeakerSink struct {
	ctrl       *beep.Ctrl
	volume     *effects.Volume
	mu         sync.RWMutex
	closed     bool
	sampleRate beep.SampleRate
	queue      *Queue
}

var _ Sink = (*SpeakerSink)(nil)

// NewSpeakerSink initialises the speaker at deviceRate with a buffer of the
// given duration. Stored audio is resampled when deviceRate differs from
// SampleRate.
func NewSpeakerSink(deviceRate beep.SampleRate, buffer time.Duration) (*SpeakerSink, error) {
	if deviceRate == 0 {
		deviceRate = SampleRate
	}
	err := speaker.Init(deviceRate, deviceRate.N(buffer))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize speaker: %w", err)
	}

	queue := &Queue{}
	var streamer beep.Streamer = queue
	if deviceRate != SampleRate {
		streamer = beep.Resample(4, SampleRate, deviceRate, queue)
	}
	volume := &effects.Volume{Streamer: streamer, Base: 2}
	ctrl := &beep.Ctrl{Streamer: volume}

	sink := &SpeakerSink{
		ctrl:       ctrl,
		volume:     volume,
		sampleRate: deviceRate,
		queue:      queue,
	}

	speaker.Play(ctrl)

	return sink, nil
}

// Queue schedules samples after everything already queued; done runs on the
// speaker goroutine once they have been played.
func (p *SpeakerSink) Queue(samples []float32, done func()) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return
	}

	speaker.Lock()
	p.queue.Add(beep.Seq(NewPCMStreamer(samples), beep.Callback(done)))
	speaker.Unlock()
}

// Clear drops every queued buffer without running its callback.
func (p *SpeakerSink) Clear() {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if !p.closed {
		speaker.Lock()
		p.queue.Clear()
		speaker.Unlock()
	}
}

// SetVolume sets the output gain in powers of two; 0 leaves the signal
// unchanged and negative values attenuate.
func (p *SpeakerSink) SetVolume(volume float64, muted bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.closed {
		speaker.Lock()
		p.volume.Volume = volume
		p.volume.Silent = muted
		speaker.Unlock()
	}
}

// Pause pauses the output
func (p *SpeakerSink) Pause() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.closed {
		speaker.Lock()
		p.ctrl.Paused = true
		speaker.Unlock()
	}
}

// Resume resumes the output
func (p *SpeakerSink) Resume() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.closed {
		speaker.Lock()
		p.ctrl.Paused = false
		speaker.Unlock()
	}
}

// Close stops the output and releases the speaker
func (p *SpeakerSink) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}

	p.closed = true

	speaker.Lock()
	p.queue.Clear()
	speaker.Unlock()

	speaker.Close()

	return nil
}

// IsPlaying returns true if the output is not paused
func (p *SpeakerSink) IsPlaying() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return false
	}

	speaker.Lock()
	playing := !p.ctrl.Paused
	speaker.Unlock()

	return playing
}
