package playback

import (
	"fmt"

	"github.com/google/uuid"
)

// Command is a message accepted by the Scheduler.
type Command interface {
	command()
}

// PlayFile starts playing a sealed store. Mask selects the audible stems;
// bit i set means stem i is heard. Sending PlayFile for the store already
// playing only updates the mask.
type PlayFile struct {
	StoreID uuid.UUID
	Mask    uint8
}

// Seek moves playback to a fraction of the track in [0, 1].
type Seek struct {
	Progress float32
}

// Stop halts playback and returns the scheduler to Idle.
type Stop struct{}

// Exit terminates the scheduler.
type Exit struct{}

func (PlayFile) command() {}
func (Seek) command()     {}
func (Stop) command()     {}
func (Exit) command()     {}

// Event is a notification emitted by the Scheduler.
type Event interface {
	event()
}

// Ready is emitted once when the scheduler starts.
type Ready struct{}

// Progress reports the playback position as a fraction of the track.
type Progress struct {
	StoreID uuid.UUID
	Value   float32
}

// Finished is emitted when playback leaves a store, either at its end or
// after a read failure.
type Finished struct {
	StoreID uuid.UUID
	Err     error
}

func (Ready) event()    {}
func (Progress) event() {}
func (Finished) event() {}

// State is the scheduler state.
type State int32

const (
	Idle State = iota
	Playing
	Seeking
	Stopping
	Exited
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Playing:
		return "playing"
	case Seeking:
		return "seeking"
	case Stopping:
		return "stopping"
	case Exited:
		return "exited"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Sink consumes mixed interleaved stereo buffers. done is called once the
// buffer has been played; buffers dropped by Clear never call done.
type Sink interface {
	Queue(samples []float32, done func())
	Clear()
}
