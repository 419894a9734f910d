package capture

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrCaptureUnavailable reports that the external recorder could not be
// reached within the retry budget. Recording continues locally.
var ErrCaptureUnavailable = errors.New("external capture unavailable")

// EventKind enumerates notifications from an external recorder.
type EventKind int

const (
	Connected EventKind = iota + 1
	Disconnected
	Started
	Stopped
	Failed
)

func (k EventKind) String() string {
	switch k {
	case Connected:
		return "connected"
	case Disconnected:
		return "disconnected"
	case Started:
		return "started"
	case Stopped:
		return "stopped"
	case Failed:
		return "failed"
	}
	return fmt.Sprintf("event(%d)", int(k))
}

// Event is an asynchronous notification from the external recorder.
type Event struct {
	Kind EventKind
	Err  error
	At   time.Time
}

// Recorder controls an out-of-process screen recorder. Acknowledgements
// arrive on Events, never as return values of the commands.
type Recorder interface {
	Connect(ctx context.Context, url, password string) error
	StartRecording(ctx context.Context) error
	StopRecording(ctx context.Context) error
	Events() <-chan Event
	Close() error
}
