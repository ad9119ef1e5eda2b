package router

import (
	"context"

	"github.com/eleven-am/voice-client/internal/audio"
	"github.com/eleven-am/voice-client/internal/protocol"
)

type Player interface {
	Enqueue(chunk audio.Chunk) error
	Clear()
}

type Transcript interface {
	Append(text string)
}

type Outbox interface {
	Send(ctx context.Context, msg protocol.Outbound) error
}

// Observer receives events that carry no playback or transcript state.
type Observer interface {
	Observe(ctx context.Context, ev protocol.Event)
}

type Recorder interface {
	EventDecoded(kind string)
	AudioDropped(reason string)
}

type nopRecorder struct{}

func (nopRecorder) EventDecoded(string) {}
func (nopRecorder) AudioDropped(string) {}

const (
	DropCorrupt  = "corrupt"
	DropOverflow = "overflow"
)
