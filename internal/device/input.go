package device

import (
	"io"
	"sync"

	"github.com/eleven-am/voice-client/internal/capture"
)

// openInputFunc opens and starts a driver input stream that delivers
// captured frames to write.
type openInputFunc func(write func([]float32)) (io.Closer, error)

// input owns the capture ring for the lifetime of a System. The ring is
// allocated at construction so a Microphone handed out before Start sees
// the samples the driver writes after Start.
type input struct {
	ring *capture.Ring
	open openInputFunc

	mu     sync.Mutex
	stream io.Closer
}

func newInput(cfg Config, open openInputFunc) *input {
	return &input{
		ring: capture.NewRing(cfg.InputRate*cfg.RingSeconds, cfg.InputRate),
		open: open,
	}
}

func (in *input) microphone() capture.Microphone {
	return in.ring
}

// start is a no-op while a stream is attached.
func (in *input) start() error {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.stream != nil {
		return nil
	}
	stream, err := in.open(in.ring.Write)
	if err != nil {
		return err
	}
	in.stream = stream
	return nil
}

func (in *input) attached() bool {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.stream != nil
}

// stop detaches the stream. The ring stays valid for later restarts.
func (in *input) stop() error {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.stream == nil {
		return nil
	}
	err := in.stream.Close()
	in.stream = nil
	return err
}
