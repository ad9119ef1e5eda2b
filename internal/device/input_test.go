package device

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/eleven-am/voice-client/internal/audio"
	"github.com/eleven-am/voice-client/internal/capture"
)

type fakeStream struct {
	mu     sync.Mutex
	write  func([]float32)
	closed int
}

func (f *fakeStream) open(write func([]float32)) (io.Closer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.write = write
	return f, nil
}

func (f *fakeStream) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
	return nil
}

func (f *fakeStream) feed(samples []float32) {
	f.mu.Lock()
	write := f.write
	f.mu.Unlock()
	write(samples)
}

type chunkSink struct {
	mu     sync.Mutex
	chunks []audio.Chunk
}

func (s *chunkSink) Ready() bool { return true }

func (s *chunkSink) Offer(c audio.Chunk) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chunks = append(s.chunks, c)
	return true
}

func (s *chunkSink) samples() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.chunks {
		n += c.Len()
	}
	return n
}

func TestInput_MicrophoneBeforeStartReceivesSamples(t *testing.T) {
	stream := &fakeStream{}
	in := newInput(Config{}.withDefaults(), stream.open)

	mic := in.microphone()
	if mic == nil {
		t.Fatal("expected microphone before start")
	}

	sink := &chunkSink{}
	src := capture.NewSource(mic, sink, capture.Config{Tick: 5 * time.Millisecond, WireRate: 16000},
		slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err := src.Start(context.Background()); err != nil {
		t.Fatalf("capture Start error: %v", err)
	}
	defer src.Stop()

	if err := in.start(); err != nil {
		t.Fatalf("start error: %v", err)
	}
	stream.feed(make([]float32, 480))

	deadline := time.Now().Add(2 * time.Second)
	for sink.samples() < 480 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if got := sink.samples(); got != 480 {
		t.Fatalf("expected 480 samples at the sink, got %d", got)
	}
	if in.microphone() != mic {
		t.Error("expected the same microphone after start")
	}
}

func TestInput_StartStop(t *testing.T) {
	stream := &fakeStream{}
	in := newInput(Config{}.withDefaults(), stream.open)

	if err := in.start(); err != nil {
		t.Fatalf("start error: %v", err)
	}
	if err := in.start(); err != nil {
		t.Fatalf("second start error: %v", err)
	}
	if !in.attached() {
		t.Fatal("expected attached stream")
	}
	if err := in.stop(); err != nil {
		t.Fatalf("stop error: %v", err)
	}
	if err := in.stop(); err != nil {
		t.Fatalf("second stop error: %v", err)
	}
	if stream.closed != 1 {
		t.Errorf("expected one close, got %d", stream.closed)
	}
	if in.microphone() == nil {
		t.Error("expected microphone to outlive the stream")
	}
}

func TestInput_OpenFailureKeepsMicrophone(t *testing.T) {
	errBusy := errors.New("device busy")
	in := newInput(Config{}.withDefaults(), func(func([]float32)) (io.Closer, error) {
		return nil, errBusy
	})

	if err := in.start(); !errors.Is(err, errBusy) {
		t.Fatalf("expected %v, got %v", errBusy, err)
	}
	if in.attached() {
		t.Error("expected no attached stream")
	}
	if mic := in.microphone(); mic == nil || mic.Position() != 0 {
		t.Error("expected an idle microphone")
	}
}
