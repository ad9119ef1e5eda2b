//go:build !portaudio

package device

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/eleven-am/voice-client/internal/capture"
)

// System without PortAudio has no microphone and drains the renderer on a
// wall clock so playback state still advances.
type System struct {
	cfg    Config
	log    *slog.Logger
	render Renderer

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func Open(cfg Config, render Renderer, log *slog.Logger) (*System, error) {
	return &System{cfg: cfg.withDefaults(), log: logger(log), render: render}, nil
}

func (s *System) Microphone() capture.Microphone {
	return nil
}

func (s *System) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return nil
	}

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	frames := int(int64(s.cfg.OutputRate) * int64(s.cfg.Period) / int64(time.Second))
	go s.run(ctx, make([]float32, frames))

	s.log.Info("headless audio output started", "output_rate", s.cfg.OutputRate, "period", s.cfg.Period)
	return nil
}

func (s *System) run(ctx context.Context, frame []float32) {
	defer close(s.done)
	ticker := time.NewTicker(s.cfg.Period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.render.Render(frame)
		}
	}
}

func (s *System) Close() error {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	return nil
}
