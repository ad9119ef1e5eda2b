//go:build portaudio

package device

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/eleven-am/voice-client/internal/capture"
	"github.com/gordonklaus/portaudio"
)

type System struct {
	cfg    Config
	log    *slog.Logger
	render Renderer
	input  *input

	mu     sync.Mutex
	output *portaudio.Stream
}

// Open allocates the capture ring up front; Start attaches the driver
// streams to it.
func Open(cfg Config, render Renderer, log *slog.Logger) (*System, error) {
	cfg = cfg.withDefaults()
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("initialize portaudio: %w", err)
	}
	return &System{
		cfg:    cfg,
		log:    logger(log),
		render: render,
		input:  newInput(cfg, openDefaultInput(cfg)),
	}, nil
}

type paStream struct {
	*portaudio.Stream
}

func (s paStream) Close() error {
	_ = s.Stream.Stop()
	return s.Stream.Close()
}

func openDefaultInput(cfg Config) openInputFunc {
	return func(write func([]float32)) (io.Closer, error) {
		in, err := portaudio.OpenDefaultStream(1, 0, float64(cfg.InputRate), 0, func(frame []float32) {
			write(frame)
		})
		if err != nil {
			return nil, fmt.Errorf("open input stream: %w", err)
		}
		if err := in.Start(); err != nil {
			_ = in.Close()
			return nil, fmt.Errorf("start input stream: %w", err)
		}
		return paStream{in}, nil
	}
}

// Microphone is valid before Start. If the input stream fails to open
// the ring never advances and capture sends nothing.
func (s *System) Microphone() capture.Microphone {
	return s.input.microphone()
}

func (s *System) Start(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.input.start(); err != nil {
		s.log.Warn("failed to attach input stream", "error", err)
	}

	if s.output == nil {
		out, err := portaudio.OpenDefaultStream(0, 1, float64(s.cfg.OutputRate), s.cfg.FramesPerBuffer, func(frame []float32) {
			s.render.Render(frame)
		})
		if err != nil {
			return fmt.Errorf("open output stream: %w", err)
		}
		if err := out.Start(); err != nil {
			_ = out.Close()
			return fmt.Errorf("start output stream: %w", err)
		}
		s.output = out
	}

	s.log.Info("audio devices started",
		"input", s.input.attached(),
		"input_rate", s.cfg.InputRate,
		"output_rate", s.cfg.OutputRate)
	return nil
}

func (s *System) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_ = s.input.stop()
	if s.output != nil {
		_ = s.output.Stop()
		_ = s.output.Close()
		s.output = nil
	}
	return portaudio.Terminate()
}
