package device

import (
	"log/slog"
	"time"
)

// Renderer is pulled by the output stream on its own clock.
type Renderer interface {
	Render(out []float32) int
}

type Config struct {
	InputRate       int
	OutputRate      int
	FramesPerBuffer int
	RingSeconds     int
	// Period drives the headless output clock.
	Period time.Duration
}

func (c Config) withDefaults() Config {
	if c.InputRate <= 0 {
		c.InputRate = 16000
	}
	if c.OutputRate <= 0 {
		c.OutputRate = 24000
	}
	if c.FramesPerBuffer <= 0 {
		c.FramesPerBuffer = c.OutputRate / 50
	}
	if c.RingSeconds <= 0 {
		c.RingSeconds = 2
	}
	if c.Period <= 0 {
		c.Period = 20 * time.Millisecond
	}
	return c
}

func logger(log *slog.Logger) *slog.Logger {
	if log == nil {
		log = slog.Default()
	}
	return log.With("component", "device")
}
