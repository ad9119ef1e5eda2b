package capture

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eleven-am/voice-client/internal/audio"
	"github.com/eleven-am/voice-client/internal/shared"
	"golang.org/x/time/rate"
)

const (
	DefaultTick     = 30 * time.Millisecond
	DefaultMaxChunk = 4096
)

// Sink receives captured chunks. Offer must not block.
type Sink interface {
	Ready() bool
	Offer(chunk audio.Chunk) bool
}

type Config struct {
	Tick     time.Duration
	MaxChunk int
	WireRate int
}

type Stats struct {
	Sent      uint64
	Discarded uint64
	Dropped   uint64
}

type Source struct {
	mic  Microphone
	sink Sink
	cfg  Config
	log  *slog.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	readPos int
	seq     uint64
	buf     []float32

	active atomic.Bool
	muted  atomic.Bool

	sent      atomic.Uint64
	discarded atomic.Uint64
	dropped   atomic.Uint64

	missingOnce sync.Once
	dropLog     rate.Sometimes
}

// NewSource accepts a nil mic; Start then reports ErrNoCaptureDevice.
func NewSource(mic Microphone, sink Sink, cfg Config, log *slog.Logger) *Source {
	if log == nil {
		log = slog.Default()
	}
	if cfg.Tick <= 0 {
		cfg.Tick = DefaultTick
	}
	if cfg.MaxChunk <= 0 {
		cfg.MaxChunk = DefaultMaxChunk
	}
	if cfg.WireRate <= 0 && mic != nil {
		cfg.WireRate = mic.SampleRate()
	}
	return &Source{
		mic:     mic,
		sink:    sink,
		cfg:     cfg,
		log:     log.With("component", "capture"),
		buf:     make([]float32, cfg.MaxChunk),
		dropLog: rate.Sometimes{Interval: 5 * time.Second},
	}
}

func (s *Source) Start(ctx context.Context) error {
	if s.mic == nil {
		s.missingOnce.Do(func() {
			s.log.Warn("no capture device available, capture disabled")
		})
		return shared.ErrNoCaptureDevice
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active.Load() {
		return nil
	}

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.readPos = s.mic.Position()
	s.active.Store(true)

	go s.run(ctx, s.done)
	s.log.Info("capture started", "device_rate", s.mic.SampleRate(), "wire_rate", s.cfg.WireRate)
	return nil
}

func (s *Source) Stop() {
	s.mu.Lock()
	if !s.active.Load() {
		s.mu.Unlock()
		return
	}
	cancel, done := s.cancel, s.done
	s.mu.Unlock()

	cancel()
	<-done
	s.log.Info("capture stopped")
}

func (s *Source) SetMuted(muted bool) {
	s.muted.Store(muted)
}

func (s *Source) Muted() bool {
	return s.muted.Load()
}

func (s *Source) Active() bool {
	return s.active.Load()
}

func (s *Source) Stats() Stats {
	return Stats{
		Sent:      s.sent.Load(),
		Discarded: s.discarded.Load(),
		Dropped:   s.dropped.Load(),
	}
}

func (s *Source) run(ctx context.Context, done chan struct{}) {
	ticker := time.NewTicker(s.cfg.Tick)
	defer func() {
		ticker.Stop()
		s.active.Store(false)
		close(done)
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick()
		}
	}
}

func (s *Source) tick() {
	size := s.mic.Size()
	if size <= 0 {
		return
	}
	available := (s.mic.Position() - s.readPos + size) % size
	if available == 0 {
		return
	}

	n := min(available, s.cfg.MaxChunk)
	frame := s.buf[:n]
	s.mic.Read(frame, s.readPos)
	s.readPos = (s.readPos + n) % size

	if s.muted.Load() || !s.sink.Ready() {
		s.discarded.Add(uint64(n))
		return
	}

	resampled := audio.Resample(frame, s.mic.SampleRate(), s.cfg.WireRate)
	chunk := audio.NewChunk(audio.Float32ToInt16(resampled), s.cfg.WireRate, s.seq)
	s.seq++

	if !s.sink.Offer(chunk) {
		s.dropped.Add(1)
		s.dropLog.Do(func() {
			s.log.Warn("outbound audio queue full, dropping capture chunk", "samples", chunk.Len())
		})
		return
	}
	s.sent.Add(1)
}
