package voicesession

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/eleven-am/voice-client/internal/capture"
	"github.com/eleven-am/voice-client/internal/metrics"
	"github.com/eleven-am/voice-client/internal/observer"
	"github.com/eleven-am/voice-client/internal/playback"
	"github.com/eleven-am/voice-client/internal/protocol"
	"github.com/eleven-am/voice-client/internal/router"
	"github.com/eleven-am/voice-client/internal/session"
	"github.com/eleven-am/voice-client/internal/shared"
	"github.com/eleven-am/voice-client/internal/transcript"
	"github.com/eleven-am/voice-client/internal/transport"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

const (
	DefaultSendQueue      = 64
	DefaultImageChunkSize = 60000
	statsInterval         = time.Second
)

type Config struct {
	Transport      transport.Config
	OutputRate     int
	ServerRate     int
	FadeSec        float64
	Capture        capture.Config
	SendQueue      int
	ImageChunkSize int
}

// Deps are shared by every session a Manager creates. Only Player is
// required.
type Deps struct {
	Player      *playback.Buffer
	Microphone  capture.Microphone
	Sessions    *session.Store
	Transcripts *transcript.Store
	Redis       *redis.Client
	Metrics     *metrics.Metrics
	Observers   []router.Observer
}

type stateChange struct {
	from, to transport.State
}

type VoiceSession struct {
	id   string
	cfg  Config
	deps Deps
	log  *slog.Logger

	conn       *transport.Session
	router     *router.Router
	capture    *capture.Source
	transcript *transcript.Accumulator
	persisted  <-chan transcript.Entry
	unpersist  func()
	publisher  *observer.Publisher

	outbound chan protocol.Outbound
	states   chan stateChange

	startedAt time.Time

	mu        sync.Mutex
	cancel    context.CancelFunc
	group     *errgroup.Group
	started   bool
	closeOnce sync.Once

	sendErrLog rate.Sometimes
}

func New(cfg Config, deps Deps, log *slog.Logger) (*VoiceSession, error) {
	if deps.Player == nil {
		return nil, errors.New("voicesession: player is required")
	}
	if log == nil {
		log = slog.Default()
	}
	if cfg.SendQueue <= 0 {
		cfg.SendQueue = DefaultSendQueue
	}
	if cfg.ImageChunkSize <= 0 {
		cfg.ImageChunkSize = DefaultImageChunkSize
	}
	if cfg.OutputRate <= 0 {
		cfg.OutputRate = deps.Player.SampleRate()
	}

	id := shared.NewSessionID()
	log = log.With("session_id", id)

	s := &VoiceSession{
		id:         id,
		cfg:        cfg,
		deps:       deps,
		log:        log,
		conn:       transport.NewSession(id, cfg.Transport, log),
		transcript: transcript.NewAccumulator(0),
		outbound:   make(chan protocol.Outbound, cfg.SendQueue),
		states:     make(chan stateChange, 16),
		sendErrLog: rate.Sometimes{First: 1, Interval: 5 * time.Second},
	}

	s.persisted, s.unpersist = s.transcript.Subscribe(0)

	observers := append([]router.Observer(nil), deps.Observers...)
	if deps.Redis != nil {
		s.publisher = observer.NewPublisher(deps.Redis, id, log)
		observers = append(observers, s.publisher)
	}

	var recorder router.Recorder
	if deps.Metrics != nil {
		recorder = deps.Metrics
	}

	s.router = router.New(router.Config{
		SampleRate: cfg.OutputRate,
		ServerRate: cfg.ServerRate,
		FadeSec:    cfg.FadeSec,
	}, router.Deps{
		Player:     deps.Player,
		Transcript: s.transcript,
		Outbox:     s,
		Observers:  observers,
		Recorder:   recorder,
	}, log)

	s.capture = capture.NewSource(deps.Microphone, s, cfg.Capture, log)
	s.conn.OnStateChange(s.onStateChange)

	return s, nil
}

func (s *VoiceSession) ID() string {
	return s.id
}

func (s *VoiceSession) State() transport.State {
	return s.conn.State()
}

func (s *VoiceSession) Done() <-chan struct{} {
	return s.conn.Done()
}

func (s *VoiceSession) Err() error {
	return s.conn.Err()
}

func (s *VoiceSession) StartedAt() time.Time {
	return s.startedAt
}

// Start opens the transport and launches the session loops. A missing
// microphone leaves capture disabled but the session still runs.
func (s *VoiceSession) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = true
	s.startedAt = time.Now().UTC()
	s.mu.Unlock()

	if s.deps.Sessions != nil {
		rec := &session.Record{
			ID:        s.id,
			ServerURL: s.cfg.Transport.BaseURL,
			State:     transport.StateDisconnected.String(),
			StartedAt: s.startedAt,
		}
		if err := s.deps.Sessions.Create(ctx, rec); err != nil {
			s.log.Warn("failed to create session record", "error", err)
		}
	}

	if err := s.conn.Connect(ctx); err != nil {
		s.persistState(ctx, transport.StateClosed, err)
		return fmt.Errorf("connect session: %w", err)
	}
	if s.deps.Sessions != nil {
		if err := s.deps.Sessions.SetEvents(ctx, s.id, s.conn.HasEvents()); err != nil {
			s.log.Warn("failed to record events channel", "error", err)
		}
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	group, gctx := errgroup.WithContext(runCtx)

	s.mu.Lock()
	s.cancel = cancel
	s.group = group
	s.mu.Unlock()

	group.Go(func() error { return s.dispatchLoop(gctx) })
	group.Go(func() error { return s.sendLoop(gctx) })
	group.Go(func() error { return s.transcriptLoop(gctx) })
	group.Go(func() error { return s.stateLoop(gctx) })
	if s.deps.Metrics != nil {
		group.Go(func() error { return s.statsLoop(gctx) })
	}

	if err := s.capture.Start(gctx); err != nil && !errors.Is(err, shared.ErrNoCaptureDevice) {
		s.log.Warn("capture failed to start", "error", err)
	}
	if s.deps.Metrics != nil {
		s.deps.Metrics.ActiveSession.Set(1)
	}

	s.log.Info("voice session started", "server", s.cfg.Transport.BaseURL, "events", s.conn.HasEvents())
	return nil
}

// Shutdown stops capture, closes the transport and waits for the session
// loops until ctx expires. Buffered playback is discarded.
func (s *VoiceSession) Shutdown(ctx context.Context) error {
	var err error
	s.closeOnce.Do(func() {
		s.capture.Stop()
		err = s.conn.Shutdown(ctx)

		s.mu.Lock()
		cancel, group := s.cancel, s.group
		s.mu.Unlock()

		if cancel != nil {
			cancel()
		}
		if group != nil {
			waited := make(chan struct{})
			go func() {
				_ = group.Wait()
				close(waited)
			}()
			select {
			case <-waited:
			case <-ctx.Done():
				if err == nil {
					err = fmt.Errorf("shutdown: %w", ctx.Err())
				}
			}
		}

		s.deps.Player.Clear()
		s.persistState(context.WithoutCancel(ctx), transport.StateClosed, s.conn.Err())
		if s.deps.Metrics != nil {
			s.deps.Metrics.ActiveSession.Set(0)
		}
		s.log.Info("voice session stopped", "transcript_fragments", s.transcript.Len())
	})
	return err
}

// Close shuts the session down with a bounded wait.
func (s *VoiceSession) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Shutdown(ctx); err != nil {
		s.log.Warn("shutdown incomplete", "error", err)
	}
}

func (s *VoiceSession) SetMuted(muted bool) {
	s.capture.SetMuted(muted)
	s.log.Info("microphone mute changed", "muted", muted)
}

func (s *VoiceSession) Muted() bool {
	return s.capture.Muted()
}

func (s *VoiceSession) CaptureActive() bool {
	return s.capture.Active()
}

func (s *VoiceSession) Transcript() string {
	return s.transcript.Text()
}

func (s *VoiceSession) TranscriptEntries() []transcript.Entry {
	return s.transcript.Entries()
}

// Updates streams transcript fragments to UI consumers. Slow readers miss
// fragments rather than stalling the session or its persistence.
func (s *VoiceSession) Updates() <-chan transcript.Entry {
	return s.transcript.Updates()
}

func (s *VoiceSession) CaptureStats() capture.Stats {
	return s.capture.Stats()
}

func (s *VoiceSession) PlaybackStats() playback.Stats {
	return s.deps.Player.Stats()
}

func (s *VoiceSession) dispatchLoop(ctx context.Context) error {
	messages := s.conn.Messages()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg := <-messages:
			s.router.Handle(ctx, msg.Data)
		case <-s.conn.Done():
			for {
				select {
				case msg := <-messages:
					s.router.Handle(ctx, msg.Data)
				default:
					s.capture.Stop()
					if err := s.conn.Err(); err != nil {
						s.log.Warn("transport lost", "error", err)
					}
					return nil
				}
			}
		}
	}
}

func (s *VoiceSession) transcriptLoop(ctx context.Context) error {
	defer s.unpersist()
	for {
		select {
		case <-ctx.Done():
			return nil
		case entry, ok := <-s.persisted:
			if !ok {
				return nil
			}
			s.recordTranscript(ctx, entry)
		}
	}
}

func (s *VoiceSession) recordTranscript(ctx context.Context, entry transcript.Entry) {
	if s.deps.Transcripts != nil {
		if err := s.deps.Transcripts.Append(ctx, s.id, entry); err != nil {
			s.log.Warn("failed to persist transcript fragment", "seq", entry.Seq, "error", err)
		}
	}
	if s.deps.Sessions != nil {
		if err := s.deps.Sessions.Increment(ctx, s.id, "transcript_fragments", 1); err != nil {
			s.log.Debug("failed to count transcript fragment", "error", err)
		}
	}
	if s.publisher != nil {
		payload := map[string]any{"seq": entry.Seq, "text": entry.Text}
		if err := s.publisher.Publish(ctx, "transcript", payload); err != nil {
			s.log.Debug("failed to publish transcript", "error", err)
		}
	}
}

func (s *VoiceSession) onStateChange(from, to transport.State) {
	select {
	case s.states <- stateChange{from: from, to: to}:
	default:
		s.log.Warn("dropping state change notification", "to", to.String())
	}
}

func (s *VoiceSession) stateLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case change := <-s.states:
			if s.deps.Metrics != nil {
				s.deps.Metrics.StateChanged(change.from.String(), change.to.String())
			}
			var cause error
			if change.to == transport.StateClosed {
				cause = s.conn.Err()
			}
			s.persistState(ctx, change.to, cause)
			if s.publisher != nil {
				payload := map[string]string{"from": change.from.String(), "to": change.to.String()}
				if err := s.publisher.Publish(ctx, "state", payload); err != nil {
					s.log.Debug("failed to publish state", "error", err)
				}
			}
		}
	}
}

func (s *VoiceSession) statsLoop(ctx context.Context) error {
	ticker := time.NewTicker(statsInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			pb := s.deps.Player.Stats()
			s.deps.Metrics.ObservePlayback(metrics.PlaybackStats{
				Buffered:  s.deps.Player.Buffered(),
				Underruns: pb.Underruns,
				Clears:    pb.Clears,
			})
			cs := s.capture.Stats()
			s.deps.Metrics.ObserveCapture(metrics.CaptureStats{
				Sent:      cs.Sent,
				Discarded: cs.Discarded,
				Dropped:   cs.Dropped,
			})
			if s.deps.Sessions != nil {
				if err := s.deps.Sessions.Touch(ctx, s.id); err != nil {
					s.log.Debug("failed to touch session record", "error", err)
				}
			}
		}
	}
}

func (s *VoiceSession) persistState(ctx context.Context, state transport.State, cause error) {
	if s.deps.Sessions == nil {
		return
	}
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	if err := s.deps.Sessions.SetState(ctx, s.id, state.String(), msg); err != nil && !errors.Is(err, shared.ErrNotFound) {
		s.log.Warn("failed to persist session state", "state", state.String(), "error", err)
	}
}
