package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/eleven-am/voice-client/internal/shared"
	"golang.org/x/oauth2"
)

type Config struct {
	BaseURL     string
	Events      bool
	Header      http.Header
	TokenSource oauth2.TokenSource
	Channel     ChannelConfig
	InboxSize   int
}

type StateListener func(from, to State)

// Session owns the primary channel and the optional events channel of one
// conversation. Loss of the primary channel is terminal.
type Session struct {
	id  string
	cfg Config
	log *slog.Logger

	state stateMachine

	mu        sync.Mutex
	primary   *Channel
	events    *Channel
	cancel    context.CancelFunc
	listeners []StateListener
	err       error

	messages chan Message
	done     chan struct{}
	wg       sync.WaitGroup

	teardownOnce sync.Once
	finishOnce   sync.Once
}

func NewSession(id string, cfg Config, log *slog.Logger) *Session {
	if log == nil {
		log = slog.Default()
	}
	if cfg.InboxSize <= 0 {
		cfg.InboxSize = 256
	}
	return &Session{
		id:       id,
		cfg:      cfg,
		log:      log.With("session_id", id),
		messages: make(chan Message, cfg.InboxSize),
		done:     make(chan struct{}),
	}
}

func (s *Session) ID() string {
	return s.id
}

func (s *Session) State() State {
	return s.state.load()
}

func (s *Session) Ready() bool {
	return s.state.load() == StateOpen
}

// Messages carries frames from both channels. It is never closed; use Done.
func (s *Session) Messages() <-chan Message {
	return s.messages
}

func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Err returns the cause of a terminal failure, if any.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Session) HasEvents() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.events != nil
}

// OnStateChange registers fn for every later transition. fn runs on the
// goroutine that made the transition and must not block.
func (s *Session) OnStateChange(fn StateListener) {
	s.mu.Lock()
	s.listeners = append(s.listeners, fn)
	s.mu.Unlock()
}

func (s *Session) Connect(ctx context.Context) error {
	if !s.state.transition(StateDisconnected, StateConnecting) {
		return fmt.Errorf("connect: session is %s: %w", s.State(), shared.ErrClosed)
	}
	s.notify(StateDisconnected, StateConnecting)

	header, err := s.header(ctx)
	if err != nil {
		s.fail(err)
		return err
	}

	primaryURL := s.endpoint("")
	primary, err := Dial(ctx, primaryURL, header, SourcePrimary, s.cfg.Channel, s.log)
	if err != nil {
		s.fail(err)
		return err
	}

	var events *Channel
	if s.cfg.Events {
		events, err = Dial(ctx, s.endpoint("events"), header, SourceEvents, s.cfg.Channel, s.log)
		if err != nil {
			s.log.Warn("events channel unavailable, continuing on primary only", "error", err)
			events = nil
		}
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	s.mu.Lock()
	if !s.state.transition(StateConnecting, StateOpen) {
		s.mu.Unlock()
		cancel()
		_ = primary.Close()
		if events != nil {
			_ = events.Close()
		}
		return fmt.Errorf("connect: %w", shared.ErrClosed)
	}
	s.primary = primary
	s.events = events
	s.cancel = cancel
	s.wg.Add(2)
	if events != nil {
		s.wg.Add(2)
	}
	s.mu.Unlock()

	s.notify(StateConnecting, StateOpen)
	s.start(runCtx, primary, true)
	if events != nil {
		s.start(runCtx, events, false)
	}
	s.log.Info("session connected", "url", primaryURL, "events", events != nil)
	return nil
}

// start runs the ping and receive loops of ch; the caller has already
// added them to wg.
func (s *Session) start(ctx context.Context, ch *Channel, fatal bool) {
	go func() {
		defer s.wg.Done()
		ch.Ping(ctx)
	}()
	go func() {
		defer s.wg.Done()
		err := ch.Receive(ctx, s.messages)
		if !fatal {
			if err != nil {
				s.log.Warn("events channel lost", "error", err)
			} else {
				s.log.Info("events channel closed")
			}
			return
		}
		if s.State() >= StateClosing {
			return
		}
		if err == nil {
			err = errors.New("primary channel closed by remote")
		}
		s.fail(err)
	}()
}

// Send writes one frame on the primary channel. A failed write ends the
// session.
func (s *Session) Send(ctx context.Context, data []byte) error {
	state := s.State()
	if state >= StateClosing {
		return shared.ErrClosed
	}
	if state != StateOpen {
		return shared.ErrNotOpen
	}

	s.mu.Lock()
	primary := s.primary
	s.mu.Unlock()

	if err := primary.Send(ctx, data); err != nil {
		if !errors.Is(err, shared.ErrClosed) {
			s.fail(err)
		}
		return fmt.Errorf("send: %w", shared.ErrClosed)
	}
	return nil
}

// Shutdown closes both channels with a normal-closure frame and waits for
// the receive loops until ctx expires. It is idempotent.
func (s *Session) Shutdown(ctx context.Context) error {
	if from, ok := s.state.advance(StateClosing); ok {
		s.notify(from, StateClosing)
	}
	s.teardown()

	waited := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(waited)
	}()

	var err error
	select {
	case <-waited:
	case <-ctx.Done():
		err = fmt.Errorf("shutdown: %w", ctx.Err())
	}
	s.finish()
	return err
}

func (s *Session) fail(err error) {
	s.mu.Lock()
	if s.err == nil {
		s.err = err
	}
	s.mu.Unlock()

	s.log.Error("session failed", "error", err)
	s.teardown()
	s.finish()
}

func (s *Session) teardown() {
	s.teardownOnce.Do(func() {
		s.mu.Lock()
		primary, events, cancel := s.primary, s.events, s.cancel
		s.mu.Unlock()

		if events != nil {
			_ = events.Close()
		}
		if primary != nil {
			_ = primary.Close()
		}
		if cancel != nil {
			cancel()
		}
	})
}

func (s *Session) finish() {
	s.finishOnce.Do(func() {
		if from, ok := s.state.advance(StateClosed); ok {
			s.notify(from, StateClosed)
		}
		close(s.done)
		s.log.Info("session closed")
	})
}

func (s *Session) notify(from, to State) {
	s.mu.Lock()
	listeners := append([]StateListener(nil), s.listeners...)
	s.mu.Unlock()

	s.log.Debug("session state changed", "from", from.String(), "to", to.String())
	for _, fn := range listeners {
		fn(from, to)
	}
}

func (s *Session) endpoint(suffix string) string {
	u := strings.TrimRight(s.cfg.BaseURL, "/") + "/" + url.PathEscape(s.id)
	if suffix != "" {
		u += "/" + suffix
	}
	return u
}

func (s *Session) header(ctx context.Context) (http.Header, error) {
	header := http.Header{}
	for k, v := range s.cfg.Header {
		header[k] = append([]string(nil), v...)
	}
	if s.cfg.TokenSource == nil {
		return header, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	tok, err := s.cfg.TokenSource.Token()
	if err != nil {
		return nil, fmt.Errorf("fetch access token: %w", err)
	}
	header.Set("Authorization", tok.Type()+" "+tok.AccessToken)
	return header, nil
}
