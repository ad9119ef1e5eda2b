package voicesession

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/eleven-am/voice-client/internal/transport"
)

// ErrSessionActive is returned when a session is requested while another
// one still owns the audio devices.
var ErrSessionActive = errors.New("voice session already active")

type Manager struct {
	cfg      Config
	deps     Deps
	sessions map[string]*VoiceSession
	active   *VoiceSession
	mu       sync.RWMutex
	log      *slog.Logger
}

type ManagerConfig struct {
	Session Config
	Deps    Deps
	Log     *slog.Logger
}

func NewManager(cfg ManagerConfig) *Manager {
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}
	return &Manager{
		cfg:      cfg.Session,
		deps:     cfg.Deps,
		sessions: make(map[string]*VoiceSession),
		log:      cfg.Log.With("component", "voicesession_manager"),
	}
}

// CreateSession connects a new session. Only one session may be live at a
// time since all sessions share the microphone and speaker.
func (m *Manager) CreateSession(ctx context.Context) (*VoiceSession, error) {
	m.mu.Lock()
	if m.active != nil && !isDone(m.active) {
		m.mu.Unlock()
		return nil, ErrSessionActive
	}

	session, err := New(m.cfg, m.deps, m.log)
	if err != nil {
		m.mu.Unlock()
		return nil, err
	}
	m.sessions[session.ID()] = session
	m.active = session
	m.mu.Unlock()

	if err := session.Start(ctx); err != nil {
		m.mu.Lock()
		delete(m.sessions, session.ID())
		if m.active == session {
			m.active = nil
		}
		m.mu.Unlock()
		session.Close()
		return nil, err
	}

	go m.evictWhenDone(session)
	m.log.Info("voice session created", "session_id", session.ID())
	return session, nil
}

// evictWhenDone drops an ended session from the live set. Its record and
// transcript stay reachable through the stores.
func (m *Manager) evictWhenDone(s *VoiceSession) {
	<-s.Done()

	m.mu.Lock()
	if m.sessions[s.ID()] == s {
		delete(m.sessions, s.ID())
	}
	if m.active == s {
		m.active = nil
	}
	m.mu.Unlock()

	s.Close()
	m.log.Info("voice session ended", "session_id", s.ID())
}

func (m *Manager) GetSession(sessionID string) (*VoiceSession, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	session, ok := m.sessions[sessionID]
	return session, ok
}

// Active returns the live session, or nil once it has ended.
func (m *Manager) Active() *VoiceSession {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.active == nil || isDone(m.active) {
		return nil
	}
	return m.active
}

// Healthy reports whether the live session's primary channel is open.
func (m *Manager) Healthy() bool {
	s := m.Active()
	return s != nil && s.State() == transport.StateOpen
}

func (m *Manager) RemoveSession(sessionID string) {
	m.mu.Lock()
	session, ok := m.sessions[sessionID]
	if ok {
		delete(m.sessions, sessionID)
		if m.active == session {
			m.active = nil
		}
	}
	m.mu.Unlock()

	if session != nil {
		session.Close()
		m.log.Info("voice session removed", "session_id", sessionID)
	}
}

type SessionInfo struct {
	SessionID     string    `json:"session_id"`
	State         string    `json:"state"`
	Muted         bool      `json:"muted"`
	CaptureActive bool      `json:"capture_active"`
	Fragments     int       `json:"transcript_fragments"`
	StartedAt     time.Time `json:"started_at"`
	Error         string    `json:"error,omitempty"`
}

func (s *VoiceSession) Info() SessionInfo {
	info := SessionInfo{
		SessionID:     s.id,
		State:         s.State().String(),
		Muted:         s.Muted(),
		CaptureActive: s.CaptureActive(),
		Fragments:     s.transcript.Len(),
		StartedAt:     s.startedAt,
	}
	if err := s.Err(); err != nil {
		info.Error = err.Error()
	}
	return info
}

func (m *Manager) SessionCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

func (m *Manager) ListSessions() []SessionInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sessions := make([]SessionInfo, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s.Info())
	}
	return sessions
}

func (m *Manager) Close() error {
	m.mu.Lock()
	sessions := make([]*VoiceSession, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.sessions = make(map[string]*VoiceSession)
	m.active = nil
	m.mu.Unlock()

	for _, s := range sessions {
		s.Close()
	}
	return nil
}

func isDone(s *VoiceSession) bool {
	select {
	case <-s.Done():
		return true
	default:
		return false
	}
}
