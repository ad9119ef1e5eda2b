package health

import (
	"context"
	"net/http"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/eleven-am/voice-client/internal/playback"
	"github.com/eleven-am/voice-client/internal/transport"
	"github.com/eleven-am/voice-client/internal/voicesession"
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

const readinessTimeout = 10 * time.Second

type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

type ComponentStatus struct {
	Status    Status `json:"status"`
	LatencyMs int64  `json:"latency_ms"`
	Error     string `json:"error,omitempty"`
}

type RuntimeStats struct {
	Goroutines    int    `json:"goroutines"`
	MemoryAllocMB uint64 `json:"memory_alloc_mb"`
	MemorySysMB   uint64 `json:"memory_sys_mb"`
	NumGC         uint32 `json:"num_gc"`
}

type SessionStats struct {
	Total  int    `json:"total"`
	Active string `json:"active,omitempty"`
	State  string `json:"state"`
	Muted  bool   `json:"muted"`
}

type PlaybackStats struct {
	BufferedMs int64  `json:"buffered_ms"`
	Chunks     int    `json:"chunks"`
	Underruns  uint64 `json:"underruns"`
	Dropped    uint64 `json:"dropped"`
	Clears     uint64 `json:"clears"`
}

type Stats struct {
	Sessions      SessionStats  `json:"sessions"`
	Playback      PlaybackStats `json:"playback"`
	TotalRequests uint64        `json:"total_requests"`
	Runtime       RuntimeStats  `json:"runtime"`
}

type HealthResponse struct {
	Status        Status                     `json:"status"`
	Timestamp     time.Time                  `json:"timestamp"`
	Version       string                     `json:"version"`
	UptimeSeconds int64                      `json:"uptime_seconds"`
	Stats         Stats                      `json:"stats"`
	Components    map[string]ComponentStatus `json:"components"`
}

type SessionsResponse struct {
	Total    int                        `json:"total"`
	Sessions []voicesession.SessionInfo `json:"sessions"`
}

type Handler struct {
	sessions  *voicesession.Manager
	player    *playback.Buffer
	checks    []check
	version   string
	startTime time.Time
	requests  atomic.Uint64
}

// NewHandler accepts a nil redis client; the redis component is then
// omitted from readiness.
func NewHandler(
	db *gorm.DB,
	redis *redis.Client,
	sessions *voicesession.Manager,
	player *playback.Buffer,
	version string,
) *Handler {
	h := &Handler{
		sessions:  sessions,
		player:    player,
		version:   version,
		startTime: time.Now(),
	}
	h.checks = []check{
		{name: "database", run: databaseCheck(db)},
		{name: "voice_server", run: h.checkVoiceServer},
		{name: "playback", run: h.checkPlayback},
	}
	if redis != nil {
		h.checks = append(h.checks, check{name: "redis", run: redisCheck(redis)})
	}
	return h
}

func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.GET("/health", h.Liveness)
	e.GET("/health/ready", h.Readiness)
	e.GET("/health/sessions", h.Sessions)
}

func (h *Handler) IncrementRequests() {
	h.requests.Add(1)
}

func (h *Handler) Liveness(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// Readiness runs every component check concurrently. Only critical
// components can make the process unhealthy; the rest degrade it.
func (h *Handler) Readiness(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), readinessTimeout)
	defer cancel()

	results := make([]ComponentStatus, len(h.checks))
	var g errgroup.Group
	for i, chk := range h.checks {
		g.Go(func() error {
			results[i] = chk.run(ctx)
			return nil
		})
	}
	_ = g.Wait()

	components := make(map[string]ComponentStatus, len(h.checks))
	for i, chk := range h.checks {
		components[chk.name] = results[i]
	}

	overall := h.computeOverallStatus(components)
	resp := HealthResponse{
		Status:        overall,
		Timestamp:     time.Now().UTC(),
		Version:       h.version,
		UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
		Stats: Stats{
			Sessions:      h.sessionStats(),
			Playback:      h.playbackStats(),
			TotalRequests: h.requests.Load(),
			Runtime:       runtimeStats(),
		},
		Components: components,
	}

	status := http.StatusOK
	if overall == StatusUnhealthy {
		status = http.StatusServiceUnavailable
	}
	return c.JSON(status, resp)
}

func (h *Handler) Sessions(c echo.Context) error {
	sessions := h.sessions.ListSessions()
	return c.JSON(http.StatusOK, SessionsResponse{
		Total:    len(sessions),
		Sessions: sessions,
	})
}

func (h *Handler) computeOverallStatus(components map[string]ComponentStatus) Status {
	overall := StatusHealthy
	for name, component := range components {
		switch component.Status {
		case StatusUnhealthy:
			if criticalComponents[name] {
				return StatusUnhealthy
			}
			overall = StatusDegraded
		case StatusDegraded:
			overall = StatusDegraded
		}
	}
	return overall
}

func (h *Handler) sessionStats() SessionStats {
	stats := SessionStats{
		Total: h.sessions.SessionCount(),
		State: transport.StateDisconnected.String(),
	}
	if s := h.sessions.Active(); s != nil {
		stats.Active = s.ID()
		stats.State = s.State().String()
		stats.Muted = s.Muted()
	}
	return stats
}

func (h *Handler) playbackStats() PlaybackStats {
	if h.player == nil {
		return PlaybackStats{}
	}
	st := h.player.Stats()
	out := PlaybackStats{
		Chunks:    h.player.Len(),
		Underruns: st.Underruns,
		Dropped:   st.Dropped,
		Clears:    st.Clears,
	}
	if rate := h.player.SampleRate(); rate > 0 {
		out.BufferedMs = int64(h.player.Buffered()) * 1000 / int64(rate)
	}
	return out
}

func runtimeStats() RuntimeStats {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	return RuntimeStats{
		Goroutines:    runtime.NumGoroutine(),
		MemoryAllocMB: mem.Alloc / 1024 / 1024,
		MemorySysMB:   mem.Sys / 1024 / 1024,
		NumGC:         mem.NumGC,
	}
}
