package health

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/eleven-am/voice-client/internal/audio"
	"github.com/eleven-am/voice-client/internal/playback"
	"github.com/eleven-am/voice-client/internal/voicesession"
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupTestDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	return db
}

func newHandler(t *testing.T, rdb *redis.Client) (*Handler, *playback.Buffer) {
	player := playback.NewBuffer(playback.Config{SampleRate: 24000})
	mgr := voicesession.NewManager(voicesession.ManagerConfig{
		Deps: voicesession.Deps{Player: player},
	})
	return NewHandler(setupTestDB(t), rdb, mgr, player, "test"), player
}

func TestLiveness(t *testing.T) {
	h, _ := newHandler(t, nil)
	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/health", nil), rec)

	if err := h.Liveness(c); err != nil {
		t.Fatalf("Liveness() error = %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestReadiness_NoSessionIsDegraded(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	defer mr.Close()
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	h, player := newHandler(t, rdb)
	if err := player.Enqueue(audio.NewChunk(make([]int16, 2400), 24000, 0)); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}

	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/health/ready", nil), rec)
	if err := h.Readiness(c); err != nil {
		t.Fatalf("Readiness() error = %v", err)
	}

	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	var resp HealthResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Status != StatusDegraded {
		t.Errorf("expected degraded, got %s", resp.Status)
	}
	if resp.Components["database"].Status != StatusHealthy {
		t.Errorf("expected healthy database, got %+v", resp.Components["database"])
	}
	if resp.Components["redis"].Status != StatusHealthy {
		t.Errorf("expected healthy redis, got %+v", resp.Components["redis"])
	}
	if resp.Components["voice_server"].Status != StatusDegraded {
		t.Errorf("expected degraded voice server, got %+v", resp.Components["voice_server"])
	}
	if resp.Stats.Playback.BufferedMs != 100 || resp.Stats.Playback.Chunks != 1 {
		t.Errorf("unexpected playback stats %+v", resp.Stats.Playback)
	}
	if resp.Stats.Sessions.State != "disconnected" {
		t.Errorf("expected disconnected, got %s", resp.Stats.Sessions.State)
	}
}

func TestReadiness_RedisDownIsUnhealthy(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer rdb.Close()
	mr.Close()

	h, _ := newHandler(t, rdb)
	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/health/ready", nil), rec)
	if err := h.Readiness(c); err != nil {
		t.Fatalf("Readiness() error = %v", err)
	}
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", rec.Code)
	}
}

func TestReadiness_WithoutRedis(t *testing.T) {
	h, _ := newHandler(t, nil)
	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/health/ready", nil), rec)
	if err := h.Readiness(c); err != nil {
		t.Fatalf("Readiness() error = %v", err)
	}
	var resp HealthResponse
	_ = json.Unmarshal(rec.Body.Bytes(), &resp)
	if _, ok := resp.Components["redis"]; ok {
		t.Error("expected redis component to be omitted")
	}
}

func TestComputeOverallStatus(t *testing.T) {
	h := &Handler{}
	tests := []struct {
		components map[string]ComponentStatus
		want       Status
	}{
		{map[string]ComponentStatus{"database": {Status: StatusHealthy}, "voice_server": {Status: StatusHealthy}}, StatusHealthy},
		{map[string]ComponentStatus{"database": {Status: StatusUnhealthy}}, StatusUnhealthy},
		{map[string]ComponentStatus{"database": {Status: StatusHealthy}, "voice_server": {Status: StatusUnhealthy}}, StatusDegraded},
	}
	for _, tt := range tests {
		if got := h.computeOverallStatus(tt.components); got != tt.want {
			t.Errorf("computeOverallStatus() = %s, want %s", got, tt.want)
		}
	}
}

func TestSessions(t *testing.T) {
	h, _ := newHandler(t, nil)
	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/health/sessions", nil), rec)
	if err := h.Sessions(c); err != nil {
		t.Fatalf("Sessions() error = %v", err)
	}
	var resp SessionsResponse
	_ = json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.Total != 0 {
		t.Errorf("expected 0 sessions, got %d", resp.Total)
	}
}

func TestCheckPlayback_FullBufferDegrades(t *testing.T) {
	player := playback.NewBuffer(playback.Config{SampleRate: 24000, Slots: 2})
	h := NewHandler(nil, nil, voicesession.NewManager(voicesession.ManagerConfig{
		Deps: voicesession.Deps{Player: player},
	}), player, "test")

	if got := h.checkPlayback(context.Background()); got.Status != StatusHealthy {
		t.Fatalf("expected healthy empty buffer, got %+v", got)
	}
	for i := 0; i < player.Capacity(); i++ {
		if err := player.Enqueue(audio.NewChunk(make([]int16, 480), 24000, uint64(i))); err != nil {
			t.Fatalf("Enqueue() error = %v", err)
		}
	}
	if got := h.checkPlayback(context.Background()); got.Status != StatusDegraded {
		t.Errorf("expected degraded full buffer, got %+v", got)
	}
	if got := h.checkVoiceServer(context.Background()); got.Error != "no active session" {
		t.Errorf("unexpected voice server status %+v", got)
	}
}
