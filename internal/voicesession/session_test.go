package voicesession

import (
	"context"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/eleven-am/voice-client/internal/playback"
	"github.com/eleven-am/voice-client/internal/protocol"
	"github.com/eleven-am/voice-client/internal/session"
	"github.com/eleven-am/voice-client/internal/shared"
	"github.com/eleven-am/voice-client/internal/transcript"
	"github.com/eleven-am/voice-client/internal/transport"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type voiceServer struct {
	*httptest.Server

	mu        sync.Mutex
	conn      *websocket.Conn
	received  []string
	connected chan struct{}
}

func newVoiceServer(t *testing.T) *voiceServer {
	t.Helper()
	vs := &voiceServer{connected: make(chan struct{}, 4)}
	upgrader := websocket.Upgrader{}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws/{id}", func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		vs.mu.Lock()
		vs.conn = ws
		vs.mu.Unlock()
		vs.connected <- struct{}{}

		for {
			_, data, err := ws.ReadMessage()
			if err != nil {
				return
			}
			vs.mu.Lock()
			vs.received = append(vs.received, string(data))
			vs.mu.Unlock()
		}
	})
	mux.HandleFunc("/ws/{id}/events", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	vs.Server = httptest.NewServer(mux)
	t.Cleanup(vs.Close)
	return vs
}

func (vs *voiceServer) baseURL() string {
	return "ws" + strings.TrimPrefix(vs.URL, "http") + "/ws"
}

func (vs *voiceServer) push(t *testing.T, frame string) {
	t.Helper()
	vs.mu.Lock()
	defer vs.mu.Unlock()
	if vs.conn == nil {
		t.Fatal("no client connected")
	}
	if err := vs.conn.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
		t.Fatalf("server write: %v", err)
	}
}

// drop closes the server side of the connection without a close frame.
func (vs *voiceServer) drop(t *testing.T) {
	t.Helper()
	vs.mu.Lock()
	defer vs.mu.Unlock()
	if vs.conn == nil {
		t.Fatal("no client connected")
	}
	_ = vs.conn.Close()
}

func (vs *voiceServer) Received() []string {
	vs.mu.Lock()
	defer vs.mu.Unlock()
	return append([]string(nil), vs.received...)
}

func (vs *voiceServer) waitReceived(t *testing.T, n int) []string {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if got := vs.Received(); len(got) >= n {
			return got
		}
		time.Sleep(5 * time.Millisecond)
	}
	got := vs.Received()
	t.Fatalf("expected %d frames, got %d: %v", n, len(got), got)
	return nil
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func testConfig(vs *voiceServer) Config {
	return Config{
		Transport:  transport.Config{BaseURL: vs.baseURL(), Events: true},
		OutputRate: 24000,
		FadeSec:    0.005,
	}
}

func startSession(t *testing.T, cfg Config, deps Deps) *VoiceSession {
	t.Helper()
	if deps.Player == nil {
		deps.Player = playback.NewBuffer(playback.Config{SampleRate: 24000})
	}
	s, err := New(cfg, deps, quietLogger())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(s.Close)
	return s
}

func pcmFrame(n int, value int16) string {
	raw := make([]byte, n*2)
	for i := 0; i < n; i++ {
		binary.LittleEndian.PutUint16(raw[i*2:], uint16(value))
	}
	return `{"type":"audio","audio":"` + base64.StdEncoding.EncodeToString(raw) + `"}`
}

func TestNew_RequiresPlayer(t *testing.T) {
	if _, err := New(Config{}, Deps{}, quietLogger()); err == nil {
		t.Error("expected error without player")
	}
}

func TestSession_InputTimeoutSendsOneCommit(t *testing.T) {
	vs := newVoiceServer(t)
	startSession(t, testConfig(vs), Deps{})
	<-vs.connected

	vs.push(t, `{"type":"input_audio_timeout_triggered"}`)
	vs.waitReceived(t, 1)

	time.Sleep(50 * time.Millisecond)
	got := vs.Received()
	if len(got) != 1 {
		t.Fatalf("expected exactly one frame, got %v", got)
	}
	if got[0] != `{"type":"commit_audio"}` {
		t.Errorf("expected commit_audio, got %s", got[0])
	}
}

func TestSession_HistoryAppendedOnce(t *testing.T) {
	vs := newVoiceServer(t)
	s := startSession(t, testConfig(vs), Deps{})
	<-vs.connected

	vs.push(t, `{"type":"history_updated","history":[{"type":"message","role":"assistant","content":[{"type":"text","text":"hello"}]}]}`)

	eventually(t, func() bool { return s.Transcript() == "hello" }, "expected transcript to contain hello")
	time.Sleep(30 * time.Millisecond)
	if n := len(s.TranscriptEntries()); n != 1 {
		t.Errorf("expected 1 transcript entry, got %d", n)
	}
}

func TestSession_InterruptSilencesPlayback(t *testing.T) {
	vs := newVoiceServer(t)
	player := playback.NewBuffer(playback.Config{SampleRate: 24000})
	startSession(t, testConfig(vs), Deps{Player: player})
	<-vs.connected

	vs.push(t, pcmFrame(4800, 8000))
	eventually(t, func() bool { return player.Buffered() == 4800 }, "expected audio to be buffered")

	vs.push(t, `{"type":"audio_interrupted"}`)
	eventually(t, func() bool { return player.Stats().Clears == 1 }, "expected playback to be cleared")

	out := make([]float32, 512)
	if n := player.Render(out); n != 0 {
		t.Errorf("expected no audio after interrupt, rendered %d samples", n)
	}
	for i, v := range out {
		if v != 0 {
			t.Fatalf("expected silence at %d, got %v", i, v)
		}
	}
}

func TestSession_CorruptAudioDropped(t *testing.T) {
	vs := newVoiceServer(t)
	player := playback.NewBuffer(playback.Config{SampleRate: 24000})
	s := startSession(t, testConfig(vs), Deps{Player: player})
	<-vs.connected

	vs.push(t, `{"type":"audio","audio":"!!!not base64"}`)
	vs.push(t, `{"type":"transcript","text":"after"}`)

	eventually(t, func() bool { return s.Transcript() == "after" }, "expected later events to be processed")
	if player.Len() != 0 {
		t.Errorf("expected corrupt audio to be dropped, buffer has %d chunks", player.Len())
	}
}

func TestSession_SendTextInterruptsFirst(t *testing.T) {
	vs := newVoiceServer(t)
	s := startSession(t, testConfig(vs), Deps{})
	<-vs.connected

	if err := s.SendText(context.Background(), `say "hi"`); err != nil {
		t.Fatalf("SendText() error = %v", err)
	}

	got := vs.waitReceived(t, 2)
	if got[0] != `{"type":"interrupt"}` {
		t.Errorf("expected interrupt first, got %s", got[0])
	}
	if got[1] != `{"type":"text","text":"say \"hi\""}` {
		t.Errorf("unexpected text frame %s", got[1])
	}
}

func TestSession_SendImageChunks(t *testing.T) {
	vs := newVoiceServer(t)
	cfg := testConfig(vs)
	cfg.ImageChunkSize = 16
	s := startSession(t, cfg, Deps{})
	<-vs.connected

	jpeg := []byte("not really a jpeg but close enough")
	id, err := s.SendImage(context.Background(), jpeg, "describe")
	if err != nil {
		t.Fatalf("SendImage() error = %v", err)
	}
	if !strings.HasPrefix(id, "img_") {
		t.Errorf("expected img_ prefix, got %s", id)
	}

	url := imageDataPrefix + base64.StdEncoding.EncodeToString(jpeg)
	chunks := (len(url) + 15) / 16
	got := vs.waitReceived(t, chunks+3)

	if got[0] != `{"type":"interrupt"}` {
		t.Errorf("expected interrupt first, got %s", got[0])
	}
	if got[1] != `{"type":"image_start","id":"`+id+`","text":"describe"}` {
		t.Errorf("unexpected image_start %s", got[1])
	}

	var joined strings.Builder
	for _, frame := range got[2 : 2+chunks] {
		var msg struct {
			Type  string `json:"type"`
			ID    string `json:"id"`
			Chunk string `json:"chunk"`
		}
		if err := json.Unmarshal([]byte(frame), &msg); err != nil {
			t.Fatalf("bad chunk frame %s: %v", frame, err)
		}
		if msg.Type != protocol.TypeImageChunk || msg.ID != id {
			t.Errorf("unexpected chunk frame %s", frame)
		}
		if len(msg.Chunk) > 16 {
			t.Errorf("chunk exceeds size limit: %d", len(msg.Chunk))
		}
		joined.WriteString(msg.Chunk)
	}
	if joined.String() != url {
		t.Errorf("reassembled image does not match data url")
	}
	if got[len(got)-1] != `{"type":"image_end","id":"`+id+`"}` {
		t.Errorf("unexpected image_end %s", got[len(got)-1])
	}
}

func TestSession_SendBeforeStart(t *testing.T) {
	player := playback.NewBuffer(playback.Config{SampleRate: 24000})
	s, err := New(Config{Transport: transport.Config{BaseURL: "ws://127.0.0.1:1/ws"}}, Deps{Player: player}, quietLogger())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if err := s.CommitAudio(context.Background()); !errors.Is(err, shared.ErrNotOpen) {
		t.Errorf("expected ErrNotOpen, got %v", err)
	}
	if s.Ready() {
		t.Error("expected session not ready")
	}
}

func TestSession_SendAfterShutdown(t *testing.T) {
	vs := newVoiceServer(t)
	s := startSession(t, testConfig(vs), Deps{})
	<-vs.connected

	if err := s.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
	if err := s.SendText(context.Background(), "late"); !errors.Is(err, shared.ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
	if s.State() != transport.StateClosed {
		t.Errorf("expected closed, got %s", s.State())
	}
	if err := s.Shutdown(context.Background()); err != nil {
		t.Errorf("second Shutdown() error = %v", err)
	}
}

func TestSession_ShutdownClearsPlayback(t *testing.T) {
	vs := newVoiceServer(t)
	player := playback.NewBuffer(playback.Config{SampleRate: 24000})
	s := startSession(t, testConfig(vs), Deps{Player: player})
	<-vs.connected

	vs.push(t, pcmFrame(960, 1000))
	eventually(t, func() bool { return player.Len() == 1 }, "expected chunk to be buffered")

	s.Close()
	if player.Stats().Clears == 0 {
		t.Error("expected shutdown to clear playback")
	}
}

func TestSession_OfferRequiresOpen(t *testing.T) {
	player := playback.NewBuffer(playback.Config{SampleRate: 24000})
	s, err := New(Config{Transport: transport.Config{BaseURL: "ws://127.0.0.1:1/ws"}}, Deps{Player: player}, quietLogger())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if s.Offer(chunkOf(160)) {
		t.Error("expected Offer to refuse before connect")
	}
}

func TestSession_PersistsRecordAndTranscript(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	defer mr.Close()
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to get sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	transcripts := transcript.NewStore(db)
	if err := transcripts.Migrate(); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	sessions := session.NewStore(client)

	vs := newVoiceServer(t)
	s := startSession(t, testConfig(vs), Deps{
		Sessions:    sessions,
		Transcripts: transcripts,
		Redis:       client,
	})
	<-vs.connected
	ctx := context.Background()

	eventually(t, func() bool {
		rec, err := sessions.Get(ctx, s.ID())
		return err == nil && rec.State == "open"
	}, "expected session record to reach open")

	vs.push(t, `{"type":"transcript","text":"hi "}`)
	vs.push(t, `{"type":"transcript","text":"there"}`)

	eventually(t, func() bool {
		text, err := transcripts.Text(ctx, s.ID())
		return err == nil && text == "hi there"
	}, "expected transcript to be persisted")
	eventually(t, func() bool {
		counters, err := sessions.Counters(ctx, s.ID())
		return err == nil && counters["transcript_fragments"] == 2
	}, "expected 2 counted fragments")

	if err := s.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
	rec, err := sessions.Get(ctx, s.ID())
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if rec.State != "closed" {
		t.Errorf("expected closed record, got %s", rec.State)
	}
	if rec.EndedAt == nil {
		t.Error("expected EndedAt to be set")
	}
}

func TestSession_UpdatesReaderDoesNotStealPersistence(t *testing.T) {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to get sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	transcripts := transcript.NewStore(db)
	if err := transcripts.Migrate(); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}

	vs := newVoiceServer(t)
	s := startSession(t, testConfig(vs), Deps{Transcripts: transcripts})
	<-vs.connected

	var mu sync.Mutex
	seen := 0
	updates := s.Updates()
	go func() {
		for range updates {
			mu.Lock()
			seen++
			mu.Unlock()
		}
	}()

	const fragments = 50
	for i := 0; i < fragments; i++ {
		vs.push(t, `{"type":"transcript","text":"x"}`)
	}

	ctx := context.Background()
	eventually(t, func() bool {
		frags, err := transcripts.ListBySession(ctx, s.ID())
		return err == nil && len(frags) == fragments
	}, "expected every fragment to be persisted")
	eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return seen == fragments
	}, "expected the UI reader to see every fragment")
}

func TestSession_ConnectFailure(t *testing.T) {
	player := playback.NewBuffer(playback.Config{SampleRate: 24000})
	s, err := New(Config{Transport: transport.Config{BaseURL: "ws://127.0.0.1:1/ws"}}, Deps{Player: player}, quietLogger())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := s.Start(context.Background()); err == nil {
		t.Fatal("expected Start to fail without a server")
	}
	select {
	case <-s.Done():
	default:
		t.Error("expected session to be done after connect failure")
	}
	s.Close()
}
