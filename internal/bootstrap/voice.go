package bootstrap

import (
	"context"
	"log/slog"

	"github.com/eleven-am/voice-client/internal/capture"
	"github.com/eleven-am/voice-client/internal/device"
	"github.com/eleven-am/voice-client/internal/metrics"
	"github.com/eleven-am/voice-client/internal/observer"
	"github.com/eleven-am/voice-client/internal/playback"
	"github.com/eleven-am/voice-client/internal/router"
	"github.com/eleven-am/voice-client/internal/session"
	"github.com/eleven-am/voice-client/internal/transcript"
	"github.com/eleven-am/voice-client/internal/transport"
	"github.com/eleven-am/voice-client/internal/voicesession"
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"golang.org/x/oauth2"
)

func ProvidePlaybackBuffer(cfg *Config) *playback.Buffer {
	return playback.NewBuffer(playback.Config{
		SampleRate:  cfg.OutputRate,
		Slots:       cfg.PlaybackSlots,
		MaxBuffered: cfg.PlaybackMaxBuffered,
	})
}

func ProvideAudioSystem(cfg *Config, player *playback.Buffer, logger *slog.Logger) (*device.System, error) {
	return device.Open(device.Config{
		InputRate:       cfg.InputRate,
		OutputRate:      cfg.OutputRate,
		FramesPerBuffer: cfg.FramesPerBuffer,
	}, player, logger)
}

type ManagerParams struct {
	fx.In

	Config      *Config
	Player      *playback.Buffer
	Audio       *device.System
	TokenSource oauth2.TokenSource `optional:"true"`
	Redis       *redis.Client      `optional:"true"`
	Sessions    *session.Store     `optional:"true"`
	Transcripts *transcript.Store
	Metrics     *metrics.Metrics
	Logger      *slog.Logger
}

func ProvideVoiceSessionManager(p ManagerParams) *voicesession.Manager {
	cfg := p.Config
	return voicesession.NewManager(voicesession.ManagerConfig{
		Session: voicesession.Config{
			Transport: transport.Config{
				BaseURL:     cfg.VoiceServerURL,
				Events:      cfg.EventsChannel,
				TokenSource: p.TokenSource,
			},
			OutputRate: cfg.OutputRate,
			ServerRate: cfg.ServerRate,
			FadeSec:    cfg.FadeSec,
			Capture: capture.Config{
				Tick:     cfg.CaptureTick,
				MaxChunk: cfg.CaptureMaxChunk,
				WireRate: cfg.WireRate,
			},
			SendQueue:      cfg.SendQueue,
			ImageChunkSize: cfg.ImageChunkSize,
		},
		Deps: voicesession.Deps{
			Player:      p.Player,
			Microphone:  p.Audio.Microphone(),
			Sessions:    p.Sessions,
			Transcripts: p.Transcripts,
			Redis:       p.Redis,
			Metrics:     p.Metrics,
			Observers:   []router.Observer{observer.NewLogSink(p.Logger)},
		},
		Log: p.Logger,
	})
}

func ProvideVoiceSessionHandler(mgr *voicesession.Manager, sessions *session.Store, transcripts *transcript.Store, logger *slog.Logger) *voicesession.Handler {
	return voicesession.NewHandler(mgr, sessions, transcripts, logger.With("handler", "voicesession"))
}

// StartVoice opens the audio devices and, with AutoStart, connects the
// first session. A failed connect leaves the process serving the API.
func StartVoice(lc fx.Lifecycle, cfg *Config, audio *device.System, mgr *voicesession.Manager, logger *slog.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := audio.Start(context.Background()); err != nil {
				return err
			}
			if !cfg.AutoStart {
				return nil
			}
			s, err := mgr.CreateSession(ctx)
			if err != nil {
				logger.Error("initial voice session failed", "error", err, "server", cfg.VoiceServerURL)
				return nil
			}
			if cfg.StartMuted {
				s.SetMuted(true)
			}
			return nil
		},
		OnStop: func(ctx context.Context) error {
			_ = mgr.Close()
			return audio.Close()
		},
	})
}

func RegisterVoiceRoutes(e *echo.Echo, h *voicesession.Handler) {
	h.RegisterRoutes(e.Group("/api/v1/sessions"))
}

var VoiceModule = fx.Options(
	fx.Provide(
		ProvidePlaybackBuffer,
		ProvideAudioSystem,
		ProvideVoiceSessionManager,
		ProvideVoiceSessionHandler,
	),
	fx.Invoke(StartVoice),
	fx.Invoke(RegisterVoiceRoutes),
)
