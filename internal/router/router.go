package router

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/eleven-am/voice-client/internal/audio"
	"github.com/eleven-am/voice-client/internal/protocol"
	"github.com/eleven-am/voice-client/internal/shared"
	"golang.org/x/time/rate"
)

type Config struct {
	// SampleRate is the playback rate chunks are enqueued at.
	SampleRate int
	// ServerRate is the rate inbound audio arrives at. Zero means SampleRate.
	ServerRate int
	FadeSec    float64
}

type Deps struct {
	Player     Player
	Transcript Transcript
	Outbox     Outbox
	Observers  []Observer
	Recorder   Recorder
}

type Router struct {
	cfg  Config
	deps Deps
	log  *slog.Logger

	seq atomic.Uint64

	corruptLog  rate.Sometimes
	overflowLog rate.Sometimes
}

func New(cfg Config, deps Deps, log *slog.Logger) *Router {
	if log == nil {
		log = slog.Default()
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 24000
	}
	if cfg.ServerRate <= 0 {
		cfg.ServerRate = cfg.SampleRate
	}
	if deps.Recorder == nil {
		deps.Recorder = nopRecorder{}
	}
	return &Router{
		cfg:         cfg,
		deps:        deps,
		log:         log.With("component", "router"),
		corruptLog:  rate.Sometimes{First: 3, Interval: 10 * time.Second},
		overflowLog: rate.Sometimes{First: 1, Interval: 5 * time.Second},
	}
}

// Handle decodes one inbound frame and dispatches it. Corrupt audio is
// dropped here and never reaches the player.
func (r *Router) Handle(ctx context.Context, raw []byte) {
	ev, err := protocol.Decode(raw)
	if err != nil {
		r.deps.Recorder.AudioDropped(DropCorrupt)
		r.corruptLog.Do(func() {
			r.log.Warn("dropping undecodable audio fragment", "error", err)
		})
		return
	}
	r.Dispatch(ctx, ev)
}

func (r *Router) Dispatch(ctx context.Context, ev protocol.Event) {
	switch e := ev.(type) {
	case protocol.AudioDelta:
		r.deps.Recorder.EventDecoded("audio")
		r.playAudio(e.PCM)
	case protocol.TranscriptDelta:
		r.deps.Recorder.EventDecoded("transcript")
		r.appendText(e.Text)
	case protocol.HistoryUpdated:
		r.deps.Recorder.EventDecoded("history")
		r.appendText(protocol.LatestText(e.Items))
	case protocol.AudioInterrupted:
		r.deps.Recorder.EventDecoded("interrupted")
		if r.deps.Player != nil {
			r.deps.Player.Clear()
		}
		r.log.Debug("playback cleared by server interrupt")
	case protocol.InputTimeout:
		r.deps.Recorder.EventDecoded("input_timeout")
		r.commit(ctx)
	case protocol.ToolStart, protocol.ToolEnd, protocol.Handoff, protocol.AgentStart, protocol.AgentEnd:
		r.deps.Recorder.EventDecoded("control")
		r.observe(ctx, ev)
	case protocol.ServerError:
		r.deps.Recorder.EventDecoded("error")
		r.log.Warn("server reported error", "error", e.Message)
		r.observe(ctx, ev)
	case protocol.Unknown:
		r.deps.Recorder.EventDecoded("unknown")
		r.log.Debug("unrecognized event", "type", e.Type, "bytes", len(e.Raw))
		r.observe(ctx, ev)
		r.appendText(e.Text)
	default:
		r.observe(ctx, ev)
	}
}

func (r *Router) playAudio(pcm []byte) {
	if len(pcm) == 0 || len(pcm)%2 != 0 {
		r.deps.Recorder.AudioDropped(DropCorrupt)
		r.corruptLog.Do(func() {
			r.log.Warn("dropping audio fragment with invalid length", "bytes", len(pcm))
		})
		return
	}
	if r.deps.Player == nil {
		return
	}

	samples := audio.ResampleInt16(audio.PCMBytesToInt16(pcm), r.cfg.ServerRate, r.cfg.SampleRate)
	audio.ApplyFade(samples, r.cfg.FadeSec, r.cfg.SampleRate)
	chunk := audio.NewChunk(samples, r.cfg.SampleRate, r.seq.Add(1)-1)

	if err := r.deps.Player.Enqueue(chunk); err != nil {
		reason := DropCorrupt
		if errors.Is(err, shared.ErrBufferFull) {
			reason = DropOverflow
		}
		r.deps.Recorder.AudioDropped(reason)
		r.overflowLog.Do(func() {
			r.log.Warn("playback rejected audio chunk", "error", err, "samples", chunk.Len())
		})
	}
}

func (r *Router) appendText(text string) {
	if text == "" || r.deps.Transcript == nil {
		return
	}
	r.deps.Transcript.Append(text)
}

func (r *Router) commit(ctx context.Context) {
	if r.deps.Outbox == nil {
		return
	}
	if err := r.deps.Outbox.Send(ctx, protocol.CommitAudio{}); err != nil {
		r.log.Warn("failed to commit audio after input timeout", "error", err)
	}
}

func (r *Router) observe(ctx context.Context, ev protocol.Event) {
	for _, o := range r.deps.Observers {
		o.Observe(ctx, ev)
	}
}
