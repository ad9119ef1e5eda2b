package observer

import (
	"context"
	"log/slog"

	"github.com/eleven-am/voice-client/internal/protocol"
)

type LogSink struct {
	log *slog.Logger
}

func NewLogSink(log *slog.Logger) *LogSink {
	if log == nil {
		log = slog.Default()
	}
	return &LogSink{log: log.With("component", "observer")}
}

func (s *LogSink) Observe(ctx context.Context, ev protocol.Event) {
	switch e := ev.(type) {
	case protocol.ToolStart:
		s.log.InfoContext(ctx, "tool started", "tool", e.Tool)
	case protocol.ToolEnd:
		s.log.InfoContext(ctx, "tool finished", "tool", e.Tool, "output_len", len(e.Output))
	case protocol.Handoff:
		s.log.InfoContext(ctx, "agent handoff", "from", e.From, "to", e.To)
	case protocol.AgentStart:
		s.log.InfoContext(ctx, "agent started", "agent", e.Agent)
	case protocol.AgentEnd:
		s.log.InfoContext(ctx, "agent finished", "agent", e.Agent)
	case protocol.ServerError:
		s.log.WarnContext(ctx, "server error event", "error", e.Message)
	case protocol.Unknown:
		s.log.DebugContext(ctx, "unknown event", "type", e.Type, "raw", truncate(e.Raw, 256))
	default:
		s.log.DebugContext(ctx, "event", "type", ev.EventType())
	}
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
