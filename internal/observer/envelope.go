package observer

import (
	"encoding/json"
	"time"

	"github.com/eleven-am/voice-client/internal/protocol"
)

type Envelope struct {
	Type      string    `json:"type"`
	SessionID string    `json:"session_id"`
	Payload   any       `json:"payload,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func NewEnvelope(sessionID, typ string, payload any) Envelope {
	return Envelope{Type: typ, SessionID: sessionID, Payload: payload, Timestamp: time.Now().UTC()}
}

// FromEvent maps a decoded server event to its published form.
func FromEvent(sessionID string, ev protocol.Event) Envelope {
	var payload any
	switch e := ev.(type) {
	case protocol.ToolStart:
		payload = map[string]string{"tool": e.Tool}
	case protocol.ToolEnd:
		payload = map[string]string{"tool": e.Tool, "output": e.Output}
	case protocol.Handoff:
		payload = map[string]string{"from": e.From, "to": e.To}
	case protocol.AgentStart:
		payload = map[string]string{"agent": e.Agent}
	case protocol.AgentEnd:
		payload = map[string]string{"agent": e.Agent}
	case protocol.ServerError:
		payload = map[string]string{"error": e.Message}
	case protocol.Unknown:
		if json.Valid(e.Raw) {
			payload = json.RawMessage(e.Raw)
		} else if len(e.Raw) > 0 {
			payload = string(e.Raw)
		}
	}

	typ := ev.EventType()
	if typ == "" {
		typ = "unknown"
	}
	return NewEnvelope(sessionID, typ, payload)
}
