package protocol

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/eleven-am/voice-client/internal/shared"
)

const (
	TypeAudioDelta        = "response.audio.delta"
	TypeHistoryUpdated    = "history_updated"
	TypeHistoryAdded      = "history_added"
	TypeAudioInterrupted  = "audio_interrupted"
	TypeInputTimeout      = "input_audio_timeout_triggered"
	TypeToolStart         = "tool_start"
	TypeToolEnd           = "tool_end"
	TypeHandoff           = "handoff"
	TypeAgentStart        = "agent_start"
	TypeAgentEnd          = "agent_end"
	TypeError             = "error"
	TypeTranscript        = "transcript"
	TypeTranscriptDelta   = "transcript_delta"
	TypeTextDelta         = "response.text.delta"
	TypeOutputTextDelta   = "response.output_text.delta"
	TypeAudioTranscriptDl = "response.audio_transcript.delta"
)

// Event is one decoded server message.
type Event interface {
	EventType() string
}

type AudioDelta struct {
	Type string
	PCM  []byte
}

type TranscriptDelta struct {
	Type string
	Text string
}

type HistoryUpdated struct {
	Type  string
	Items []HistoryItem
}

type ToolStart struct {
	Tool string
}

type ToolEnd struct {
	Tool   string
	Output string
}

type Handoff struct {
	From string
	To   string
}

type AgentStart struct {
	Agent string
}

type AgentEnd struct {
	Agent string
}

type ServerError struct {
	Message string
}

type AudioInterrupted struct{}

type InputTimeout struct{}

// Unknown carries any message whose type is not recognized, including
// frames that are not valid JSON at all.
type Unknown struct {
	Type string
	Text string
	Raw  []byte
}

func (e AudioDelta) EventType() string      { return e.Type }
func (e TranscriptDelta) EventType() string { return e.Type }
func (e HistoryUpdated) EventType() string  { return e.Type }
func (ToolStart) EventType() string         { return TypeToolStart }
func (ToolEnd) EventType() string           { return TypeToolEnd }
func (Handoff) EventType() string           { return TypeHandoff }
func (AgentStart) EventType() string        { return TypeAgentStart }
func (AgentEnd) EventType() string          { return TypeAgentEnd }
func (ServerError) EventType() string       { return TypeError }
func (AudioInterrupted) EventType() string  { return TypeAudioInterrupted }
func (InputTimeout) EventType() string      { return TypeInputTimeout }
func (e Unknown) EventType() string         { return e.Type }

type fields map[string]json.RawMessage

// str returns the named field when it is a JSON string.
func (f fields) str(name string) string {
	raw, ok := f[name]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return s
}

func (f fields) first(names ...string) string {
	for _, name := range names {
		if s := f.str(name); s != "" {
			return s
		}
	}
	return ""
}

// Decode parses one inbound frame. Only corrupt base64 audio produces an
// error; the returned AudioDelta then carries no PCM and must be dropped.
func Decode(data []byte) (Event, error) {
	var f fields
	if err := json.Unmarshal(data, &f); err != nil || f == nil {
		return Unknown{Raw: data}, nil
	}

	typ := f.str("type")
	switch typ {
	case TypeAudio, TypeAudioDelta:
		return decodeAudio(typ, f)
	case TypeTranscript, TypeTranscriptDelta, TypeTextDelta, TypeOutputTextDelta, TypeAudioTranscriptDl:
		return TranscriptDelta{Type: typ, Text: f.first("text", "delta", "transcript")}, nil
	case TypeHistoryUpdated, TypeHistoryAdded:
		return HistoryUpdated{Type: typ, Items: decodeHistory(f)}, nil
	case TypeAudioInterrupted:
		return AudioInterrupted{}, nil
	case TypeInputTimeout:
		return InputTimeout{}, nil
	case TypeToolStart:
		return ToolStart{Tool: f.str("tool")}, nil
	case TypeToolEnd:
		return ToolEnd{Tool: f.str("tool"), Output: f.str("output")}, nil
	case TypeHandoff:
		return Handoff{From: f.str("from"), To: f.str("to")}, nil
	case TypeAgentStart:
		return AgentStart{Agent: f.str("agent")}, nil
	case TypeAgentEnd:
		return AgentEnd{Agent: f.str("agent")}, nil
	case TypeError:
		return ServerError{Message: f.first("error", "message")}, nil
	}

	return Unknown{Type: typ, Text: f.str("text"), Raw: data}, nil
}

func decodeAudio(typ string, f fields) (Event, error) {
	payload := f.first("audio", "data", "delta")
	ev := AudioDelta{Type: typ}
	if payload == "" {
		return ev, nil
	}
	pcm, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return ev, fmt.Errorf("%w: %v", shared.ErrCorruptAudio, err)
	}
	ev.PCM = pcm
	return ev, nil
}

func decodeHistory(f fields) []HistoryItem {
	if raw, ok := f["history"]; ok {
		var elems []json.RawMessage
		if err := json.Unmarshal(raw, &elems); err == nil {
			items := make([]HistoryItem, 0, len(elems))
			for _, elem := range elems {
				if item, ok := decodeHistoryItem(elem); ok {
					items = append(items, item)
				}
			}
			return items
		}
	}
	if raw, ok := f["item"]; ok {
		if item, ok := decodeHistoryItem(raw); ok {
			return []HistoryItem{item}
		}
	}
	return nil
}
