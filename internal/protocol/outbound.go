package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/eleven-am/voice-client/internal/audio"
)

const (
	TypeAudio       = "audio"
	TypeText        = "text"
	TypeInterrupt   = "interrupt"
	TypeCommitAudio = "commit_audio"
	TypeImageStart  = "image_start"
	TypeImageChunk  = "image_chunk"
	TypeImageEnd    = "image_end"
)

// Outbound is one client to server message. Exactly one variant is encoded
// per call to Encode.
type Outbound interface {
	OutboundType() string
}

type Audio struct {
	Chunk audio.Chunk
}

type Text struct {
	Text string
}

type Interrupt struct{}

type CommitAudio struct{}

type ImageStart struct {
	ID     string
	Prompt string
}

type ImageChunk struct {
	ID   string
	Data string
}

type ImageEnd struct {
	ID string
}

func (Audio) OutboundType() string       { return TypeAudio }
func (Text) OutboundType() string        { return TypeText }
func (Interrupt) OutboundType() string   { return TypeInterrupt }
func (CommitAudio) OutboundType() string { return TypeCommitAudio }
func (ImageStart) OutboundType() string  { return TypeImageStart }
func (ImageChunk) OutboundType() string  { return TypeImageChunk }
func (ImageEnd) OutboundType() string    { return TypeImageEnd }

type audioFrame struct {
	Type string  `json:"type"`
	Data []int16 `json:"data"`
}

type textFrame struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type controlFrame struct {
	Type string `json:"type"`
}

type imageStartFrame struct {
	Type string `json:"type"`
	ID   string `json:"id"`
	Text string `json:"text"`
}

type imageChunkFrame struct {
	Type  string `json:"type"`
	ID    string `json:"id"`
	Chunk string `json:"chunk"`
}

type imageEndFrame struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

// Encode renders msg as a single newline-free JSON text frame.
func Encode(msg Outbound) ([]byte, error) {
	var frame any
	switch m := msg.(type) {
	case Audio:
		samples := m.Chunk.Samples()
		if samples == nil {
			samples = []int16{}
		}
		frame = audioFrame{Type: TypeAudio, Data: samples}
	case Text:
		frame = textFrame{Type: TypeText, Text: m.Text}
	case Interrupt, CommitAudio:
		frame = controlFrame{Type: m.OutboundType()}
	case ImageStart:
		frame = imageStartFrame{Type: TypeImageStart, ID: m.ID, Text: m.Prompt}
	case ImageChunk:
		frame = imageChunkFrame{Type: TypeImageChunk, ID: m.ID, Chunk: m.Data}
	case ImageEnd:
		frame = imageEndFrame{Type: TypeImageEnd, ID: m.ID}
	default:
		return nil, fmt.Errorf("encode: unsupported outbound message %T", msg)
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(frame); err != nil {
		return nil, fmt.Errorf("encode %s: %w", msg.OutboundType(), err)
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
