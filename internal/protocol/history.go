package protocol

import (
	"encoding/json"
	"strings"
)

type ContentPart struct {
	Type       string `json:"type"`
	Text       string `json:"text,omitempty"`
	Transcript string `json:"transcript,omitempty"`
}

type HistoryItem struct {
	Type    string        `json:"type"`
	Role    string        `json:"role,omitempty"`
	Content []ContentPart `json:"content,omitempty"`
}

// Text joins the readable parts of a message item. Audio parts contribute
// their transcript.
func (h HistoryItem) Text() string {
	var b strings.Builder
	for _, part := range h.Content {
		switch part.Type {
		case "text", "input_text", "output_text":
			b.WriteString(part.Text)
		case "audio", "input_audio", "output_audio":
			b.WriteString(part.Transcript)
		}
	}
	return b.String()
}

func (h HistoryItem) IsMessage() bool {
	return h.Type == "message" || (h.Type == "" && h.Role != "")
}

// LatestText returns the trimmed text of the most recent message item.
func LatestText(items []HistoryItem) string {
	for i := len(items) - 1; i >= 0; i-- {
		if items[i].IsMessage() {
			return strings.TrimSpace(items[i].Text())
		}
	}
	return ""
}

// decodeHistoryItem tolerates a plain string in place of the content array.
func decodeHistoryItem(raw json.RawMessage) (HistoryItem, bool) {
	var shape struct {
		Type    string          `json:"type"`
		Role    string          `json:"role"`
		Content json.RawMessage `json:"content"`
	}
	if err := json.Unmarshal(raw, &shape); err != nil {
		return HistoryItem{}, false
	}
	item := HistoryItem{Type: shape.Type, Role: shape.Role}
	if len(shape.Content) == 0 {
		return item, true
	}

	var parts []json.RawMessage
	if err := json.Unmarshal(shape.Content, &parts); err == nil {
		for _, p := range parts {
			var part ContentPart
			if err := json.Unmarshal(p, &part); err == nil {
				item.Content = append(item.Content, part)
			}
		}
		return item, true
	}

	var text string
	if err := json.Unmarshal(shape.Content, &text); err == nil {
		item.Content = []ContentPart{{Type: "text", Text: text}}
	}
	return item, true
}
