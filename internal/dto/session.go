package dto

import "time"

type SessionResponse struct {
	ID            string           `json:"id" example:"session_3f9a1c2b7"`
	ServerURL     string           `json:"server_url,omitempty" example:"wss://voice.example.com/ws"`
	State         string           `json:"state" example:"open"`
	Live          bool             `json:"live" example:"true"`
	Events        bool             `json:"events" example:"true"`
	Muted         bool             `json:"muted" example:"false"`
	CaptureActive bool             `json:"capture_active" example:"true"`
	Error         string           `json:"error,omitempty"`
	StartedAt     time.Time        `json:"started_at"`
	EndedAt       *time.Time       `json:"ended_at,omitempty"`
	Counters      map[string]int64 `json:"counters,omitempty"`
}

type SessionListResponse struct {
	Sessions []SessionResponse `json:"sessions"`
}

type TranscriptFragment struct {
	Seq  int       `json:"seq" example:"3"`
	Text string    `json:"text" example:"hello there"`
	At   time.Time `json:"at"`
}

type TranscriptResponse struct {
	SessionID string               `json:"session_id" example:"session_3f9a1c2b7"`
	Text      string               `json:"text" example:"hello there"`
	Fragments []TranscriptFragment `json:"fragments"`
}

type SendTextRequest struct {
	Text string `json:"text" example:"What is the weather like?"`
}

type SendImageRequest struct {
	// Image is base64 encoded JPEG data.
	Image  string `json:"image"`
	Prompt string `json:"prompt" example:"What is in this picture?"`
}

type SendImageResponse struct {
	ImageID string `json:"image_id" example:"img_a1b2c3"`
}

type MuteRequest struct {
	Muted bool `json:"muted" example:"true"`
}

type MuteResponse struct {
	Muted bool `json:"muted" example:"true"`
}
