package session

import "time"

type Record struct {
	ID           string     `json:"id"`
	ServerURL    string     `json:"server_url"`
	State        string     `json:"state"`
	Events       bool       `json:"events"`
	Error        string     `json:"error,omitempty"`
	StartedAt    time.Time  `json:"started_at"`
	LastActiveAt time.Time  `json:"last_active_at"`
	EndedAt      *time.Time `json:"ended_at,omitempty"`
}

func (r *Record) RedisKey() string {
	return RecordKey(r.ID)
}

func RecordKey(id string) string {
	return "voice-client:session:" + id
}

func CountersKey(id string) string {
	return "voice-client:session:" + id + ":counters"
}
