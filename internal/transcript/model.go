package transcript

import "time"

type Fragment struct {
	ID        string    `gorm:"primaryKey" json:"id"`
	SessionID string    `gorm:"not null;index:idx_fragment_session_seq,priority:1" json:"session_id"`
	Seq       int       `gorm:"not null;index:idx_fragment_session_seq,priority:2" json:"seq"`
	Text      string    `gorm:"type:text;not null" json:"text"`
	CreatedAt time.Time `json:"created_at"`
}
