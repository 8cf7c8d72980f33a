package models

import "time"

const (
	MessageText   = "text"
	MessageVoice  = "voice"
	MessageImage  = "image"
	MessageFile   = "file"
	MessageSystem = "system"
)

// Message is one immutable entry of a session's log. ID grows with insertion
// order and is the tie-break for equal timestamps.
type Message struct {
	ID           uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	SessionID    string    `gorm:"type:varchar(36);not null;index:idx_session_msg,priority:1" json:"session_id"`
	SenderID     string    `gorm:"not null" json:"sender_id"`
	Content      string    `gorm:"type:text;not null" json:"content"`
	Type         string    `gorm:"type:varchar(16);not null" json:"type"`
	AttachmentID *string   `gorm:"type:varchar(36)" json:"attachment_id,omitempty"`
	CreatedAt    time.Time `gorm:"not null;index:idx_session_msg,priority:2;index" json:"created_at"`
}
