package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	AttachmentVoice = "voice"
	AttachmentImage = "image"
	AttachmentFile  = "file"
)

// Attachment references binary content kept by the blob store. It follows
// the same ownership rules as Message.
type Attachment struct {
	ID         string    `gorm:"primaryKey;type:varchar(36)" json:"id"`
	SessionID  string    `gorm:"type:varchar(36);not null;index" json:"session_id"`
	SenderID   string    `gorm:"not null" json:"sender_id"`
	Kind       string    `gorm:"type:varchar(16);not null" json:"kind"`
	MimeType   string    `json:"mime_type"`
	SizeBytes  int64     `json:"size_bytes"`
	DurationMs int64     `json:"duration_ms,omitempty"`
	BlobKey    string    `gorm:"not null" json:"-"`
	URL        string    `gorm:"not null" json:"url"`
	CreatedAt  time.Time `gorm:"not null;index" json:"created_at"`
}

func (a *Attachment) BeforeCreate(tx *gorm.DB) (err error) {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	return
}
