package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// WaitingEntry is one user currently seeking a partner. A user owns at most
// one entry; repeated match attempts refresh it in place.
type WaitingEntry struct {
	ID        string    `gorm:"primaryKey;type:varchar(36)" json:"id"`
	UserID    string    `gorm:"uniqueIndex;not null" json:"user_id"`
	Interests Interests `json:"interests"`
	Language  string    `gorm:"not null;index:idx_waiting_lang_created,priority:1" json:"language"`
	AgeGroup  string    `gorm:"not null" json:"age_group"`
	Mood      *string   `json:"mood,omitempty"`
	// CreatedAt is the enqueue time and decides FIFO order.
	CreatedAt time.Time `gorm:"not null;index:idx_waiting_lang_created,priority:2" json:"created_at"`
	// UpdatedAt is the last poll; entries older than the waiting TTL are ignored.
	UpdatedAt time.Time `gorm:"not null;index" json:"updated_at"`
}

// BeforeCreate generates a UUID for the entry if ID is not set yet.
func (w *WaitingEntry) BeforeCreate(tx *gorm.DB) (err error) {
	if w.ID == "" {
		w.ID = uuid.New().String()
	}
	return
}

// Expired reports whether the entry was last refreshed before now-ttl.
func (w *WaitingEntry) Expired(now time.Time, ttl time.Duration) bool {
	return w.UpdatedAt.Before(now.Add(-ttl))
}
