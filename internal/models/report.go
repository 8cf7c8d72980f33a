package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	ReportNew       = "new"
	ReportProcessed = "processed"
)

// Report is an append-only abuse report filed by one participant about the other.
type Report struct {
	ID         string    `gorm:"primaryKey;type:varchar(36)" json:"id"`
	ReporterID string    `gorm:"not null;index" json:"reporter_id"`
	TargetID   string    `gorm:"not null;index" json:"target_id"`
	SessionID  string    `gorm:"type:varchar(36);not null;index" json:"session_id"`
	Category   string    `gorm:"type:varchar(16);not null" json:"category"`
	Reason     string    `gorm:"type:text" json:"reason"`
	Status     string    `gorm:"type:varchar(16);not null" json:"status"`
	CreatedAt  time.Time `gorm:"not null;index" json:"created_at"`
}

func (r *Report) BeforeCreate(tx *gorm.DB) (err error) {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	if r.Status == "" {
		r.Status = ReportNew
	}
	return
}
