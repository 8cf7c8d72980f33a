package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	SessionActive = "active"
	SessionEnded  = "ended"
)

// Session is a matched two-party conversation. User1ID is the caller whose
// attempt formed the pair, User2ID the partner taken from the waiting pool.
// The criteria each side matched with are kept so either participant can see
// the other's profile on later polls.
type Session struct {
	ID      string `gorm:"primaryKey;type:varchar(36)" json:"id"`
	User1ID string `gorm:"not null;index" json:"user1_id"`
	User2ID string `gorm:"not null;index" json:"user2_id"`
	Status  string `gorm:"type:varchar(16);not null;index" json:"status"`

	User1Interests Interests `json:"user1_interests"`
	User1Language  string    `json:"user1_language"`
	User1AgeGroup  string    `json:"user1_age_group"`
	User2Interests Interests `json:"user2_interests"`
	User2Language  string    `json:"user2_language"`
	User2AgeGroup  string    `json:"user2_age_group"`

	CreatedAt time.Time  `gorm:"not null" json:"created_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
}

func (s *Session) BeforeCreate(tx *gorm.DB) (err error) {
	if s.ID == "" {
		s.ID = uuid.New().String()
	}
	return
}

func (s *Session) IsActive() bool { return s.Status == SessionActive }

// HasParticipant reports whether userID is one of the two participants.
func (s *Session) HasParticipant(userID string) bool {
	return userID != "" && (s.User1ID == userID || s.User2ID == userID)
}

// PartnerOf returns the other participant, or "" if userID is not a participant.
func (s *Session) PartnerOf(userID string) string {
	switch userID {
	case s.User1ID:
		return s.User2ID
	case s.User2ID:
		return s.User1ID
	}
	return ""
}

// PartnerView describes the participant opposite to userID.
func (s *Session) PartnerView(userID string) *Partner {
	switch userID {
	case s.User1ID:
		return &Partner{UserID: s.User2ID, Interests: s.User2Interests, Language: s.User2Language, AgeGroup: s.User2AgeGroup}
	case s.User2ID:
		return &Partner{UserID: s.User1ID, Interests: s.User1Interests, Language: s.User1Language, AgeGroup: s.User1AgeGroup}
	}
	return nil
}

func (s *Session) Participants() []string { return []string{s.User1ID, s.User2ID} }
