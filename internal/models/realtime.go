package models

import (
	"encoding/json"
	"time"
)

// MatchRequest carries the caller's criteria for one match attempt.
type MatchRequest struct {
	UserID    string
	Interests Interests
	Language  string
	AgeGroup  string
	Mood      *string
}

type MatchStatus string

const (
	StatusIdle    MatchStatus = "idle"
	StatusWaiting MatchStatus = "waiting"
	StatusMatched MatchStatus = "matched"
)

// Partner is what one participant is told about the other.
type Partner struct {
	UserID    string    `json:"user_id"`
	Interests Interests `json:"interests"`
	Language  string    `json:"language"`
	AgeGroup  string    `json:"age_group,omitempty"`
}

// MatchOutcome is the result of a match attempt or status poll. Success is
// true only when Status is matched.
type MatchOutcome struct {
	Success   bool        `json:"success"`
	Status    MatchStatus `json:"status"`
	SessionID string      `json:"session_id,omitempty"`
	Partner   *Partner    `json:"partner,omitempty"`
	// Created is true only for the attempt that formed the session.
	Created bool `json:"-"`
}

func (o *MatchOutcome) Matched() bool { return o != nil && o.Status == StatusMatched }

const (
	EventMatched      = "matched"
	EventMessage      = "message"
	EventSessionEnded = "session_ended"
	EventSignal       = "signal"
	EventError        = "error"
)

// Event is pushed to connected clients through the hub. Recipients decides
// which users receive it.
type Event struct {
	Type       string          `json:"type"`
	SessionID  string          `json:"session_id,omitempty"`
	Recipients []string        `json:"recipients,omitempty"`
	SenderID   string          `json:"sender_id,omitempty"`
	Message    *Message        `json:"message,omitempty"`
	Partner    *Partner        `json:"partner,omitempty"`
	Signal     json.RawMessage `json:"signal,omitempty"`
	Error      string          `json:"error,omitempty"`
	At         time.Time       `json:"at"`
}

// IsFor reports whether userID is among the recipients.
func (e *Event) IsFor(userID string) bool {
	for _, r := range e.Recipients {
		if r == userID {
			return true
		}
	}
	return false
}
