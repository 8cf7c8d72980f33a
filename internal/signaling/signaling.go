// Package signaling validates WebRTC signaling payloads exchanged between the
// two participants of a session. Payloads are relayed, never stored.
package signaling

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/pion/webrtc/v4"
)

const (
	KindOffer     = "offer"
	KindAnswer    = "answer"
	KindCandidate = "candidate"
	KindHangup    = "hangup"

	MaxPayloadSize = 64 << 10
)

var ErrInvalidSignal = errors.New("invalid signal")

// Signal is one signaling frame. Offer and answer frames carry a session
// description, candidate frames carry one ICE candidate.
type Signal struct {
	Kind        string                     `json:"kind"`
	Description *webrtc.SessionDescription `json:"description,omitempty"`
	Candidate   *webrtc.ICECandidateInit   `json:"candidate,omitempty"`
}

// Parse decodes and validates raw.
func Parse(raw []byte) (*Signal, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: empty payload", ErrInvalidSignal)
	}
	if len(raw) > MaxPayloadSize {
		return nil, fmt.Errorf("%w: payload exceeds %d bytes", ErrInvalidSignal, MaxPayloadSize)
	}

	var sig Signal
	if err := json.Unmarshal(raw, &sig); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignal, err)
	}
	if err := sig.Validate(); err != nil {
		return nil, err
	}
	return &sig, nil
}

func (s *Signal) Validate() error {
	switch s.Kind {
	case KindOffer, KindAnswer:
		return s.validateDescription()
	case KindCandidate:
		return s.validateCandidate()
	case KindHangup:
		return nil
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidSignal, s.Kind)
	}
}

func (s *Signal) validateDescription() error {
	if s.Description == nil {
		return fmt.Errorf("%w: %s without description", ErrInvalidSignal, s.Kind)
	}

	want := webrtc.SDPTypeOffer
	if s.Kind == KindAnswer {
		want = webrtc.SDPTypeAnswer
	}
	got := s.Description.Type
	if got != want && !(s.Kind == KindAnswer && got == webrtc.SDPTypePranswer) {
		return fmt.Errorf("%w: description type %s does not match %s", ErrInvalidSignal, got, s.Kind)
	}

	if _, err := s.Description.Unmarshal(); err != nil {
		return fmt.Errorf("%w: malformed sdp: %v", ErrInvalidSignal, err)
	}
	return nil
}

func (s *Signal) validateCandidate() error {
	if s.Candidate == nil {
		return fmt.Errorf("%w: candidate frame without candidate", ErrInvalidSignal)
	}
	// An empty candidate string marks end of candidates.
	c := s.Candidate.Candidate
	if c != "" && !strings.HasPrefix(c, "candidate:") {
		return fmt.Errorf("%w: malformed ice candidate", ErrInvalidSignal)
	}
	return nil
}
