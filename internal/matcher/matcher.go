// Package matcher pairs waiting users into two-party sessions.
//
// All pairing state lives in the session store; the Service only validates
// requests, checks bans and reports outcomes. Any number of server instances
// may run a Service against the same database.
package matcher

import (
	"context"
	"log/slog"
	"strings"

	"pairchat/backend/internal/apperr"
	"pairchat/backend/internal/config"
	"pairchat/backend/internal/logger"
	"pairchat/backend/internal/models"
)

// Store is the part of the session store the matcher uses.
type Store interface {
	AttemptMatch(ctx context.Context, req models.MatchRequest) (*models.MatchOutcome, error)
	CancelWaiting(ctx context.Context, userID string) (bool, error)
	GetWaitingEntry(ctx context.Context, userID string) (*models.WaitingEntry, error)
	GetActiveSessionForUser(ctx context.Context, userID string) (*models.Session, error)
}

type BanChecker interface {
	IsUserBanned(ctx context.Context, userID string) (bool, error)
}

type Publisher interface {
	PublishEvent(ctx context.Context, event models.Event) error
}

type Service struct {
	Store  Store
	Bans   BanChecker
	Events Publisher
	log    *slog.Logger
}

// NewService creates a matcher. bans and events may be nil.
func NewService(store Store, bans BanChecker, events Publisher) *Service {
	return &Service{
		Store:  store,
		Bans:   bans,
		Events: events,
		log:    logger.With("component", "matcher"),
	}
}

// AttemptMatch validates req and runs one atomic pairing attempt. A Waiting
// outcome is normal; the caller polls again later. Storage failures come back
// as Transient "matching failed" and are safe to retry.
func (s *Service) AttemptMatch(ctx context.Context, req models.MatchRequest) (*models.MatchOutcome, error) {
	req, err := Normalize(req)
	if err != nil {
		return nil, err
	}

	if err := s.checkBan(ctx, req.UserID); err != nil {
		return nil, err
	}

	outcome, err := s.Store.AttemptMatch(ctx, req)
	if err != nil {
		s.log.Error("match attempt failed", "user_id", req.UserID, "err", err)
		return nil, apperr.Wrap(apperr.Transient, "matching failed", err)
	}

	if outcome.Created {
		s.log.Info("session created", "session_id", outcome.SessionID, "user_id", req.UserID, "partner_id", outcome.Partner.UserID)
		s.notifyPartner(ctx, req, outcome)
	}
	return outcome, nil
}

// notifyPartner pushes the new session to the user taken from the pool. The
// partner's own poll would find the session anyway, so failures are logged only.
func (s *Service) notifyPartner(ctx context.Context, req models.MatchRequest, outcome *models.MatchOutcome) {
	if s.Events == nil {
		return
	}
	event := models.Event{
		Type:       models.EventMatched,
		SessionID:  outcome.SessionID,
		Recipients: []string{outcome.Partner.UserID},
		Partner: &models.Partner{
			UserID:    req.UserID,
			Interests: req.Interests,
			Language:  req.Language,
			AgeGroup:  req.AgeGroup,
		},
	}
	if err := s.Events.PublishEvent(ctx, event); err != nil {
		s.log.Warn("failed to publish match event", "session_id", outcome.SessionID, "err", err)
	}
}

func (s *Service) checkBan(ctx context.Context, userID string) error {
	if s.Bans == nil {
		return nil
	}
	banned, err := s.Bans.IsUserBanned(ctx, userID)
	if err != nil {
		s.log.Error("ban check failed", "user_id", userID, "err", err)
		return apperr.Wrap(apperr.Transient, "matching failed", err)
	}
	if banned {
		return apperr.New(apperr.Forbidden, "user is banned")
	}
	return nil
}

// CancelMatch removes the caller's waiting entry. It reports whether the user
// was waiting; losing the race to a concurrent claim is not an error.
func (s *Service) CancelMatch(ctx context.Context, userID string) (bool, error) {
	if strings.TrimSpace(userID) == "" {
		return false, apperr.New(apperr.Unauthorized, "missing user id")
	}
	removed, err := s.Store.CancelWaiting(ctx, userID)
	if err != nil {
		s.log.Error("cancel failed", "user_id", userID, "err", err)
		return false, apperr.FromStorage(err, "cancel failed")
	}
	return removed, nil
}

// MatchStatus reports the user's current state without changing it.
func (s *Service) MatchStatus(ctx context.Context, userID string) (*models.MatchOutcome, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, apperr.New(apperr.Unauthorized, "missing user id")
	}

	session, err := s.Store.GetActiveSessionForUser(ctx, userID)
	if err != nil {
		return nil, apperr.FromStorage(err, "status lookup failed")
	}
	if session != nil {
		return &models.MatchOutcome{
			Success:   true,
			Status:    models.StatusMatched,
			SessionID: session.ID,
			Partner:   session.PartnerView(userID),
		}, nil
	}

	entry, err := s.Store.GetWaitingEntry(ctx, userID)
	if err != nil {
		return nil, apperr.FromStorage(err, "status lookup failed")
	}
	if entry != nil {
		return &models.MatchOutcome{Status: models.StatusWaiting}, nil
	}
	return &models.MatchOutcome{Status: models.StatusIdle}, nil
}

// Normalize checks and canonicalizes a match request before any storage access.
func Normalize(req models.MatchRequest) (models.MatchRequest, error) {
	req.UserID = strings.TrimSpace(req.UserID)
	if req.UserID == "" {
		return req, apperr.New(apperr.Unauthorized, "missing user id")
	}

	for _, tag := range req.Interests {
		if len(strings.TrimSpace(tag)) > config.MaxInterestLength {
			return req, apperr.New(apperr.Validation, "interest is too long")
		}
	}
	req.Interests = models.NormalizeInterests(req.Interests)
	if len(req.Interests) == 0 {
		return req, apperr.New(apperr.Validation, "at least one interest is required")
	}
	if len(req.Interests) > config.MaxInterests {
		return req, apperr.New(apperr.Validation, "too many interests")
	}

	req.Language = strings.ToLower(strings.TrimSpace(req.Language))
	if !isIdentifier(req.Language) {
		return req, apperr.New(apperr.Validation, "language is required")
	}

	req.AgeGroup = strings.TrimSpace(req.AgeGroup)
	if !isIdentifier(req.AgeGroup) {
		return req, apperr.New(apperr.Validation, "age group is required")
	}

	if req.Mood != nil {
		mood := strings.TrimSpace(*req.Mood)
		if mood == "" {
			req.Mood = nil
		} else if len(mood) > config.MaxInterestLength {
			return req, apperr.New(apperr.Validation, "mood is too long")
		} else {
			req.Mood = &mood
		}
	}
	return req, nil
}

// isIdentifier accepts short codes such as "en", "pt-br" or "18-24".
func isIdentifier(s string) bool {
	if s == "" || len(s) > 16 {
		return false
	}
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '-', r == '_', r == '+':
		default:
			return false
		}
	}
	return true
}
