// Package lifecycle owns session status transitions and participant checks.
package lifecycle

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"unicode/utf8"

	"pairchat/backend/internal/analysis"
	"pairchat/backend/internal/apperr"
	"pairchat/backend/internal/complaint"
	"pairchat/backend/internal/config"
	"pairchat/backend/internal/logger"
	"pairchat/backend/internal/models"
	"pairchat/backend/internal/storage"
)

type Store interface {
	GetSessionByID(ctx context.Context, sessionID string) (*models.Session, error)
	GetActiveSessionForUser(ctx context.Context, userID string) (*models.Session, error)
	EndSession(ctx context.Context, sessionID string) (bool, error)
	SaveReport(ctx context.Context, report *models.Report) error
}

type Publisher interface {
	PublishEvent(ctx context.Context, event models.Event) error
}

type ComplaintHandler interface {
	HandleComplaint(ctx context.Context, report *models.Report) (*complaint.Outcome, error)
}

type Service struct {
	Store      Store
	Events     Publisher
	Complaints ComplaintHandler
	log        *slog.Logger
}

// NewService creates a lifecycle manager. events and complaints may be nil.
func NewService(store Store, events Publisher, complaints ComplaintHandler) *Service {
	return &Service{
		Store:      store,
		Events:     events,
		Complaints: complaints,
		log:        logger.With("component", "lifecycle"),
	}
}

// GetSession returns the session to one of its participants. Missing
// sessions and foreign sessions both yield Forbidden.
func (s *Service) GetSession(ctx context.Context, sessionID, requesterID string) (*models.Session, error) {
	if requesterID == "" {
		return nil, apperr.New(apperr.Unauthorized, "missing user id")
	}
	session, err := s.Store.GetSessionByID(ctx, sessionID)
	if errors.Is(err, storage.ErrSessionNotFound) {
		return nil, apperr.New(apperr.Forbidden, "not a participant of this session")
	}
	if err != nil {
		s.log.Error("failed to load session", "session_id", sessionID, "err", err)
		return nil, apperr.FromStorage(err, "failed to load session")
	}
	if !session.HasParticipant(requesterID) {
		return nil, apperr.New(apperr.Forbidden, "not a participant of this session")
	}
	return session, nil
}

// EndSession ends the session on behalf of a participant. Ending an already
// ended session succeeds without changes. The partner is notified only by
// the call that made the transition.
func (s *Service) EndSession(ctx context.Context, sessionID, byUserID string) (*models.Session, error) {
	if byUserID == "" {
		return nil, apperr.New(apperr.Unauthorized, "missing user id")
	}
	session, err := s.Store.GetSessionByID(ctx, sessionID)
	if errors.Is(err, storage.ErrSessionNotFound) {
		return nil, apperr.New(apperr.NotFound, "session not found")
	}
	if err != nil {
		s.log.Error("failed to load session", "session_id", sessionID, "err", err)
		return nil, apperr.FromStorage(err, "failed to load session")
	}
	if !session.HasParticipant(byUserID) {
		return nil, apperr.New(apperr.Forbidden, "not a participant of this session")
	}
	if !session.IsActive() {
		return session, nil
	}

	ended, err := s.Store.EndSession(ctx, sessionID)
	if err != nil {
		s.log.Error("failed to end session", "session_id", sessionID, "err", err)
		return nil, apperr.FromStorage(err, "failed to end session")
	}

	if ended {
		s.log.Info("session ended", "session_id", sessionID, "user_id", byUserID)
		s.notifyEnded(ctx, session, byUserID)
	}

	// Reload for the final status and end time.
	if fresh, err := s.Store.GetSessionByID(ctx, sessionID); err == nil {
		session = fresh
	}
	return session, nil
}

func (s *Service) notifyEnded(ctx context.Context, session *models.Session, byUserID string) {
	if s.Events == nil {
		return
	}
	event := models.Event{
		Type:       models.EventSessionEnded,
		SessionID:  session.ID,
		Recipients: []string{session.PartnerOf(byUserID)},
		SenderID:   byUserID,
	}
	if err := s.Events.PublishEvent(ctx, event); err != nil {
		s.log.Warn("failed to publish end event", "session_id", session.ID, "err", err)
	}
}

// ActiveSessionFor returns the user's active session or nil.
func (s *Service) ActiveSessionFor(ctx context.Context, userID string) (*models.Session, error) {
	if userID == "" {
		return nil, apperr.New(apperr.Unauthorized, "missing user id")
	}
	session, err := s.Store.GetActiveSessionForUser(ctx, userID)
	if err != nil {
		return nil, apperr.FromStorage(err, "failed to load session")
	}
	return session, nil
}

// ReportSession files a report against the reporter's partner. Reports are
// accepted for ended sessions too.
func (s *Service) ReportSession(ctx context.Context, sessionID, reporterID, category, reason string) (*models.Report, error) {
	if !analysis.ValidCategory(category) {
		return nil, apperr.New(apperr.Validation, "unknown report category")
	}
	reason = strings.TrimSpace(reason)
	if utf8.RuneCountInString(reason) > config.MaxReportReasonSize {
		return nil, apperr.New(apperr.TooLong, "reason is too long")
	}

	session, err := s.GetSession(ctx, sessionID, reporterID)
	if err != nil {
		return nil, err
	}

	report := &models.Report{
		ReporterID: reporterID,
		TargetID:   session.PartnerOf(reporterID),
		SessionID:  session.ID,
		Category:   category,
		Reason:     reason,
	}
	if err := s.Store.SaveReport(ctx, report); err != nil {
		s.log.Error("failed to save report", "session_id", sessionID, "err", err)
		return nil, apperr.FromStorage(err, "failed to save report")
	}

	if s.Complaints != nil {
		out, err := s.Complaints.HandleComplaint(ctx, report)
		if err != nil {
			s.log.Error("failed to score report", "report_id", report.ID, "target_id", report.TargetID, "err", err)
		} else if out.Banned {
			s.log.Info("report led to ban", "target_id", report.TargetID, "level", out.BanLevel)
		}
	}
	return report, nil
}
