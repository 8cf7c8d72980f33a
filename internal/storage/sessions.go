package storage

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"pairchat/backend/internal/models"
)

// GetSessionByID returns ErrSessionNotFound when no such session exists.
func (s *Service) GetSessionByID(ctx context.Context, sessionID string) (*models.Session, error) {
	var session models.Session
	err := s.DB.WithContext(ctx).Where("id = ?", sessionID).First(&session).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, err
	}
	return &session, nil
}

// GetActiveSessionForUser returns the active session the user participates in, or nil.
func (s *Service) GetActiveSessionForUser(ctx context.Context, userID string) (*models.Session, error) {
	return findActiveSession(s.DB.WithContext(ctx), userID)
}

// GetActiveSessionIDs returns the ids of all active sessions.
func (s *Service) GetActiveSessionIDs(ctx context.Context) ([]string, error) {
	var ids []string
	if err := s.DB.WithContext(ctx).Model(&models.Session{}).
		Where("status = ?", models.SessionActive).
		Pluck("id", &ids).Error; err != nil {
		return nil, err
	}
	return ids, nil
}

// EndSession moves an active session to ended and stamps ended_at. It reports
// whether this call made the transition; ending an ended session changes nothing.
func (s *Service) EndSession(ctx context.Context, sessionID string) (bool, error) {
	res := s.DB.WithContext(ctx).Model(&models.Session{}).
		Where("id = ? AND status = ?", sessionID, models.SessionActive).
		Updates(map[string]interface{}{
			"status":   models.SessionEnded,
			"ended_at": s.now(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}
