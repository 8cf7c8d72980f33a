package storage

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"pairchat/backend/internal/models"
)

// AppendMessage inserts msg if its session is still active. The session row
// is share-locked on PostgreSQL so a concurrent EndSession waits for the insert.
func (s *Service) AppendMessage(ctx context.Context, msg *models.Message) error {
	return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.lockActiveSession(tx, msg.SessionID); err != nil {
			return err
		}
		if msg.CreatedAt.IsZero() {
			msg.CreatedAt = s.now()
		}
		return tx.Create(msg).Error
	})
}

// AppendAttachment inserts the attachment and the message announcing it in
// one transaction, under the same active-session rule as AppendMessage.
func (s *Service) AppendAttachment(ctx context.Context, att *models.Attachment, msg *models.Message) error {
	return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.lockActiveSession(tx, att.SessionID); err != nil {
			return err
		}
		now := s.now()
		if att.CreatedAt.IsZero() {
			att.CreatedAt = now
		}
		if err := tx.Create(att).Error; err != nil {
			return err
		}
		msg.SessionID = att.SessionID
		msg.AttachmentID = &att.ID
		if msg.CreatedAt.IsZero() {
			msg.CreatedAt = now
		}
		return tx.Create(msg).Error
	})
}

func (s *Service) lockActiveSession(tx *gorm.DB, sessionID string) error {
	q := tx
	if s.isPostgres() {
		q = q.Clauses(clause.Locking{Strength: "SHARE"})
	}
	var session models.Session
	err := q.Where("id = ?", sessionID).First(&session).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrSessionNotFound
	}
	if err != nil {
		return err
	}
	if !session.IsActive() {
		return ErrSessionClosed
	}
	return nil
}

// ListMessages returns up to limit messages of the session ordered after the
// message afterID, oldest first. The cursor follows the (created_at, id)
// order; an unknown cursor falls back to id > afterID.
func (s *Service) ListMessages(ctx context.Context, sessionID string, afterID uint, limit int) ([]models.Message, error) {
	db := s.DB.WithContext(ctx)
	q := db.Where("session_id = ?", sessionID).
		Order("created_at ASC, id ASC")
	if afterID > 0 {
		var cursor models.Message
		err := db.Select("id", "created_at").
			Where("id = ? AND session_id = ?", afterID, sessionID).
			First(&cursor).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			q = q.Where("id > ?", afterID)
		case err != nil:
			return nil, err
		default:
			q = q.Where("(created_at > ? OR (created_at = ? AND id > ?))", cursor.CreatedAt, cursor.CreatedAt, cursor.ID)
		}
	}
	var messages []models.Message
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&messages).Error; err != nil {
		return nil, err
	}
	return messages, nil
}

// ListAttachments returns the session's attachments, oldest first.
func (s *Service) ListAttachments(ctx context.Context, sessionID string) ([]models.Attachment, error) {
	var attachments []models.Attachment
	if err := s.DB.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("created_at ASC, id ASC").
		Find(&attachments).Error; err != nil {
		return nil, err
	}
	return attachments, nil
}

// DeleteMessagesBefore removes messages and attachment rows created before
// cutoff and returns the number of messages removed.
func (s *Service) DeleteMessagesBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	var removed int64
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("created_at < ?", cutoff).Delete(&models.Message{})
		if res.Error != nil {
			return res.Error
		}
		removed = res.RowsAffected
		return tx.Where("created_at < ?", cutoff).Delete(&models.Attachment{}).Error
	})
	return removed, err
}
