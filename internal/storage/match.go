package storage

import (
	"context"
	"errors"
	"time"

	"github.com/lib/pq"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"pairchat/backend/internal/config"
	"pairchat/backend/internal/models"
)

// AttemptMatch pairs the caller with the oldest compatible waiting user or
// enqueues the caller, all inside one transaction.
//
// Steps, in order:
//  1. Drop the caller's own entry if it has expired, then upsert it. The
//     upsert keeps created_at, so polling does not lose the FIFO position,
//     and on PostgreSQL it holds the caller's row lock until commit, which
//     serializes concurrent attempts by the same user.
//  2. If the caller already participates in an active session, that session
//     is returned and the caller's entry is removed.
//  3. Candidates of other users with the same language, not expired and not
//     in an active session are read oldest first. The first one whose
//     interests overlap is claimed with a delete by primary key; a claim that
//     affects no row was lost to a concurrent attempt and the search moves on.
//     On PostgreSQL the overlap is filtered with && and rows held by other
//     transactions are skipped with FOR UPDATE SKIP LOCKED.
//  4. On a claim the caller's entry is deleted and the session row inserted.
//
// Any error rolls the whole unit back, leaving both waiting entries intact.
func (s *Service) AttemptMatch(ctx context.Context, req models.MatchRequest) (*models.MatchOutcome, error) {
	var outcome *models.MatchOutcome

	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := s.now()
		cutoff := now.Add(-config.WaitingEntryTTL)

		if err := tx.Where("user_id = ? AND updated_at < ?", req.UserID, cutoff).
			Delete(&models.WaitingEntry{}).Error; err != nil {
			return err
		}

		own := models.WaitingEntry{
			UserID:    req.UserID,
			Interests: req.Interests,
			Language:  req.Language,
			AgeGroup:  req.AgeGroup,
			Mood:      req.Mood,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"interests", "language", "age_group", "mood", "updated_at"}),
		}).Create(&own).Error; err != nil {
			return err
		}

		active, err := findActiveSession(tx, req.UserID)
		if err != nil {
			return err
		}
		if active != nil {
			if err := deleteWaiting(tx, req.UserID); err != nil {
				return err
			}
			outcome = &models.MatchOutcome{
				Success:   true,
				Status:    models.StatusMatched,
				SessionID: active.ID,
				Partner:   active.PartnerView(req.UserID),
			}
			return nil
		}

		partner, err := s.claimCandidate(tx, req, cutoff)
		if err != nil {
			return err
		}
		if partner == nil {
			outcome = &models.MatchOutcome{Status: models.StatusWaiting}
			return nil
		}

		if err := deleteWaiting(tx, req.UserID); err != nil {
			return err
		}

		session := models.Session{
			User1ID:        req.UserID,
			User2ID:        partner.UserID,
			Status:         models.SessionActive,
			User1Interests: req.Interests,
			User1Language:  req.Language,
			User1AgeGroup:  req.AgeGroup,
			User2Interests: partner.Interests,
			User2Language:  partner.Language,
			User2AgeGroup:  partner.AgeGroup,
			CreatedAt:      now,
		}
		if session.User1ID == session.User2ID {
			return ErrSameUser
		}
		if err := tx.Create(&session).Error; err != nil {
			return err
		}

		outcome = &models.MatchOutcome{
			Success:   true,
			Status:    models.StatusMatched,
			SessionID: session.ID,
			Partner:   session.PartnerView(req.UserID),
			Created:   true,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return outcome, nil
}

// claimCandidate returns the claimed waiting entry, or nil when no compatible
// candidate could be claimed.
func (s *Service) claimCandidate(tx *gorm.DB, req models.MatchRequest, cutoff time.Time) (*models.WaitingEntry, error) {
	pg := s.isPostgres()
	batch := config.CandidateBatchSize
	if pg {
		// The && filter makes every returned row compatible, so lock only one.
		batch = 1
	}

	var last *models.WaitingEntry
	for {
		q := tx.Model(&models.WaitingEntry{}).
			Where("user_id <> ? AND language = ? AND updated_at >= ?", req.UserID, req.Language, cutoff).
			Where(`NOT EXISTS (
				SELECT 1 FROM sessions s
				WHERE s.status = ?
				  AND (s.user1_id = waiting_entries.user_id OR s.user2_id = waiting_entries.user_id)
			)`, models.SessionActive).
			Order("created_at ASC, id ASC").
			Limit(batch)

		if last != nil {
			q = q.Where("(created_at > ? OR (created_at = ? AND id > ?))", last.CreatedAt, last.CreatedAt, last.ID)
		}
		if pg {
			q = q.Where("interests && CAST(? AS text[])", pq.StringArray(req.Interests)).
				Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
		}

		var candidates []models.WaitingEntry
		if err := q.Find(&candidates).Error; err != nil {
			return nil, err
		}

		for i := range candidates {
			c := candidates[i]
			if !req.Interests.Overlaps(c.Interests) {
				continue
			}
			res := tx.Where("id = ? AND user_id = ?", c.ID, c.UserID).Delete(&models.WaitingEntry{})
			if res.Error != nil {
				return nil, res.Error
			}
			if res.RowsAffected == 1 {
				return &c, nil
			}
		}

		if len(candidates) < batch {
			return nil, nil
		}
		last = &candidates[len(candidates)-1]
	}
}

func findActiveSession(tx *gorm.DB, userID string) (*models.Session, error) {
	var session models.Session
	err := tx.Where("status = ?", models.SessionActive).
		Where("user1_id = ? OR user2_id = ?", userID, userID).
		Order("created_at DESC").
		First(&session).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &session, nil
}

func deleteWaiting(tx *gorm.DB, userID string) error {
	return tx.Where("user_id = ?", userID).Delete(&models.WaitingEntry{}).Error
}

// CancelWaiting removes the user's waiting entry. It reports whether an entry
// existed; cancelling after a concurrent claim is a no-op.
func (s *Service) CancelWaiting(ctx context.Context, userID string) (bool, error) {
	res := s.DB.WithContext(ctx).Where("user_id = ?", userID).Delete(&models.WaitingEntry{})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// GetWaitingEntry returns the user's live waiting entry or nil.
func (s *Service) GetWaitingEntry(ctx context.Context, userID string) (*models.WaitingEntry, error) {
	var entry models.WaitingEntry
	err := s.DB.WithContext(ctx).
		Where("user_id = ? AND updated_at >= ?", userID, s.now().Add(-config.WaitingEntryTTL)).
		First(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

// DeleteStaleWaiting removes entries not refreshed since cutoff.
func (s *Service) DeleteStaleWaiting(ctx context.Context, cutoff time.Time) (int64, error) {
	res := s.DB.WithContext(ctx).Where("updated_at < ?", cutoff).Delete(&models.WaitingEntry{})
	return res.RowsAffected, res.Error
}
