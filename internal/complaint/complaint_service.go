// Package complaint turns abuse reports into reputation scores and applies
// temporary bans when a user's score crosses the threshold.
package complaint

import (
	"context"
	"log/slog"
	"time"

	"pairchat/backend/internal/analysis"
	"pairchat/backend/internal/config"
	"pairchat/backend/internal/logger"
	"pairchat/backend/internal/models"
)

// ScoreStore keeps rolling report scores and ban state.
type ScoreStore interface {
	AddReportScore(ctx context.Context, userID string, weight int, window time.Duration) (int64, error)
	BanUser(ctx context.Context, userID, reason string, d time.Duration) error
	GetLastBanDate(ctx context.Context, userID string) (int64, error)
	SetLastBanDate(ctx context.Context, userID string, at time.Time, keep time.Duration) error
}

// Service handles the business logic for complaints.
type Service struct {
	Scores ScoreStore
	Now    func() time.Time
	log    *slog.Logger
}

// NewService creates a new complaint service.
func NewService(scores ScoreStore) *Service {
	return &Service{
		Scores: scores,
		Now:    time.Now,
		log:    logger.With("component", "complaint"),
	}
}

// Outcome reports what a complaint led to.
type Outcome struct {
	Score       int64
	Banned      bool
	BanLevel    int
	BanDuration time.Duration
}

// HandleComplaint adds the report's weight to the target's score and bans
// the target once the score reaches the threshold.
func (s *Service) HandleComplaint(ctx context.Context, report *models.Report) (*Outcome, error) {
	weight := analysis.GetWeight(report.Category)
	if weight == 0 {
		return &Outcome{}, nil
	}

	score, err := s.Scores.AddReportScore(ctx, report.TargetID, weight, config.ReportScoreWindow)
	if err != nil {
		return nil, err
	}

	out := &Outcome{Score: score}
	if score < config.BanThresholdScore {
		return out, nil
	}

	level, d, err := s.applyBan(ctx, report.TargetID, report.Category)
	if err != nil {
		return nil, err
	}
	out.Banned = true
	out.BanLevel = level
	out.BanDuration = d
	return out, nil
}

// applyBan escalates with the user's recent ban history.
func (s *Service) applyBan(ctx context.Context, userID, category string) (int, time.Duration, error) {
	lastBanDate, err := s.Scores.GetLastBanDate(ctx, userID)
	if err != nil {
		return 0, 0, err
	}

	now := s.Now()
	level := 1
	if lastBanDate > 0 {
		since := now.Sub(time.Unix(lastBanDate, 0))
		switch {
		case since < config.BanRepeatWindow:
			level = 3
		case since < config.BanHistoryWindow:
			level = 2
		}
	}

	d := getBanDuration(level)
	if err := s.Scores.BanUser(ctx, userID, "reports:"+category, d); err != nil {
		return 0, 0, err
	}
	if err := s.Scores.SetLastBanDate(ctx, userID, now, config.BanHistoryWindow); err != nil {
		return 0, 0, err
	}

	s.log.Warn("user banned", "user_id", userID, "level", level, "duration", d)
	return level, d, nil
}

func getBanDuration(level int) time.Duration {
	switch level {
	case 1:
		return config.BanLevel1Duration
	case 2:
		return config.BanLevel2Duration
	default:
		return config.BanLevel3Duration
	}
}
