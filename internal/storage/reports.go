package storage

import (
	"context"
	"time"

	"pairchat/backend/internal/models"
)

func (s *Service) SaveReport(ctx context.Context, report *models.Report) error {
	if report.CreatedAt.IsZero() {
		report.CreatedAt = s.now()
	}
	return s.DB.WithContext(ctx).Create(report).Error
}

// ListReports returns reports filed since the given time, newest first.
func (s *Service) ListReports(ctx context.Context, since time.Time, limit int) ([]models.Report, error) {
	var reports []models.Report
	q := s.DB.WithContext(ctx).Where("created_at >= ?", since).Order("created_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&reports).Error; err != nil {
		return nil, err
	}
	return reports, nil
}
