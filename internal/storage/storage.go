// Package storage is the session store: waiting pool, sessions, message log,
// attachments and reports on top of GORM, plus the Redis-backed ban list and
// event bus.
package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"pairchat/backend/internal/config"
	"pairchat/backend/internal/models"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionClosed   = errors.New("session is not active")
	ErrSameUser        = errors.New("session participants must differ")
)

type Storage interface {
	AttemptMatch(ctx context.Context, req models.MatchRequest) (*models.MatchOutcome, error)
	CancelWaiting(ctx context.Context, userID string) (bool, error)
	GetWaitingEntry(ctx context.Context, userID string) (*models.WaitingEntry, error)
	DeleteStaleWaiting(ctx context.Context, cutoff time.Time) (int64, error)

	GetSessionByID(ctx context.Context, sessionID string) (*models.Session, error)
	GetActiveSessionForUser(ctx context.Context, userID string) (*models.Session, error)
	GetActiveSessionIDs(ctx context.Context) ([]string, error)
	EndSession(ctx context.Context, sessionID string) (bool, error)

	AppendMessage(ctx context.Context, msg *models.Message) error
	AppendAttachment(ctx context.Context, att *models.Attachment, msg *models.Message) error
	ListMessages(ctx context.Context, sessionID string, afterID uint, limit int) ([]models.Message, error)
	ListAttachments(ctx context.Context, sessionID string) ([]models.Attachment, error)
	DeleteMessagesBefore(ctx context.Context, cutoff time.Time) (int64, error)

	SaveReport(ctx context.Context, report *models.Report) error
	ListReports(ctx context.Context, since time.Time, limit int) ([]models.Report, error)
}

type Service struct {
	DB *gorm.DB
	// Now is the store's clock. Times are kept in UTC at microsecond precision.
	Now func() time.Time
}

// NewStorageService Constructor
func NewStorageService(db *gorm.DB) *Service {
	return &Service{
		DB:  db,
		Now: utcNow,
	}
}

func utcNow() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}

func (s *Service) now() time.Time {
	if s.Now == nil {
		return utcNow()
	}
	return s.Now().UTC().Truncate(time.Microsecond)
}

func (s *Service) isPostgres() bool {
	return s.DB.Dialector.Name() == "postgres"
}

// GormConfig is shared by Open and the test stores. TranslateError turns
// driver constraint errors into gorm.ErrDuplicatedKey and friends.
func GormConfig(level gormlogger.LogLevel) *gorm.Config {
	return &gorm.Config{
		Logger:         gormlogger.Default.LogMode(level),
		NowFunc:        utcNow,
		TranslateError: true,
	}
}

// Open connects to the configured database.
func Open(cfg *config.Config) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch cfg.DB.Driver {
	case "postgres":
		dialector = postgres.Open(cfg.DB.DSN)
	case "sqlite":
		dialector = sqlite.Open(cfg.DB.DSN)
	default:
		return nil, fmt.Errorf("unsupported db driver %q", cfg.DB.Driver)
	}

	level := gormlogger.Warn
	if cfg.Log.Level == "debug" {
		level = gormlogger.Info
	}

	db, err := gorm.Open(dialector, GormConfig(level))
	if err != nil {
		return nil, fmt.Errorf("failed to open db: %w", err)
	}

	if cfg.DB.Driver == "sqlite" {
		// SQLite has a single writer; one connection makes every transaction
		// run to completion before the next begins.
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
	}
	return db, nil
}

// Migrate creates or updates all tables.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&models.WaitingEntry{},
		&models.Session{},
		&models.Message{},
		&models.Attachment{},
		&models.Report{},
	); err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}
	return nil
}
