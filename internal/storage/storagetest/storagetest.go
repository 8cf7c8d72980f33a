// Package storagetest provides an in-memory SQLite store and a manual clock
// for tests of packages built on storage.
package storagetest

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"pairchat/backend/internal/storage"
)

// Clock is a manually advanced clock, safe for concurrent use.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

func NewClock(start time.Time) *Clock {
	return &Clock{now: start.UTC()}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// NewService opens a migrated in-memory database driven by clock. The single
// connection makes concurrent transactions run one after another.
func NewService(t testing.TB, clock *Clock) *storage.Service {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), storage.GormConfig(gormlogger.Silent))
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, storage.Migrate(db))
	return newService(db, clock)
}

// PostgresDSNEnv names the variable holding a PostgreSQL DSN for tests that
// need row locking. Those tests skip when it is unset.
const PostgresDSNEnv = "PAIRCHAT_TEST_PG_DSN"

// NewPostgresService opens a migrated store in a throwaway schema of the
// database named by PostgresDSNEnv. The schema is dropped on cleanup.
func NewPostgresService(t testing.TB, clock *Clock, maxConns int) *storage.Service {
	t.Helper()

	dsn := strings.TrimSpace(os.Getenv(PostgresDSNEnv))
	if dsn == "" {
		t.Skipf("%s is not set", PostgresDSNEnv)
	}
	schema := "pairchat_test_" + strings.ReplaceAll(uuid.NewString(), "-", "")

	admin, err := gorm.Open(postgres.Open(dsn), storage.GormConfig(gormlogger.Silent))
	require.NoError(t, err)
	adminDB, err := admin.DB()
	require.NoError(t, err)
	require.NoError(t, admin.Exec("CREATE SCHEMA "+schema).Error)
	t.Cleanup(func() {
		_ = admin.Exec("DROP SCHEMA IF EXISTS " + schema + " CASCADE").Error
		_ = adminDB.Close()
	})

	db, err := gorm.Open(postgres.Open(withSearchPath(dsn, schema)), storage.GormConfig(gormlogger.Silent))
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	if maxConns > 0 {
		sqlDB.SetMaxOpenConns(maxConns)
	}
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, storage.Migrate(db))
	return newService(db, clock)
}

// withSearchPath adds search_path to a keyword/value or URL DSN.
func withSearchPath(dsn, schema string) string {
	if strings.Contains(dsn, "://") {
		sep := "?"
		if strings.Contains(dsn, "?") {
			sep = "&"
		}
		return fmt.Sprintf("%s%ssearch_path=%s", dsn, sep, schema)
	}
	return fmt.Sprintf("%s search_path=%s", dsn, schema)
}

func newService(db *gorm.DB, clock *Clock) *storage.Service {
	svc := storage.NewStorageService(db)
	if clock != nil {
		svc.Now = clock.Now
	}
	return svc
}
