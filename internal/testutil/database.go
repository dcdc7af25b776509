package testutil

import (
	"path/filepath"
	"time"

	"fanvault/internal/database"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// TestingT is the subset of testing.TB the helpers need.
type TestingT interface {
	Helper()
	Fatalf(string, ...any)
	TempDir() string
	Cleanup(func())
}

// NewSQLiteDB opens a file-backed SQLite database in a temp dir with the
// moderation tables migrated. A single connection keeps concurrent test
// goroutines serialized the way row locks would in Postgres.
func NewSQLiteDB(t TestingT) *gorm.DB {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "fanvault.db") + "?_busy_timeout=5000&_foreign_keys=on"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:  logger.Default.LogMode(logger.Silent),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sqlite handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := database.Migrate(db); err != nil {
		t.Fatalf("migrate sqlite: %v", err)
	}
	return db
}
