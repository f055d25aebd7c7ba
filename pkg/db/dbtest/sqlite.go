// Package dbtest opens isolated sqlite databases for repository tests.
package dbtest

import (
	"fmt"
	"strings"
	"testing"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Open returns a private in-memory database with the given models migrated.
// The pool is pinned to one connection so concurrent callers serialize at the
// driver the same way row locks serialize them on Postgres.
func Open(t testing.TB, models ...any) *gorm.DB {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s_%s?mode=memory&cache=shared&_foreign_keys=on", name, uuid.NewString())
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		SkipDefaultTransaction: true,
		Logger:                 gormlogger.Discard,
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}

	sqlDB, err := conn.DB()
	if err != nil {
		t.Fatalf("sql db handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if len(models) > 0 {
		if err := conn.AutoMigrate(models...); err != nil {
			t.Fatalf("migrate sqlite: %v", err)
		}
	}
	return conn
}
