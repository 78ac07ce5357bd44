// Package testutil builds throwaway ledger databases for package tests.
package testutil

import (
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/smallbiznis/creditledger/internal/migration"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// OpenDB returns a file-backed SQLite database with the ledger schema applied.
// A single pooled connection keeps concurrent tests free of SQLITE_BUSY.
func OpenDB(t testing.TB) *gorm.DB {
	t.Helper()

	path := filepath.Join(t.TempDir(), "ledger.db")
	conn, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)", path)), &gorm.Config{
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
		TranslateError: true,
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := conn.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := migration.ApplySQLiteSchema(conn); err != nil {
		t.Fatalf("apply schema: %v", err)
	}
	return conn
}

func MustNode(t testing.TB) *snowflake.Node {
	t.Helper()
	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake node: %v", err)
	}
	return node
}

type UserSeed struct {
	ID           int64
	Email        string
	Role         string
	Company      string
	ParentUserID int64
	Credits      int64
	Threshold    *int64
	GraceEnd     *time.Time
}

func SeedUser(t testing.TB, conn *gorm.DB, u UserSeed) {
	t.Helper()
	if u.Email == "" {
		u.Email = fmt.Sprintf("user-%d@example.com", u.ID)
	}
	if u.Role == "" {
		u.Role = "user"
	}
	var company, parent interface{}
	if u.Company != "" {
		company = u.Company
	}
	if u.ParentUserID != 0 {
		parent = u.ParentUserID
	}
	now := time.Now().UTC()
	err := conn.Exec(
		`INSERT INTO users (id, email, name, company, role, parent_user_id, credits, can_purchase_credits, credit_threshold, grace_period_end, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		u.ID, u.Email, "", company, u.Role, parent, u.Credits, true, u.Threshold, u.GraceEnd, now, now,
	).Error
	if err != nil {
		t.Fatalf("seed user: %v", err)
	}
}

func SeedAPIKey(t testing.TB, conn *gorm.DB, id, userID int64, key string, active bool) {
	t.Helper()
	now := time.Now().UTC()
	err := conn.Exec(
		`INSERT INTO api_keys (id, user_id, key_value, name, is_active, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id, userID, key, "seed", active, now, now,
	).Error
	if err != nil {
		t.Fatalf("seed api key: %v", err)
	}
}

func Count(t testing.TB, conn *gorm.DB, query string, args ...interface{}) int64 {
	t.Helper()
	var n int64
	if err := conn.Raw(query, args...).Scan(&n).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	return n
}

func Credits(t testing.TB, conn *gorm.DB, userID int64) int64 {
	t.Helper()
	var credits int64
	if err := conn.Raw(`SELECT credits FROM users WHERE id = ?`, userID).Scan(&credits).Error; err != nil {
		t.Fatalf("credits: %v", err)
	}
	return credits
}
