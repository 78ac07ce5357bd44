package migration

import (
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestApplySQLiteSchemaIsIdempotent(t *testing.T) {
	conn, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{})
	require.NoError(t, err)

	require.NoError(t, Apply(conn))
	require.NoError(t, Apply(conn))

	for _, table := range []string{"users", "api_keys", "transactions", "api_usage", "payment_events", "discount_codes", "audit_logs"} {
		require.True(t, conn.Migrator().HasTable(table), "missing table %s", table)
	}
}

func TestSQLiteSchemaRejectsNegativeCredits(t *testing.T) {
	conn, err := gorm.Open(sqlite.Open("file:negative?mode=memory"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, ApplySQLiteSchema(conn))

	err = conn.Exec(`INSERT INTO users (id, email, credits) VALUES (1, 'a@example.com', -1)`).Error
	require.Error(t, err)
}

func TestEmbeddedPostgresMigrationsPresent(t *testing.T) {
	entries, err := embeddedMigrations.ReadDir(migrationsDir)
	require.NoError(t, err)
	require.Len(t, entries, 6)
}
