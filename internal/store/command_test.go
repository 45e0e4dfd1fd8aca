package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// dryRun returns a handle that builds SQL without a server.
func dryRun(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(postgres.Open("host=127.0.0.1 user=fms dbname=fms sslmode=disable"), &gorm.Config{
		DryRun:               true,
		DisableAutomaticPing: true,
	})
	require.NoError(t, err)
	return db
}

func TestHistoryQuery(t *testing.T) {
	db := dryRun(t)

	sql := db.ToSQL(func(tx *gorm.DB) *gorm.DB {
		var out []CommandRecord
		return historyQuery(tx, "628076842334", 10).Find(&out)
	})
	assert.Contains(t, sql, `FROM "device_commands"`)
	assert.Contains(t, sql, `device_id = '628076842334'`)
	assert.Contains(t, sql, "ORDER BY created_at DESC")
	assert.Contains(t, sql, "LIMIT 10")

	sql = db.ToSQL(func(tx *gorm.DB) *gorm.DB {
		var out []CommandRecord
		return historyQuery(tx, "1", 0).Find(&out)
	})
	assert.NotContains(t, sql, "LIMIT")
}

func TestUpdateQuery(t *testing.T) {
	db := dryRun(t)

	sql := db.ToSQL(func(tx *gorm.DB) *gorm.DB {
		return updateQuery(tx, 7, "failed", "", "terminal said no")
	})
	assert.Contains(t, sql, `UPDATE "device_commands"`)
	assert.Contains(t, sql, `"status"='failed'`)
	assert.Contains(t, sql, `"error_msg"='terminal said no'`)
	assert.NotContains(t, sql, `"response"`)
	assert.Contains(t, sql, "id = 7")
}

func TestTableName(t *testing.T) {
	assert.Equal(t, "device_commands", CommandRecord{}.TableName())
}
