package database

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestDB(t *testing.T) *DB {
	t.Helper()
	logger := zerolog.New(os.Stdout)
	db, err := NewDB(":memory:", &logger)
	require.NoError(t, err)
	return db
}

func TestNewDBCreatesDirectory(t *testing.T) {
	logger := zerolog.New(os.Stdout)
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "relaysync.db")

	db, err := NewDB(path, &logger)
	require.NoError(t, err)
	defer db.Close()

	_, err = os.Stat(filepath.Dir(path))
	assert.NoError(t, err)
}

func TestDB_Ping(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	err := db.PingContext(context.Background())
	assert.NoError(t, err)
}

func TestCreateTablesIdempotent(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	// Re-running DDL must not fail.
	err := createTables(db.db)
	assert.NoError(t, err)
}
