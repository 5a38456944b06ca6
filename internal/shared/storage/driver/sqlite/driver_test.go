package sqlite

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpen_FileUsesSingleConnectionWithWAL(t *testing.T) {
	db, err := Open("file:" + filepath.Join(t.TempDir(), "syncd.db"))
	require.NoError(t, err)
	defer db.Close()

	assert.Equal(t, 1, db.Stats().MaxOpenConnections)

	var mode string
	require.NoError(t, db.QueryRow("PRAGMA journal_mode").Scan(&mode))
	assert.Equal(t, "wal", mode)

	var timeout int
	require.NoError(t, db.QueryRow("PRAGMA busy_timeout").Scan(&timeout))
	assert.Equal(t, 5000, timeout)
}

func TestOpen_MemoryUsesSingleConnection(t *testing.T) {
	db, err := Open(":memory:")
	require.NoError(t, err)
	defer db.Close()

	assert.Equal(t, 1, db.Stats().MaxOpenConnections)
	require.NoError(t, NewDialect().AutoMigrate(db))

	var fk int
	require.NoError(t, db.QueryRow("PRAGMA foreign_keys").Scan(&fk))
	assert.Equal(t, 1, fk)
}

func TestWithPragmas(t *testing.T) {
	assert.Contains(t, withPragmas("file:a.db"), "file:a.db?_pragma=")
	assert.Contains(t, withPragmas("file:a.db?cache=shared"), "file:a.db?cache=shared&_pragma=")
	assert.True(t, isMemoryDSN("file::memory:?cache=shared"))
	assert.True(t, isMemoryDSN("file:x?mode=memory"))
	assert.False(t, isMemoryDSN("file:/tmp/x.db"))
}
