package db

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenMigrates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "gatecrash.db")

	d, err := Open(path)
	require.NoError(t, err)
	version, err := d.SchemaVersion()
	require.NoError(t, err)
	assert.Equal(t, len(migrations), version)
	assert.Equal(t, path, d.Path())

	_, err = d.Exec("INSERT INTO headers (direction, name, header) VALUES ('outgoing', 'Walk', 3)")
	require.NoError(t, err)
	require.NoError(t, d.Close())

	t.Run("reopen_keeps_data", func(t *testing.T) {
		d, err := Open(path)
		require.NoError(t, err)
		defer d.Close()

		version, err := d.SchemaVersion()
		require.NoError(t, err)
		assert.Equal(t, len(migrations), version)

		rows, err := d.Query("SELECT header FROM headers WHERE name = 'Walk'")
		require.NoError(t, err)
		defer rows.Close()
		require.True(t, rows.Next())
		var header int
		require.NoError(t, rows.Scan(&header))
		assert.Equal(t, 3, header)
	})
}

func TestOpenRejectsNewerSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gatecrash.db")

	d, err := Open(path)
	require.NoError(t, err)
	_, err = d.Exec("PRAGMA user_version = 99")
	require.NoError(t, err)
	require.NoError(t, d.Close())

	_, err = Open(path)
	assert.ErrorIs(t, err, ErrSchemaTooNew)
}

func TestOpenInMemory(t *testing.T) {
	t.Parallel()

	d, err := Open(":memory:")
	require.NoError(t, err)
	defer d.Close()

	version, err := d.SchemaVersion()
	require.NoError(t, err)
	assert.Equal(t, len(migrations), version)
}
