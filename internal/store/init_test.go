package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitDBFresh(t *testing.T) {
	path := filepath.Join(t.TempDir(), "media.db")
	report, err := InitDB(context.Background(), InitOptions{DBPath: path})
	require.NoError(t, err)
	assert.False(t, report.ExistedBefore)
	assert.False(t, report.DidReset)
	assert.Empty(t, report.BackupPath)
	assert.Zero(t, report.Counts.Persons)
	assert.FileExists(t, path)
}

func TestInitDBResetKeepsNewestBackups(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "media.db")
	ctx := context.Background()
	clock := fixedClock()

	_, err := InitDB(ctx, InitOptions{DBPath: path})
	require.NoError(t, err)

	var last *InitReport
	for i := 0; i < 5; i++ {
		s, err := NewStore(StoreConfig{DBPath: path})
		require.NoError(t, err)
		_, err = s.GetOrCreatePerson(ctx, "吉沢亮")
		require.NoError(t, err)
		require.NoError(t, s.Close())

		last, err = InitDB(ctx, InitOptions{DBPath: path, Reset: true, Now: clock})
		require.NoError(t, err)
		assert.True(t, last.DidReset)
		assert.Zero(t, last.Counts.Persons)
	}

	backups, err := filepath.Glob(filepath.Join(dir, "backups", "media.db.*.bak"))
	require.NoError(t, err)
	assert.Len(t, backups, DefaultBackupKeep)
	assert.Contains(t, backups, last.BackupPath)

	// the backup holds the pre-reset data
	b, err := NewStore(StoreConfig{DBPath: last.BackupPath})
	require.NoError(t, err)
	defer b.Close()
	c, err := b.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), c.Persons)
}

func TestRotatedBackupPathAvoidsCollisions(t *testing.T) {
	dir := t.TempDir()
	now := fixedClock()()
	first := rotatedBackupPath(dir, "/x/media.db", now)
	assert.Equal(t, filepath.Join(dir, "media.db.20261015-090001.bak"), first)
}
