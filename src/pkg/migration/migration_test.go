package migration

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

func TestBackupManager_CreateBackup(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "history.db")
	bm := NewBackupManager(dbPath)

	// 不存在的文件不需要备份
	backupPath, err := bm.CreateBackup()
	require.NoError(t, err)
	assert.Empty(t, backupPath)

	require.NoError(t, os.WriteFile(dbPath, []byte("test database content"), 0o644))
	backupPath, err = bm.CreateBackup()
	require.NoError(t, err)
	content, err := os.ReadFile(backupPath)
	require.NoError(t, err)
	assert.Equal(t, "test database content", string(content))
}

func TestBackupManager_RestoreBackup(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "history.db")
	backupPath := dbPath + ".backup_20260101_000000"
	require.NoError(t, os.WriteFile(backupPath, []byte("backup content"), 0o644))
	require.NoError(t, os.WriteFile(dbPath, []byte("current content"), 0o644))

	bm := NewBackupManager(dbPath)
	require.NoError(t, bm.RestoreBackup(backupPath))
	content, err := os.ReadFile(dbPath)
	require.NoError(t, err)
	assert.Equal(t, "backup content", string(content))

	assert.Error(t, bm.RestoreBackup(""))
	assert.Error(t, bm.RestoreBackup(filepath.Join(tmpDir, "missing")))
}

func TestBackupManager_Cleanup(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "history.db")
	for i := 0; i < MaxBackupCount+3; i++ {
		backup := fmt.Sprintf("%s.backup_20260101_%06d", dbPath, i)
		require.NoError(t, os.WriteFile(backup, []byte("backup"), 0o644))
	}

	bm := NewBackupManager(dbPath)
	list, err := bm.ListBackups()
	require.NoError(t, err)
	require.Len(t, list, MaxBackupCount+3)
	assert.Equal(t, fmt.Sprintf("%s.backup_20260101_%06d", dbPath, MaxBackupCount+2), list[0])

	require.NoError(t, bm.CleanupOldBackups())
	list, err = bm.ListBackups()
	require.NoError(t, err)
	assert.Len(t, list, MaxBackupCount)
}

func TestLock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "run.lock")
	l := NewLock(path)
	assert.NoFileExists(t, path)
	_, err := l.Info()
	assert.ErrorIs(t, err, os.ErrNotExist)

	require.NoError(t, l.Acquire(NewLockInfo("run 1", "")))
	assert.FileExists(t, path)
	info, err := l.Info()
	require.NoError(t, err)
	assert.Equal(t, "run 1", info.Owner)
	assert.Equal(t, os.Getpid(), info.PID)

	err = l.Acquire(NewLockInfo("run 2", ""))
	assert.ErrorIs(t, err, ErrLocked)
	assert.ErrorContains(t, err, "run 1")

	require.NoError(t, l.Release())
	assert.NoFileExists(t, path)
	assert.NoError(t, l.Release())
}

var testMigrations = fstest.MapFS{
	"sql/000001_init.up.sql":   {Data: []byte("CREATE TABLE items (id INTEGER PRIMARY KEY, name TEXT);")},
	"sql/000001_init.down.sql": {Data: []byte("DROP TABLE items;")},
}

func openDB(t *testing.T, path string) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestMigrator_Run(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "history.db")
	db := openDB(t, dbPath)

	m, err := NewMigrator(dbPath, Schema{Name: "test", FS: testMigrations, Dir: "sql", Backup: true})
	require.NoError(t, err)

	result, err := m.Run(db)
	require.NoError(t, err)
	assert.Equal(t, uint(0), result.FromVersion)
	assert.Equal(t, uint(1), result.ToVersion)
	assert.Empty(t, result.BackupPath)

	_, err = db.Exec("INSERT INTO items (name) VALUES ('a')")
	require.NoError(t, err)

	// 再次运行不做任何改动，但已有数据会被备份
	result, err = m.Run(db)
	require.NoError(t, err)
	assert.Equal(t, uint(1), result.FromVersion)
	assert.Equal(t, uint(1), result.ToVersion)
	assert.NotEmpty(t, result.BackupPath)
	assert.False(t, result.WasDirty)
	assert.NoFileExists(t, dbPath+LockFileExtension)
}

func TestMigrator_RunFailure(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "history.db")
	db := openDB(t, dbPath)

	bad := fstest.MapFS{
		"000001_init.up.sql": {Data: []byte("THIS IS NOT SQL;")},
	}
	m, err := NewMigrator(dbPath, Schema{Name: "bad", FS: bad})
	require.NoError(t, err)
	_, err = m.Run(db)
	assert.ErrorIs(t, err, ErrMigrationFailed)
}

func TestMigrator_RecoversStaleLock(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "history.db")
	db := openDB(t, dbPath)
	lock := NewLock(dbPath + LockFileExtension)
	require.NoError(t, lock.Acquire(NewLockInfo("crashed", "")))

	m, err := NewMigrator(dbPath, Schema{Name: "test", FS: testMigrations, Dir: "sql"})
	require.NoError(t, err)
	_, err = m.Run(db)
	require.NoError(t, err)
	assert.NoFileExists(t, dbPath+LockFileExtension)
}

func TestNewMigrator_Invalid(t *testing.T) {
	_, err := NewMigrator("", Schema{FS: testMigrations})
	assert.Error(t, err)
	_, err = NewMigrator("x.db", Schema{Name: "empty"})
	assert.Error(t, err)
}
