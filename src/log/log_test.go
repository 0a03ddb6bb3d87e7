package log

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dbmirror/dbmirror/src/configs"
)

func TestDailyRotatingWriter_Cleanup(t *testing.T) {
	dir := t.TempDir()
	old := filepath.Join(dir, "dbmirror-2000-01-01.log")
	other := filepath.Join(dir, "other-2000-01-01.log")
	require.NoError(t, os.WriteFile(old, []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(other, []byte("x"), 0o644))

	w := newDailyRotatingWriter(dir, "dbmirror", 7)
	defer w.Close()
	_, err := w.Write([]byte("hello\n"))
	require.NoError(t, err)

	assert.NoFileExists(t, old)
	assert.FileExists(t, other)
	today := filepath.Join(dir, "dbmirror-"+time.Now().Format("2006-01-02")+".log")
	b, err := os.ReadFile(today)
	require.NoError(t, err)
	assert.Equal(t, "hello\n", string(b))
}

func TestNew(t *testing.T) {
	defer logrus.SetOutput(os.Stderr)
	defer logrus.SetLevel(logrus.InfoLevel)
	defer logrus.SetReportCaller(false)

	cfg := configs.NewConfig()
	cfg.Debug = true
	cfg.Log.OutPutFolder = t.TempDir()
	cfg.Log.SaveEveryLog = true

	closer, err := New(cfg)
	require.NoError(t, err)
	assert.Equal(t, logrus.DebugLevel, logrus.GetLevel())
	logrus.Info("migration started")
	require.NoError(t, closer.Close())

	files, err := filepath.Glob(filepath.Join(cfg.Log.OutPutFolder, "*.log"))
	require.NoError(t, err)
	assert.Len(t, files, 2)

	cfg.Log.OutPutFolder = filepath.Join(t.TempDir(), "missing")
	_, err = New(cfg)
	assert.Error(t, err)
}
