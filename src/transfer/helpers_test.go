package transfer

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dbmirror/dbmirror/src/pkg/dbconn"
	"github.com/dbmirror/dbmirror/src/testutil"
)

// switchSignal 可由测试切换的暂停信号
type switchSignal struct {
	paused atomic.Bool
}

func (s *switchSignal) IsPaused() bool { return s.paused.Load() }

// recordingObserver 记录回调
type recordingObserver struct {
	mu       sync.Mutex
	started  []string
	progress []int64
	finished []string
}

func (o *recordingObserver) JobStarted(job *Job) {
	o.mu.Lock()
	o.started = append(o.started, job.Name())
	o.mu.Unlock()
}

func (o *recordingObserver) JobProgress(job *Job, processed int64) {
	o.mu.Lock()
	o.progress = append(o.progress, processed)
	o.mu.Unlock()
}

func (o *recordingObserver) JobFinished(job *Job) {
	o.mu.Lock()
	o.finished = append(o.finished, job.Name())
	o.mu.Unlock()
}

func seedTable(src *testutil.Server, database, table string, n int, autoInc uint64) {
	rows := make([][]any, n)
	for i := range rows {
		rows[i] = []any{int64(i + 1), fmt.Sprintf("row-%d", i+1)}
	}
	src.AddTable(database, table, &testutil.Table{
		Columns:       []string{"id", "note"},
		Rows:          rows,
		AutoIncrement: autoInc,
	})
}

func connect(t *testing.T, s *testutil.Server, database string) dbconn.Session {
	t.Helper()
	sess, err := s.Connect(context.Background(), dbconn.ConnectionProfile{Host: "mem", Database: database})
	require.NoError(t, err)
	t.Cleanup(func() { sess.Close() })
	return sess
}

func runningJob(t *testing.T, database, table string, batch int) *Job {
	t.Helper()
	job := NewJob(TableDescriptor{Database: database, Name: table}, batch)
	require.NoError(t, job.MarkRunning())
	return job
}

func insertedIDs(tbl testutil.Table) []int64 {
	ids := make([]int64, 0, len(tbl.Rows))
	for _, r := range tbl.Rows {
		ids = append(ids, r[0].(int64))
	}
	return ids
}
