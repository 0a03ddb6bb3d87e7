package transfer

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dbmirror/dbmirror/src/faultlog"
	"github.com/dbmirror/dbmirror/src/pkg/dbconn"
	"github.com/dbmirror/dbmirror/src/testutil"
)

func newWorker(src, dst *testutil.Server, sink faultlog.Sink, obs Observer) *Worker {
	return &Worker{
		Connector: testutil.Network{"src": src, "dst": dst},
		Source:    dbconn.ConnectionProfile{Host: "src", User: "root"},
		Target:    dbconn.ConnectionProfile{Host: "dst", User: "root"},
		Sink:      sink,
		Observer:  obs,
	}
}

func TestWorker_Run(t *testing.T) {
	src, dst := testutil.NewServer(), testutil.NewServer()
	seedTable(src, "shop", "orders", 5, 42)
	dst.AddTable("shop", "orders", &testutil.Table{})

	obs := &recordingObserver{}
	sink := &faultlog.MemorySink{}
	job := runningJob(t, "shop", "orders", 2)
	newWorker(src, dst, sink, obs).Run(context.Background(), job)

	assert.Equal(t, StatusCompleted, job.Status())
	assert.Equal(t, int64(5), job.Expected())
	assert.Equal(t, int64(5), job.Transferred())
	assert.Zero(t, sink.Count(""))

	tbl, _ := dst.Table("shop", "orders")
	assert.Equal(t, []int64{1, 2, 3, 4, 5}, insertedIDs(tbl))
	assert.Equal(t, uint64(42), tbl.AutoIncrement)

	assert.Equal(t, []string{"shop.orders"}, obs.started)
	assert.Equal(t, []int64{2, 4, 5}, obs.progress)
	assert.Equal(t, []string{"shop.orders"}, obs.finished)

	assert.Zero(t, src.OpenSessions())
	assert.Zero(t, dst.OpenSessions())
}

func TestWorker_RunIntoRenamedDatabase(t *testing.T) {
	src, dst := testutil.NewServer(), testutil.NewServer()
	seedTable(src, "shop", "orders", 3, 0)
	dst.AddTable("shop_copy", "orders", &testutil.Table{})

	sink := &faultlog.MemorySink{}
	job := runningJob(t, "shop", "orders", 10)
	job.Table.TargetDatabase = "shop_copy"
	newWorker(src, dst, sink, nil).Run(context.Background(), job)

	assert.Equal(t, StatusCompleted, job.Status())
	assert.Zero(t, sink.Count(""))
	tbl, ok := dst.Table("shop_copy", "orders")
	require.True(t, ok)
	assert.Equal(t, []int64{1, 2, 3}, insertedIDs(tbl))
	_, ok = dst.HasDatabase("shop")
	assert.False(t, ok)
}

func TestWorker_CountFailureIsJobFatal(t *testing.T) {
	src, dst := testutil.NewServer(), testutil.NewServer()
	seedTable(src, "shop", "orders", 5, 0)
	dst.AddTable("shop", "orders", &testutil.Table{})
	src.CountErr = map[string]error{"orders": errors.New("table is marked as crashed")}

	obs := &recordingObserver{}
	sink := &faultlog.MemorySink{}
	job := runningJob(t, "shop", "orders", 2)
	newWorker(src, dst, sink, obs).Run(context.Background(), job)

	assert.Equal(t, StatusFailed, job.Status())
	assert.Error(t, job.Err())
	assert.Equal(t, 1, sink.Count(faultlog.ScopeTable))
	assert.Empty(t, obs.started)
	assert.Equal(t, []string{"shop.orders"}, obs.finished)

	tbl, _ := dst.Table("shop", "orders")
	assert.Empty(t, tbl.Rows)
	assert.Zero(t, src.OpenSessions())
	assert.Zero(t, dst.OpenSessions())
}

func TestWorker_TargetConnectFailure(t *testing.T) {
	src, dst := testutil.NewServer(), testutil.NewServer()
	seedTable(src, "shop", "orders", 5, 0)
	dst.AddDatabase("shop", "utf8mb4")
	dst.ConnectErr = map[string]error{"shop": errors.New("too many connections")}

	job := runningJob(t, "shop", "orders", 2)
	newWorker(src, dst, faultlog.Discard, nil).Run(context.Background(), job)

	assert.Equal(t, StatusFailed, job.Status())
	var connErr *dbconn.ConnectError
	assert.True(t, errors.As(job.Err(), &connErr))
	assert.Zero(t, src.OpenSessions())
}

func TestWorker_AutoIncrementReadFailure(t *testing.T) {
	src, dst := testutil.NewServer(), testutil.NewServer()
	seedTable(src, "shop", "orders", 3, 10)
	dst.AddTable("shop", "orders", &testutil.Table{})
	src.AutoIncErr = map[string]error{"orders": errors.New("lock wait timeout")}

	sink := &faultlog.MemorySink{}
	job := runningJob(t, "shop", "orders", 2)
	newWorker(src, dst, sink, nil).Run(context.Background(), job)

	assert.Equal(t, StatusCompleted, job.Status())
	assert.Equal(t, 1, sink.Count(faultlog.ScopeTable))
	for _, op := range dst.Ops() {
		assert.NotEqual(t, "autoinc", op.Kind)
	}
}

func TestWorker_PanicBecomesFailed(t *testing.T) {
	src, dst := testutil.NewServer(), testutil.NewServer()
	seedTable(src, "shop", "orders", 3, 0)
	dst.AddTable("shop", "orders", &testutil.Table{})
	dst.BeforeInsert = func(db, table string, row dbconn.Row) {
		panic("driver bug")
	}

	job := runningJob(t, "shop", "orders", 2)
	assert.NotPanics(t, func() {
		newWorker(src, dst, faultlog.Discard, nil).Run(context.Background(), job)
	})
	assert.Equal(t, StatusFailed, job.Status())
	assert.Contains(t, job.Err().Error(), "driver bug")
	assert.Zero(t, src.OpenSessions())
	assert.Zero(t, dst.OpenSessions())
	assert.Zero(t, src.OpenCursors())
}
