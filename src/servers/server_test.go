package servers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dbmirror/dbmirror/src/history"
	"github.com/dbmirror/dbmirror/src/metrics"
	"github.com/dbmirror/dbmirror/src/pkg/gate"
	"github.com/dbmirror/dbmirror/src/progress"
	"github.com/dbmirror/dbmirror/src/transfer"
)

func newTestServer(t *testing.T) (*Server, gate.FileSignal, *history.Store) {
	t.Helper()
	dir := t.TempDir()
	store, err := history.Open(filepath.Join(dir, "dbmirror.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	reporter := progress.NewReporter(nil)
	reporter.BeginDatabase("shop", []transfer.TableDescriptor{{Database: "shop", Name: "orders"}})

	signal := gate.FileSignal{Path: filepath.Join(dir, "pause_migration.txt")}
	collector := metrics.NewCollector()
	collector.SetLoad(12)

	return NewServer("127.0.0.1:0", Dependencies{
		Progress: reporter,
		Pause:    signal,
		History:  store,
		Metrics:  collector.Handler(),
	}), signal, store
}

func do(t *testing.T, s *Server, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	return rec
}

func TestServer_Progress(t *testing.T) {
	s, _, _ := newTestServer(t)
	rec := do(t, s, http.MethodGet, "/api/progress")
	require.Equal(t, http.StatusOK, rec.Code)

	var snap progress.Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	require.NotNil(t, snap.Current)
	assert.Equal(t, "shop", snap.Current.Name)
	assert.Equal(t, 1, snap.Current.TablesTotal)
}

func TestServer_Pause(t *testing.T) {
	s, signal, _ := newTestServer(t)

	rec := do(t, s, http.MethodGet, "/api/pause")
	assert.JSONEq(t, `{"paused":false}`, rec.Body.String())

	rec = do(t, s, http.MethodPost, "/api/pause")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, signal.IsPaused())
	rec = do(t, s, http.MethodGet, "/api/pause")
	assert.JSONEq(t, `{"paused":true}`, rec.Body.String())

	rec = do(t, s, http.MethodDelete, "/api/pause")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, signal.IsPaused())

	rec = do(t, s, http.MethodPut, "/api/pause")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestServer_Runs(t *testing.T) {
	s, _, store := newTestServer(t)
	ctx := context.Background()

	rec := do(t, s, http.MethodGet, "/api/runs")
	assert.JSONEq(t, `[]`, rec.Body.String())

	run := &history.Run{Mode: "single", Source: "src", Target: "dst"}
	require.NoError(t, store.StartRun(ctx, run))
	job := transfer.NewJob(transfer.TableDescriptor{Database: "shop", Name: "orders"}, 10)
	require.NoError(t, store.RecordJob(ctx, history.NewJobRecord(run.ID, job)))

	rec = do(t, s, http.MethodGet, "/api/runs?limit=5")
	var runs []history.Run
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &runs))
	require.Len(t, runs, 1)
	assert.Equal(t, run.ID, runs[0].ID)

	rec = do(t, s, http.MethodGet, "/api/runs/"+run.ID)
	require.Equal(t, http.StatusOK, rec.Code)
	var detail struct {
		ID   string              `json:"id"`
		Jobs []history.JobRecord `json:"jobs"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &detail))
	assert.Equal(t, run.ID, detail.ID)
	require.Len(t, detail.Jobs, 1)
	assert.Equal(t, "orders", detail.Jobs[0].Table)

	assert.Equal(t, http.StatusNotFound, do(t, s, http.MethodGet, "/api/runs/missing").Code)
	assert.Equal(t, http.StatusBadRequest, do(t, s, http.MethodGet, "/api/runs?limit=x").Code)
}

func TestServer_Metrics(t *testing.T) {
	s, _, _ := newTestServer(t)
	rec := do(t, s, http.MethodGet, "/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "dbmirror_load_percent 12")
}

func TestServer_OptionalRoutes(t *testing.T) {
	s := NewServer("127.0.0.1:0", Dependencies{})
	assert.Equal(t, http.StatusNotFound, do(t, s, http.MethodGet, "/api/progress").Code)
	assert.Equal(t, http.StatusNotFound, do(t, s, http.MethodGet, "/metrics").Code)
}

func TestServer_StartClose(t *testing.T) {
	s := NewServer("127.0.0.1:0", Dependencies{})
	require.NoError(t, s.Start(context.Background()))
	assert.NoError(t, s.Close(context.Background()))

	bad := NewServer("256.0.0.1:0", Dependencies{})
	assert.Error(t, bad.Start(context.Background()))
}
