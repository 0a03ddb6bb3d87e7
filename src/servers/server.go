// Package servers 提供可选的 HTTP 状态接口
package servers

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/dbmirror/dbmirror/src/history"
	"github.com/dbmirror/dbmirror/src/progress"
	dbsentry "github.com/dbmirror/dbmirror/src/pkg/sentry"
)

// ProgressSource 提供进度快照
type ProgressSource interface {
	Snapshot() progress.Snapshot
}

// PauseControl 控制暂停标记
type PauseControl interface {
	IsPaused() bool
	Pause() error
	Resume() error
}

// HistoryReader 读取运行历史
type HistoryReader interface {
	ListRuns(ctx context.Context, limit int) ([]*history.Run, error)
	GetRun(ctx context.Context, id string) (*history.Run, error)
	ListJobs(ctx context.Context, runID string) ([]*history.JobRecord, error)
}

// Dependencies 各接口的数据来源，为 nil 的部分不注册路由
type Dependencies struct {
	Progress ProgressSource
	Pause    PauseControl
	History  HistoryReader
	Metrics  http.Handler
}

// Server HTTP 状态服务
type Server struct {
	server *http.Server
	deps   Dependencies
}

// NewServer 创建服务，bind 为监听地址
func NewServer(bind string, deps Dependencies) *Server {
	s := &Server{deps: deps}
	s.server = &http.Server{
		Addr:              bind,
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler 返回路由，便于测试
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

func (s *Server) routes() http.Handler {
	m := mux.NewRouter()
	m.Use(log)

	if s.deps.Metrics != nil {
		m.Handle("/metrics", s.deps.Metrics).Methods(http.MethodGet)
	}
	api := m.PathPrefix("/api").Subrouter()
	if s.deps.Progress != nil {
		api.HandleFunc("/progress", s.getProgress).Methods(http.MethodGet)
	}
	if s.deps.Pause != nil {
		api.HandleFunc("/pause", s.getPause).Methods(http.MethodGet)
		api.HandleFunc("/pause", s.postPause).Methods(http.MethodPost)
		api.HandleFunc("/pause", s.deletePause).Methods(http.MethodDelete)
	}
	if s.deps.History != nil {
		api.HandleFunc("/runs", s.getRuns).Methods(http.MethodGet)
		api.HandleFunc("/runs/{id}", s.getRun).Methods(http.MethodGet)
	}
	return m
}

// Start 开始监听，监听失败时返回错误
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return err
	}
	logger := logrus.WithField("component", "http")
	logger.Infof("Server start at %s", ln.Addr())
	dbsentry.Go(func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Error("http server stopped")
		}
	})
	return nil
}

// Close 优雅关闭
func (s *Server) Close(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}
