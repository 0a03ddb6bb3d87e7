package transfer

import (
	"context"
	"fmt"
	"runtime/debug"

	"github.com/sirupsen/logrus"

	"github.com/dbmirror/dbmirror/src/faultlog"
	"github.com/dbmirror/dbmirror/src/pkg/dbconn"
	"github.com/dbmirror/dbmirror/src/pkg/gate"
	dbsentry "github.com/dbmirror/dbmirror/src/pkg/sentry"
)

// Observer 接收任务进度，实现必须支持并发调用
type Observer interface {
	// JobStarted 行数统计完成、开始传输前调用
	JobStarted(job *Job)
	// JobProgress 每处理 BatchSize 行以及最后一行后调用
	JobProgress(job *Job, processed int64)
	// JobFinished 任务进入终态后调用
	JobFinished(job *Job)
}

// Worker 执行单张表的迁移，每次 Run 都打开自己的源端与目标端会话
type Worker struct {
	Connector dbconn.Connector
	Source    dbconn.ConnectionProfile
	Target    dbconn.ConnectionProfile
	Pause     *gate.PauseGate
	Sink      faultlog.Sink
	Observer  Observer
}

func (w *Worker) sink() faultlog.Sink {
	if w.Sink == nil {
		return faultlog.Discard
	}
	return w.Sink
}

// Run 执行一个处于 Running 状态的任务，返回时任务一定处于终态
// 任务内的错误与 panic 都不会传播给调用方
func (w *Worker) Run(ctx context.Context, job *Job) {
	logger := logrus.WithFields(logrus.Fields{
		"component": "worker",
		"database":  job.Table.Database,
		"table":     job.Table.Name,
	})

	if err := w.run(ctx, job, logger); err != nil {
		w.sink().Append(faultlog.NewRecord(faultlog.ScopeTable, job.Table.Database, job.Table.Name, err))
		if markErr := job.MarkFailed(err); markErr != nil {
			logger.WithError(markErr).Error("failed to mark job failed")
		}
		logger.WithError(err).Error("table migration failed")
	} else {
		if markErr := job.MarkCompleted(); markErr != nil {
			logger.WithError(markErr).Error("failed to mark job completed")
		}
		logger.WithFields(logrus.Fields{
			"rows":   job.Processed(),
			"failed": job.Failed(),
			"took":   job.Duration().String(),
		}).Info("table migrated")
	}
	if w.Observer != nil {
		w.Observer.JobFinished(job)
	}
}

func (w *Worker) run(ctx context.Context, job *Job, logger *logrus.Entry) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
			logger.WithField("stack", string(debug.Stack())).Error("recovered from panic in worker")
			dbsentry.CaptureException(err)
		}
	}()

	database, table := job.Table.Database, job.Table.Name
	src, err := w.Connector.Connect(ctx, w.Source.WithDatabase(database))
	if err != nil {
		return fmt.Errorf("connect to source: %w", err)
	}
	defer closeSession(src, logger)

	dst, err := w.Connector.Connect(ctx, w.Target.WithDatabase(job.Table.Destination()))
	if err != nil {
		return fmt.Errorf("connect to target: %w", err)
	}
	defer closeSession(dst, logger)

	total, err := src.CountRows(ctx, table)
	if err != nil {
		return fmt.Errorf("count rows: %w", err)
	}
	job.setExpected(total)

	var autoInc AutoIncrement
	if v, ok, err := src.AutoIncrement(ctx, table); err != nil {
		w.sink().Append(faultlog.NewRecord(faultlog.ScopeTable, database, table, fmt.Errorf("read auto increment: %w", err)))
		logger.WithError(err).Warn("failed to read auto increment, it will not be restored")
	} else {
		autoInc = AutoIncrement{Value: v, Present: ok}
	}

	if w.Observer != nil {
		w.Observer.JobStarted(job)
	}
	logger.WithField("rows", total).Debug("streaming table")

	writer := &Writer{
		Pause:     w.Pause,
		BatchSize: job.BatchSize,
		Sink:      w.sink(),
	}
	if w.Observer != nil {
		writer.OnBatch = w.Observer.JobProgress
	}
	return writer.Write(ctx, dst, job, StreamRows(ctx, src, table), autoInc)
}

func closeSession(s dbconn.Session, logger *logrus.Entry) {
	if err := s.Close(); err != nil {
		logger.WithError(err).Warn("failed to close session")
	}
}
