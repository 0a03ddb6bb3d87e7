package transfer

import (
	"context"
	"fmt"
	"iter"

	"github.com/sirupsen/logrus"

	"github.com/dbmirror/dbmirror/src/faultlog"
	"github.com/dbmirror/dbmirror/src/pkg/dbconn"
	"github.com/dbmirror/dbmirror/src/pkg/gate"
)

// DefaultBatchSize 进度汇报间隔的默认行数
const DefaultBatchSize = 1000

// AutoIncrement 开始读取数据前记录的源表自增值
type AutoIncrement struct {
	Value   uint64
	Present bool
}

// Writer 把行序列逐行写入目标表
// BatchSize 只决定进度汇报的频率，插入始终是单行的
type Writer struct {
	Pause     *gate.PauseGate
	BatchSize int
	Sink      faultlog.Sink

	// OnBatch 每处理 BatchSize 行以及处理完最后一行后回调
	OnBatch func(job *Job, processed int64)
}

func (w *Writer) fault(scope faultlog.Scope, job *Job, err error) {
	if w.Sink == nil {
		return
	}
	w.Sink.Append(faultlog.NewRecord(scope, job.Table.Database, job.Table.Name, err))
}

func (w *Writer) report(job *Job, processed int64) {
	if w.OnBatch != nil {
		w.OnBatch(job, processed)
	}
}

// Write 在 dst 会话上关闭外键检查，逐行插入，恢复自增值，最后重新打开外键检查
// 单行插入失败记录后继续；读取失败记录后停止读取，已写入的行保留
// 只有 ctx 被取消时返回错误
func (w *Writer) Write(ctx context.Context, dst dbconn.Session, job *Job, rows iter.Seq2[dbconn.Row, error], autoInc AutoIncrement) error {
	table := job.Table.Name
	logger := logrus.WithFields(logrus.Fields{
		"component": "writer",
		"database":  job.Table.Database,
		"table":     table,
	})

	if err := dst.SetForeignKeyChecks(ctx, false); err != nil {
		w.fault(faultlog.ScopeTable, job, fmt.Errorf("disable foreign key checks: %w", err))
	}
	defer func() {
		// ctx 已取消时也要恢复外键检查
		if err := dst.SetForeignKeyChecks(context.WithoutCancel(ctx), true); err != nil {
			w.fault(faultlog.ScopeTable, job, fmt.Errorf("enable foreign key checks: %w", err))
		}
	}()

	batch := int64(w.BatchSize)
	if batch <= 0 {
		batch = DefaultBatchSize
	}
	var processed, reported int64
	for row, err := range rows {
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			w.fault(faultlog.ScopeTable, job, fmt.Errorf("read rows: %w", err))
			logger.WithError(err).Warn("row stream terminated early")
			break
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := w.Pause.Wait(ctx); err != nil {
			return err
		}
		insertErr := dst.InsertRow(ctx, table, row)
		if insertErr != nil {
			w.fault(faultlog.ScopeRow, job, insertErr)
			logger.WithError(insertErr).Debug("failed to insert row")
		}
		processed = job.rowDone(insertErr == nil)
		if processed%batch == 0 || processed == job.Expected() {
			w.report(job, processed)
			reported = processed
		}
	}
	if processed != reported || processed == 0 {
		w.report(job, processed)
	}

	if autoInc.Present {
		if err := dst.SetAutoIncrement(ctx, table, autoInc.Value); err != nil {
			w.fault(faultlog.ScopeTable, job, fmt.Errorf("restore auto increment: %w", err))
		}
	}
	return nil
}
