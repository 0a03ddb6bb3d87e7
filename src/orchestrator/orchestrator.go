// Package orchestrator 串联一次完整的迁移：连接、选库、建表、派发表任务
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/dbmirror/dbmirror/src/configs"
	"github.com/dbmirror/dbmirror/src/faultlog"
	"github.com/dbmirror/dbmirror/src/history"
	"github.com/dbmirror/dbmirror/src/metrics"
	"github.com/dbmirror/dbmirror/src/pkg/dbconn"
	"github.com/dbmirror/dbmirror/src/pkg/gate"
	"github.com/dbmirror/dbmirror/src/progress"
	"github.com/dbmirror/dbmirror/src/scheduler"
	"github.com/dbmirror/dbmirror/src/selector"
	"github.com/dbmirror/dbmirror/src/transfer"
)

// ErrNoDatabases multi 模式下既没有配置库列表也无法交互选择
var ErrNoDatabases = errors.New("no databases to migrate")

// Summary 一次运行的结果
type Summary struct {
	RunID     string        `json:"run_id,omitempty"`
	Mode      configs.Mode  `json:"mode"`
	Databases []string      `json:"databases"`
	Skipped   []string      `json:"skipped,omitempty"` // 库级失败而跳过的库
	Tables    int           `json:"tables"`
	Completed int           `json:"completed"`
	Failed    int           `json:"failed"`
	Pending   int           `json:"pending"` // 取消时尚未派发的表
	Faults    int           `json:"faults"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
}

// Orchestrator 的可选组件为 nil 时跳过
type Orchestrator struct {
	Config    *configs.Config
	Connector dbconn.Connector
	Sink      faultlog.Sink
	Load      *gate.LoadGate
	Pause     *gate.PauseGate
	Reporter  *progress.Reporter
	Metrics   *metrics.Collector
	History   *history.Store

	// Select 在 multi 模式且未配置库列表时调用
	Select func(ctx context.Context, candidates []string) ([]string, error)

	faults  *faultlog.Counter
	sink    faultlog.Sink
	summary *Summary
	logger  *logrus.Entry
}

// Run 执行迁移
// 只有致命错误才返回 error：初始连接失败、库或表的枚举失败、ctx 被取消
func (o *Orchestrator) Run(ctx context.Context) (*Summary, error) {
	cfg := o.Config
	o.logger = logrus.WithField("component", "orchestrator")
	o.faults = &faultlog.Counter{}
	sinks := []faultlog.Sink{o.faults}
	if o.Sink != nil {
		sinks = append(sinks, o.Sink)
	}
	if o.Metrics != nil {
		sinks = append(sinks, o.Metrics)
	}
	o.sink = faultlog.Multi(sinks...)
	o.summary = &Summary{Mode: cfg.Mode, StartedAt: time.Now()}
	defer func() {
		o.summary.Faults = o.faults.Total()
		o.summary.Duration = time.Since(o.summary.StartedAt)
	}()

	src, err := o.Connector.Connect(ctx, cfg.Source.WithDatabase(""))
	if err != nil {
		return o.summary, fmt.Errorf("connection to source database failed: %w", err)
	}
	defer src.Close()
	dst, err := o.Connector.Connect(ctx, cfg.Target.WithDatabase(""))
	if err != nil {
		return o.summary, fmt.Errorf("connection to target database failed: %w", err)
	}
	defer dst.Close()

	o.checkVersions(ctx, src, dst)

	databases, err := o.resolveDatabases(ctx, src)
	if err != nil {
		return o.summary, err
	}
	o.summary.Databases = databases

	run := o.startRun(ctx)
	err = o.migrate(ctx, src, dst, databases, run)
	o.finishRun(ctx, run, err)
	return o.summary, err
}

func (o *Orchestrator) migrate(ctx context.Context, src, dst dbconn.Session, databases []string, run *history.Run) error {
	for _, database := range databases {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := o.migrateDatabase(ctx, src, dst, database, run); err != nil {
			return err
		}
	}
	return nil
}

func (o *Orchestrator) checkVersions(ctx context.Context, src, dst dbconn.Session) {
	srcVer, err := src.ServerVersion(ctx)
	if err != nil {
		o.logger.WithError(err).Warn("failed to read source server version")
		return
	}
	dstVer, err := dst.ServerVersion(ctx)
	if err != nil {
		o.logger.WithError(err).Warn("failed to read target server version")
		return
	}
	c, err := dbconn.CheckCompatibility(srcVer, dstVer)
	if err != nil {
		o.logger.WithError(err).Warn("failed to compare server versions")
		return
	}
	logger := o.logger.WithFields(logrus.Fields{"source": srcVer, "target": dstVer})
	warnings := c.Warnings()
	for _, w := range warnings {
		logger.Warn(w)
	}
	if len(warnings) == 0 {
		logger.Debug("server versions compatible")
	}
}

func (o *Orchestrator) resolveDatabases(ctx context.Context, src dbconn.Session) ([]string, error) {
	cfg := o.Config
	if cfg.Mode == configs.ModeSingle {
		return []string{cfg.Source.Database}, nil
	}
	candidates, err := selector.Candidates(ctx, src)
	if err != nil {
		return nil, err
	}
	if len(cfg.Databases) > 0 {
		return selector.Resolve(candidates, cfg.Databases)
	}
	if o.Select == nil {
		return nil, ErrNoDatabases
	}
	return o.Select(ctx, candidates)
}

// migrateDatabase 库级失败记录后跳过该库，表枚举失败是致命的
func (o *Orchestrator) migrateDatabase(ctx context.Context, src, dst dbconn.Session, database string, run *history.Run) error {
	cfg := o.Config
	logger := o.logger.WithField("database", database)
	skip := func(err error) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		o.sink.Append(faultlog.NewRecord(faultlog.ScopeDatabase, database, "", err))
		o.summary.Skipped = append(o.summary.Skipped, database)
		logger.WithError(err).Error("database skipped")
		return nil
	}

	charset, err := src.DatabaseCharset(ctx, database)
	if err != nil {
		return skip(fmt.Errorf("read charset: %w", err))
	}
	target := cfg.TargetDatabase(database)
	if target != database {
		logger = logger.WithField("target", target)
	}
	if err := dst.EnsureDatabase(ctx, target, charset); err != nil {
		return skip(fmt.Errorf("create target database: %w", err))
	}

	tables, err := o.replicateSchema(ctx, database)
	if err != nil {
		var ce *dbconn.ConnectError
		if errors.As(err, &ce) {
			return skip(err)
		}
		return err
	}
	logger.WithField("tables", len(tables)).Info("schema replicated")
	for i := range tables {
		tables[i].TargetDatabase = target
	}

	jobs := make([]*transfer.Job, 0, len(tables))
	for _, t := range tables {
		jobs = append(jobs, transfer.NewJob(t, cfg.BatchSize))
	}
	if o.Reporter != nil {
		o.Reporter.BeginDatabase(database, tables)
		defer o.Reporter.EndDatabase()
	}

	worker := &transfer.Worker{
		Connector: o.Connector,
		Source:    cfg.Source,
		Target:    cfg.Target,
		Pause:     o.Pause,
		Sink:      o.sink,
		Observer:  newObservers(reporterObserver(o.Reporter), metricsObserver(o.Metrics)),
	}
	sched := &scheduler.Scheduler{
		Concurrency: cfg.Threads,
		Pause:       o.Pause,
		Load:        o.Load,
		Runner:      worker,
	}
	if o.Metrics != nil {
		sched.OnChange = o.Metrics.ObserveStats
	}
	runErr := sched.Run(ctx, jobs)
	if runErr == nil {
		// 全部派发后才取消时 Run 不报错
		runErr = ctx.Err()
	}

	o.tally(ctx, jobs, run)
	return runErr
}

func (o *Orchestrator) replicateSchema(ctx context.Context, database string) ([]transfer.TableDescriptor, error) {
	src, err := o.Connector.Connect(ctx, o.Config.SourceProfile(database))
	if err != nil {
		return nil, err
	}
	defer src.Close()
	dst, err := o.Connector.Connect(ctx, o.Config.TargetProfile(database))
	if err != nil {
		return nil, err
	}
	defer dst.Close()
	return transfer.ReplicateSchema(ctx, database, src, dst, o.sink)
}

func (o *Orchestrator) tally(ctx context.Context, jobs []*transfer.Job, run *history.Run) {
	for _, job := range jobs {
		o.summary.Tables++
		switch job.Status() {
		case transfer.StatusCompleted:
			o.summary.Completed++
		case transfer.StatusFailed:
			o.summary.Failed++
		default:
			o.summary.Pending++
		}
		if run != nil {
			if err := o.History.RecordJob(context.WithoutCancel(ctx), history.NewJobRecord(run.ID, job)); err != nil {
				o.logger.WithError(err).Warn("failed to record job history")
			}
		}
	}
}

func (o *Orchestrator) startRun(ctx context.Context) *history.Run {
	if o.History == nil {
		return nil
	}
	cfg := o.Config
	run := &history.Run{
		Mode:      string(cfg.Mode),
		Source:    cfg.Source.String(),
		Target:    cfg.Target.String(),
		Databases: o.summary.Databases,
		StartedAt: o.summary.StartedAt,
	}
	if err := o.History.StartRun(ctx, run); err != nil {
		o.logger.WithError(err).Warn("failed to record run history")
		return nil
	}
	o.summary.RunID = run.ID
	return run
}

func (o *Orchestrator) finishRun(ctx context.Context, run *history.Run, runErr error) {
	if run == nil {
		return
	}
	run.Status = history.RunCompleted
	if runErr != nil {
		run.Status = history.RunFailed
		run.Error = runErr.Error()
	}
	run.Databases = o.summary.Databases
	run.Tables = o.summary.Tables
	run.Completed = o.summary.Completed
	run.Failed = o.summary.Failed
	run.Faults = int64(o.faults.Total())
	if err := o.History.FinishRun(context.WithoutCancel(ctx), run); err != nil {
		o.logger.WithError(err).Warn("failed to finish run history")
	}
}

// 避免把 nil 指针包装成非 nil 接口
func reporterObserver(r *progress.Reporter) transfer.Observer {
	if r == nil {
		return nil
	}
	return r
}

func metricsObserver(m *metrics.Collector) transfer.Observer {
	if m == nil {
		return nil
	}
	return m
}
