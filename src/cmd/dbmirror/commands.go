package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/dbmirror/dbmirror/src/cmd/dbmirror/internal/flag"
	"github.com/dbmirror/dbmirror/src/configs"
	"github.com/dbmirror/dbmirror/src/consts"
	"github.com/dbmirror/dbmirror/src/faultlog"
	"github.com/dbmirror/dbmirror/src/history"
	"github.com/dbmirror/dbmirror/src/metrics"
	"github.com/dbmirror/dbmirror/src/notify"
	"github.com/dbmirror/dbmirror/src/orchestrator"
	"github.com/dbmirror/dbmirror/src/pkg/gate"
	"github.com/dbmirror/dbmirror/src/progress"
	"github.com/dbmirror/dbmirror/src/selector"
	"github.com/dbmirror/dbmirror/src/servers"
)

// migrate 组装迁移所需的组件并执行一次迁移
func (a *app) migrate(ctx context.Context, cfg *configs.Config) int {
	logger := logrus.WithField("component", "main")

	sink, err := faultlog.OpenFile(cfg.FaultLog)
	if err != nil {
		fmt.Fprintln(a.stderr, err.Error())
		return 1
	}
	defer sink.Close()

	collector := metrics.NewCollector()
	marker := gate.FileSignal{Path: cfg.Pause.File}
	pause := &gate.PauseGate{
		Signal:   marker,
		Interval: cfg.Pause.Interval,
		Hint:     cfg.Pause.File,
		OnChange: collector.SetPaused,
	}
	sampler := a.sampler
	if sampler == nil {
		sampler = gate.SystemLoadSampler{PerCPU: cfg.Load.PerCPU}
	}
	load := &gate.LoadGate{
		Sampler:  sampler,
		Ceiling:  cfg.Load.Ceiling,
		Interval: cfg.Load.Interval,
		OnSample: collector.SetLoad,
	}
	reporter := progress.NewReporter(a.stdout)

	var store *history.Store
	if cfg.History.Enable {
		lock, err := history.AcquireRunLock(cfg.History.DBPath, fmt.Sprintf("%s pid %d", consts.AppName, os.Getpid()))
		if err != nil {
			fmt.Fprintf(a.stderr, "another migration is running: %v\n", err)
			return 1
		}
		defer lock.Release()
		if store, err = history.Open(cfg.History.DBPath); err != nil {
			logger.WithError(err).Warn("failed to open run history, this run will not be recorded")
			store = nil
		} else {
			defer store.Close()
		}
	}

	if cfg.RPC.Enable {
		deps := servers.Dependencies{
			Progress: reporter,
			Pause:    marker,
			Metrics:  collector.Handler(),
		}
		if store != nil {
			deps.History = store
		}
		srv := servers.NewServer(cfg.RPC.Bind, deps)
		if err := srv.Start(ctx); err != nil {
			fmt.Fprintf(a.stderr, "failed to start http server: %v\n", err)
			return 1
		}
		defer srv.Close(context.Background())
		logger.Infof("http server listening on %s", cfg.RPC.Bind)
	}

	orch := &orchestrator.Orchestrator{
		Config:    cfg,
		Connector: a.connector,
		Sink:      sink,
		Load:      load,
		Pause:     pause,
		Reporter:  reporter,
		Metrics:   collector,
		History:   store,
		Select:    a.prompt,
	}
	summary, err := orch.Run(ctx)
	if nerr := notify.SendSummary(context.WithoutCancel(ctx), cfg, summary, err); nerr != nil {
		logger.WithError(nerr).Warn("failed to send summary")
	}
	if err != nil {
		logger.WithError(err).Error("migration aborted")
		fmt.Fprintf(a.stderr, "Migration aborted: %v\n", err)
		return 1
	}

	logger.WithFields(logrus.Fields{
		"run_id":    summary.RunID,
		"tables":    summary.Tables,
		"completed": summary.Completed,
		"failed":    summary.Failed,
		"faults":    summary.Faults,
		"duration":  summary.Duration.Round(time.Millisecond),
	}).Info("migration finished")
	if summary.Faults > 0 {
		fmt.Fprintf(a.stdout, "%d failures recorded in %s\n", summary.Faults, cfg.FaultLog)
	}
	fmt.Fprintln(a.stdout, consts.CompletedMessage)
	return 0
}

func (a *app) prompt(ctx context.Context, candidates []string) ([]string, error) {
	return selector.Prompt(a.stdin, a.stdout, candidates)
}

func (a *app) listDatabases(ctx context.Context, cfg *configs.Config) int {
	session, err := a.connector.Connect(ctx, cfg.Source.WithDatabase(""))
	if err != nil {
		fmt.Fprintf(a.stderr, "connection to source database failed: %v\n", err)
		return 1
	}
	defer session.Close()

	names, err := selector.Candidates(ctx, session)
	if err != nil {
		fmt.Fprintln(a.stderr, err.Error())
		return 1
	}
	for i, name := range names {
		fmt.Fprintf(a.stdout, "  %d) %s\n", i+1, name)
	}
	return 0
}

func (a *app) showHistory(ctx context.Context, cfg *configs.Config, runID string, limit int) int {
	store, err := history.Open(cfg.History.DBPath)
	if err != nil {
		fmt.Fprintln(a.stderr, err.Error())
		return 1
	}
	defer store.Close()

	w := tabwriter.NewWriter(a.stdout, 0, 4, 2, ' ', 0)
	defer w.Flush()

	if runID == "" {
		runs, err := store.ListRuns(ctx, limit)
		if err != nil {
			fmt.Fprintln(a.stderr, err.Error())
			return 1
		}
		fmt.Fprintln(w, "RUN\tSTARTED\tMODE\tSTATUS\tTABLES\tFAILED\tFAULTS\tDATABASES")
		for _, r := range runs {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d/%d\t%d\t%d\t%s\n",
				r.ID, r.StartedAt.Format("2006-01-02 15:04:05"), r.Mode, r.Status,
				r.Completed, r.Tables, r.Failed, r.Faults, strings.Join(r.Databases, ","))
		}
		return 0
	}

	run, err := store.GetRun(ctx, runID)
	if errors.Is(err, history.ErrRunNotFound) {
		fmt.Fprintf(a.stderr, "run %s not found\n", runID)
		return 1
	} else if err != nil {
		fmt.Fprintln(a.stderr, err.Error())
		return 1
	}
	jobs, err := store.ListJobs(ctx, runID)
	if err != nil {
		fmt.Fprintln(a.stderr, err.Error())
		return 1
	}
	fmt.Fprintf(w, "run %s %s, %s -> %s\n", run.ID, run.Status, run.Source, run.Target)
	if run.Error != "" {
		fmt.Fprintf(w, "error: %s\n", run.Error)
	}
	fmt.Fprintln(w, "DATABASE\tTABLE\tSTATUS\tROWS\tFAILED\tDURATION\tERROR")
	for _, j := range jobs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d/%d\t%d\t%s\t%s\n",
			j.Database, j.Table, j.Status, j.Processed, j.Expected, j.Failed,
			j.Duration.Round(time.Millisecond), j.Error)
	}
	return 0
}

func (a *app) pause(cfg *configs.Config) int {
	if err := (gate.FileSignal{Path: cfg.Pause.File}).Pause(); err != nil {
		fmt.Fprintln(a.stderr, err.Error())
		return 1
	}
	fmt.Fprintf(a.stdout, consts.PausedMessageTmpl+"\n", cfg.Pause.File)
	return 0
}

func (a *app) resume(cfg *configs.Config) int {
	if err := (gate.FileSignal{Path: cfg.Pause.File}).Resume(); err != nil {
		fmt.Fprintln(a.stderr, err.Error())
		return 1
	}
	fmt.Fprintf(a.stdout, "Pause marker %s removed\n", cfg.Pause.File)
	return 0
}

func (a *app) initConfig(f *flag.Flags) int {
	path := *f.InitPath
	if _, err := os.Stat(path); err == nil && !*f.InitForce {
		fmt.Fprintf(a.stderr, "%s already exists, use --force to overwrite\n", path)
		return 1
	}
	cfg := configs.NewConfig()
	cfg.File = path
	if err := cfg.Marshal(); err != nil {
		fmt.Fprintln(a.stderr, err.Error())
		return 1
	}
	fmt.Fprintf(a.stdout, "Config written to %s\n", path)
	return 0
}
