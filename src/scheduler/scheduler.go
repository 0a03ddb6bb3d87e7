// Package scheduler 把表迁移任务派发到有上限的并发 worker 上
package scheduler

import (
	"context"
	"errors"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/dbmirror/dbmirror/src/pkg/gate"
	dbsentry "github.com/dbmirror/dbmirror/src/pkg/sentry"
	"github.com/dbmirror/dbmirror/src/transfer"
)

var errRunnerAbandoned = errors.New("runner returned without finishing the job")

// JobRunner 执行一个已经处于 Running 状态的任务
// 返回前必须把任务置为终态
type JobRunner interface {
	Run(ctx context.Context, job *transfer.Job)
}

// RunnerFunc 把函数适配为 JobRunner
type RunnerFunc func(ctx context.Context, job *transfer.Job)

func (f RunnerFunc) Run(ctx context.Context, job *transfer.Job) { f(ctx, job) }

// Stats 调度器统计信息
type Stats struct {
	Dispatched int `json:"dispatched"`
	Running    int `json:"running"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
	MaxRunning int `json:"max_running"`
}

// Scheduler 按表的发现顺序派发任务，同时运行的任务不超过 Concurrency
// 每次派发前依次等待空闲槽位、暂停信号解除、系统负载降到上限以下
type Scheduler struct {
	Concurrency int
	Pause       *gate.PauseGate
	Load        *gate.LoadGate
	Runner      JobRunner

	// OnChange 派发或结束一个任务后回调
	OnChange func(stats Stats)

	mu    sync.Mutex
	stats Stats
}

// Stats 返回统计快照
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

func (s *Scheduler) update(f func(st *Stats)) {
	s.mu.Lock()
	f(&s.stats)
	st := s.stats
	s.mu.Unlock()
	if s.OnChange != nil {
		s.OnChange(st)
	}
}

// Run 派发 jobs 中的全部任务，并等待所有已派发的任务进入终态后返回
// ctx 取消后不再派发新任务，未派发的任务保持 Pending
func (s *Scheduler) Run(ctx context.Context, jobs []*transfer.Job) error {
	concurrency := s.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	slots := make(chan struct{}, concurrency)
	var wg sync.WaitGroup
	defer wg.Wait()

	for _, job := range jobs {
		// 等待空闲槽位
		select {
		case slots <- struct{}{}:
		case <-ctx.Done():
			return ctx.Err()
		}
		if err := s.Pause.Wait(ctx); err != nil {
			<-slots
			return err
		}
		if err := s.Load.Wait(ctx); err != nil {
			<-slots
			return err
		}
		if err := job.MarkRunning(); err != nil {
			<-slots
			logrus.WithError(err).WithField("table", job.Name()).Warn("skipping job that is not pending")
			continue
		}
		s.update(func(st *Stats) {
			st.Dispatched++
			st.Running++
			if st.Running > st.MaxRunning {
				st.MaxRunning = st.Running
			}
		})
		logrus.WithField("table", job.Name()).Debug("job dispatched")

		wg.Add(1)
		dbsentry.Go(func() {
			defer wg.Done()
			defer func() { <-slots }()
			defer s.finish(job)
			s.Runner.Run(ctx, job)
		})
	}
	return nil
}

func (s *Scheduler) finish(job *transfer.Job) {
	if !job.Status().IsTerminal() {
		_ = job.MarkFailed(errRunnerAbandoned)
	}
	failed := job.Status() == transfer.StatusFailed
	s.update(func(st *Stats) {
		st.Running--
		if failed {
			st.Failed++
		} else {
			st.Completed++
		}
	})
}
