// Package transfer 实现单张表的迁移：建表语句回放、流式读取、逐行写入与自增值恢复
package transfer

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// Status 迁移任务状态
type Status string

const (
	// StatusPending 已创建，尚未派发
	StatusPending Status = "pending"
	// StatusRunning 已派发给 worker
	StatusRunning Status = "running"
	// StatusCompleted 所有行都已处理，单行失败不影响该状态
	StatusCompleted Status = "completed"
	// StatusFailed 在处理任何行之前就无法继续
	StatusFailed Status = "failed"
)

// IsTerminal 是否为终态
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// ErrInvalidTransition 状态转换不合法
var ErrInvalidTransition = errors.New("invalid job status transition")

// TableDescriptor 待迁移的表
type TableDescriptor struct {
	Database string `json:"database"`
	Name     string `json:"name"`
	// TargetDatabase 目标端库名，为空时与 Database 相同
	TargetDatabase string `json:"target_database,omitempty"`
	DDL            string `json:"-"`
	// SchemaApplied 建表语句是否已在目标端执行成功
	SchemaApplied bool `json:"schema_applied"`
}

// Destination 返回目标端库名
func (t TableDescriptor) Destination() string {
	if t.TargetDatabase != "" {
		return t.TargetDatabase
	}
	return t.Database
}

// Job 一张表的迁移任务
// 状态只允许 Pending → Running → Completed | Failed
type Job struct {
	Table     TableDescriptor
	BatchSize int

	processed atomic.Int64
	failed    atomic.Int64
	expected  atomic.Int64

	mu         sync.Mutex
	status     Status
	err        error
	startedAt  time.Time
	finishedAt time.Time
}

// NewJob 创建处于 Pending 状态的任务
func NewJob(table TableDescriptor, batchSize int) *Job {
	return &Job{
		Table:     table,
		BatchSize: batchSize,
		status:    StatusPending,
	}
}

// Name 返回 库.表
func (j *Job) Name() string {
	return j.Table.Database + "." + j.Table.Name
}

func (j *Job) transition(from, to Status) error {
	if j.status != from {
		return fmt.Errorf("%w: %s -> %s (current %s)", ErrInvalidTransition, from, to, j.status)
	}
	j.status = to
	return nil
}

// MarkRunning 派发时调用
func (j *Job) MarkRunning() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if err := j.transition(StatusPending, StatusRunning); err != nil {
		return err
	}
	j.startedAt = time.Now()
	return nil
}

// MarkCompleted worker 正常结束时调用
func (j *Job) MarkCompleted() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if err := j.transition(StatusRunning, StatusCompleted); err != nil {
		return err
	}
	j.finishedAt = time.Now()
	return nil
}

// MarkFailed worker 无法继续时调用
func (j *Job) MarkFailed(cause error) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if err := j.transition(StatusRunning, StatusFailed); err != nil {
		return err
	}
	j.err = cause
	j.finishedAt = time.Now()
	return nil
}

func (j *Job) Status() Status {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.status
}

// Err 返回导致失败的错误
func (j *Job) Err() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.err
}

// Duration 返回运行时长，未结束时返回到目前为止的时长
func (j *Job) Duration() time.Duration {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.startedAt.IsZero() {
		return 0
	}
	if j.finishedAt.IsZero() {
		return time.Since(j.startedAt)
	}
	return j.finishedAt.Sub(j.startedAt)
}

// StartedAt 返回派发时间
func (j *Job) StartedAt() time.Time {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.startedAt
}

// Processed 已处理的行数（包括插入失败的行）
func (j *Job) Processed() int64 {
	return j.processed.Load()
}

// Failed 插入失败的行数
func (j *Job) Failed() int64 {
	return j.failed.Load()
}

// Transferred 成功插入的行数
func (j *Job) Transferred() int64 {
	return j.processed.Load() - j.failed.Load()
}

// Expected 开始时统计的源表行数
func (j *Job) Expected() int64 {
	return j.expected.Load()
}

func (j *Job) setExpected(n int64) {
	j.expected.Store(n)
}

// rowDone 记录一行处理结果，返回累计处理行数
func (j *Job) rowDone(ok bool) int64 {
	n := j.processed.Add(1)
	if !ok {
		j.failed.Add(1)
	}
	return n
}
