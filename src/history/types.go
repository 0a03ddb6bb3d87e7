package history

import (
	"time"

	"github.com/dbmirror/dbmirror/src/transfer"
)

// RunStatus 一次运行的状态
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed" // 正常结束，可能包含单表或单行失败
	RunFailed    RunStatus = "failed"    // 因致命错误中止
)

// Run 一次迁移运行
type Run struct {
	ID         string    `json:"id"`
	Mode       string    `json:"mode"`
	Source     string    `json:"source"`
	Target     string    `json:"target"`
	Databases  []string  `json:"databases"`
	Status     RunStatus `json:"status"`
	Tables     int       `json:"tables"`
	Completed  int       `json:"completed"`
	Failed     int       `json:"failed"`
	Faults     int64     `json:"faults"`
	Error      string    `json:"error,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"` // 零值表示仍在运行或进程异常退出
}

// JobRecord 单张表的迁移结果
type JobRecord struct {
	ID        int64           `json:"id"`
	RunID     string          `json:"run_id"`
	Database  string          `json:"database"`
	Table     string          `json:"table"`
	Status    transfer.Status `json:"status"`
	Expected  int64           `json:"expected"`
	Processed int64           `json:"processed"`
	Failed    int64           `json:"failed"`
	Error     string          `json:"error,omitempty"`
	StartedAt time.Time       `json:"started_at"`
	Duration  time.Duration   `json:"duration"`
}

// NewJobRecord 从已结束的任务生成记录
func NewJobRecord(runID string, job *transfer.Job) JobRecord {
	rec := JobRecord{
		RunID:     runID,
		Database:  job.Table.Database,
		Table:     job.Table.Name,
		Status:    job.Status(),
		Expected:  job.Expected(),
		Processed: job.Processed(),
		Failed:    job.Failed(),
		StartedAt: job.StartedAt(),
		Duration:  job.Duration(),
	}
	if err := job.Err(); err != nil {
		rec.Error = err.Error()
	}
	return rec
}
