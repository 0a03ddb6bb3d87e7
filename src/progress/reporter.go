// Package progress 汇总各个任务的进度并渲染状态行
// 只用于展示，不影响迁移流程
package progress

import (
	"fmt"
	"io"
	"math"
	"sync"

	"github.com/schollz/progressbar/v3"

	"github.com/dbmirror/dbmirror/src/transfer"
)

// FormatLine 渲染状态行
// [scope] NN% (done/total) - Table: t, Rows Transferred: n
func FormatLine(scope string, done, total int64, table string, rows int64) string {
	return fmt.Sprintf("[%s] %d%% (%d/%d) - Table: %s, Rows Transferred: %d",
		scope, Percent(done, total), done, total, table, rows)
}

// Percent 四舍五入的百分比，total 为 0 时视为已完成
func Percent(done, total int64) int {
	if total <= 0 {
		return 100
	}
	return int(math.Round(float64(done) / float64(total) * 100))
}

// TableProgress 单张表的进度
type TableProgress struct {
	Database  string          `json:"database"`
	Table     string          `json:"table"`
	Status    transfer.Status `json:"status"`
	Expected  int64           `json:"expected"`
	Processed int64           `json:"processed"`
	Failed    int64           `json:"failed"`
}

// DatabaseProgress 单个库的进度
type DatabaseProgress struct {
	Name            string          `json:"name"`
	TablesTotal     int             `json:"tables_total"`
	TablesCompleted int             `json:"tables_completed"`
	Tables          []TableProgress `json:"tables"`
}

// Snapshot 进度快照
type Snapshot struct {
	Current  *DatabaseProgress  `json:"current,omitempty"`
	Finished []DatabaseProgress `json:"finished"`
	Line     string             `json:"line"`
}

// Reporter 进度汇总，所有方法都可并发调用
type Reporter struct {
	out io.Writer

	mu       sync.Mutex
	bar      *progressbar.ProgressBar
	current  *DatabaseProgress
	index    map[string]int
	finished []DatabaseProgress
	line     string
}

// NewReporter out 为 nil 时不输出
func NewReporter(out io.Writer) *Reporter {
	if out == nil {
		out = io.Discard
	}
	return &Reporter{out: out}
}

// BeginDatabase 开始一个库，tables 为该库的表数
func (r *Reporter) BeginDatabase(name string, tables []transfer.TableDescriptor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.finishLocked()

	cur := &DatabaseProgress{Name: name, TablesTotal: len(tables)}
	r.index = make(map[string]int, len(tables))
	for i, t := range tables {
		cur.Tables = append(cur.Tables, TableProgress{Database: name, Table: t.Name, Status: transfer.StatusPending})
		r.index[t.Name] = i
	}
	r.current = cur
	if len(tables) == 0 {
		return
	}

	out := r.out
	r.bar = progressbar.NewOptions64(int64(len(tables)),
		progressbar.OptionSetWriter(out),
		progressbar.OptionSetDescription("["+name+"]"),
		progressbar.OptionShowCount(),
		progressbar.OptionThrottle(0),
		progressbar.OptionSetWidth(20),
		progressbar.OptionOnCompletion(func() { fmt.Fprintln(out) }),
	)
}

// EndDatabase 结束当前库
func (r *Reporter) EndDatabase() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.finishLocked()
}

func (r *Reporter) finishLocked() {
	if r.current == nil {
		return
	}
	if r.bar != nil {
		_ = r.bar.Finish()
		r.bar = nil
	}
	r.finished = append(r.finished, *r.current)
	r.current = nil
	r.index = nil
}

func (r *Reporter) tableLocked(job *transfer.Job) *TableProgress {
	if r.current == nil || r.current.Name != job.Table.Database {
		return nil
	}
	i, ok := r.index[job.Table.Name]
	if !ok {
		return nil
	}
	return &r.current.Tables[i]
}

func (r *Reporter) renderLocked(line string) {
	r.line = line
	if r.bar == nil || r.current == nil {
		return
	}
	r.bar.Describe(line)
	_ = r.bar.Set64(int64(r.current.TablesCompleted))
}

// JobStarted 实现 transfer.Observer
func (r *Reporter) JobStarted(job *transfer.Job) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t := r.tableLocked(job); t != nil {
		t.Status = transfer.StatusRunning
		t.Expected = job.Expected()
	}
}

// JobProgress 按表的行数渲染
func (r *Reporter) JobProgress(job *transfer.Job, processed int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t := r.tableLocked(job)
	if t == nil {
		return
	}
	// 行数只增不减
	if processed < t.Processed {
		return
	}
	t.Processed = processed
	t.Failed = job.Failed()
	r.renderLocked(FormatLine(job.Table.Name, processed, max(t.Expected, processed), job.Table.Name, processed))
}

// JobFinished 按库的表数渲染
func (r *Reporter) JobFinished(job *transfer.Job) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t := r.tableLocked(job)
	if t == nil {
		return
	}
	t.Status = job.Status()
	t.Processed = max(t.Processed, job.Processed())
	t.Failed = job.Failed()
	r.current.TablesCompleted++
	cur := r.current
	r.renderLocked(FormatLine(cur.Name, int64(cur.TablesCompleted), int64(cur.TablesTotal), job.Table.Name, t.Processed))
}

// Line 返回最近一次渲染的状态行
func (r *Reporter) Line() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.line
}

// Snapshot 返回进度快照
func (r *Reporter) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := Snapshot{Line: r.line, Finished: make([]DatabaseProgress, 0, len(r.finished))}
	for _, d := range r.finished {
		s.Finished = append(s.Finished, cloneDatabase(d))
	}
	if r.current != nil {
		cur := cloneDatabase(*r.current)
		s.Current = &cur
	}
	return s
}

func cloneDatabase(d DatabaseProgress) DatabaseProgress {
	d.Tables = append([]TableProgress(nil), d.Tables...)
	return d
}
