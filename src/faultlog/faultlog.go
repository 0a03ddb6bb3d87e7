// Package faultlog 记录迁移过程中可以容忍的失败
// 这些失败不会中断迁移，只会被追加到错误日志里供事后排查
package faultlog

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Scope 失败发生的层级
type Scope string

const (
	ScopeDatabase Scope = "database"
	ScopeSchema   Scope = "schema"
	ScopeTable    Scope = "table"
	ScopeRow      Scope = "row"
)

// Record 一条失败记录
type Record struct {
	Time     time.Time `json:"time"`
	Scope    Scope     `json:"scope"`
	Database string    `json:"database"`
	Table    string    `json:"table,omitempty"`
	Message  string    `json:"message"`
}

// NewRecord 创建记录，Time 取当前时间
func NewRecord(scope Scope, database, table string, err error) Record {
	return Record{
		Time:     time.Now(),
		Scope:    scope,
		Database: database,
		Table:    table,
		Message:  err.Error(),
	}
}

// Line 返回写入日志文件的正文
func (r Record) Line() string {
	var b strings.Builder
	switch r.Scope {
	case ScopeSchema:
		b.WriteString("Failed to create table ")
	case ScopeRow:
		b.WriteString("Failed to insert row into ")
	case ScopeTable:
		b.WriteString("Failed to migrate table ")
	default:
		b.WriteString("Failed to migrate database ")
	}
	b.WriteString("`" + r.Database + "`")
	if r.Table != "" {
		b.WriteString(".`" + r.Table + "`")
	}
	b.WriteString(": ")
	b.WriteString(r.Message)
	return b.String()
}

// Sink 失败记录的去处，必须支持并发写入
type Sink interface {
	Append(r Record)
}

// SinkFunc 把函数适配为 Sink
type SinkFunc func(r Record)

func (f SinkFunc) Append(r Record) { f(r) }

// Discard 丢弃所有记录
var Discard Sink = SinkFunc(func(Record) {})

// Multi 把记录分发给多个 Sink
func Multi(sinks ...Sink) Sink {
	return SinkFunc(func(r Record) {
		for _, s := range sinks {
			s.Append(r)
		}
	})
}

// lineFormatter 输出 "2006-01-02 15:04:05 - message"
type lineFormatter struct{}

func (lineFormatter) Format(e *logrus.Entry) ([]byte, error) {
	return []byte(e.Time.Format("2006-01-02 15:04:05") + " - " + e.Message + "\n"), nil
}

// FileSink 追加写入文本文件
type FileSink struct {
	logger *logrus.Logger
	closer io.Closer
}

// OpenFile 以追加模式打开错误日志
func OpenFile(path string) (*FileSink, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open fault log %s: %w", path, err)
	}
	s := NewWriterSink(f)
	s.closer = f
	return s, nil
}

// NewWriterSink 写入任意 io.Writer
func NewWriterSink(w io.Writer) *FileSink {
	logger := logrus.New()
	logger.SetOutput(w)
	logger.SetFormatter(lineFormatter{})
	logger.SetLevel(logrus.ErrorLevel)
	return &FileSink{logger: logger}
}

func (s *FileSink) Append(r Record) {
	s.logger.WithTime(r.Time).Error(r.Line())
}

func (s *FileSink) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer.Close()
}

// MemorySink 保存在内存中，用于统计与测试
type MemorySink struct {
	mu      sync.Mutex
	records []Record
}

func (s *MemorySink) Append(r Record) {
	s.mu.Lock()
	s.records = append(s.records, r)
	s.mu.Unlock()
}

// Records 返回记录副本
func (s *MemorySink) Records() []Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Record, len(s.records))
	copy(out, s.records)
	return out
}

// Count 返回指定层级的记录数，scope 为空时返回总数
func (s *MemorySink) Count(scope Scope) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if scope == "" {
		return len(s.records)
	}
	n := 0
	for _, r := range s.records {
		if r.Scope == scope {
			n++
		}
	}
	return n
}

// Counter 只计数不保存，长时间运行时替代 MemorySink
type Counter struct {
	mu     sync.Mutex
	counts map[Scope]int
}

func (c *Counter) Append(r Record) {
	c.mu.Lock()
	if c.counts == nil {
		c.counts = make(map[Scope]int)
	}
	c.counts[r.Scope]++
	c.mu.Unlock()
}

// Total 返回全部记录数
func (c *Counter) Total() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, v := range c.counts {
		n += v
	}
	return n
}

// Of 返回指定层级的记录数
func (c *Counter) Of(scope Scope) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counts[scope]
}
