// Package history 在本地 SQLite 中记录每次迁移运行及各表结果
package history

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	uuid "github.com/satori/go.uuid"
	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"github.com/dbmirror/dbmirror/src/pkg/migration"
)

//go:embed migrations/*.sql
var embeddedMigrations embed.FS

// ErrRunNotFound 运行记录不存在
var ErrRunNotFound = errors.New("run not found")

// Schema 运行历史数据库的迁移定义
var Schema = migration.Schema{
	Name:   "history",
	FS:     embeddedMigrations,
	Dir:    "migrations",
	Backup: true,
}

// Store 运行历史存储
type Store struct {
	db     *sql.DB
	dbPath string
	mu     sync.RWMutex
}

// Open 打开或创建数据库并迁移到最新版本
func Open(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("创建数据库目录失败: %w", err)
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("打开数据库失败: %w", err)
	}
	db.SetMaxOpenConns(1)

	m, err := migration.NewMigrator(dbPath, Schema)
	if err != nil {
		db.Close()
		return nil, err
	}
	if _, err := m.Run(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("运行数据库迁移失败: %w", err)
	}
	return &Store{db: db, dbPath: dbPath}, nil
}

// Close 关闭数据库
func (s *Store) Close() error {
	return s.db.Close()
}

// NewRunID 生成运行 ID
func NewRunID() (string, error) {
	id, err := uuid.NewV4()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// StartRun 插入一条运行中的记录，run.ID 为空时自动生成
func (s *Store) StartRun(ctx context.Context, run *Run) error {
	if run.ID == "" {
		id, err := NewRunID()
		if err != nil {
			return fmt.Errorf("generate run id: %w", err)
		}
		run.ID = id
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now()
	}
	run.Status = RunRunning

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (id, mode, source, target, db_list, status, started_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, run.ID, run.Mode, run.Source, run.Target, strings.Join(run.Databases, ","), run.Status, run.StartedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	logrus.WithField("run_id", run.ID).Debug("run recorded")
	return nil
}

// RecordJob 写入一张表的结果
func (s *Store) RecordJob(ctx context.Context, rec JobRecord) error {
	var started int64
	if !rec.StartedAt.IsZero() {
		started = rec.StartedAt.UnixMilli()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO table_jobs (run_id, db_name, table_name, status, expected, processed, failed_rows, error, started_at, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, rec.RunID, rec.Database, rec.Table, rec.Status, rec.Expected, rec.Processed, rec.Failed, rec.Error, started, rec.Duration.Milliseconds())
	if err != nil {
		return fmt.Errorf("insert job %s.%s: %w", rec.Database, rec.Table, err)
	}
	return nil
}

// FinishRun 更新运行的最终状态
func (s *Store) FinishRun(ctx context.Context, run *Run) error {
	if run.FinishedAt.IsZero() {
		run.FinishedAt = time.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.ExecContext(ctx, `
		UPDATE runs SET status = ?, db_list = ?, tables = ?, completed = ?, failed = ?, faults = ?, error = ?, finished_at = ?
		WHERE id = ?
	`, run.Status, strings.Join(run.Databases, ","), run.Tables, run.Completed, run.Failed, run.Faults, run.Error, run.FinishedAt.UnixMilli(), run.ID)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, run.ID)
	}
	return nil
}

const runColumns = `id, mode, source, target, db_list, status, tables, completed, failed, faults, error, started_at, finished_at`

// GetRun 按 ID 查询运行
func (s *Store) GetRun(ctx context.Context, id string) (*Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows, err := s.db.QueryContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	runs, err := scanRuns(rows)
	if err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	return runs[0], nil
}

// ListRuns 最近的运行，最新的在前，limit <= 0 表示不限
func (s *Store) ListRuns(ctx context.Context, limit int) ([]*Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs ORDER BY started_at DESC, rowid DESC`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRuns(rows)
}

// ListJobs 某次运行的各表结果，按写入顺序
func (s *Store) ListJobs(ctx context.Context, runID string) ([]*JobRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, run_id, db_name, table_name, status, expected, processed, failed_rows, error, started_at, duration_ms
		FROM table_jobs WHERE run_id = ? ORDER BY id
	`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []*JobRecord
	for rows.Next() {
		rec := &JobRecord{}
		var started, durationMs int64
		if err := rows.Scan(&rec.ID, &rec.RunID, &rec.Database, &rec.Table, &rec.Status,
			&rec.Expected, &rec.Processed, &rec.Failed, &rec.Error, &started, &durationMs); err != nil {
			return nil, err
		}
		if started > 0 {
			rec.StartedAt = time.UnixMilli(started)
		}
		rec.Duration = time.Duration(durationMs) * time.Millisecond
		jobs = append(jobs, rec)
	}
	return jobs, rows.Err()
}

func scanRuns(rows *sql.Rows) ([]*Run, error) {
	var runs []*Run
	for rows.Next() {
		run := &Run{}
		var databases string
		var started, finished int64
		if err := rows.Scan(&run.ID, &run.Mode, &run.Source, &run.Target, &databases, &run.Status,
			&run.Tables, &run.Completed, &run.Failed, &run.Faults, &run.Error, &started, &finished); err != nil {
			return nil, err
		}
		if databases != "" {
			run.Databases = strings.Split(databases, ",")
		}
		run.StartedAt = time.UnixMilli(started)
		if finished > 0 {
			run.FinishedAt = time.UnixMilli(finished)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// RunLockExtension 运行锁文件扩展名
const RunLockExtension = ".run.lock"

// AcquireRunLock 防止两个进程同时写同一个历史库，已被持有时返回 migration.ErrLocked
func AcquireRunLock(dbPath, owner string) (*migration.Lock, error) {
	lock := migration.NewLock(dbPath + RunLockExtension)
	if err := lock.Acquire(migration.NewLockInfo(owner, "")); err != nil {
		return nil, err
	}
	return lock, nil
}
