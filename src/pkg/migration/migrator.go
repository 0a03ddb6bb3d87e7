// Package migration 使用 golang-migrate 管理本地 SQLite 文件的表结构
package migration

import (
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/sirupsen/logrus"
)

var (
	// ErrMigrationFailed 迁移失败错误
	ErrMigrationFailed = errors.New("migration failed")
	// ErrRollbackFailed 回滚失败错误
	ErrRollbackFailed = errors.New("rollback failed")
)

// Schema 一个数据库文件的迁移定义
type Schema struct {
	// Name 用于日志和锁文件
	Name string
	// FS 迁移 SQL 文件所在的文件系统
	FS fs.FS
	// Dir 迁移文件在 FS 中的子目录，为空表示根目录
	Dir string
	// Backup 迁移前备份已有文件，失败时从备份恢复
	Backup bool
}

// Result 迁移结果
type Result struct {
	FromVersion uint
	ToVersion   uint
	WasDirty    bool
	BackupPath  string
}

// Migrator 对单个数据库文件执行迁移
type Migrator struct {
	dbPath  string
	schema  Schema
	lock    *Lock
	backups *BackupManager
	logger  *logrus.Entry
}

// NewMigrator 创建迁移器
func NewMigrator(dbPath string, schema Schema) (*Migrator, error) {
	if dbPath == "" {
		return nil, fmt.Errorf("database path cannot be empty")
	}
	if schema.FS == nil {
		return nil, fmt.Errorf("schema %q has no migration source", schema.Name)
	}
	return &Migrator{
		dbPath:  dbPath,
		schema:  schema,
		lock:    NewLock(dbPath + LockFileExtension),
		backups: NewBackupManager(dbPath),
		logger: logrus.WithFields(logrus.Fields{
			"component": "migration",
			"db_path":   dbPath,
			"schema":    schema.Name,
		}),
	}, nil
}

func (m *Migrator) instance(db *sql.DB) (*migrate.Migrate, error) {
	dir := m.schema.Dir
	if dir == "" {
		dir = "."
	}
	src, err := iofs.New(m.schema.FS, dir)
	if err != nil {
		return nil, fmt.Errorf("failed to create iofs source: %w", err)
	}
	drv, err := sqlite.WithInstance(db, &sqlite.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to create sqlite driver: %w", err)
	}
	mig, err := migrate.NewWithInstance("iofs", src, "sqlite", drv)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrate instance: %w", err)
	}
	return mig, nil
}

// Run 把 db 升级到最新版本
// db 由调用方持有，迁移结束后不会关闭
func (m *Migrator) Run(db *sql.DB) (*Result, error) {
	if err := os.MkdirAll(filepath.Dir(m.dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}
	if err := m.recover(); err != nil {
		return nil, err
	}

	mig, err := m.instance(db)
	if err != nil {
		return nil, err
	}
	result := &Result{}
	result.FromVersion, result.WasDirty, _ = mig.Version()

	// 全新的库没有可备份的数据
	if m.schema.Backup && result.FromVersion > 0 {
		if result.BackupPath, err = m.backups.CreateBackup(); err != nil {
			return nil, fmt.Errorf("failed to create backup: %w", err)
		}
		if result.BackupPath != "" {
			if err := m.lock.Acquire(NewLockInfo(m.schema.Name, result.BackupPath)); err != nil {
				_ = m.backups.RemoveBackup(result.BackupPath)
				return nil, err
			}
			defer m.lock.Release()
		}
	}

	if err := mig.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		if result.BackupPath != "" {
			m.logger.WithError(err).Error("migration failed, attempting rollback")
			if rbErr := m.backups.RestoreBackup(result.BackupPath); rbErr != nil {
				return result, fmt.Errorf("%w: %v (%w: %v)", ErrMigrationFailed, err, ErrRollbackFailed, rbErr)
			}
		}
		return result, fmt.Errorf("%w: %v", ErrMigrationFailed, err)
	}

	result.ToVersion, _, _ = mig.Version()
	if result.FromVersion != result.ToVersion {
		m.logger.WithFields(logrus.Fields{
			"from_version": result.FromVersion,
			"to_version":   result.ToVersion,
			"was_dirty":    result.WasDirty,
		}).Info("database migration completed")
	} else {
		m.logger.WithField("version", result.ToVersion).Debug("database schema is up to date")
	}
	return result, nil
}

// recover 上次迁移中断时锁文件会残留，按其中记录的备份恢复
func (m *Migrator) recover() error {
	info, err := m.lock.Info()
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read lock info: %w", err)
	}
	m.logger.WithFields(logrus.Fields{
		"start_time":  info.StartTime,
		"pid":         info.PID,
		"backup_path": info.Note,
	}).Warn("detected incomplete migration, attempting recovery")
	if info.Note != "" {
		if err := m.backups.RestoreBackup(info.Note); err != nil {
			return fmt.Errorf("%w: %v", ErrRollbackFailed, err)
		}
	}
	return m.lock.Release()
}
