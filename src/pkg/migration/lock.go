package migration

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// LockFileExtension 迁移锁文件扩展名
const LockFileExtension = ".migration.lock"

// ErrLocked 锁已被其他进程持有
var ErrLocked = errors.New("locked by another process")

// LockInfo 锁文件内容
type LockInfo struct {
	Owner     string `json:"owner"`
	PID       int    `json:"pid"`
	StartTime string `json:"start_time"`
	// Note 持有者自定义信息，迁移时为备份路径
	Note string `json:"note,omitempty"`
}

// NewLockInfo 以当前进程创建锁信息
func NewLockInfo(owner, note string) *LockInfo {
	return &LockInfo{
		Owner:     owner,
		PID:       os.Getpid(),
		StartTime: time.Now().Format(time.RFC3339),
		Note:      note,
	}
}

// Lock 基于 JSON 文件的进程间互斥锁，不检测持有者是否存活
type Lock struct {
	path string
}

// NewLock 创建锁，path 为锁文件路径
func NewLock(path string) *Lock {
	return &Lock{path: path}
}

// Acquire 创建锁文件，已存在时返回 ErrLocked
func (l *Lock) Acquire(info *LockInfo) error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("failed to create lock file directory: %w", err)
	}
	data, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal lock info: %w", err)
	}

	f, err := os.OpenFile(l.path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if errors.Is(err, os.ErrExist) {
		if held, infoErr := l.Info(); infoErr == nil {
			return fmt.Errorf("%w: %s started at %s (PID: %d)", ErrLocked, held.Owner, held.StartTime, held.PID)
		}
		return fmt.Errorf("%w: %s", ErrLocked, l.path)
	}
	if err != nil {
		return fmt.Errorf("failed to create lock file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(l.path)
		return fmt.Errorf("failed to write lock file: %w", err)
	}
	return f.Close()
}

// Release 删除锁文件，不存在时忽略
func (l *Lock) Release() error {
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove lock file: %w", err)
	}
	return nil
}

// Info 读取锁信息，锁不存在时返回 os.ErrNotExist
func (l *Lock) Info() (*LockInfo, error) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return nil, err
	}
	var info LockInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("failed to unmarshal lock info: %w", err)
	}
	return &info, nil
}
