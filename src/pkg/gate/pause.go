package gate

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/dbmirror/dbmirror/src/consts"
)

// PauseSignal 外部暂停信号
type PauseSignal interface {
	IsPaused() bool
}

// FileSignal 标记文件存在即暂停
type FileSignal struct {
	Path string
}

func (s FileSignal) IsPaused() bool {
	_, err := os.Stat(s.Path)
	return err == nil
}

// Pause 创建标记文件
func (s FileSignal) Pause() error {
	content := fmt.Sprintf("paused at %s\n", time.Now().Format(time.RFC3339))
	if err := os.WriteFile(s.Path, []byte(content), 0o644); err != nil {
		return fmt.Errorf("create pause marker %s: %w", s.Path, err)
	}
	return nil
}

// Resume 删除标记文件，文件不存在不算错误
func (s FileSignal) Resume() error {
	if err := os.Remove(s.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove pause marker %s: %w", s.Path, err)
	}
	return nil
}

// PauseGate 暂停期间阻塞调用方
type PauseGate struct {
	Signal   PauseSignal
	Interval time.Duration
	// Hint 提示用户如何恢复，一般是标记文件路径
	Hint string

	// OnChange 进入或离开暂停状态时回调
	OnChange func(paused bool)
}

// Wait 未暂停时立即返回；暂停时每个暂停周期只输出一次提示
func (g *PauseGate) Wait(ctx context.Context) error {
	if g == nil || g.Signal == nil {
		return nil
	}
	paused := false
	defer func() {
		if paused && g.OnChange != nil {
			g.OnChange(false)
		}
	}()
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !g.Signal.IsPaused() {
			if paused {
				logrus.Info("migration resumed")
			}
			return nil
		}
		if !paused {
			paused = true
			logrus.Infof(consts.PausedMessageTmpl, g.Hint)
			if g.OnChange != nil {
				g.OnChange(true)
			}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(g.Interval):
		}
	}
}
