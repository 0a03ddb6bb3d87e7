//go:generate go run go.uber.org/mock/mockgen -package gate -destination mock_test.go github.com/dbmirror/dbmirror/src/pkg/gate LoadSampler,PauseSignal

// Package gate 派发新任务前需要通过的两道闸门：系统负载与人工暂停
package gate

import (
	"context"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/sirupsen/logrus"

	"github.com/dbmirror/dbmirror/src/consts"
)

// LoadSampler 采样当前系统负载
type LoadSampler interface {
	// LoadPercent 返回 1 分钟平均负载乘以 100
	LoadPercent(ctx context.Context) (float64, error)
}

// SystemLoadSampler 读取本机的平均负载
type SystemLoadSampler struct {
	// PerCPU 为 true 时按逻辑核数归一化
	PerCPU bool
}

func (s SystemLoadSampler) LoadPercent(ctx context.Context) (float64, error) {
	avg, err := load.AvgWithContext(ctx)
	if err != nil {
		return 0, err
	}
	percent := avg.Load1 * 100
	if s.PerCPU {
		n, err := cpu.CountsWithContext(ctx, true)
		if err != nil {
			return 0, err
		}
		if n > 0 {
			percent /= float64(n)
		}
	}
	return percent, nil
}

// LoadGate 负载低于 Ceiling 时才放行
type LoadGate struct {
	Sampler  LoadSampler
	Ceiling  float64
	Interval time.Duration

	// OnSample 每次采样成功后回调，用于指标上报
	OnSample func(percent float64)
}

// Admit 重新采样一次并判断是否放行
// 采样失败时放行，并记录警告
func (g *LoadGate) Admit(ctx context.Context) bool {
	percent, err := g.Sampler.LoadPercent(ctx)
	if err != nil {
		logrus.WithError(err).Warn("failed to sample system load, admitting job")
		return true
	}
	if g.OnSample != nil {
		g.OnSample(percent)
	}
	return percent < g.Ceiling
}

// Wait 阻塞直到负载低于上限，没有重试次数限制
func (g *LoadGate) Wait(ctx context.Context) error {
	if g == nil || g.Sampler == nil {
		return nil
	}
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if g.Admit(ctx) {
			return nil
		}
		logrus.WithField("ceiling", g.Ceiling).Info(consts.HighLoadMessage)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(g.Interval):
		}
	}
}
