// Package metrics 把迁移过程导出为 Prometheus 指标
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dbmirror/dbmirror/src/faultlog"
	"github.com/dbmirror/dbmirror/src/scheduler"
	"github.com/dbmirror/dbmirror/src/transfer"
)

const namespace = "dbmirror"

type jobCounts struct {
	transferred int64
	failed      int64
}

// Collector 实现 transfer.Observer 与 faultlog.Sink
type Collector struct {
	registry *prometheus.Registry

	rowsTransferred *prometheus.CounterVec
	rowFailures     *prometheus.CounterVec
	jobs            *prometheus.CounterVec
	schemaFailures  *prometheus.CounterVec
	jobsRunning     prometheus.Gauge
	loadPercent     prometheus.Gauge
	paused          prometheus.Gauge

	mu       sync.Mutex
	reported map[*transfer.Job]jobCounts
}

// NewCollector 创建并注册全部指标，使用独立的 Registry
func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		rowsTransferred: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_transferred_total",
			Help:      "Rows inserted into the target.",
		}, []string{"database", "table"}),
		rowFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "row_failures_total",
			Help:      "Rows whose insert failed.",
		}, []string{"database", "table"}),
		jobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_total",
			Help:      "Finished table jobs by final status.",
		}, []string{"database", "status"}),
		schemaFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "schema_failures_total",
			Help:      "Tables whose DDL could not be replicated.",
		}, []string{"database"}),
		jobsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "jobs_running",
			Help:      "Table jobs currently running.",
		}),
		loadPercent: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "load_percent",
			Help:      "Last sampled system load percentage.",
		}),
		paused: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "paused",
			Help:      "1 while the pause marker is present.",
		}),
		reported: make(map[*transfer.Job]jobCounts),
	}
	c.registry.MustRegister(
		c.rowsTransferred,
		c.rowFailures,
		c.jobs,
		c.schemaFailures,
		c.jobsRunning,
		c.loadPercent,
		c.paused,
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)
	return c
}

// Registry 返回内部 Registry
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler 返回 /metrics 的处理器
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// JobStarted 实现 transfer.Observer
func (c *Collector) JobStarted(job *transfer.Job) {}

// JobProgress 按差值累加行计数
func (c *Collector) JobProgress(job *transfer.Job, processed int64) {
	c.flush(job)
}

// JobFinished 记录最终状态并丢弃该任务的累计值
func (c *Collector) JobFinished(job *transfer.Job) {
	c.flush(job)
	c.mu.Lock()
	delete(c.reported, job)
	c.mu.Unlock()
	c.jobs.WithLabelValues(job.Table.Database, string(job.Status())).Inc()
}

func (c *Collector) flush(job *transfer.Job) {
	now := jobCounts{transferred: job.Transferred(), failed: job.Failed()}

	c.mu.Lock()
	prev := c.reported[job]
	c.reported[job] = now
	c.mu.Unlock()

	labels := []string{job.Table.Database, job.Table.Name}
	if d := now.transferred - prev.transferred; d > 0 {
		c.rowsTransferred.WithLabelValues(labels...).Add(float64(d))
	}
	if d := now.failed - prev.failed; d > 0 {
		c.rowFailures.WithLabelValues(labels...).Add(float64(d))
	}
}

// Append 实现 faultlog.Sink，只统计表结构失败
func (c *Collector) Append(r faultlog.Record) {
	if r.Scope == faultlog.ScopeSchema {
		c.schemaFailures.WithLabelValues(r.Database).Inc()
	}
}

// ObserveStats 用于 scheduler.Scheduler.OnChange
func (c *Collector) ObserveStats(s scheduler.Stats) {
	c.jobsRunning.Set(float64(s.Running))
}

// SetLoad 用于 gate.LoadGate.OnSample
func (c *Collector) SetLoad(percent float64) {
	c.loadPercent.Set(percent)
}

// SetPaused 用于 gate.PauseGate.OnChange
func (c *Collector) SetPaused(paused bool) {
	if paused {
		c.paused.Set(1)
		return
	}
	c.paused.Set(0)
}
