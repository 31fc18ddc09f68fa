package service

import (
	"errors"
	"time"

	"github.com/jimyag/jva/pkg/apierror"
	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "jva"

// Metrics 是 prometheus.Collector，统计编排操作和驱动调用
// nil 的 *Metrics 可以安全调用所有方法
type Metrics struct {
	operations        *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	driverCalls       *prometheus.CounterVec
	driverDuration    *prometheus.HistogramVec
	lockWait          prometheus.Histogram
}

// NewMetrics 创建指标收集器
func NewMetrics() *Metrics {
	return &Metrics{
		operations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "operations_total",
				Help:      "Attachment and volume operations by result code.",
			}, []string{"operation", "result"},
		),
		operationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "operation_duration_seconds",
				Help:      "Time spent in attachment and volume operations.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"operation"},
		),
		driverCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "driver_calls_total",
				Help:      "Backend driver calls by result.",
			}, []string{"backend", "operation", "result"},
		),
		driverDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "driver_call_duration_seconds",
				Help:      "Time spent waiting for backend drivers.",
				Buckets:   []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
			}, []string{"backend", "operation"},
		),
		lockWait: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "volume_lock_wait_seconds",
				Help:      "Time spent waiting for the per-volume lock.",
				Buckets:   []float64{0.001, 0.01, 0.1, 0.5, 1, 5, 30},
			},
		),
	}
}

// Describe is part of the prometheus.Collector interface.
func (m *Metrics) Describe(ch chan<- *prometheus.Desc) {
	m.operations.Describe(ch)
	m.operationDuration.Describe(ch)
	m.driverCalls.Describe(ch)
	m.driverDuration.Describe(ch)
	m.lockWait.Describe(ch)
}

// Collect is part of the prometheus.Collector interface.
func (m *Metrics) Collect(ch chan<- prometheus.Metric) {
	m.operations.Collect(ch)
	m.operationDuration.Collect(ch)
	m.driverCalls.Collect(ch)
	m.driverDuration.Collect(ch)
	m.lockWait.Collect(ch)
}

// ObserveOperation 记录一次编排操作
func (m *Metrics) ObserveOperation(operation string, start time.Time, err error) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(operation, resultLabel(err)).Inc()
	m.operationDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

// ObserveDriverCall 实现 driver.Recorder
func (m *Metrics) ObserveDriverCall(backend, operation string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	m.driverCalls.WithLabelValues(backend, operation, resultLabel(err)).Inc()
	m.driverDuration.WithLabelValues(backend, operation).Observe(duration.Seconds())
}

// ObserveLockWait 记录等待卷锁的时间
func (m *Metrics) ObserveLockWait(d time.Duration) {
	if m == nil {
		return
	}
	m.lockWait.Observe(d.Seconds())
}

// resultLabel 成功为 success，API 错误使用错误码，其他错误为 error
func resultLabel(err error) string {
	if err == nil {
		return "success"
	}
	var apiErr *apierror.Error
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	return "error"
}
