// Package metrics 提供 Prometheus helper，包含通用请求指标与费用引擎业务指标
package metrics

import (
	"context"
	"fmt"
	"net/http"

	"github.com/primeshares/feeengine/pkg/logger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics 指标集合
type Metrics struct {
	// HTTP 请求计数
	HTTPRequestsTotal prometheus.Counter
	// HTTP 请求耗时
	HTTPRequestDuration prometheus.Histogram

	// 数据库查询计数
	DBQueriesTotal prometheus.Counter
	// 数据库查询耗时
	DBQueryDuration prometheus.Histogram

	// Redis 操作计数
	RedisOpsTotal prometheus.Counter

	// 费用计算总数
	CalculationsTotal prometheus.Counter
	// 校验未通过的计算数
	ValidationFailuresTotal prometheus.Counter
	// 落库的费用流水行数
	FeesAppliedTotal prometheus.Counter
	// 基数回退为 NET 的配置行数
	BasisDefaultedTotal prometheus.Counter
	// 批量重算耗时
	BatchRecalcDuration prometheus.Histogram
}

// New 创建指标实例
func New(serviceName string) *Metrics {
	return &Metrics{
		HTTPRequestsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "feeengine",
			Subsystem: serviceName,
			Name:      "http_requests_total",
			Help:      "Total HTTP requests",
		}),
		HTTPRequestDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "feeengine",
			Subsystem: serviceName,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}),

		DBQueriesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "feeengine",
			Subsystem: serviceName,
			Name:      "db_queries_total",
			Help:      "Total database queries",
		}),
		DBQueryDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "feeengine",
			Subsystem: serviceName,
			Name:      "db_query_duration_seconds",
			Help:      "Database query duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}),

		RedisOpsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "feeengine",
			Subsystem: serviceName,
			Name:      "redis_ops_total",
			Help:      "Total Redis operations",
		}),

		CalculationsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "feeengine",
			Subsystem: serviceName,
			Name:      "calculations_total",
			Help:      "Total fee calculations performed",
		}),
		ValidationFailuresTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "feeengine",
			Subsystem: serviceName,
			Name:      "validation_failures_total",
			Help:      "Calculations that completed with validation failures",
		}),
		FeesAppliedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "feeengine",
			Subsystem: serviceName,
			Name:      "fees_applied_total",
			Help:      "Fee application rows upserted",
		}),
		BasisDefaultedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "feeengine",
			Subsystem: serviceName,
			Name:      "basis_defaulted_total",
			Help:      "Schedule rows whose basis fell back to NET during normalization",
		}),
		BatchRecalcDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "feeengine",
			Subsystem: serviceName,
			Name:      "batch_recalc_duration_seconds",
			Help:      "Duration of full batch recalculation runs",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 60, 300},
		}),
	}
}

// Register 注册所有指标
func (m *Metrics) Register() error {
	collectors := []prometheus.Collector{
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.DBQueriesTotal,
		m.DBQueryDuration,
		m.RedisOpsTotal,
		m.CalculationsTotal,
		m.ValidationFailuresTotal,
		m.FeesAppliedTotal,
		m.BasisDefaultedTotal,
		m.BatchRecalcDuration,
	}

	for _, collector := range collectors {
		if err := prometheus.DefaultRegisterer.Register(collector); err != nil {
			logger.Error(context.Background(), "Failed to register metric", "error", err)
			return err
		}
	}

	logger.Info(context.Background(), "Metrics registered successfully")
	return nil
}

// StartHTTPServer 启动 Prometheus HTTP 服务器
func StartHTTPServer(port int, path string) error {
	if path == "" {
		path = "/metrics"
	}

	http.Handle(path, promhttp.Handler())

	addr := fmt.Sprintf(":%d", port)
	logger.Info(context.Background(), "Starting Prometheus HTTP server", "addr", addr, "path", path)

	go func() {
		if err := http.ListenAndServe(addr, nil); err != nil {
			logger.Error(context.Background(), "Failed to start Prometheus HTTP server", "error", err)
		}
	}()

	return nil
}
