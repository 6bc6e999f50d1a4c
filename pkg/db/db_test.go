package db

import (
	"context"
	"testing"
	"time"

	"github.com/primeshares/feeengine/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

// 日志关闭时仍应上报查询指标
func TestGormLoggerTrace_RecordsMetrics(t *testing.T) {
	m := metrics.New("db_test")
	l := NewGormLogger(false, time.Second, m)

	for i := 0; i < 2; i++ {
		l.Trace(context.Background(), time.Now(), func() (string, int64) {
			return "SELECT 1", 1
		}, nil)
	}

	assert.Equal(t, float64(2), testutil.ToFloat64(m.DBQueriesTotal))
	assert.Equal(t, 1, testutil.CollectAndCount(m.DBQueryDuration))
}

// 未注入指标实例时 Trace 不应 panic
func TestGormLoggerTrace_NilMetrics(t *testing.T) {
	l := NewGormLogger(false, time.Second, nil)

	assert.NotPanics(t, func() {
		l.Trace(context.Background(), time.Now(), func() (string, int64) {
			return "SELECT 1", 1
		}, nil)
	})
}
