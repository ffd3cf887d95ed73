package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/vaultbot/internal/domain"
)

func TestMetrics_ObserveOperationLabelsByKind(t *testing.T) {
	m := New()
	m.ObserveOperation("open", time.Now(), nil)
	m.ObserveOperation("open", time.Now(), errors.Join(domain.ErrInsufficientFunds))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.OperationsTotal.WithLabelValues("open", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.OperationsTotal.WithLabelValues("open", "insufficient_funds")))
}

func TestMetrics_RecordTrade(t *testing.T) {
	m := New()
	m.RecordTrade(domain.Trade{Leverage: 5, Amount: 2000})
	m.RecordTrade(domain.Trade{Leverage: 5, Amount: 500})
	assert.Equal(t, 2500.0, testutil.ToFloat64(m.MatchedVolume.WithLabelValues("5")))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveOperation("close", time.Now(), nil)
		m.RecordHealth(domain.PositionStatusHealthy)
		m.SetTradingPool(domain.TradingPool{})
		m.SetRewardPool(domain.RewardPool{})
		m.ObservePriceAge(time.Second)
		m.SetBreakerState("hermes", 2)
		m.RecordSweep("ok")
		m.RecordTrade(domain.Trade{Leverage: 5, Amount: 10})
		m.ObserveHTTP("GET", "/", 200, time.Millisecond)
	})
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.SetTradingPool(domain.TradingPool{TotalPoolAmount: 42})

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), `vaultbot_pool_amount{field="pool",pool="trading"} 42`))
}
