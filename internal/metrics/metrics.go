// Package metrics owns the Prometheus registry and the engine's instruments.
// Every helper is safe to call on a nil *Metrics so components can run
// without instrumentation.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/alanyoungcy/vaultbot/internal/domain"
)

const namespace = "vaultbot"

// Metrics wraps a private registry with the predefined instruments.
type Metrics struct {
	registry *prometheus.Registry

	OperationsTotal     *prometheus.CounterVec
	OperationDuration   *prometheus.HistogramVec
	HealthStatusTotal   *prometheus.CounterVec
	PoolAmount          *prometheus.GaugeVec
	PriceAge            prometheus.Histogram
	BreakerState        *prometheus.GaugeVec
	MonitorSweeps       *prometheus.CounterVec
	MatchedVolume       *prometheus.CounterVec
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

// New builds a registry with Go and process collectors plus the engine
// instruments.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{registry: reg}

	m.OperationsTotal = m.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "operations_total",
		Help:      "Engine operations by name and outcome.",
	}, []string{"operation", "result"})

	m.OperationDuration = m.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "operation_duration_seconds",
		Help:      "Engine operation latency.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"operation"})

	m.HealthStatusTotal = m.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "health_checks_total",
		Help:      "Health check results by resulting status.",
	}, []string{"status"})

	m.PoolAmount = m.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "pool_amount",
		Help:      "Pool aggregates in collateral base units.",
	}, []string{"pool", "field"})

	m.PriceAge = m.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "oracle_price_age_seconds",
		Help:      "Age of oracle samples at the time they are used.",
		Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120},
	})

	m.BreakerState = m.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "circuit_breaker_state",
		Help:      "Circuit breaker state (0 closed, 1 half-open, 2 open).",
	}, []string{"name"})

	m.MonitorSweeps = m.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "monitor_sweeps_total",
		Help:      "Position monitor sweeps by outcome.",
	}, []string{"result"})

	m.MatchedVolume = m.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "matched_size_total",
		Help:      "Position size opened by the order matcher, by leverage tier.",
	}, []string{"leverage"})

	m.HTTPRequestsTotal = m.NewCounterVec(prometheus.CounterOpts{
		Name: "http_server_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	m.HTTPRequestDuration = m.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_server_request_duration_seconds",
		Help:    "HTTP request latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})

	return m
}

// NewCounterVec creates and registers a counter vector.
func (m *Metrics) NewCounterVec(opts prometheus.CounterOpts, labelNames []string) *prometheus.CounterVec {
	cv := prometheus.NewCounterVec(opts, labelNames)
	m.registry.MustRegister(cv)
	return cv
}

// NewGaugeVec creates and registers a gauge vector.
func (m *Metrics) NewGaugeVec(opts prometheus.GaugeOpts, labelNames []string) *prometheus.GaugeVec {
	gv := prometheus.NewGaugeVec(opts, labelNames)
	m.registry.MustRegister(gv)
	return gv
}

// NewHistogramVec creates and registers a histogram vector.
func (m *Metrics) NewHistogramVec(opts prometheus.HistogramOpts, labelNames []string) *prometheus.HistogramVec {
	hv := prometheus.NewHistogramVec(opts, labelNames)
	m.registry.MustRegister(hv)
	return hv
}

// NewHistogram creates and registers a histogram.
func (m *Metrics) NewHistogram(opts prometheus.HistogramOpts) prometheus.Histogram {
	h := prometheus.NewHistogram(opts)
	m.registry.MustRegister(h)
	return h
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveOperation records the outcome and latency of an engine operation.
func (m *Metrics) ObserveOperation(op string, start time.Time, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = string(domain.KindOf(err))
	}
	m.OperationsTotal.WithLabelValues(op, result).Inc()
	m.OperationDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

// RecordHealth counts a health check that ended in status.
func (m *Metrics) RecordHealth(status domain.PositionStatus) {
	if m == nil {
		return
	}
	m.HealthStatusTotal.WithLabelValues(string(status)).Inc()
}

// SetTradingPool publishes the trading pool aggregates.
func (m *Metrics) SetTradingPool(p domain.TradingPool) {
	if m == nil {
		return
	}
	m.PoolAmount.WithLabelValues("trading", "active").Set(float64(p.TotalActiveAmount))
	m.PoolAmount.WithLabelValues("trading", "pool").Set(float64(p.TotalPoolAmount))
	m.PoolAmount.WithLabelValues("trading", "fees").Set(float64(p.TotalFeesCollected))
}

// SetRewardPool publishes the reward pool aggregates.
func (m *Metrics) SetRewardPool(p domain.RewardPool) {
	if m == nil {
		return
	}
	m.PoolAmount.WithLabelValues("reward", "total").Set(float64(p.TotalRewardAmount))
	m.PoolAmount.WithLabelValues("reward", "performance").Set(float64(p.PerformancePoolAmount))
	m.PoolAmount.WithLabelValues("reward", "distributed").Set(float64(p.TotalDistributed))
}

// ObservePriceAge records how stale an accepted sample was.
func (m *Metrics) ObservePriceAge(age time.Duration) {
	if m == nil {
		return
	}
	m.PriceAge.Observe(age.Seconds())
}

// SetBreakerState records a circuit breaker transition.
func (m *Metrics) SetBreakerState(name string, state int) {
	if m == nil {
		return
	}
	m.BreakerState.WithLabelValues(name).Set(float64(state))
}

// RecordSweep counts a monitor sweep.
func (m *Metrics) RecordSweep(result string) {
	if m == nil {
		return
	}
	m.MonitorSweeps.WithLabelValues(result).Inc()
}

// RecordTrade adds a matched fill to the volume counter.
func (m *Metrics) RecordTrade(t domain.Trade) {
	if m == nil {
		return
	}
	m.MatchedVolume.WithLabelValues(strconv.FormatUint(t.Leverage, 10)).Add(float64(t.Amount))
}

// ObserveHTTP records a served request.
func (m *Metrics) ObserveHTTP(method, path string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path).Observe(d.Seconds())
}
