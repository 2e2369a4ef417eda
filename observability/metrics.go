package observability

import (
	"math/big"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type adminMetrics struct {
	requests  *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	throttles *prometheus.CounterVec
}

var (
	adminMetricsOnce sync.Once
	adminRegistry    *adminMetrics

	withdrawaldMetricsOnce sync.Once
	withdrawaldRegistry    *WithdrawaldMetrics
)

// AdminMetrics returns the lazily-initialised registry for the operator API.
func AdminMetrics() *adminMetrics {
	adminMetricsOnce.Do(func() {
		adminRegistry = &adminMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "creditchain",
				Subsystem: "admin",
				Name:      "requests_total",
				Help:      "Total admin API requests segmented by route and status code.",
			}, []string{"route", "method", "status"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "creditchain",
				Subsystem: "admin",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for admin API handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"route", "method"}),
			throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "creditchain",
				Subsystem: "admin",
				Name:      "throttles_total",
				Help:      "Count of admin requests rejected by the rate limiter.",
			}, []string{"reason"}),
		}
		prometheus.MustRegister(
			adminRegistry.requests,
			adminRegistry.latency,
			adminRegistry.throttles,
		)
	})
	return adminRegistry
}

// Observe records the outcome of an admin request.
func (m *adminMetrics) Observe(route, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unknown"
	}
	if method == "" {
		method = "unknown"
	}
	m.requests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	m.latency.WithLabelValues(route, method).Observe(duration.Seconds())
}

// RecordThrottle increments the throttle counter.
func (m *adminMetrics) RecordThrottle(reason string) {
	if m == nil {
		return
	}
	if reason = strings.TrimSpace(reason); reason == "" {
		reason = "unspecified"
	}
	m.throttles.WithLabelValues(reason).Inc()
}

// WithdrawaldMetrics wraps collectors tracking withdrawal engine health.
type WithdrawaldMetrics struct {
	blockLatency   prometheus.Histogram
	transitions    *prometheus.CounterVec
	requests       *prometheus.GaugeVec
	locked         prometheus.Gauge
	capRemaining   prometheus.Gauge
	capUtilization prometheus.Gauge
	height         *prometheus.GaugeVec
	errors         *prometheus.CounterVec
	pauseEngaged   prometheus.Gauge
}

// Withdrawald exposes the metrics registry for withdrawald.
func Withdrawald() *WithdrawaldMetrics {
	withdrawaldMetricsOnce.Do(func() {
		withdrawaldRegistry = &WithdrawaldMetrics{
			blockLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
				Namespace: "creditchain",
				Subsystem: "withdrawald",
				Name:      "block_duration_seconds",
				Help:      "Latency distribution for per-block withdrawal processing.",
				Buckets:   prometheus.DefBuckets,
			}),
			transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "creditchain",
				Subsystem: "withdrawald",
				Name:      "transitions_total",
				Help:      "Count of withdrawal status transitions segmented by target status.",
			}, []string{"status"}),
			requests: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "creditchain",
				Subsystem: "withdrawald",
				Name:      "requests",
				Help:      "Number of withdrawal requests per status.",
			}, []string{"status"}),
			locked: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "creditchain",
				Subsystem: "withdrawald",
				Name:      "locked_amount",
				Help:      "Credits currently reserved by in-flight withdrawals.",
			}),
			capRemaining: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "creditchain",
				Subsystem: "withdrawald",
				Name:      "quota_remaining",
				Help:      "Credits that may still lock in the current window.",
			}),
			capUtilization: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "creditchain",
				Subsystem: "withdrawald",
				Name:      "quota_utilization",
				Help:      "Ratio of the window quota already committed (0-1).",
			}),
			height: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "creditchain",
				Subsystem: "withdrawald",
				Name:      "height",
				Help:      "Last processed platform height and observed core chain-lock height.",
			}, []string{"chain"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "creditchain",
				Subsystem: "withdrawald",
				Name:      "errors_total",
				Help:      "Count of withdrawal processing failures segmented by reason.",
			}, []string{"reason"}),
			pauseEngaged: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "creditchain",
				Subsystem: "withdrawald",
				Name:      "pause_engaged",
				Help:      "Indicates whether the withdrawal pause guard is active (1) or not (0).",
			}),
		}
		prometheus.MustRegister(
			withdrawaldRegistry.blockLatency,
			withdrawaldRegistry.transitions,
			withdrawaldRegistry.requests,
			withdrawaldRegistry.locked,
			withdrawaldRegistry.capRemaining,
			withdrawaldRegistry.capUtilization,
			withdrawaldRegistry.height,
			withdrawaldRegistry.errors,
			withdrawaldRegistry.pauseEngaged,
		)
	})
	return withdrawaldRegistry
}

// ObserveBlock records the processing latency for a block.
func (m *WithdrawaldMetrics) ObserveBlock(d time.Duration) {
	if m == nil {
		return
	}
	m.blockLatency.Observe(d.Seconds())
}

// RecordTransitions adds n transitions into status.
func (m *WithdrawaldMetrics) RecordTransitions(status string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.transitions.WithLabelValues(labelStatus(status)).Add(float64(n))
}

// SetRequests sets the per-status request gauge.
func (m *WithdrawaldMetrics) SetRequests(status string, n int) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(labelStatus(status)).Set(float64(n))
}

// RecordLedger updates the locked amount and quota gauges.
func (m *WithdrawaldMetrics) RecordLedger(locked, remaining, committed uint64) {
	if m == nil {
		return
	}
	m.locked.Set(bigToFloat(new(big.Int).SetUint64(locked)))
	m.capRemaining.Set(bigToFloat(new(big.Int).SetUint64(remaining)))
	total := float64(remaining) + float64(committed)
	utilisation := 0.0
	if total > 0 {
		utilisation = float64(committed) / total
		if utilisation > 1 {
			utilisation = 1
		}
	}
	m.capUtilization.Set(utilisation)
}

// RecordHeights updates the platform and core height gauges.
func (m *WithdrawaldMetrics) RecordHeights(platform, core uint64) {
	if m == nil {
		return
	}
	m.height.WithLabelValues("platform").Set(float64(platform))
	m.height.WithLabelValues("core").Set(float64(core))
}

// RecordError increments the error counter for the supplied reason.
func (m *WithdrawaldMetrics) RecordError(reason string) {
	if m == nil {
		return
	}
	if reason = strings.TrimSpace(reason); reason == "" {
		reason = "unspecified"
	}
	m.errors.WithLabelValues(reason).Inc()
}

// SetPause toggles the pause_engaged gauge.
func (m *WithdrawaldMetrics) SetPause(engaged bool) {
	if m == nil {
		return
	}
	if engaged {
		m.pauseEngaged.Set(1)
		return
	}
	m.pauseEngaged.Set(0)
}

func labelStatus(status string) string {
	trimmed := strings.TrimSpace(status)
	if trimmed == "" {
		return "unknown"
	}
	return strings.ToLower(trimmed)
}

func bigToFloat(value *big.Int) float64 {
	if value == nil {
		return 0
	}
	floatVal, _ := new(big.Float).SetInt(value).Float64()
	return floatVal
}
