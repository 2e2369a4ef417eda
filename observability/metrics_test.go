package observability

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestWithdrawaldMetricsRecordLedger(t *testing.T) {
	m := Withdrawald()
	m.RecordLedger(300, 700, 300)
	require.Equal(t, 300.0, testutil.ToFloat64(m.locked))
	require.Equal(t, 700.0, testutil.ToFloat64(m.capRemaining))
	require.InDelta(t, 0.3, testutil.ToFloat64(m.capUtilization), 1e-9)

	m.RecordLedger(0, 0, 0)
	require.Equal(t, 0.0, testutil.ToFloat64(m.capUtilization))
}

func TestWithdrawaldMetricsTransitionsAndPause(t *testing.T) {
	m := Withdrawald()
	before := testutil.ToFloat64(m.transitions.WithLabelValues("pooled"))
	m.RecordTransitions(" Pooled ", 3)
	m.RecordTransitions("pooled", 0)
	require.Equal(t, before+3, testutil.ToFloat64(m.transitions.WithLabelValues("pooled")))

	m.SetPause(true)
	require.Equal(t, 1.0, testutil.ToFloat64(m.pauseEngaged))
	m.SetPause(false)
	require.Equal(t, 0.0, testutil.ToFloat64(m.pauseEngaged))

	m.RecordHeights(12, 900)
	require.Equal(t, 900.0, testutil.ToFloat64(m.height.WithLabelValues("core")))
	m.ObserveBlock(10 * time.Millisecond)
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *WithdrawaldMetrics
	m.RecordError("boom")
	m.RecordLedger(1, 2, 3)
	m.SetPause(true)

	var admin *adminMetrics
	admin.Observe("/v1/status", "GET", 200, time.Millisecond)
	admin.RecordThrottle("")

	var events *eventMetrics
	events.RecordPublished("nats", "withdrawal.pooled")
}

func TestEventMetricsNormaliseLabels(t *testing.T) {
	m := Events()
	before := testutil.ToFloat64(m.dropped.WithLabelValues("unknown"))
	m.RecordDropped("  ")
	require.Equal(t, before+1, testutil.ToFloat64(m.dropped.WithLabelValues("unknown")))
}
