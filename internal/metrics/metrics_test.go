package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestFetchCounters(t *testing.T) {
	m := New()
	m.FetchAttempt("klines", "ok")
	m.FetchAttempt("klines", "ok")
	m.FetchAttempt("chart", "rate_limited")
	m.CacheFallback("chart")

	if got := testutil.ToFloat64(m.FetchAttempts.WithLabelValues("klines", "ok")); got != 2 {
		t.Fatalf("klines ok = %v", got)
	}
	if got := testutil.ToFloat64(m.CacheFallbacks.WithLabelValues("chart")); got != 1 {
		t.Fatalf("fallbacks = %v", got)
	}
}

func TestAlarmCounters(t *testing.T) {
	m := New()
	m.AlarmEvaluated("cross_up", "idle")
	m.AlarmEvaluated("cross_up", "fired")
	m.CycleFinished(4, 1500*time.Millisecond)

	if got := testutil.ToFloat64(m.AlarmsFired.WithLabelValues("cross_up")); got != 1 {
		t.Fatalf("fired = %v", got)
	}
	if got := testutil.ToFloat64(m.AlarmsActive); got != 4 {
		t.Fatalf("active = %v", got)
	}
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.FetchAttempt("klines", "ok")
	m.CacheFallback("klines")
	m.AlarmEvaluated("ema_touch", "fired")
	m.CycleFinished(1, time.Second)
	if m.Registry() != nil {
		t.Fatal("nil metrics should expose no registry")
	}
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := New()
	m.AlarmEvaluated("price_target", "fired")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if !strings.Contains(rec.Body.String(), `criptoiq_alarms_fired_total{kind="price_target"} 1`) {
		t.Fatalf("metrics body missing counter:\n%s", rec.Body.String())
	}
}
