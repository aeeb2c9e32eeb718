package lifecycle

import (
	"testing"

	"github.com/linnemanlabs/go-core/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsHooks(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	clk := newManualClock()
	m := NewManager(Options{Policy: DefaultPolicy(), Clock: clk, Logger: log.Nop(), Hooks: metrics.Hooks()})
	defer m.Close()

	m.Submit(highEvent("h"))
	m.Submit(mediumEvent("suppressed"))
	m.Submit(mediumEvent("promoted"))

	if got := testutil.ToFloat64(metrics.Pending); got != 2 {
		t.Errorf("pending gauge = %v, want 2", got)
	}

	m.DismissByCorrelation("suppressed")
	clk.Advance(DefaultDebounce)
	clk.Advance(DefaultMediumExpiry)

	checks := []struct {
		name string
		got  float64
		want float64
	}{
		{"admissions high", testutil.ToFloat64(metrics.SubmitsTotal.WithLabelValues(string(PathHigh))), 1},
		{"admissions debounce", testutil.ToFloat64(metrics.SubmitsTotal.WithLabelValues(string(PathDebounce))), 2},
		{"admissions promoted", testutil.ToFloat64(metrics.SubmitsTotal.WithLabelValues(string(PathPromoted))), 1},
		{"suppressed", testutil.ToFloat64(metrics.SuppressedTotal), 1},
		{"expired", testutil.ToFloat64(metrics.RemovalsTotal.WithLabelValues(string(RemoveExpired))), 1},
		{"visible gauge", testutil.ToFloat64(metrics.Visible), 1},
		{"pending gauge", testutil.ToFloat64(metrics.Pending), 0},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s = %v, want %v", c.name, c.got, c.want)
		}
	}
}

func TestMetricsHooks_PendingReplaced(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	clk := newManualClock()
	m := NewManager(Options{Policy: DefaultPolicy(), Clock: clk, Logger: log.Nop(), Hooks: metrics.Hooks()})
	defer m.Close()

	m.Submit(mediumEvent("k"))
	m.Submit(mediumEvent("k"))
	m.Submit(highEvent("k"))

	if got := testutil.ToFloat64(metrics.ReplacedTotal); got != 2 {
		t.Errorf("replaced = %v, want 2", got)
	}
	if got := testutil.ToFloat64(metrics.SuppressedTotal); got != 0 {
		t.Errorf("suppressed = %v, want 0", got)
	}
	if got := testutil.ToFloat64(metrics.Pending); got != 0 {
		t.Errorf("pending gauge = %v, want 0", got)
	}
}
