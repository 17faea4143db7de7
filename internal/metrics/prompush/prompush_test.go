package prompush

import (
	"fmt"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"personetl/internal/metrics"
)

// gather renders the backend's registry into name -> labeled samples.
func gather(t *testing.T, b *Backend) map[string][]*dto.Metric {
	t.Helper()
	reg := b.buildRegistry()
	if reg == nil {
		return nil
	}
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	out := make(map[string][]*dto.Metric)
	for _, f := range families {
		out[f.GetName()] = f.GetMetric()
	}
	return out
}

func labelValue(m *dto.Metric, key string) string {
	for _, lp := range m.GetLabel() {
		if lp.GetName() == key {
			return lp.GetValue()
		}
	}
	return ""
}

func TestBackend_CountersAccumulateAcrossFlushes(t *testing.T) {
	t.Parallel()

	b := NewBackend("job1", "http://unused:9091")
	b.IncCounter("etl_records_total", 2, metrics.Labels{"kind": "valid"})
	b.IncCounter("etl_records_total", 1, metrics.Labels{"kind": "valid"})
	b.IncCounter("etl_records_total", 1, metrics.Labels{"kind": "rejected"})

	fams := gather(t, b)
	ms := fams["etl_records_total"]
	if len(ms) != 2 {
		t.Fatalf("series = %d, want 2 label sets", len(ms))
	}
	got := make(map[string]float64)
	for _, m := range ms {
		got[labelValue(m, "kind")] = m.GetCounter().GetValue()
	}
	if got["valid"] != 3 || got["rejected"] != 1 {
		t.Errorf("counter values = %v", got)
	}

	// Totals are cumulative: recording more keeps prior counts.
	b.IncCounter("etl_records_total", 1, metrics.Labels{"kind": "valid"})
	fams = gather(t, b)
	for _, m := range fams["etl_records_total"] {
		if labelValue(m, "kind") == "valid" && m.GetCounter().GetValue() != 4 {
			t.Errorf("valid total = %v, want 4", m.GetCounter().GetValue())
		}
	}
}

func TestBackend_HistogramExportsSumAndCount(t *testing.T) {
	t.Parallel()

	b := NewBackend("job1", "http://unused:9091")
	b.ObserveHistogram("etl_source_duration_seconds", 0.5, nil)
	b.ObserveHistogram("etl_source_duration_seconds", 1.5, nil)

	fams := gather(t, b)
	sum := fams["etl_source_duration_seconds_sum"]
	cnt := fams["etl_source_duration_seconds_count"]
	if len(sum) != 1 || len(cnt) != 1 {
		t.Fatalf("sum=%d count=%d series, want 1 each", len(sum), len(cnt))
	}
	if got := sum[0].GetGauge().GetValue(); got != 2.0 {
		t.Errorf("sum = %v, want 2.0", got)
	}
	if got := cnt[0].GetGauge().GetValue(); got != 2 {
		t.Errorf("count = %v, want 2", got)
	}
}

func TestBackend_IgnoresNonPositiveAndNegative(t *testing.T) {
	t.Parallel()

	b := NewBackend("job1", "http://unused:9091")
	b.IncCounter("etl_records_total", 0, nil)
	b.IncCounter("etl_records_total", -1, nil)
	b.ObserveHistogram("etl_source_duration_seconds", -0.1, nil)

	if reg := b.buildRegistry(); reg != nil {
		t.Error("expected empty registry after ignored observations")
	}
}

func TestBackend_FlushUsesPushSeam(t *testing.T) {
	t.Parallel()

	b := NewBackend("job1", "http://unused:9091")

	var pushed int
	b.pushFn = func(reg *prometheus.Registry) error {
		pushed++
		return nil
	}

	// Nothing recorded: no push.
	if err := b.Flush(); err != nil {
		t.Fatalf("Flush (empty): %v", err)
	}
	if pushed != 0 {
		t.Fatalf("pushed %d times on empty flush", pushed)
	}

	b.IncCounter("etl_runs_total", 1, metrics.Labels{"status": "ok"})
	if err := b.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if pushed != 1 {
		t.Errorf("pushed %d times, want 1", pushed)
	}
}

func TestBackend_FlushWrapsPushError(t *testing.T) {
	t.Parallel()

	b := NewBackend("nightly", "http://unused:9091")
	b.pushFn = func(reg *prometheus.Registry) error {
		return fmt.Errorf("gateway unreachable")
	}
	b.IncCounter("etl_runs_total", 1, nil)

	err := b.Flush()
	if err == nil {
		t.Fatal("expected push error")
	}
	if !strings.Contains(err.Error(), "job nightly") {
		t.Errorf("error %q does not name the job", err)
	}
}
