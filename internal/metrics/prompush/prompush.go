// Package prompush implements a Prometheus Pushgateway backend for the
// internal/metrics package.
//
// Batch jobs are invisible to Prometheus scraping, so totals are pushed to
// a Pushgateway grouped by job name. Counters accumulate for the process
// lifetime and every Flush pushes the current cumulative totals; the
// Pushgateway replaces the group on each push, so re-pushing totals is
// idempotent.
package prompush

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"

	"personetl/internal/metrics"
)

// Backend implements metrics.Backend against a Pushgateway.
type Backend struct {
	job string

	// pushFn is a test seam. Production pushes to the configured gateway.
	pushFn func(reg *prometheus.Registry) error

	mu       sync.Mutex
	counters map[string]*series
	histSum  map[string]*series
	histCnt  map[string]*series
}

// series is one labeled metric accumulator.
type series struct {
	name   string
	labels prometheus.Labels
	value  float64
}

// NewBackend returns a backend pushing to the Pushgateway at url, grouped
// by job.
func NewBackend(job, url string) *Backend {
	if job == "" {
		job = "personetl"
	}
	return &Backend{
		job: job,
		pushFn: func(reg *prometheus.Registry) error {
			return push.New(url, job).Gatherer(reg).Push()
		},
		counters: make(map[string]*series),
		histSum:  make(map[string]*series),
		histCnt:  make(map[string]*series),
	}
}

func seriesKey(name string, labels metrics.Labels) string {
	if len(labels) == 0 {
		return name
	}
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(name)
	for _, k := range keys {
		fmt.Fprintf(&b, "|%s=%s", k, labels[k])
	}
	return b.String()
}

func cloneLabels(labels metrics.Labels) prometheus.Labels {
	out := make(prometheus.Labels, len(labels))
	for k, v := range labels {
		out[k] = v
	}
	return out
}

func accumulate(m map[string]*series, name string, labels metrics.Labels, delta float64) {
	key := seriesKey(name, labels)
	s, ok := m[key]
	if !ok {
		s = &series{name: name, labels: cloneLabels(labels)}
		m[key] = s
	}
	s.value += delta
}

// IncCounter implements metrics.Backend.
func (b *Backend) IncCounter(name string, delta float64, labels metrics.Labels) {
	if delta <= 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	accumulate(b.counters, name, labels, delta)
}

// ObserveHistogram implements metrics.Backend.
//
// The Pushgateway has no useful notion of a pushed histogram for short
// jobs, so observations are exported as <name>_sum and <name>_count pairs.
func (b *Backend) ObserveHistogram(name string, value float64, labels metrics.Labels) {
	if value < 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	accumulate(b.histSum, name+"_sum", labels, value)
	accumulate(b.histCnt, name+"_count", labels, 1)
}

// Flush pushes the current cumulative totals to the gateway.
// Returns nil when nothing has been recorded yet.
func (b *Backend) Flush() error {
	reg := b.buildRegistry()
	if reg == nil {
		return nil
	}
	if err := b.pushFn(reg); err != nil {
		return fmt.Errorf("pushgateway push (job %s): %w", b.job, err)
	}
	return nil
}

// buildRegistry renders the accumulators into a fresh registry, or nil when
// empty. A new registry per push sidesteps re-registration conflicts from
// label sets that appear between flushes.
func (b *Backend) buildRegistry() *prometheus.Registry {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.counters) == 0 && len(b.histSum) == 0 {
		return nil
	}

	reg := prometheus.NewRegistry()
	register := func(m map[string]*series, asCounter bool) {
		for _, s := range m {
			if asCounter {
				c := prometheus.NewCounter(prometheus.CounterOpts{
					Name:        s.name,
					ConstLabels: s.labels,
				})
				c.Add(s.value)
				reg.MustRegister(c)
			} else {
				g := prometheus.NewGauge(prometheus.GaugeOpts{
					Name:        s.name,
					ConstLabels: s.labels,
				})
				g.Set(s.value)
				reg.MustRegister(g)
			}
		}
	}
	register(b.counters, true)
	register(b.histSum, false)
	register(b.histCnt, false)
	return reg
}

var _ metrics.Backend = (*Backend)(nil)
