// Package metrics exports a pool's counters as prometheus metrics,
// registered through the docker/go-metrics registry.
package metrics

import (
	"net/http"

	metrics "github.com/docker/go-metrics"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/moby/cellpool"
)

// PoolCollector implements prometheus.Collector over one pool's
// Stats snapshot. The pool itself is single-threaded; the collector
// reads its counters without synchronization, so scrapes carry the
// same concurrency contract as every other pool access.
type PoolCollector struct {
	pool *cellpool.Pool

	cells     *prometheus.Desc
	capacity  *prometheus.Desc
	marked    *prometheus.Desc
	allocs    *prometheus.Desc
	gcCycles  *prometheus.Desc
	grows     *prometheus.Desc
	swept     *prometheus.Desc
	finalized *prometheus.Desc
}

// NewPoolCollector returns a collector for p, labeled with name.
func NewPoolCollector(name string, p *cellpool.Pool) *PoolCollector {
	labels := prometheus.Labels{"pool": name}
	return &PoolCollector{
		pool: p,
		cells: prometheus.NewDesc("cellpool_cells",
			"Number of addressable cells in the pool", nil, labels),
		capacity: prometheus.NewDesc("cellpool_capacity_bytes",
			"Byte length of the pool's backing buffer", nil, labels),
		marked: prometheus.NewDesc("cellpool_marked_cells",
			"Cells reached by the most recent mark pass", nil, labels),
		allocs: prometheus.NewDesc("cellpool_allocs_total",
			"Cells handed out by Alloc", nil, labels),
		gcCycles: prometheus.NewDesc("cellpool_gc_cycles_total",
			"Mark phases run, both on-demand and forced", nil, labels),
		grows: prometheus.NewDesc("cellpool_grows_total",
			"Backing buffer doublings", nil, labels),
		swept: prometheus.NewDesc("cellpool_swept_cells_total",
			"Cells reclaimed by sweeping", nil, labels),
		finalized: prometheus.NewDesc("cellpool_finalized_cells_total",
			"Free callback invocations", nil, labels),
	}
}

// Describe implements prometheus.Collector.
func (c *PoolCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.cells
	ch <- c.capacity
	ch <- c.marked
	ch <- c.allocs
	ch <- c.gcCycles
	ch <- c.grows
	ch <- c.swept
	ch <- c.finalized
}

// Collect implements prometheus.Collector.
func (c *PoolCollector) Collect(ch chan<- prometheus.Metric) {
	st := c.pool.Stats()
	ch <- prometheus.MustNewConstMetric(c.cells, prometheus.GaugeValue, float64(st.Count))
	ch <- prometheus.MustNewConstMetric(c.capacity, prometheus.GaugeValue, float64(st.Capacity))
	ch <- prometheus.MustNewConstMetric(c.marked, prometheus.GaugeValue, float64(st.Marked))
	ch <- prometheus.MustNewConstMetric(c.allocs, prometheus.CounterValue, float64(st.Allocs))
	ch <- prometheus.MustNewConstMetric(c.gcCycles, prometheus.CounterValue, float64(st.GCCycles))
	ch <- prometheus.MustNewConstMetric(c.grows, prometheus.CounterValue, float64(st.Grows))
	ch <- prometheus.MustNewConstMetric(c.swept, prometheus.CounterValue, float64(st.Swept))
	ch <- prometheus.MustNewConstMetric(c.finalized, prometheus.CounterValue, float64(st.Finalized))
}

// Register adds a collector for p to the go-metrics registry under the
// given pool name and returns it.
func Register(name string, p *cellpool.Pool) *PoolCollector {
	c := NewPoolCollector(name, p)
	prometheus.MustRegister(c)
	return c
}

// Handler serves the go-metrics registry, for embedding in a harness.
func Handler() http.Handler {
	return metrics.Handler()
}
