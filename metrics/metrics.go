// Package metrics instruments the VM/file-system core for observability:
// page faults, evictions, swap traffic, and cluster-allocation failures.
// It is grounded on talyz-systemd_exporter's Collector
// (systemd/systemd.go), which hand-rolls a prometheus.Collector exposing
// a fixed set of *prometheus.Desc fields and fills them in Collect. This
// module follows the same shape rather than promauto's package-global
// registration, since the core has no single global: many address
// spaces and many mounted file systems can exist side by side in one
// process (tests boot several), and each needs its own counters.
//
// The Non-goals in spec.md explicitly exclude journaling/crash-recovery
// observability, but never ambient instrumentation; per SPEC_FULL.md §4
// this package is the "ambient observability" layer every component may
// optionally report through, never a semantic dependency.
package metrics

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

// Sink is the narrow reporting interface frame/fat/swap depend on, so
// none of them need to import prometheus directly. frame reports
// evictions, fat cluster allocation failures and frees, swap swap-ins
// and swap-outs; no package reports PageFault or COWBreak events.
type Sink interface {
	PageFault()
	Eviction()
	SwapIn()
	SwapOut()
	COWBreak()
	ClusterAllocFailure()
	ClusterFreed()
}

// Collector implements both Sink and prometheus.Collector.
type Collector struct {
	pageFaults    uint64
	evictions     uint64
	swapIns       uint64
	swapOuts      uint64
	cowBreaks     uint64
	clusterFails  uint64
	clustersFreed uint64

	pageFaultsDesc   *prometheus.Desc
	evictionsDesc    *prometheus.Desc
	swapInDesc       *prometheus.Desc
	swapOutDesc      *prometheus.Desc
	cowBreaksDesc    *prometheus.Desc
	clusterFailsDesc *prometheus.Desc
	clustersFreeDesc *prometheus.Desc
}

// New constructs a Collector. label identifies the owning address space
// or file system instance (e.g. a pid or mount path) in exported series.
func New(label string) *Collector {
	constLabels := prometheus.Labels{"instance": label}
	return &Collector{
		pageFaultsDesc: prometheus.NewDesc("vmkernel_page_faults_total",
			"Total page faults handled.", nil, constLabels),
		evictionsDesc: prometheus.NewDesc("vmkernel_evictions_total",
			"Total frame evictions performed by the clock policy.", nil, constLabels),
		swapInDesc: prometheus.NewDesc("vmkernel_swap_in_total",
			"Total pages read back from swap.", nil, constLabels),
		swapOutDesc: prometheus.NewDesc("vmkernel_swap_out_total",
			"Total pages written out to swap.", nil, constLabels),
		cowBreaksDesc: prometheus.NewDesc("vmkernel_cow_breaks_total",
			"Total copy-on-write frames duplicated on a write fault.", nil, constLabels),
		clusterFailsDesc: prometheus.NewDesc("vmkernel_cluster_alloc_failures_total",
			"Total cluster allocation failures (FAT exhausted).", nil, constLabels),
		clustersFreeDesc: prometheus.NewDesc("vmkernel_clusters_freed_total",
			"Total clusters returned to the free list.", nil, constLabels),
	}
}

func (c *Collector) PageFault()           { atomic.AddUint64(&c.pageFaults, 1) }
func (c *Collector) Eviction()            { atomic.AddUint64(&c.evictions, 1) }
func (c *Collector) SwapIn()              { atomic.AddUint64(&c.swapIns, 1) }
func (c *Collector) SwapOut()             { atomic.AddUint64(&c.swapOuts, 1) }
func (c *Collector) COWBreak()            { atomic.AddUint64(&c.cowBreaks, 1) }
func (c *Collector) ClusterAllocFailure() { atomic.AddUint64(&c.clusterFails, 1) }
func (c *Collector) ClusterFreed()        { atomic.AddUint64(&c.clustersFreed, 1) }

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.pageFaultsDesc
	ch <- c.evictionsDesc
	ch <- c.swapInDesc
	ch <- c.swapOutDesc
	ch <- c.cowBreaksDesc
	ch <- c.clusterFailsDesc
	ch <- c.clustersFreeDesc
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	ch <- prometheus.MustNewConstMetric(c.pageFaultsDesc, prometheus.CounterValue, float64(atomic.LoadUint64(&c.pageFaults)))
	ch <- prometheus.MustNewConstMetric(c.evictionsDesc, prometheus.CounterValue, float64(atomic.LoadUint64(&c.evictions)))
	ch <- prometheus.MustNewConstMetric(c.swapInDesc, prometheus.CounterValue, float64(atomic.LoadUint64(&c.swapIns)))
	ch <- prometheus.MustNewConstMetric(c.swapOutDesc, prometheus.CounterValue, float64(atomic.LoadUint64(&c.swapOuts)))
	ch <- prometheus.MustNewConstMetric(c.cowBreaksDesc, prometheus.CounterValue, float64(atomic.LoadUint64(&c.cowBreaks)))
	ch <- prometheus.MustNewConstMetric(c.clusterFailsDesc, prometheus.CounterValue, float64(atomic.LoadUint64(&c.clusterFails)))
	ch <- prometheus.MustNewConstMetric(c.clustersFreeDesc, prometheus.CounterValue, float64(atomic.LoadUint64(&c.clustersFreed)))
}

// Noop is a Sink that discards every event, the default when a caller
// doesn't care to wire up Prometheus (most unit tests).
type noop struct{}

func (noop) PageFault()          {}
func (noop) Eviction()           {}
func (noop) SwapIn()             {}
func (noop) SwapOut()            {}
func (noop) COWBreak()           {}
func (noop) ClusterAllocFailure() {}
func (noop) ClusterFreed()       {}

// Noop returns a Sink that discards every event.
func Noop() Sink { return noop{} }
