package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/datacloak/workbench/pkg/dispatch"
	"github.com/datacloak/workbench/pkg/pool"
)

// PoolStatser exposes pool occupancy for scraping.
type PoolStatser interface {
	Stats() (pool.Stats, error)
}

// DispatchStatser exposes dispatcher state for scraping.
type DispatchStatser interface {
	Stats() dispatch.Stats
}

// Metrics holds the Prometheus registry and collectors for the workbench
// core. Pool and dispatcher are polled at scrape time through GaugeFuncs, so
// the hot paths carry no metrics bookkeeping of their own.
type Metrics struct {
	registry *prometheus.Registry
}

// NewMetrics builds a registry with process collectors plus gauges over the
// supplied pool and dispatcher. Either source may be nil.
func NewMetrics(poolSrc PoolStatser, dispatchSrc DispatchStatser) *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	if poolSrc != nil {
		poolGauge := func(name, help string, pick func(pool.Stats) int) prometheus.GaugeFunc {
			return prometheus.NewGaugeFunc(
				prometheus.GaugeOpts{Name: name, Help: help},
				func() float64 {
					stats, err := poolSrc.Stats()
					if err != nil {
						return 0
					}
					return float64(pick(stats))
				},
			)
		}
		registry.MustRegister(
			poolGauge("workbench_pool_connections_total", "Connections created by the pool",
				func(s pool.Stats) int { return s.Total }),
			poolGauge("workbench_pool_connections_in_use", "Connections currently checked out",
				func(s pool.Stats) int { return s.InUse }),
			poolGauge("workbench_pool_connections_idle", "Connections currently idle",
				func(s pool.Stats) int { return s.Idle }),
			poolGauge("workbench_pool_waiters", "Callers blocked waiting for a connection",
				func(s pool.Stats) int { return s.Waiting }),
		)

		if counter, ok := poolSrc.(interface{ Timeouts() uint64 }); ok {
			registry.MustRegister(prometheus.NewCounterFunc(
				prometheus.CounterOpts{
					Name: "workbench_pool_acquire_timeouts_total",
					Help: "Acquire calls that timed out waiting for a connection",
				},
				func() float64 { return float64(counter.Timeouts()) },
			))
		}
	}

	if dispatchSrc != nil {
		registry.MustRegister(
			prometheus.NewGaugeFunc(
				prometheus.GaugeOpts{
					Name: "workbench_dispatch_queue_depth",
					Help: "Engine calls waiting in the dispatch queue",
				},
				func() float64 { return float64(dispatchSrc.Stats().QueueDepth) },
			),
			prometheus.NewCounterFunc(
				prometheus.CounterOpts{
					Name: "workbench_dispatch_dispatched_total",
					Help: "Engine calls dispatched since startup",
				},
				func() float64 { return float64(dispatchSrc.Stats().Dispatched) },
			),
		)
	}

	return &Metrics{registry: registry}
}

// Handler returns the scrape endpoint handler.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for additional collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
