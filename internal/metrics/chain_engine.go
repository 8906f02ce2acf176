// Package metrics exposes prometheus instrumentation for the chain engine.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	chainAddTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "spvchain7000",
		Subsystem: "chain_engine",
		Name:      "add_total",
		Help:      "Count of processed blocks by outcome.",
	}, []string{"network", "status"})

	chainAddDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "spvchain7000",
		Subsystem: "chain_engine",
		Name:      "add_duration_seconds",
		Help:      "Duration of a single block add, including orphan replay.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"network", "status"})

	chainReorgTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "spvchain7000",
		Subsystem: "chain_engine",
		Name:      "reorg_total",
		Help:      "Count of best-chain re-organizations.",
	}, []string{"network"})

	chainReorgDepth = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "spvchain7000",
		Subsystem: "chain_engine",
		Name:      "reorg_depth",
		Help:      "Number of best-chain blocks disconnected per re-organization.",
		Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
	}, []string{"network"})

	chainBestHeight = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "spvchain7000",
		Subsystem: "chain_engine",
		Name:      "best_height",
		Help:      "Height of the best known chain.",
	}, []string{"network"})

	chainOrphanPoolSize = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "spvchain7000",
		Subsystem: "chain_engine",
		Name:      "orphan_pool_size",
		Help:      "Number of blocks waiting in the orphan pool.",
	}, []string{"network"})
)

// ChainEngine tracks metrics for one chain engine instance.
type ChainEngine struct {
	network string
}

// NewChainEngine constructs a ChainEngine for the given network name.
func NewChainEngine(network string) *ChainEngine {
	if network == "" {
		network = "unknown"
	}
	return &ChainEngine{network: network}
}

// ObserveAdd records the outcome and duration of one block add.
func (m *ChainEngine) ObserveAdd(err error, connected bool, started time.Time) {
	status := "orphaned"
	switch {
	case err != nil:
		status = "error"
	case connected:
		status = "connected"
	}
	chainAddTotal.WithLabelValues(m.network, status).Inc()
	chainAddDuration.WithLabelValues(m.network, status).
		Observe(time.Since(started).Seconds())
}

// ObserveReorg records a re-organization and how deep it unwound.
func (m *ChainEngine) ObserveReorg(depth int) {
	chainReorgTotal.WithLabelValues(m.network).Inc()
	chainReorgDepth.WithLabelValues(m.network).Observe(float64(depth))
}

// SetBestHeight publishes the height of the best chain.
func (m *ChainEngine) SetBestHeight(height int32) {
	chainBestHeight.WithLabelValues(m.network).Set(float64(height))
}

// SetOrphanPoolSize publishes the orphan pool occupancy.
func (m *ChainEngine) SetOrphanPoolSize(size int) {
	chainOrphanPoolSize.WithLabelValues(m.network).Set(float64(size))
}
