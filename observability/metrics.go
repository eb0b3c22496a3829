package observability

import (
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// MarketMetrics tracks listing, purchase and settlement activity of the market
// engine.
type MarketMetrics struct {
	operations      *prometheus.CounterVec
	latency         *prometheus.HistogramVec
	inconsistencies *prometheus.CounterVec
	activeListings  prometheus.Gauge
}

var (
	marketMetricsOnce sync.Once
	marketRegistry    *MarketMetrics
)

// Market returns the lazily-initialised market metrics registry.
func Market() *MarketMetrics {
	marketMetricsOnce.Do(func() {
		marketRegistry = &MarketMetrics{
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "nftmarket",
				Subsystem: "market",
				Name:      "operations_total",
				Help:      "Count of market operations segmented by operation and outcome.",
			}, []string{"operation", "outcome"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "nftmarket",
				Subsystem: "market",
				Name:      "operation_duration_seconds",
				Help:      "Latency distribution for market operations.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"operation"}),
			inconsistencies: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "nftmarket",
				Subsystem: "market",
				Name:      "settlement_inconsistencies_total",
				Help:      "Count of settlements that left custody and payment out of step, by failed stage.",
			}, []string{"stage"}),
			activeListings: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "nftmarket",
				Subsystem: "market",
				Name:      "active_listings",
				Help:      "Number of listings currently holding an asset in escrow.",
			}),
		}
		prometheus.MustRegister(
			marketRegistry.operations,
			marketRegistry.latency,
			marketRegistry.inconsistencies,
			marketRegistry.activeListings,
		)
	})
	return marketRegistry
}

// Observe records the outcome and latency of a market operation. Outcomes
// should be stable strings such as "success" or "not_authorized".
func (m *MarketMetrics) Observe(operation, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	operation = normalizeLabel(operation)
	m.operations.WithLabelValues(operation, normalizeLabel(outcome)).Inc()
	m.latency.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordInconsistency increments the inconsistency counter for the stage.
func (m *MarketMetrics) RecordInconsistency(stage string) {
	if m == nil {
		return
	}
	m.inconsistencies.WithLabelValues(normalizeLabel(stage)).Inc()
}

// ListingOpened increments the active listings gauge.
func (m *MarketMetrics) ListingOpened() {
	if m == nil {
		return
	}
	m.activeListings.Inc()
}

// ListingClosed decrements the active listings gauge.
func (m *MarketMetrics) ListingClosed() {
	if m == nil {
		return
	}
	m.activeListings.Dec()
}

func normalizeLabel(v string) string {
	trimmed := strings.ToLower(strings.TrimSpace(v))
	if trimmed == "" {
		return "unknown"
	}
	return trimmed
}
