// Package metric provides Prometheus metrics for FarmSync.
//
// This package implements metrics collection and exposition:
//
//   - prometheus.go: Prometheus registry, typed recorders and HTTP handler
//   - collector.go: session state collector read at scrape time
//
// Metrics include sync run outcomes and latency, per entity type push/pull
// counts, joined syncs, and login attempts by mode and outcome. Storage
// size gauges are registered by the storage engine on the same registry.
//
// Metrics are exposed at /metrics by the agent.
package metric
