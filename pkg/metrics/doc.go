// Package metrics defines the Prometheus gauges, counters, and histograms
// exposed at /metrics, a background Collector that samples storage into the
// gauges, and the /health, /ready, and /live HTTP handlers used by the
// out-of-scope HTTP layer's probes.
package metrics
