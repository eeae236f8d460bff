package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Gateway metrics
	NodesTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "catalyst_nodes_total",
			Help: "Total number of registered nodes by online status",
		},
		[]string{"online"},
	)

	GatewaySessionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "catalyst_gateway_sessions_active",
			Help: "Number of nodes with a live gateway session",
		},
	)

	GatewayCommandsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalyst_gateway_commands_total",
			Help: "Total number of commands dispatched to agents by kind and outcome",
		},
		[]string{"kind", "outcome"},
	)

	GatewayEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalyst_gateway_events_total",
			Help: "Total number of inbound agent events by type",
		},
		[]string{"type"},
	)

	// Workload metrics
	WorkloadsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "catalyst_workloads_total",
			Help: "Total number of workloads by lifecycle status",
		},
		[]string{"status"},
	)

	WorkloadCrashesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "catalyst_workload_crashes_total",
			Help: "Total number of crashed-state transitions observed",
		},
	)

	WorkloadAutoRestartsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "catalyst_workload_auto_restarts_total",
			Help: "Total number of automatic restarts scheduled after a crash",
		},
	)

	// Resource arbiter metrics
	NodeMemoryUsedMB = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "catalyst_node_memory_used_mb",
			Help: "Memory allocated to workloads on a node, in MB",
		},
		[]string{"node_id"},
	)

	NodeCPUUsedCores = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "catalyst_node_cpu_used_cores",
			Help: "CPU cores allocated to workloads on a node",
		},
		[]string{"node_id"},
	)

	CapacityRejectionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "catalyst_capacity_rejections_total",
			Help: "Total number of placements rejected for insufficient headroom",
		},
	)

	AllocationConflictsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "catalyst_allocation_conflicts_total",
			Help: "Total number of IP or host-port allocation conflicts",
		},
	)

	// Transfer coordinator metrics
	TransferDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "catalyst_transfer_duration_seconds",
			Help:    "Time taken for a full workload transfer",
			Buckets: []float64{1, 5, 15, 30, 60, 180, 600, 1800, 3600},
		},
	)

	TransfersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalyst_transfers_total",
			Help: "Total number of workload transfers by outcome",
		},
		[]string{"outcome"},
	)

	// SFTP metrics
	SFTPSessionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "catalyst_sftp_sessions_active",
			Help: "Number of active SFTP sessions",
		},
	)

	SFTPAuthFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "catalyst_sftp_auth_failures_total",
			Help: "Total number of rejected SFTP authentication attempts",
		},
	)

	// Reconciler metrics
	ReconciliationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "catalyst_reconciliation_duration_seconds",
			Help:    "Time taken for a reconciliation cycle in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	ReconciliationCyclesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "catalyst_reconciliation_cycles_total",
			Help: "Total number of reconciliation cycles completed",
		},
	)

	NodesMarkedOfflineTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "catalyst_nodes_marked_offline_total",
			Help: "Total number of nodes marked offline after missing their liveness window",
		},
	)
)

func init() {
	prometheus.MustRegister(
		NodesTotal,
		GatewaySessionsActive,
		GatewayCommandsTotal,
		GatewayEventsTotal,
		WorkloadsTotal,
		WorkloadCrashesTotal,
		WorkloadAutoRestartsTotal,
		NodeMemoryUsedMB,
		NodeCPUUsedCores,
		CapacityRejectionsTotal,
		AllocationConflictsTotal,
		TransferDuration,
		TransfersTotal,
		SFTPSessionsActive,
		SFTPAuthFailuresTotal,
		ReconciliationDuration,
		ReconciliationCyclesTotal,
		NodesMarkedOfflineTotal,
	)
}

// Handler returns the Prometheus HTTP handler serving /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
