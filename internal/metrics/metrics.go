// Package metrics implements the Prometheus metrics flowprobe exposes,
// adapted from an earlier capture_agent_* metric set (same promauto
// wiring, renamed vectors and label sets for the flow-cache/QUIC-parser
// domain). The vectors are registered with the default Prometheus
// registry; no component in this repository updates them, so they are
// exported at their zero values.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PacketsTotal counts packets consumed by an InputWorker, per partition.
	PacketsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fprobe_packets_total",
			Help: "Total number of packets read from a source",
		},
		[]string{"partition"},
	)

	// PacketsDroppedTotal counts packets a Source or decoder discarded
	// before they reached the flow cache.
	PacketsDroppedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fprobe_packets_dropped_total",
			Help: "Total number of packets dropped before reaching the flow cache",
		},
		[]string{"partition", "reason"},
	)

	// FlowsCreatedTotal counts new flow-cache entries created by PutPkt.
	FlowsCreatedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fprobe_flows_created_total",
			Help: "Total number of flow records created",
		},
		[]string{"partition"},
	)

	// FlowsExportedTotal counts flow records pushed onto the export ring,
	// broken down by EndReason.
	FlowsExportedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fprobe_flows_exported_total",
			Help: "Total number of flow records exported, by end reason",
		},
		[]string{"partition", "end_reason"},
	)

	// FlowCacheOccupancy tracks the number of slots currently holding a live
	// flow in a partition's cache.
	FlowCacheOccupancy = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "fprobe_flow_cache_occupancy",
			Help: "Current number of occupied flow-cache slots",
		},
		[]string{"partition"},
	)

	// ExportRingOccupancy tracks how full a partition's SPSC export ring is.
	ExportRingOccupancy = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "fprobe_export_ring_occupancy",
			Help: "Current number of records queued in the export ring",
		},
		[]string{"partition"},
	)

	// ExportRingFullTotal counts Push calls that found the ring full, the
	// signal a downstream Sink or OutputWorker is falling behind.
	ExportRingFullTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fprobe_export_ring_full_total",
			Help: "Total number of export-ring push attempts that found the ring full",
		},
		[]string{"partition"},
	)

	// SinkWriteLatencySeconds measures OutputWorker -> Sink write latency.
	SinkWriteLatencySeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fprobe_sink_write_latency_seconds",
			Help:    "Latency of Sink.Write calls in seconds",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 16),
		},
		[]string{"partition", "sink"},
	)

	// SinkErrorsTotal counts Sink.Write failures after retries are exhausted.
	SinkErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fprobe_sink_errors_total",
			Help: "Total number of sink write errors",
		},
		[]string{"partition", "sink"},
	)

	// FragmentCacheSize tracks the current occupancy of the fragmentation
	// cache.
	FragmentCacheSize = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "fprobe_fragment_cache_size",
			Help: "Current number of entries in the fragmentation cache",
		},
		[]string{"partition"},
	)

	// FragmentCacheLookupsTotal counts fragmentation-cache lookups, split
	// into hit/miss.
	FragmentCacheLookupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fprobe_fragment_cache_lookups_total",
			Help: "Total number of fragmentation-cache lookups",
		},
		[]string{"partition", "result"},
	)

	// QUICParseTotal counts QUIC Initial-packet parse attempts, split by
	// outcome (ok, not_initial, decrypt_failed, malformed).
	QUICParseTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fprobe_quic_parse_total",
			Help: "Total number of QUIC Initial-packet parse attempts, by outcome",
		},
		[]string{"partition", "outcome"},
	)

	// PluginHookErrorsTotal counts ProcessPlugin hook errors recovered by
	// the registry's fan-out, by plugin name and hook.
	PluginHookErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fprobe_plugin_hook_errors_total",
			Help: "Total number of process-plugin hook errors",
		},
		[]string{"plugin", "hook"},
	)
)
