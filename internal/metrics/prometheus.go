package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the replica node
type Metrics struct {
	// Intake metrics
	AsyncWritesTotal    prometheus.Counter
	AsyncWriteDuration  prometheus.Histogram
	SyncWritesTotal     prometheus.Counter
	SyncWriteDuration   prometheus.Histogram
	ReadsTotal          prometheus.Counter
	ReadDuration        prometheus.Histogram
	RejectedBeforeReady prometheus.Counter

	// Bootstrap metrics
	BootstrapPassesTotal prometheus.Counter
	BootstrapDuration    prometheus.Histogram
	BackfillChunksTotal  prometheus.Counter
	BackfillKeysTotal    prometheus.Counter
	BackfillBytesTotal   prometheus.Counter
	StreamQueueDepth     prometheus.Gauge
	StreamQueueAcksHeld  prometheus.Gauge
	DrainInFlight        prometheus.Gauge
	DrainedEntriesTotal  prometheus.Counter
	ClippedWritesTotal   prometheus.Counter
	DiscardedShardsTotal prometheus.Counter

	// Store metrics
	StoreWritesTotal   prometheus.Counter
	StoreWriteDuration prometheus.Histogram
	StoreMetainfoSets  prometheus.Counter

	// Gossip metrics
	GossipMembersTotal   prometheus.Gauge
	GossipMembersHealthy prometheus.Gauge
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(nodeID string, reg prometheus.Registerer) *Metrics {
	labels := prometheus.Labels{"node_id": nodeID}
	factory := promauto.With(reg)

	return &Metrics{
		// Intake metrics
		AsyncWritesTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   "pairdb",
			Subsystem:   "replica",
			Name:        "async_writes_total",
			Help:        "Total number of async writes received from the primary",
			ConstLabels: labels,
		}),
		AsyncWriteDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace:   "pairdb",
			Subsystem:   "replica",
			Name:        "async_write_duration_seconds",
			Help:        "Histogram of async write handling durations, including ack throttling",
			ConstLabels: labels,
			Buckets:     prometheus.DefBuckets,
		}),
		SyncWritesTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   "pairdb",
			Subsystem:   "replica",
			Name:        "sync_writes_total",
			Help:        "Total number of synchronous writes received from the primary",
			ConstLabels: labels,
		}),
		SyncWriteDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace:   "pairdb",
			Subsystem:   "replica",
			Name:        "sync_write_duration_seconds",
			Help:        "Histogram of synchronous write durations",
			ConstLabels: labels,
			Buckets:     prometheus.DefBuckets,
		}),
		ReadsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   "pairdb",
			Subsystem:   "replica",
			Name:        "reads_total",
			Help:        "Total number of reads served",
			ConstLabels: labels,
		}),
		ReadDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace:   "pairdb",
			Subsystem:   "replica",
			Name:        "read_duration_seconds",
			Help:        "Histogram of read durations",
			ConstLabels: labels,
			Buckets:     prometheus.DefBuckets,
		}),
		RejectedBeforeReady: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   "pairdb",
			Subsystem:   "replica",
			Name:        "rejected_before_ready_total",
			Help:        "Sync writes and reads rejected because bootstrap had not finished",
			ConstLabels: labels,
		}),

		// Bootstrap metrics
		BootstrapPassesTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   "pairdb",
			Subsystem:   "replica",
			Name:        "bootstrap_passes_total",
			Help:        "Number of backfill passes executed during bootstrap",
			ConstLabels: labels,
		}),
		BootstrapDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace:   "pairdb",
			Subsystem:   "replica",
			Name:        "bootstrap_duration_seconds",
			Help:        "Histogram of total bootstrap durations",
			ConstLabels: labels,
			Buckets:     prometheus.ExponentialBuckets(0.1, 2, 12),
		}),
		BackfillChunksTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   "pairdb",
			Subsystem:   "replica",
			Name:        "backfill_chunks_total",
			Help:        "Total number of backfill chunks received",
			ConstLabels: labels,
		}),
		BackfillKeysTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   "pairdb",
			Subsystem:   "replica",
			Name:        "backfill_keys_total",
			Help:        "Total number of keys received via backfill",
			ConstLabels: labels,
		}),
		BackfillBytesTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   "pairdb",
			Subsystem:   "replica",
			Name:        "backfill_bytes_total",
			Help:        "Total number of value bytes received via backfill",
			ConstLabels: labels,
		}),
		StreamQueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   "pairdb",
			Subsystem:   "replica",
			Name:        "stream_queue_depth",
			Help:        "Current number of entries in the bridging queue",
			ConstLabels: labels,
		}),
		StreamQueueAcksHeld: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   "pairdb",
			Subsystem:   "replica",
			Name:        "stream_queue_acks_held",
			Help:        "Dispatcher acks currently withheld for back-pressure",
			ConstLabels: labels,
		}),
		DrainInFlight: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   "pairdb",
			Subsystem:   "replica",
			Name:        "drain_in_flight",
			Help:        "Queue entries currently being applied by the drainer",
			ConstLabels: labels,
		}),
		DrainedEntriesTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   "pairdb",
			Subsystem:   "replica",
			Name:        "drained_entries_total",
			Help:        "Total number of queue entries drained",
			ConstLabels: labels,
		}),
		ClippedWritesTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   "pairdb",
			Subsystem:   "replica",
			Name:        "clipped_writes_total",
			Help:        "Queued writes clipped against backfill end timestamps",
			ConstLabels: labels,
		}),
		DiscardedShardsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   "pairdb",
			Subsystem:   "replica",
			Name:        "discarded_shards_total",
			Help:        "Write shards discarded because they fell in the discarding region",
			ConstLabels: labels,
		}),

		// Store metrics
		StoreWritesTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   "pairdb",
			Subsystem:   "replica",
			Name:        "store_writes_total",
			Help:        "Total number of writes applied to the store",
			ConstLabels: labels,
		}),
		StoreWriteDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace:   "pairdb",
			Subsystem:   "replica",
			Name:        "store_write_duration_seconds",
			Help:        "Histogram of store write durations",
			ConstLabels: labels,
			Buckets:     prometheus.DefBuckets,
		}),
		StoreMetainfoSets: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   "pairdb",
			Subsystem:   "replica",
			Name:        "store_metainfo_sets_total",
			Help:        "Metainfo-only updates applied to the store",
			ConstLabels: labels,
		}),

		// Gossip metrics
		GossipMembersTotal: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   "pairdb",
			Subsystem:   "replica",
			Name:        "gossip_members_total",
			Help:        "Number of members known via gossip",
			ConstLabels: labels,
		}),
		GossipMembersHealthy: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   "pairdb",
			Subsystem:   "replica",
			Name:        "gossip_members_healthy",
			Help:        "Number of gossip members reporting healthy",
			ConstLabels: labels,
		}),
	}
}
