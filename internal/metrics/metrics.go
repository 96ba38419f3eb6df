package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Message flow metrics
	MessagesAppended = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kestrel_messages_appended_total",
		Help: "Total number of messages appended",
	}, []string{"topic", "partition"})

	MessagesFetched = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kestrel_messages_fetched_total",
		Help: "Total number of messages fetched",
	}, []string{"topic", "partition"})

	BytesAppended = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kestrel_bytes_appended_total",
		Help: "Total number of message bytes appended",
	}, []string{"topic", "partition"})

	// Consumer group metrics
	GroupMembers = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "kestrel_group_members",
		Help: "Number of members per consumer group",
	}, []string{"group"})

	GroupRebalances = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kestrel_group_rebalances_total",
		Help: "Total number of consumer group rebalances",
	}, []string{"group"})

	OffsetCommits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kestrel_offset_commits_total",
		Help: "Total number of committed offsets",
	}, []string{"group", "topic"})

	// Storage metrics
	LogSegments = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "kestrel_log_segments",
		Help: "Number of log segments per partition",
	}, []string{"topic", "partition"})

	SegmentsDeleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kestrel_segments_deleted_total",
		Help: "Total number of segments removed by retention",
	})

	// Request metrics
	RequestsReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kestrel_requests_received_total",
		Help: "Total number of requests received",
	}, []string{"type"})

	RequestErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kestrel_request_errors_total",
		Help: "Total number of requests answered with an error code",
	}, []string{"type", "error"})

	RequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "kestrel_request_duration_seconds",
		Help:    "Request handling duration in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"type"})

	// Connection metrics
	ActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "kestrel_active_connections",
		Help: "Number of active client connections",
	})
)

// RecordAppend records an appended batch for one partition.
func RecordAppend(topic string, partition int32, messages int, bytes int) {
	p := strconv.Itoa(int(partition))
	MessagesAppended.WithLabelValues(topic, p).Add(float64(messages))
	BytesAppended.WithLabelValues(topic, p).Add(float64(bytes))
}

// RecordFetch records a fetched batch for one partition.
func RecordFetch(topic string, partition int32, messages int) {
	MessagesFetched.WithLabelValues(topic, strconv.Itoa(int(partition))).Add(float64(messages))
}

// RecordRebalance records a completed rebalance and the new member count.
func RecordRebalance(group string, members int) {
	GroupRebalances.WithLabelValues(group).Inc()
	GroupMembers.WithLabelValues(group).Set(float64(members))
}

// Handler returns the HTTP handler for the metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
