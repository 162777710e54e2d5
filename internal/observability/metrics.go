package observability

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type moduleMetrics struct {
	queueSize    *prometheus.GaugeVec
	enqueueTotal *prometheus.CounterVec
	dequeueTotal *prometheus.CounterVec
	taskDuration *prometheus.HistogramVec

	connectionsActive prometheus.Gauge
	recordingsActive  *prometheus.GaugeVec
	recordingsTotal   *prometheus.CounterVec
	chunksTotal       *prometheus.CounterVec
	bytesTotal        *prometheus.CounterVec
	orphanChunksTotal *prometheus.CounterVec
	frameErrorsTotal  *prometheus.CounterVec

	flushTotal      *prometheus.CounterVec
	flushBytes      prometheus.Histogram
	sinkErrorsTotal *prometheus.CounterVec

	transcodeTotal    *prometheus.CounterVec
	transcodeDuration *prometheus.HistogramVec
}

var (
	metricsOnce sync.Once
	metricsInst *moduleMetrics
)

// queue lanes are per session; only the shared lanes are tracked by name
// so label cardinality stays bounded.
func laneLabel(lane string) string {
	if strings.HasPrefix(lane, "sink:") {
		return "sink"
	}
	return lane
}

func getMetrics() *moduleMetrics {
	metricsOnce.Do(func() {
		m := &moduleMetrics{
			queueSize: prometheus.NewGaugeVec(
				prometheus.GaugeOpts{
					Name: "queue_size",
					Help: "Current queue size by lane.",
				},
				[]string{"lane"},
			),
			enqueueTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "enqueue_total",
					Help: "Total enqueue operations by lane.",
				},
				[]string{"lane"},
			),
			dequeueTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "dequeue_total",
					Help: "Total dequeue/completion operations by lane and status.",
				},
				[]string{"lane", "status"},
			),
			taskDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "task_duration_seconds",
					Help:    "Task execution duration in seconds by lane.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"lane"},
			),
			connectionsActive: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "ingest_connections_active",
					Help: "Currently open producer connections.",
				},
			),
			recordingsActive: prometheus.NewGaugeVec(
				prometheus.GaugeOpts{
					Name: "ingest_recordings_active",
					Help: "Recording sessions currently registered, by stream kind.",
				},
				[]string{"kind"},
			),
			recordingsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "ingest_recordings_total",
					Help: "Recording sessions by stream kind and outcome (started, ended, aborted).",
				},
				[]string{"kind", "outcome"},
			),
			chunksTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "ingest_chunks_total",
					Help: "Media chunks accepted, by stream kind.",
				},
				[]string{"kind"},
			),
			bytesTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "ingest_bytes_total",
					Help: "Media bytes accepted, by stream kind.",
				},
				[]string{"kind"},
			),
			orphanChunksTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "ingest_orphan_chunks_total",
					Help: "Data frames dropped because no session exists for their key.",
				},
				[]string{"kind"},
			),
			frameErrorsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "ingest_frame_errors_total",
					Help: "Inbound frames rejected, by error class.",
				},
				[]string{"class"},
			),
			flushTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "sink_flush_total",
					Help: "Buffer flushes handed to sinks, by reason (threshold, drain).",
				},
				[]string{"reason"},
			),
			flushBytes: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "sink_flush_bytes",
					Help:    "Size of buffer flushes in bytes.",
					Buckets: prometheus.ExponentialBuckets(64*1024, 4, 8),
				},
			),
			sinkErrorsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "sink_errors_total",
					Help: "Sink write/close failures, by operation.",
				},
				[]string{"op"},
			),
			transcodeTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "transcode_total",
					Help: "Encoder runs by stream kind and status.",
				},
				[]string{"kind", "status"},
			),
			transcodeDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "transcode_duration_seconds",
					Help:    "Encoder run duration in seconds by stream kind.",
					Buckets: prometheus.ExponentialBuckets(0.5, 2, 12),
				},
				[]string{"kind"},
			),
		}

		prometheus.MustRegister(
			m.queueSize,
			m.enqueueTotal,
			m.dequeueTotal,
			m.taskDuration,
			m.connectionsActive,
			m.recordingsActive,
			m.recordingsTotal,
			m.chunksTotal,
			m.bytesTotal,
			m.orphanChunksTotal,
			m.frameErrorsTotal,
			m.flushTotal,
			m.flushBytes,
			m.sinkErrorsTotal,
			m.transcodeTotal,
			m.transcodeDuration,
		)

		metricsInst = m
	})

	return metricsInst
}

// EnsureRegistered initializes and registers metrics the first time it is called.
func EnsureRegistered() {
	_ = getMetrics()
}

func MetricsHandler() http.Handler {
	EnsureRegistered()
	return promhttp.Handler()
}

func RecordQueueEnqueue(lane string, queueSize int) {
	m := getMetrics()
	label := laneLabel(lane)
	m.enqueueTotal.WithLabelValues(label).Inc()
	if label == lane {
		m.queueSize.WithLabelValues(label).Set(float64(queueSize))
	}
}

func RecordQueueCompletion(lane string, duration time.Duration, success bool, queueSize int) {
	m := getMetrics()
	label := laneLabel(lane)
	status := "error"
	if success {
		status = "success"
	}
	m.dequeueTotal.WithLabelValues(label, status).Inc()
	m.taskDuration.WithLabelValues(label).Observe(duration.Seconds())
	if label == lane {
		m.queueSize.WithLabelValues(label).Set(float64(queueSize))
	}
}

// ForgetQueueLane drops the queue size series of a removed lane.
func ForgetQueueLane(lane string) {
	m := getMetrics()
	if laneLabel(lane) == lane {
		m.queueSize.DeleteLabelValues(lane)
	}
}

func ConnectionOpened() {
	getMetrics().connectionsActive.Inc()
}

func ConnectionClosed() {
	getMetrics().connectionsActive.Dec()
}

func RecordSessionStarted(kind string) {
	m := getMetrics()
	m.recordingsActive.WithLabelValues(kind).Inc()
	m.recordingsTotal.WithLabelValues(kind, "started").Inc()
}

// RecordSessionFinished is called once a session leaves the registry;
// outcome is "ended" for a graceful end and "aborted" for a dropped connection.
func RecordSessionFinished(kind, outcome string) {
	m := getMetrics()
	m.recordingsActive.WithLabelValues(kind).Dec()
	m.recordingsTotal.WithLabelValues(kind, outcome).Inc()
}

func RecordChunk(kind string, size int) {
	m := getMetrics()
	m.chunksTotal.WithLabelValues(kind).Inc()
	m.bytesTotal.WithLabelValues(kind).Add(float64(size))
}

func RecordOrphanChunk(kind string) {
	getMetrics().orphanChunksTotal.WithLabelValues(kind).Inc()
}

func RecordFrameError(class string) {
	getMetrics().frameErrorsTotal.WithLabelValues(class).Inc()
}

func RecordFlush(reason string, size int) {
	m := getMetrics()
	m.flushTotal.WithLabelValues(reason).Inc()
	m.flushBytes.Observe(float64(size))
}

func RecordSinkError(op string) {
	getMetrics().sinkErrorsTotal.WithLabelValues(op).Inc()
}

func RecordTranscode(kind string, duration time.Duration, success bool) {
	m := getMetrics()
	status := "error"
	if success {
		status = "success"
	}
	m.transcodeTotal.WithLabelValues(kind, status).Inc()
	m.transcodeDuration.WithLabelValues(kind).Observe(duration.Seconds())
}
