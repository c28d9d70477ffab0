package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	CapturedTotal    = prometheus.NewCounter(prometheus.CounterOpts{Name: "fieldsync_captured_total", Help: "Photos captured and queued"})
	UploadSuccess    = prometheus.NewCounter(prometheus.CounterOpts{Name: "fieldsync_uploads_synced_total", Help: "Uploads confirmed by the server"})
	UploadFailures   = prometheus.NewCounter(prometheus.CounterOpts{Name: "fieldsync_uploads_failed_total", Help: "Upload attempts that failed and stay queued"})
	ArtifactMissing  = prometheus.NewCounter(prometheus.CounterOpts{Name: "fieldsync_artifacts_missing_total", Help: "Records whose local photo could not be read"})
	SyncRuns         = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "fieldsync_sync_runs_total", Help: "Sync runs by trigger"}, []string{"trigger"})
	SyncSkipped      = prometheus.NewCounter(prometheus.CounterOpts{Name: "fieldsync_sync_skipped_total", Help: "Sync triggers dropped because a run was in flight"})
	QueueDepthGauge  = prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: "fieldsync_queue_depth", Help: "Queued upload records by status"}, []string{"status"})
	InFlightGauge    = prometheus.NewGauge(prometheus.GaugeOpts{Name: "fieldsync_uploads_inflight", Help: "Transfers currently running"})
	OnlineGauge      = prometheus.NewGauge(prometheus.GaugeOpts{Name: "fieldsync_online", Help: "1 when the backend is reachable"})
	UploadDurationHG = prometheus.NewHistogram(prometheus.HistogramOpts{Name: "fieldsync_upload_duration_seconds", Help: "Transfer attempt latency", Buckets: prometheus.DefBuckets})
)

// Handler exposes /metrics HTTP handler with a singleton registry.
func Handler() http.Handler {
	once.Do(func() {
		prometheus.MustRegister(
			CapturedTotal,
			UploadSuccess,
			UploadFailures,
			ArtifactMissing,
			SyncRuns,
			SyncSkipped,
			QueueDepthGauge,
			InFlightGauge,
			OnlineGauge,
			UploadDurationHG,
		)
	})
	return promhttp.Handler()
}

// SetQueueDepth publishes per-status record counts.
func SetQueueDepth(counts map[string]int) {
	for status, n := range counts {
		QueueDepthGauge.WithLabelValues(status).Set(float64(n))
	}
}

func SetOnline(online bool) {
	if online {
		OnlineGauge.Set(1)
		return
	}
	OnlineGauge.Set(0)
}
