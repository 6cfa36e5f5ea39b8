// Package metrics provides Prometheus metrics for the docsync engine.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the Prometheus registry for all docsync metrics.
var Registry = prometheus.NewRegistry()

func init() {
	// Register standard Go metrics
	Registry.MustRegister(collectors.NewGoCollector())
	Registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
}

// metricsOnce ensures metrics are only initialized once.
var metricsOnce sync.Once

// metricsInstance is the singleton instance of engine metrics.
var metricsInstance *Metrics

// Metrics holds all Prometheus metrics for the sync engine.
type Metrics struct {
	// Live channel
	FramesTotal   *prometheus.CounterVec // docsync_live_frames_total{type}
	FramesDropped prometheus.Counter     // docsync_live_frames_dropped_total
	ChannelState  prometheus.Gauge       // docsync_live_channel_state
	Reconnects    prometheus.Counter     // docsync_live_reconnects_total

	// Upload queue
	UploadsTotal     *prometheus.CounterVec // docsync_uploads_total{result}
	UploadQueueDepth prometheus.Gauge       // docsync_upload_queue_depth
	UploadedBytes    prometheus.Counter     // docsync_uploaded_bytes_total

	// Batch dispatch
	DispatchesTotal *prometheus.CounterVec // docsync_dispatches_total{result}

	// Document state store
	RecordsTotal      prometheus.Gauge   // docsync_records_total
	RecordsActive     prometheus.Gauge   // docsync_records_active
	RecordsFailed     prometheus.Gauge   // docsync_records_failed
	SweptRecords      prometheus.Counter // docsync_swept_records_total
	SnapshotRefreshes prometheus.Counter // docsync_snapshot_refreshes_total
}

// Init initializes all engine metrics.
// Metrics are only registered once; subsequent calls return the same instance.
// Pass a registry to register metrics with that registry. If nil, uses the
// package Registry served by Handler.
func Init(registry prometheus.Registerer) *Metrics {
	metricsOnce.Do(func() {
		if registry == nil {
			registry = Registry
		}
		metricsInstance = &Metrics{
			FramesTotal: promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
				Name: "docsync_live_frames_total",
				Help: "Total live channel frames received by event type",
			}, []string{"type"}),

			FramesDropped: promauto.With(registry).NewCounter(prometheus.CounterOpts{
				Name: "docsync_live_frames_dropped_total",
				Help: "Total live channel frames dropped as undecodable or unknown",
			}),

			ChannelState: promauto.With(registry).NewGauge(prometheus.GaugeOpts{
				Name: "docsync_live_channel_state",
				Help: "Live channel state (0=idle, 1=connecting, 2=connected, 3=backoff, 4=lost, 5=closed)",
			}),

			Reconnects: promauto.With(registry).NewCounter(prometheus.CounterOpts{
				Name: "docsync_live_reconnects_total",
				Help: "Total live channel reconnection attempts",
			}),

			UploadsTotal: promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
				Name: "docsync_uploads_total",
				Help: "Total upload tasks finished by result",
			}, []string{"result"}),

			UploadQueueDepth: promauto.With(registry).NewGauge(prometheus.GaugeOpts{
				Name: "docsync_upload_queue_depth",
				Help: "Upload tasks currently pending or uploading",
			}),

			UploadedBytes: promauto.With(registry).NewCounter(prometheus.CounterOpts{
				Name: "docsync_uploaded_bytes_total",
				Help: "Total bytes handed to the upload sink",
			}),

			DispatchesTotal: promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
				Name: "docsync_dispatches_total",
				Help: "Total processing dispatches by result",
			}, []string{"result"}),

			RecordsTotal: promauto.With(registry).NewGauge(prometheus.GaugeOpts{
				Name: "docsync_records_total",
				Help: "Processing records currently held in the store",
			}),

			RecordsActive: promauto.With(registry).NewGauge(prometheus.GaugeOpts{
				Name: "docsync_records_active",
				Help: "Processing records currently queued or processing",
			}),

			RecordsFailed: promauto.With(registry).NewGauge(prometheus.GaugeOpts{
				Name: "docsync_records_failed",
				Help: "Processing records in a failed state awaiting dismissal",
			}),

			SweptRecords: promauto.With(registry).NewCounter(prometheus.CounterOpts{
				Name: "docsync_swept_records_total",
				Help: "Total completed records removed by the grace-period sweep",
			}),

			SnapshotRefreshes: promauto.With(registry).NewCounter(prometheus.CounterOpts{
				Name: "docsync_snapshot_refreshes_total",
				Help: "Total wholesale snapshot refreshes from the backend",
			}),
		}
	})

	return metricsInstance
}

// Handler returns an HTTP handler serving the package Registry.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}
