// Package metrics registers the wizard's domain counters on the default registry,
// which /metrics exposes next to the HTTP metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// UploadsTotal counts resolved uploads by result: success, failed, rejected.
	UploadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "memorial_uploads_total",
			Help: "Wizard media uploads by result.",
		},
		[]string{"result"},
	)
	// UploadRetries counts retried asset store calls by operation (upload, destroy).
	UploadRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "memorial_asset_retries_total",
			Help: "Retried asset store calls.",
		},
		[]string{"operation"},
	)
	UploadBytes = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "memorial_upload_bytes",
			Help:    "Size of accepted uploads.",
			Buckets: prometheus.ExponentialBuckets(64*1024, 4, 8),
		},
	)
	// AutosavesTotal counts autosaves by target: remote or local.
	AutosavesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "memorial_autosaves_total",
			Help: "Draft autosaves by the store that accepted them.",
		},
		[]string{"target"},
	)
	// PublishTotal counts publish attempts by result: success, invalid, failed.
	PublishTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "memorial_publish_total",
			Help: "Publish attempts by result.",
		},
		[]string{"result"},
	)
	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "memorial_wizard_sessions_active",
			Help: "Wizard sessions currently held in memory.",
		},
	)
)
