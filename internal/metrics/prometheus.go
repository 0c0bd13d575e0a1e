// Package metrics provides Prometheus metrics for observability.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "ffanime"

var (
	// CompositionsTotal tracks finished compositions.
	// Labels:
	//   - status: success, error
	CompositionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "compositions_total",
			Help:      "Total number of finished compositions",
		},
		[]string{"status"},
	)

	// StageDurationSeconds observes how long each pipeline stage takes.
	// Labels:
	//   - stage: fetching, rendering, attaching_media, sequencing, bumpers, cover, publishing
	StageDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Duration of composition pipeline stages",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600},
		},
		[]string{"stage"},
	)

	// TranscoderRunsTotal tracks external transcoder invocations.
	// Labels:
	//   - operation: render, attach_audio, attach_subtitle, concat, splice, cover, probe
	//   - status: success, error
	TranscoderRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcoder_runs_total",
			Help:      "Total number of external transcoder invocations",
		},
		[]string{"operation", "status"},
	)

	// FetchesTotal tracks fetch/store calls by URI scheme.
	// Labels:
	//   - scheme: file, http, https, ftp, sftp, s3
	//   - operation: fetch, store
	//   - status: success, error
	FetchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetches_total",
			Help:      "Total number of remote fetch and store operations",
		},
		[]string{"scheme", "operation", "status"},
	)

	// PoolBusyWorkers reports how many worker slots are currently held.
	PoolBusyWorkers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pool_busy_workers",
			Help:      "Number of worker pool slots currently in use",
		},
	)
)

// Status constants.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Status maps an error to a status label.
func Status(err error) string {
	if err != nil {
		return StatusError
	}
	return StatusSuccess
}
