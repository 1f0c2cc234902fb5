// Package metrics exposes engine events as Prometheus collectors.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/yurykabanov/pgbackuper/pkg/domain"
)

const namespace = "pgbackuper"

// Recorder implements domain.Observer.
type Recorder struct {
	runs             *prometheus.CounterVec
	runDuration      *prometheus.HistogramVec
	overlapSkipped   *prometheus.CounterVec
	retentionDeleted *prometheus.CounterVec
	retentionErrors  prometheus.Counter
}

func NewRecorder(reg prometheus.Registerer) *Recorder {
	factory := promauto.With(reg)

	return &Recorder{
		runs: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_total",
				Help:      "Finished backup runs by outcome and destination type",
			},
			[]string{"status", "destination"},
		),
		runDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "run_duration_seconds",
				Help:      "Wall time of backup runs from start to terminal status",
				Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600, 7200},
			},
			[]string{"destination"},
		),
		overlapSkipped: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "overlap_skipped_total",
				Help:      "Firings skipped because the previous run of the job was still in flight",
			},
			[]string{"job_id"},
		),
		retentionDeleted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "retention_deleted_total",
				Help:      "Records removed by retention",
			},
			[]string{"destination"},
		),
		retentionErrors: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "retention_errors_total",
				Help:      "Artifacts retention could not delete",
			},
		),
	}
}

func (r *Recorder) RunFinished(dest domain.DestinationType, status domain.Status, took time.Duration) {
	r.runs.WithLabelValues(string(status), string(dest)).Inc()
	r.runDuration.WithLabelValues(string(dest)).Observe(took.Seconds())
}

func (r *Recorder) OverlapSkipped(jobID int64) {
	r.overlapSkipped.WithLabelValues(strconv.FormatInt(jobID, 10)).Inc()
}

func (r *Recorder) RetentionDeleted(dest domain.DestinationType, count int) {
	r.retentionDeleted.WithLabelValues(string(dest)).Add(float64(count))
}

func (r *Recorder) RetentionFailed(count int) {
	r.retentionErrors.Add(float64(count))
}
