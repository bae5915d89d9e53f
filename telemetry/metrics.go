// Package telemetry provides Prometheus metrics and correlation-id aware logging helpers.
package telemetry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once sync.Once

	// Counters
	JobsClaimed   *prometheus.CounterVec
	JobsCompleted *prometheus.CounterVec
	JobsRetried   *prometheus.CounterVec
	JobsFailed    *prometheus.CounterVec
	DetectionsRun prometheus.Counter
	ClipsReady    prometheus.Counter

	// Histograms (seconds)
	JobDuration    *prometheus.HistogramVec
	DetectDuration prometheus.Observer

	// Gauges
	QueueDepthGauge prometheus.Gauge
	MomentsPerVOD   prometheus.Histogram
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		JobsClaimed = promauto.NewCounterVec(prometheus.CounterOpts{Name: "clip_jobs_claimed_total", Help: "Jobs claimed by a worker tick"}, []string{"type"})
		JobsCompleted = promauto.NewCounterVec(prometheus.CounterOpts{Name: "clip_jobs_completed_total", Help: "Jobs completed successfully"}, []string{"type"})
		JobsRetried = promauto.NewCounterVec(prometheus.CounterOpts{Name: "clip_jobs_retried_total", Help: "Jobs returned to pending for retry"}, []string{"type"})
		JobsFailed = promauto.NewCounterVec(prometheus.CounterOpts{Name: "clip_jobs_failed_total", Help: "Jobs that reached terminal failure"}, []string{"type"})
		DetectionsRun = promauto.NewCounter(prometheus.CounterOpts{Name: "clip_detections_total", Help: "Highlight detection runs"})
		ClipsReady = promauto.NewCounter(prometheus.CounterOpts{Name: "clip_clips_ready_total", Help: "Clips uploaded and marked ready"})
		JobDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{Name: "clip_job_duration_seconds", Help: "End-to-end processing duration per job", Buckets: prometheus.ExponentialBuckets(0.1, 2, 14)}, []string{"type"})
		DetectDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "clip_detect_duration_seconds", Help: "Highlight detection duration seconds", Buckets: prometheus.DefBuckets})
		QueueDepthGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "clip_queue_depth", Help: "Current number of pending jobs"})
		MomentsPerVOD = promauto.NewHistogram(prometheus.HistogramOpts{Name: "clip_moments_per_vod", Help: "Highlight moments detected per analyzed VOD", Buckets: []float64{0, 1, 2, 5, 10, 20, 50}})
	})
}

// SetQueueDepth records the current pending job count.
func SetQueueDepth(n int) {
	if QueueDepthGauge != nil {
		QueueDepthGauge.Set(float64(n))
	}
}

// TimeFunc measures the duration of fn and records in observer if non-nil.
func TimeFunc(obs prometheus.Observer, fn func()) time.Duration {
	start := time.Now()
	fn()
	d := time.Since(start)
	if obs != nil {
		obs.Observe(d.Seconds())
	}
	return d
}

// Correlation ID helpers ----------------------------------------------------
type corrKeyType struct{}

var corrKey corrKeyType

// WithCorrelation returns a new context embedding correlation id (if absent) and the id.
func WithCorrelation(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, corrKey, id)
}

// GetCorrelation returns correlation id or empty string.
func GetCorrelation(ctx context.Context) string {
	v := ctx.Value(corrKey)
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

// LoggerWithCorr returns a logger with corr attribute if present.
func LoggerWithCorr(ctx context.Context) *slog.Logger {
	if id := GetCorrelation(ctx); id != "" {
		return slog.Default().With(slog.String("corr", id))
	}
	return slog.Default()
}
