// Package telemetry provides Prometheus metrics, tracing setup, and
// correlation-id aware logging helpers.
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
	TicksTotal        prometheus.Counter
	AnnouncesPosted   prometheus.Counter
	AnnouncesEdited   prometheus.Counter
	AnnouncesDeleted  prometheus.Counter
	StatusFetchErrors prometheus.Counter
	StreamerErrors    prometheus.Counter

	// Histograms (seconds)
	TickDuration prometheus.Observer

	// Gauges
	LiveStreamersGauge prometheus.Gauge
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		TicksTotal = promauto.NewCounter(prometheus.CounterOpts{Name: "herald_ticks_total", Help: "Number of completed announce passes"})
		AnnouncesPosted = promauto.NewCounter(prometheus.CounterOpts{Name: "herald_announces_posted_total", Help: "Number of new live announcements posted"})
		AnnouncesEdited = promauto.NewCounter(prometheus.CounterOpts{Name: "herald_announces_edited_total", Help: "Number of live announcements edited in place"})
		AnnouncesDeleted = promauto.NewCounter(prometheus.CounterOpts{Name: "herald_announces_deleted_total", Help: "Number of announcements removed after a stream ended"})
		StatusFetchErrors = promauto.NewCounter(prometheus.CounterOpts{Name: "herald_status_fetch_errors_total", Help: "Number of Twitch status lookups that failed"})
		StreamerErrors = promauto.NewCounter(prometheus.CounterOpts{Name: "herald_streamer_errors_total", Help: "Number of per-streamer reconcile failures (skipped for the tick)"})
		TickDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "herald_tick_duration_seconds", Help: "Announce pass duration seconds", Buckets: prometheus.DefBuckets})
		LiveStreamersGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "herald_live_streamers", Help: "Streamers currently announced as live"})
	})
}

// SetLiveStreamers records the number of streamers currently believed live.
func SetLiveStreamers(n int) {
	if LiveStreamersGauge != nil {
		LiveStreamersGauge.Set(float64(n))
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
