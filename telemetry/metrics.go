// Package telemetry provides Prometheus metrics, correlation-id aware logging
// helpers, and OpenTelemetry tracing setup.
package telemetry

import (
	"context"
	"log/slog"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once sync.Once

	// Counters
	MessagesHandled     *prometheus.CounterVec // by platform
	CompletionCalls     prometheus.Counter
	CompletionFailures  prometheus.Counter
	RateLimitRejections *prometheus.CounterVec // by kind (daily|minute)
	SummaryUpdates      prometheus.Counter
	SummaryFailures     prometheus.Counter
	LinksConfirmed      prometheus.Counter
	LinkConflicts       prometheus.Counter

	// Histograms (seconds)
	CompletionDuration prometheus.Observer

	// Gauges
	StorageFallbackGauge prometheus.Gauge // 1=file fallback active, 0=primary
	TrackedUsersGauge    prometheus.Gauge
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		MessagesHandled = promauto.NewCounterVec(prometheus.CounterOpts{Name: "bot_messages_handled_total", Help: "Inbound messages handled"}, []string{"platform"})
		CompletionCalls = promauto.NewCounter(prometheus.CounterOpts{Name: "bot_completion_calls_total", Help: "Completion API calls attempted"})
		CompletionFailures = promauto.NewCounter(prometheus.CounterOpts{Name: "bot_completion_failures_total", Help: "Completion API calls failed"})
		RateLimitRejections = promauto.NewCounterVec(prometheus.CounterOpts{Name: "bot_rate_limit_rejections_total", Help: "Rate limiter rejections"}, []string{"kind"})
		SummaryUpdates = promauto.NewCounter(prometheus.CounterOpts{Name: "bot_summary_updates_total", Help: "Successful summary updates"})
		SummaryFailures = promauto.NewCounter(prometheus.CounterOpts{Name: "bot_summary_failures_total", Help: "Failed summary updates"})
		LinksConfirmed = promauto.NewCounter(prometheus.CounterOpts{Name: "bot_links_confirmed_total", Help: "Account links confirmed"})
		LinkConflicts = promauto.NewCounter(prometheus.CounterOpts{Name: "bot_link_conflicts_total", Help: "Link operations rejected with a conflict"})
		CompletionDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "bot_completion_duration_seconds", Help: "Completion API call duration seconds", Buckets: prometheus.DefBuckets})
		StorageFallbackGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "bot_storage_fallback", Help: "File fallback active=1 primary=0"})
		TrackedUsersGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "bot_tracked_users", Help: "Distinct user records in memory"})
	})
}

// SetStorageFallback flips the fallback gauge.
func SetStorageFallback(active bool) {
	if StorageFallbackGauge == nil {
		return
	}
	if active {
		StorageFallbackGauge.Set(1)
	} else {
		StorageFallbackGauge.Set(0)
	}
}

// SetTrackedUsers records the distinct record count.
func SetTrackedUsers(n int) {
	if TrackedUsersGauge != nil {
		TrackedUsersGauge.Set(float64(n))
	}
}

// Correlation ID helpers ----------------------------------------------------

type corrKeyType struct{}

var corrKey corrKeyType

// WithCorrelation returns a new context embedding the correlation id.
func WithCorrelation(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, corrKey, id)
}

// GetCorrelation returns the correlation id or empty string.
func GetCorrelation(ctx context.Context) string {
	if s, ok := ctx.Value(corrKey).(string); ok {
		return s
	}
	return ""
}

// LoggerWithCorr returns a logger with a corr attribute if present.
func LoggerWithCorr(ctx context.Context) *slog.Logger {
	if id := GetCorrelation(ctx); id != "" {
		return slog.Default().With(slog.String("corr", id))
	}
	return slog.Default()
}
