// Package telemetry provides Prometheus metrics, tracing, and correlation-id aware logging helpers.
package telemetry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once sync.Once

	// Counters
	MessagesCounted    prometheus.Counter
	VoiceTicks         prometheus.Counter
	Promotions         prometheus.Counter
	TimersStarted      prometheus.Counter
	Revocations        prometheus.Counter
	RoleRestores       prometheus.Counter
	RoleMutationErrors prometheus.Counter
	SweepRuns          prometheus.Counter
	SweepUserErrors    prometheus.Counter

	// Histograms (seconds)
	SweepDuration prometheus.Observer

	// Gauges
	VoiceSessions prometheus.Gauge
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		MessagesCounted = promauto.NewCounter(prometheus.CounterOpts{Name: "activity_messages_counted_total", Help: "Messages credited to a user"})
		VoiceTicks = promauto.NewCounter(prometheus.CounterOpts{Name: "activity_voice_ticks_total", Help: "Voice ticks credited to a user"})
		Promotions = promauto.NewCounter(prometheus.CounterOpts{Name: "activity_promotions_total", Help: "Status role grants"})
		TimersStarted = promauto.NewCounter(prometheus.CounterOpts{Name: "activity_timers_started_total", Help: "Decay timers started without a promotion"})
		Revocations = promauto.NewCounter(prometheus.CounterOpts{Name: "activity_revocations_total", Help: "Status role revocations by the decay sweeper"})
		RoleRestores = promauto.NewCounter(prometheus.CounterOpts{Name: "activity_role_restores_total", Help: "Previous roles restored after revocation"})
		RoleMutationErrors = promauto.NewCounter(prometheus.CounterOpts{Name: "activity_role_mutation_errors_total", Help: "Failed role add/remove calls"})
		SweepRuns = promauto.NewCounter(prometheus.CounterOpts{Name: "activity_sweep_runs_total", Help: "Decay sweeps started"})
		SweepUserErrors = promauto.NewCounter(prometheus.CounterOpts{Name: "activity_sweep_user_errors_total", Help: "Per-user failures during decay sweeps"})
		SweepDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "activity_sweep_duration_seconds", Help: "Decay sweep duration seconds", Buckets: prometheus.DefBuckets})
		VoiceSessions = promauto.NewGauge(prometheus.GaugeOpts{Name: "activity_voice_sessions", Help: "Voice sessions currently tracked"})
	})
}

// Inc increments c if metrics are initialised.
func Inc(c prometheus.Counter) {
	if c != nil {
		c.Inc()
	}
}

// SetVoiceSessions records the number of tracked voice sessions.
func SetVoiceSessions(n int) {
	if VoiceSessions != nil {
		VoiceSessions.Set(float64(n))
	}
}

// ObserveSince records the time elapsed since start in obs if non-nil.
func ObserveSince(obs prometheus.Observer, start time.Time) time.Duration {
	d := time.Since(start)
	if obs != nil {
		obs.Observe(d.Seconds())
	}
	return d
}

// Correlation ID helpers ----------------------------------------------------
type corrKeyType struct{}

var corrKey corrKeyType

// WithCorrelation returns a new context embedding the correlation id.
func WithCorrelation(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, corrKey, id)
}

// NewCorrelation embeds a fresh random correlation id.
func NewCorrelation(ctx context.Context) context.Context {
	return WithCorrelation(ctx, uuid.NewString())
}

// GetCorrelation returns correlation id or empty string.
func GetCorrelation(ctx context.Context) string {
	if s, ok := ctx.Value(corrKey).(string); ok {
		return s
	}
	return ""
}

// LoggerWithCorr returns base with a corr attribute if ctx carries one.
func LoggerWithCorr(ctx context.Context, base *slog.Logger) *slog.Logger {
	if base == nil {
		base = slog.Default()
	}
	if id := GetCorrelation(ctx); id != "" {
		return base.With(slog.String("corr", id))
	}
	return base
}
