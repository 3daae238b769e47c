package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the auth module. Login and refresh
// are the hot paths; replay detections get their own counter because they
// are the signal a stolen refresh token was used.
type Metrics struct {
	Logins          *prometheus.CounterVec
	LoginFailures   *prometheus.CounterVec
	Refreshes       prometheus.Counter
	RefreshReplays  prometheus.Counter
	SessionsRevoked prometheus.Counter
	LoginDuration   prometheus.Histogram
	RefreshDuration prometheus.Histogram
}

// New creates a Metrics instance with all auth module metrics registered.
func New() *Metrics {
	return &Metrics{
		Logins: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "warden_logins_total",
			Help: "Successful federated logins by provider",
		}, []string{"provider"}),
		LoginFailures: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "warden_login_failures_total",
			Help: "Failed federated logins by provider",
		}, []string{"provider"}),
		Refreshes: promauto.NewCounter(prometheus.CounterOpts{
			Name: "warden_token_refreshes_total",
			Help: "Successful refresh token rotations",
		}),
		RefreshReplays: promauto.NewCounter(prometheus.CounterOpts{
			Name: "warden_refresh_replays_total",
			Help: "Refresh attempts with an already-consumed token",
		}),
		SessionsRevoked: promauto.NewCounter(prometheus.CounterOpts{
			Name: "warden_sessions_revoked_total",
			Help: "Sessions revoked by logout or targeted revocation",
		}),
		LoginDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "warden_login_duration_seconds",
			Help:    "Duration of the full login flow including the provider exchange",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}),
		RefreshDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "warden_refresh_duration_seconds",
			Help:    "Duration of refresh token rotation",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}),
	}
}

// IncrementLogin records a successful login for a provider.
func (m *Metrics) IncrementLogin(provider string) {
	m.Logins.WithLabelValues(provider).Inc()
}

// IncrementLoginFailure records a failed login for a provider.
func (m *Metrics) IncrementLoginFailure(provider string) {
	m.LoginFailures.WithLabelValues(provider).Inc()
}

// ObserveLogin records the duration of a login flow.
// Call with time.Now() at the start of the operation.
func (m *Metrics) ObserveLogin(start time.Time) {
	m.LoginDuration.Observe(time.Since(start).Seconds())
}

// ObserveRefresh records the duration of a refresh rotation.
// Call with time.Now() at the start of the operation.
func (m *Metrics) ObserveRefresh(start time.Time) {
	m.RefreshDuration.Observe(time.Since(start).Seconds())
}
