package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the apikey module. Authentication
// failures are the interesting series: a rising rate means someone is
// probing with dead or fabricated keys.
type Metrics struct {
	Created      prometheus.Counter
	Rotated      prometheus.Counter
	Revoked      prometheus.Counter
	AuthFailures prometheus.Counter
}

// New creates a Metrics instance with all apikey module metrics registered.
func New() *Metrics {
	return &Metrics{
		Created: promauto.NewCounter(prometheus.CounterOpts{
			Name: "warden_api_keys_created_total",
			Help: "API keys issued",
		}),
		Rotated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "warden_api_keys_rotated_total",
			Help: "API key secrets rotated in place",
		}),
		Revoked: promauto.NewCounter(prometheus.CounterOpts{
			Name: "warden_api_keys_revoked_total",
			Help: "API keys revoked",
		}),
		AuthFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "warden_api_key_auth_failures_total",
			Help: "Requests carrying an unknown, expired, or revoked API key",
		}),
	}
}

// IncrementCreated records an issued key.
func (m *Metrics) IncrementCreated() {
	m.Created.Inc()
}

// IncrementRotated records a rotated key secret.
func (m *Metrics) IncrementRotated() {
	m.Rotated.Inc()
}

// IncrementRevoked records a revoked key.
func (m *Metrics) IncrementRevoked() {
	m.Revoked.Inc()
}

// IncrementAuthFailure records a rejected API key credential.
func (m *Metrics) IncrementAuthFailure() {
	m.AuthFailures.Inc()
}
