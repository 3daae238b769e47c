package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the mfa module. Verification failures
// and lockouts are the interesting series: a spike means someone is
// guessing codes against a known account.
type Metrics struct {
	Enrollments   prometheus.Counter
	Verifications prometheus.Counter
	VerifyFails   prometheus.Counter
	RecoveryUses  prometheus.Counter
	Lockouts      prometheus.Counter
}

// New creates a Metrics instance with all mfa module metrics registered.
func New() *Metrics {
	return &Metrics{
		Enrollments: promauto.NewCounter(prometheus.CounterOpts{
			Name: "warden_mfa_enrollments_total",
			Help: "TOTP enrollments started",
		}),
		Verifications: promauto.NewCounter(prometheus.CounterOpts{
			Name: "warden_mfa_verifications_total",
			Help: "Successful TOTP verifications",
		}),
		VerifyFails: promauto.NewCounter(prometheus.CounterOpts{
			Name: "warden_mfa_verify_failures_total",
			Help: "Rejected TOTP and recovery codes",
		}),
		RecoveryUses: promauto.NewCounter(prometheus.CounterOpts{
			Name: "warden_mfa_recovery_uses_total",
			Help: "Recovery codes consumed in place of a TOTP code",
		}),
		Lockouts: promauto.NewCounter(prometheus.CounterOpts{
			Name: "warden_mfa_lockouts_total",
			Help: "Accounts locked out after repeated verification failures",
		}),
	}
}

// IncrementEnrollment records a started enrollment.
func (m *Metrics) IncrementEnrollment() {
	m.Enrollments.Inc()
}

// IncrementVerification records an accepted TOTP code.
func (m *Metrics) IncrementVerification() {
	m.Verifications.Inc()
}

// IncrementVerifyFailure records a rejected TOTP or recovery code.
func (m *Metrics) IncrementVerifyFailure() {
	m.VerifyFails.Inc()
}

// IncrementRecoveryUse records a consumed recovery code.
func (m *Metrics) IncrementRecoveryUse() {
	m.RecoveryUses.Inc()
}

// IncrementLockout records an account crossing the failure threshold.
func (m *Metrics) IncrementLockout() {
	m.Lockouts.Inc()
}
