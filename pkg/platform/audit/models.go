package audit

import (
	"time"

	id "warden/pkg/domain"
)

// EventCategory classifies audit events by their primary purpose.
// This enables different retention policies, storage backends, and routing.
type EventCategory string

const (
	// CategoryCompliance covers events with legal/regulatory significance.
	// These require tamper-proof storage and long retention.
	// Examples: user creation, MFA enrollment and disablement.
	CategoryCompliance EventCategory = "compliance"

	// CategorySecurity covers events relevant to security monitoring and forensics.
	// These feed into SIEM systems and alerting pipelines.
	// Examples: failed logins, lockouts, session revocations, credential rotation.
	CategorySecurity EventCategory = "security"

	// CategoryOperations covers events useful for debugging and operational visibility.
	// These can be sampled or aggregated with shorter retention.
	// Examples: logins, token refreshes, routine API key usage.
	CategoryOperations EventCategory = "operations"
)

// Event is emitted from domain logic to capture key actions. Keep it
// transport-agnostic so stores and sinks can fan out.
type Event struct {
	Category  EventCategory
	Timestamp time.Time
	UserID    id.UserID
	TenantID  id.TenantID
	// Subject is the human-readable identifier the action concerns, typically
	// the user ID string, an email, or an API key ID.
	Subject string
	Action  string
	// Provider is set for events originating from a federated login flow.
	Provider string
	// Reason explains failures and denials ("invalid_code", "locked_out").
	Reason string
	// IP is the client address, kept for security forensics.
	IP string
	// RequestID is the correlation ID from the HTTP request context.
	RequestID string
}

type AuditEvent string

const (
	// Login and session events
	EventUserCreated     AuditEvent = "user_created"
	EventLogin           AuditEvent = "login"
	EventLoginFailed     AuditEvent = "login_failed"
	EventTokenRefreshed  AuditEvent = "token_refreshed"
	EventRefreshReplay   AuditEvent = "refresh_replayed"
	EventLogout          AuditEvent = "logout"
	EventSessionRevoked  AuditEvent = "session_revoked"
	EventSessionsRevoked AuditEvent = "sessions_revoked"

	// MFA events
	EventMFAEnrolled         AuditEvent = "mfa_enrolled"
	EventMFAVerified         AuditEvent = "mfa_verified"
	EventMFAVerifyFailed     AuditEvent = "mfa_verify_failed"
	EventMFADisabled         AuditEvent = "mfa_disabled"
	EventMFARecoveryUsed     AuditEvent = "mfa_recovery_used"
	EventMFALockoutTriggered AuditEvent = "mfa_lockout_triggered"

	// API key events
	EventAPIKeyCreated AuditEvent = "apikey_created"
	EventAPIKeyRotated AuditEvent = "apikey_rotated"
	EventAPIKeyRevoked AuditEvent = "apikey_revoked"
)

// eventCategories maps each audit event to its category.
// Compliance: legal/regulatory significance, long retention required.
// Security: security monitoring, SIEM integration, alerting.
// Operations: debugging, operational visibility, can be sampled.
var eventCategories = map[AuditEvent]EventCategory{
	// Compliance events - require tamper-proof storage
	EventUserCreated: CategoryCompliance,
	EventMFAEnrolled: CategoryCompliance,
	EventMFADisabled: CategoryCompliance,

	// Security events - feed into SIEM and alerting
	EventLoginFailed:         CategorySecurity,
	EventRefreshReplay:       CategorySecurity,
	EventLogout:              CategorySecurity,
	EventSessionRevoked:      CategorySecurity,
	EventSessionsRevoked:     CategorySecurity,
	EventMFAVerifyFailed:     CategorySecurity,
	EventMFARecoveryUsed:     CategorySecurity,
	EventMFALockoutTriggered: CategorySecurity,
	EventAPIKeyRotated:       CategorySecurity,
	EventAPIKeyRevoked:       CategorySecurity,

	// Operations events - routine activity, can be sampled
	EventLogin:          CategoryOperations,
	EventTokenRefreshed: CategoryOperations,
	EventMFAVerified:    CategoryOperations,
	EventAPIKeyCreated:  CategoryOperations,
}

// Category returns the EventCategory for this audit event.
// Unknown events default to CategoryOperations.
func (e AuditEvent) Category() EventCategory {
	if cat, ok := eventCategories[e]; ok {
		return cat
	}
	return CategoryOperations
}
