// Package models defines the MFA domain: one secret record per user and
// the derived status reported to clients.
package models

import (
	"time"

	id "warden/pkg/domain"
)

// Secret is a user's TOTP enrollment. The shared secret is sealed with the
// keyring; recovery codes are stored as bcrypt hashes and removed one by
// one as they are spent. EnabledAt is nil while enrollment awaits its
// first successful verification.
type Secret struct {
	UserID        id.UserID
	SecretEnc     string
	EnabledAt     *time.Time
	RecoveryCodes []string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Enabled reports whether enrollment was confirmed.
func (s *Secret) Enabled() bool {
	return s.EnabledAt != nil
}

// Status is the client-facing view of a user's MFA state.
type Status struct {
	Enabled           bool `json:"enabled"`
	Pending           bool `json:"pending"`
	RecoveryCodesLeft int  `json:"recovery_codes_left"`
}

// Enrollment is returned from Enroll. It is the only place the shared
// secret and the recovery codes exist in plaintext.
type Enrollment struct {
	Secret          string   `json:"secret"`
	ProvisioningURI string   `json:"provisioning_uri"`
	RecoveryCodes   []string `json:"recovery_codes"`
}
