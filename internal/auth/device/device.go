// Package device derives human-readable device names and stable
// fingerprints from User-Agent strings. Names label sessions in the
// listing API; fingerprints flag mid-chain device drift during refresh.
package device

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/mssola/useragent"
)

// Service computes device fingerprints. Fingerprinting can be disabled,
// in which case every fingerprint is empty and comparison never reports
// drift.
type Service struct {
	enabled bool
}

func NewService(enabled bool) *Service {
	return &Service{enabled: enabled}
}

// ParseUserAgent renders a User-Agent as "Browser on OS" for session
// listings. Unparseable agents still yield a usable label.
func ParseUserAgent(raw string) string {
	if strings.TrimSpace(raw) == "" {
		return "Unknown Device"
	}

	ua := useragent.New(raw)

	browser, _ := ua.Browser()
	if browser == "" {
		browser = "Unknown Browser"
	}

	osName := ua.OSInfo().Name
	if osName == "" {
		osName = ua.Platform()
	}
	if osName == "" {
		osName = "Unknown OS"
	}

	return strings.TrimSpace(browser + " on " + osName)
}

// ComputeFingerprint hashes the stable parts of a User-Agent: browser
// name, major version, and OS. Minor and patch releases keep the same
// fingerprint; a different browser, major version, or OS changes it.
func (s *Service) ComputeFingerprint(raw string) string {
	if !s.enabled {
		return ""
	}

	ua := useragent.New(raw)
	browser, version := ua.Browser()
	major, _, _ := strings.Cut(version, ".")
	osName := ua.OSInfo().Name
	if osName == "" {
		osName = ua.Platform()
	}

	sum := sha256.Sum256([]byte(browser + "|" + major + "|" + osName))
	return hex.EncodeToString(sum[:])
}

// CompareFingerprints reports whether the stored and current fingerprints
// match and whether the mismatch counts as drift. An empty stored value
// means the session predates fingerprinting (or it is disabled) and never
// drifts.
func (s *Service) CompareFingerprints(stored, current string) (matched, drift bool) {
	if stored == "" {
		return true, false
	}
	if stored == current {
		return true, false
	}
	return false, true
}
