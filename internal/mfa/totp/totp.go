// Package totp implements RFC 6238 time-based one-time passwords for the
// enrollment and verification flows.
package totp

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1"
	"crypto/subtle"
	"encoding/base32"
	"encoding/binary"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Code policy, fixed to what authenticator apps implement by default:
// HMAC-SHA1, six digits, thirty-second steps. One step of skew in either
// direction absorbs clock drift between the server and the device.
const (
	SecretBytes = 20
	Digits      = 6
	Period      = 30
	Skew        = 1
)

var encoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// NewSecret returns a fresh shared secret in base32 form.
func NewSecret() (string, error) {
	raw := make([]byte, SecretBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("generate totp secret: %w", err)
	}
	return encoding.EncodeToString(raw), nil
}

// ProvisioningURI renders the otpauth:// URI that authenticator apps scan
// at enrollment.
func ProvisioningURI(issuer, account, secret string) string {
	label := url.PathEscape(issuer + ":" + account)

	v := url.Values{}
	v.Set("secret", secret)
	v.Set("issuer", issuer)
	v.Set("period", strconv.Itoa(Period))
	v.Set("digits", strconv.Itoa(Digits))
	v.Set("algorithm", "SHA1")

	return "otpauth://totp/" + label + "?" + v.Encode()
}

// Verify checks a submitted code against the secret, accepting one step of
// skew either way. Candidate comparison is constant time; a code of the
// wrong shape is rejected before any computation. The only error is a
// secret that does not decode, which is corruption, not a bad guess.
func Verify(secret, code string, now time.Time) (bool, error) {
	submitted := strings.TrimSpace(code)
	if len(submitted) != Digits || !numeric(submitted) {
		return false, nil
	}

	key, err := encoding.DecodeString(strings.ToUpper(secret))
	if err != nil {
		return false, fmt.Errorf("malformed totp secret: %w", err)
	}

	base := now.Unix() / Period
	for step := int64(-Skew); step <= Skew; step++ {
		counter := base + step
		if counter < 0 {
			continue
		}
		if subtle.ConstantTimeCompare([]byte(hotp(key, counter)), []byte(submitted)) == 1 {
			return true, nil
		}
	}
	return false, nil
}

// CodeAt returns the code a correctly synchronized authenticator shows at
// the given instant.
func CodeAt(secret string, at time.Time) (string, error) {
	key, err := encoding.DecodeString(strings.ToUpper(secret))
	if err != nil {
		return "", fmt.Errorf("malformed totp secret: %w", err)
	}
	return hotp(key, at.Unix()/Period), nil
}

// hotp is the RFC 4226 dynamic truncation over an HMAC-SHA1 of the
// counter.
func hotp(key []byte, counter int64) string {
	var msg [8]byte
	binary.BigEndian.PutUint64(msg[:], uint64(counter))

	mac := hmac.New(sha1.New, key)
	_, _ = mac.Write(msg[:])
	sum := mac.Sum(nil)

	offset := sum[len(sum)-1] & 0x0f
	bin := (int(sum[offset])&0x7f)<<24 |
		(int(sum[offset+1])&0xff)<<16 |
		(int(sum[offset+2])&0xff)<<8 |
		(int(sum[offset+3]) & 0xff)

	mod := 1
	for i := 0; i < Digits; i++ {
		mod *= 10
	}
	return fmt.Sprintf("%0*d", Digits, bin%mod)
}

func numeric(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
