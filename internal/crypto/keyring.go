// Package crypto holds the primitives every other component builds on:
// sealing secrets at rest, hashing bearer tokens for lookup, and minting
// new tokens. All keys are derived from one master key so rotation means
// rotating a single value.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hkdf"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
)

// Token prefixes make leaked secrets identifiable in logs and scanners
// without revealing anything about their contents.
const (
	TokenPrefixSession = "ses_"
	TokenPrefixRefresh = "ref_"
	TokenPrefixAPIKey  = "key_"
)

// ErrOpenFailed is returned when a sealed value cannot be authenticated or
// decrypted. Callers must not distinguish tampering from truncation.
var ErrOpenFailed = errors.New("sealed value cannot be opened")

// Keyring derives the AEAD key and the token MAC key from the master key.
// Distinct HKDF info labels keep the two key domains separated even though
// they share a root.
type Keyring struct {
	aead   cipher.AEAD
	macKey []byte
}

// NewKeyring builds a keyring from a 32-byte master key.
func NewKeyring(masterKey []byte) (*Keyring, error) {
	if len(masterKey) != 32 {
		return nil, fmt.Errorf("master key must be 32 bytes, got %d", len(masterKey))
	}

	aeadKey, err := hkdf.Key(sha256.New, masterKey, nil, "warden/seal/v1", 32)
	if err != nil {
		return nil, fmt.Errorf("derive seal key: %w", err)
	}
	macKey, err := hkdf.Key(sha256.New, masterKey, nil, "warden/token-mac/v1", 32)
	if err != nil {
		return nil, fmt.Errorf("derive mac key: %w", err)
	}

	block, err := aes.NewCipher(aeadKey)
	if err != nil {
		return nil, fmt.Errorf("new cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("new gcm: %w", err)
	}

	return &Keyring{aead: aead, macKey: macKey}, nil
}

// Seal encrypts one value and returns a URL-safe payload. The payload is
// nonce || ciphertext under raw base64url so it can ride in cookies and
// query strings unescaped.
func (k *Keyring) Seal(plaintext []byte) (string, error) {
	// AES-GCM requires a unique nonce per encryption under the same key.
	nonce := make([]byte, k.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("read nonce: %w", err)
	}

	ciphertext := k.aead.Seal(nil, nonce, plaintext, nil)
	payload := append(nonce, ciphertext...)
	return base64.RawURLEncoding.EncodeToString(payload), nil
}

// Open decrypts a previously sealed value. Every failure mode reads as
// ErrOpenFailed so sealed tokens give attackers no parse oracle.
func (k *Keyring) Open(sealed string) ([]byte, error) {
	payload, err := base64.RawURLEncoding.DecodeString(sealed)
	if err != nil {
		return nil, ErrOpenFailed
	}

	nonceSize := k.aead.NonceSize()
	if len(payload) < nonceSize {
		return nil, ErrOpenFailed
	}

	nonce := payload[:nonceSize]
	ciphertext := payload[nonceSize:]
	plaintext, err := k.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrOpenFailed
	}
	return plaintext, nil
}

// HashToken computes the lookup digest for a bearer token. The digest is
// keyed HMAC-SHA256, so a leaked database cannot be joined against token
// guesses without the MAC key, and equal inputs always map to equal
// digests for unique-index lookups.
func (k *Keyring) HashToken(token string) string {
	mac := hmac.New(sha256.New, k.macKey)
	mac.Write([]byte(token))
	return hex.EncodeToString(mac.Sum(nil))
}

// NewToken mints a fresh bearer token with the given prefix and returns it
// together with its lookup digest. The plaintext leaves this function
// exactly once; only the digest is meant to be stored.
func (k *Keyring) NewToken(prefix string) (token, digest string, err error) {
	raw := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, raw); err != nil {
		return "", "", fmt.Errorf("read token bytes: %w", err)
	}
	token = prefix + base64.RawURLEncoding.EncodeToString(raw)
	return token, k.HashToken(token), nil
}
