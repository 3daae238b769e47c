// Package recovery generates and checks one-time recovery codes, the
// fallback credential for users who lose their authenticator device.
package recovery

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// Codes are eight characters from an alphabet with no 0/O or 1/I, shown
// to the user once as XXXX-XXXX and stored only as bcrypt hashes.
const (
	alphabet   = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	codeLength = 8

	// DefaultCount is how many codes an enrollment hands out.
	DefaultCount = 10
)

// CodeSet pairs the display forms handed to the user with the hashes that
// go to storage, index-aligned.
type CodeSet struct {
	Display []string
	Hashes  []string
}

// NewCodes generates n recovery codes.
func NewCodes(n int) (*CodeSet, error) {
	set := &CodeSet{
		Display: make([]string, 0, n),
		Hashes:  make([]string, 0, n),
	}
	for i := 0; i < n; i++ {
		code, err := newCode()
		if err != nil {
			return nil, fmt.Errorf("generate recovery code: %w", err)
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(code), bcrypt.DefaultCost)
		if err != nil {
			return nil, fmt.Errorf("hash recovery code: %w", err)
		}
		set.Display = append(set.Display, format(code))
		set.Hashes = append(set.Hashes, string(hash))
	}
	return set, nil
}

// Canonicalize folds a user-submitted code to the stored form: uppercase,
// no separators. Users retype these from paper; be forgiving about shape.
func Canonicalize(code string) string {
	s := strings.ToUpper(strings.TrimSpace(code))
	s = strings.ReplaceAll(s, "-", "")
	return strings.ReplaceAll(s, " ", "")
}

// Match compares a submitted code against a set of hashes and returns the
// index of the matching hash. Every hash is checked even after a match so
// the work done does not depend on which code was used.
func Match(hashes []string, code string) (int, bool) {
	canonical := Canonicalize(code)
	if len(canonical) != codeLength {
		return 0, false
	}

	matched := -1
	for i, hash := range hashes {
		if bcrypt.CompareHashAndPassword([]byte(hash), []byte(canonical)) == nil && matched < 0 {
			matched = i
		}
	}
	if matched < 0 {
		return 0, false
	}
	return matched, true
}

func newCode() (string, error) {
	var b strings.Builder
	b.Grow(codeLength)
	for i := 0; i < codeLength; i++ {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(alphabet))))
		if err != nil {
			return "", err
		}
		b.WriteByte(alphabet[n.Int64()])
	}
	return b.String(), nil
}

func format(code string) string {
	mid := len(code) / 2
	return code[:mid] + "-" + code[mid:]
}
