// Package email normalizes addresses and derives profile fallbacks from
// them. Addresses are the identity join key across providers, so every
// comparison must run on the canonical form.
package email

import (
	"strings"
	"unicode"
)

// Canonical returns the comparison form of an address: trimmed and
// lowercased. Lowercasing the local part is not strictly RFC-clean, but
// every provider we federate with treats addresses case-insensitively.
func Canonical(addr string) string {
	return strings.ToLower(strings.TrimSpace(addr))
}

// DeriveName builds a display name from the local part of an address,
// for providers that return no profile name. "jane.doe@corp.example"
// becomes "Jane Doe"; an address with an empty or unusable local part
// becomes "User".
func DeriveName(addr string) string {
	local := addr
	if at := strings.IndexByte(addr, '@'); at >= 0 {
		local = addr[:at]
	}

	parts := strings.FieldsFunc(local, func(r rune) bool {
		return r == '.' || r == '_' || r == '-' || r == '+'
	})
	if len(parts) == 0 {
		return "User"
	}

	for i, p := range parts {
		parts[i] = capitalize(p)
	}
	return strings.Join(parts, " ")
}

func capitalize(s string) string {
	runes := []rune(s)
	runes[0] = unicode.ToUpper(runes[0])
	return string(runes)
}
