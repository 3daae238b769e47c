// Package attrs helps services pull structured values back out of the
// key-value attribute slices they pass to slog and the audit publisher.
package attrs

import id "warden/pkg/domain"

// ExtractString extracts a string value from a key-value attribute slice.
// The slice should be formatted as [key1, value1, key2, value2, ...].
// Returns empty string if the key is not found or the value is not a string.
func ExtractString(attrs []any, key string) string {
	for i := 0; i < len(attrs)-1; i += 2 {
		k, ok := attrs[i].(string)
		if !ok {
			continue
		}
		if k == key {
			if v, ok := attrs[i+1].(string); ok {
				return v
			}
		}
	}
	return ""
}

// ExtractUserID extracts a typed user ID from a key-value attribute slice.
// Accepts both id.UserID values and their string form under the given key.
// Returns the zero ID when absent or malformed.
func ExtractUserID(attrs []any, key string) id.UserID {
	for i := 0; i < len(attrs)-1; i += 2 {
		k, ok := attrs[i].(string)
		if !ok || k != key {
			continue
		}
		switch v := attrs[i+1].(type) {
		case id.UserID:
			return v
		case string:
			if parsed, err := id.ParseUserID(v); err == nil {
				return parsed
			}
		}
	}
	return id.UserID{}
}
