// README: Phone canonicalization (pure, no I/O).
package phone

import "strings"

// Normalize converts a raw phone string into canonical international form:
// digits only, prefixed with defaultCountryCode. Returns "" when the input
// carries no digits (no contact). Idempotent: Normalize(Normalize(x)) == Normalize(x).
func Normalize(raw, defaultCountryCode string) string {
	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()

	switch {
	case digits == "":
		return ""
	case strings.HasPrefix(digits, "0"):
		// local-format convention: leading zero stands in for the country code
		return defaultCountryCode + digits[1:]
	case strings.HasPrefix(digits, defaultCountryCode):
		return digits
	case len(digits) <= 10:
		// short enough to be a local number without a code
		return defaultCountryCode + digits
	default:
		return digits
	}
}

// FirstCandidate returns the first candidate that normalizes to a usable
// number, or "" when none do.
func FirstCandidate(candidates []string, defaultCountryCode string) string {
	for _, c := range candidates {
		if n := Normalize(c, defaultCountryCode); n != "" {
			return n
		}
	}
	return ""
}
