// Package normalize canonicalizes user-supplied identifiers.
package normalize

import "strings"

// Email trims surrounding whitespace and lower-cases the address. It is
// applied to conversation participants only when case folding is enabled.
func Email(e string) string {
	return strings.ToLower(strings.TrimSpace(e))
}

// SameEmail reports whether a and b normalize to the same address.
func SameEmail(a, b string) bool {
	return Email(a) == Email(b)
}
