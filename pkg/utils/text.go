// Package utils holds small helpers shared across packages: logger
// construction, vector math, and log-field truncation.
package utils

// Truncate shortens s to at most max bytes, marking the cut with "...".
// A non-positive max disables truncation.
func Truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
