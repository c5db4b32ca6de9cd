// Package utils provides shared utilities for text, math, and logging.
package utils

import "strings"

// Truncate returns s truncated to maxLen characters, with "..." appended if truncated.
// If maxLen is 0 or negative, returns s unchanged.
func Truncate(s string, maxLen int) string {
	if maxLen <= 0 || len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}

// HumanizeName turns an identifier-like string ("glen_moray-12yo") into a display
// name ("glen moray 12yo"): underscores and hyphens become spaces, runs of whitespace collapse.
func HumanizeName(s string) string {
	s = strings.NewReplacer("_", " ", "-", " ").Replace(s)
	return strings.Join(strings.Fields(s), " ")
}
