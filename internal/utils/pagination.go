// Package utils holds small helpers shared by the HTTP layer for parsing
// query parameters.
package utils

import (
	"strconv"
	"strings"
)

// AtoiDefault parses s as an int, returning def when s is empty or invalid.
func AtoiDefault(s string, def int) int {
	if s == "" {
		return def
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	return def
}

// ClampInt bounds n to [lo, hi].
func ClampInt(n, lo, hi int) int {
	if n < lo {
		return lo
	}
	if n > hi {
		return hi
	}
	return n
}

// ParseBoolPtr parses an optional boolean query value. Empty yields nil;
// anything other than true/false (and 1/0) is reported as !ok.
func ParseBoolPtr(s string) (v *bool, ok bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, true
	}
	b, err := strconv.ParseBool(s)
	if err != nil {
		return nil, false
	}
	return &b, true
}
