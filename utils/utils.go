// Package utils provides utility functions for the application.
package utils

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

func ToPtr[T any](v T) *T {
	return &v
}

func IsTrue(b *bool) bool {
	return b != nil && *b
}

// Capitalize upper-cases the first rune of s and lower-cases the rest
func Capitalize(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return s
	}
	r, size := utf8.DecodeRuneInString(s)
	return string(unicode.ToUpper(r)) + strings.ToLower(s[size:])
}

// NormalizeItems trims every entry and drops blanks, preserving order
func NormalizeItems(items []string) []string {
	out := make([]string, 0, len(items))
	for _, it := range items {
		if trimmed := strings.TrimSpace(it); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
