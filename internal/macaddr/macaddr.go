// Package macaddr приводит MAC-адреса к каноническому виду:
// нижний регистр, только hex-цифры, без разделителей.
package macaddr

import "strings"

const (
	eui48Len = 12
	eui64Len = 16
)

func isSeparator(r rune) bool {
	switch r {
	case ':', '-', '.', ' ', '\t':
		return true
	}
	return false
}

// Strip убирает разделители и пробелы, приводит к нижнему регистру. Без проверки формата.
func Strip(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range strings.TrimSpace(s) {
		if isSeparator(r) {
			continue
		}
		b.WriteRune(r)
	}
	return strings.ToLower(b.String())
}

// IsHex — непустая строка только из [0-9a-fA-F].
func IsHex(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= '0' && c <= '9', c >= 'a' && c <= 'f', c >= 'A' && c <= 'F':
		default:
			return false
		}
	}
	return true
}

// Canonical возвращает канонический MAC, если вход похож на EUI-48 или EUI-64
// ("AA:BB:CC:11:22:33", "aabb-cc11-2233", "aabbcc112233" и т.п.).
func Canonical(s string) (string, bool) {
	c := Strip(s)
	if len(c) != eui48Len && len(c) != eui64Len {
		return "", false
	}
	if !IsHex(c) {
		return "", false
	}
	return c, true
}

// Format печатает канонический MAC парами через двоеточие (для логов и UI).
func Format(canonical string) string {
	if len(canonical)%2 != 0 {
		return canonical
	}
	parts := make([]string, 0, len(canonical)/2)
	for i := 0; i < len(canonical); i += 2 {
		parts = append(parts, canonical[i:i+2])
	}
	return strings.Join(parts, ":")
}
