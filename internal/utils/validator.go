package utils

import (
	"regexp"
	"strings"
)

var (
	merchantIDRegex = regexp.MustCompile(`^[A-Za-z0-9_-]{1,128}$`)
	providerRegex   = regexp.MustCompile(`^[a-z][a-z0-9_-]{0,31}$`)
)

// ValidateMerchantID validates a merchant identifier
func ValidateMerchantID(id string) bool {
	return merchantIDRegex.MatchString(id)
}

// ValidateProviderName validates a provider tag
func ValidateProviderName(name string) bool {
	return providerRegex.MatchString(name)
}

// NormalizeProviderName lowercases and trims a provider tag taken from a URL
func NormalizeProviderName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// MaskSecret keeps the first and last four characters of s for diagnostics
func MaskSecret(s string) string {
	if len(s) <= 8 {
		return strings.Repeat("*", len(s))
	}
	return s[:4] + strings.Repeat("*", len(s)-8) + s[len(s)-4:]
}
