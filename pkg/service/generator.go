package service

import (
	"crypto/rand"
	"fmt"
	"regexp"
	"strings"
)

const (
	base62Chars = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
	slugLength  = 7
)

// Largest multiple of len(base62Chars) that fits in a byte; values at or
// above it are rejected so every charset character is equally likely.
const maxUnbiasedByte = byte(256 / len(base62Chars) * len(base62Chars))

var reservedAliases = map[string]bool{
	"api":       true,
	"admin":     true,
	"r":         true,
	"v1":        true,
	"health":    true,
	"dashboard": true,
	"login":     true,
	"settings":  true,
}

var aliasRegex = regexp.MustCompile(`^[a-zA-Z0-9-]{3,32}$`)

// GenerateSlug returns a random 7-character base62 slug drawn uniformly
// over the charset.
func GenerateSlug() (string, error) {
	var result strings.Builder
	buf := make([]byte, 16)
	for result.Len() < slugLength {
		if _, err := rand.Read(buf); err != nil {
			return "", fmt.Errorf("generate slug: %w", err)
		}
		for _, b := range buf {
			if b >= maxUnbiasedByte {
				continue
			}
			result.WriteByte(base62Chars[int(b)%len(base62Chars)])
			if result.Len() == slugLength {
				break
			}
		}
	}
	return result.String(), nil
}

// ValidateAlias checks a custom alias: 3-32 chars, letters, digits and
// hyphens, reserved words blocked.
func ValidateAlias(alias string) bool {
	if reservedAliases[strings.ToLower(alias)] {
		return false
	}
	return aliasRegex.MatchString(alias)
}
