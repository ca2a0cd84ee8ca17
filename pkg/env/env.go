package env

import (
	"os"
	"strings"
)

const prefix = "PAYMENTS_"

// Get returns the value of the given environment variable or a fallback. The
// PAYMENTS_-prefixed form of the key wins over the bare key when both are set.
func Get(key, fallback string) string {
	if val := strings.TrimSpace(os.Getenv(prefix + key)); val != "" {
		return val
	}
	if val := strings.TrimSpace(os.Getenv(key)); val != "" {
		return val
	}
	return fallback
}
