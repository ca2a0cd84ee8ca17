package outbox

import (
	"fmt"
	"regexp"
	"strings"
)

const (
	maxStoredErrorLen = 1024
	redactedValue     = "[REDACTED]"
)

type redaction struct {
	pattern     *regexp.Regexp
	replacement string
}

var redactions = []redaction{
	{
		pattern:     regexp.MustCompile(`(?i)\b([a-z][a-z0-9+.-]*://[^:\s/]+):([^@\s]+)@`),
		replacement: `$1:` + redactedValue + `@`,
	},
	{
		pattern:     regexp.MustCompile(`(?i)\bbearer\s+[a-z0-9\-._~+/]+=*`),
		replacement: "Bearer " + redactedValue,
	},
	{
		pattern:     regexp.MustCompile(`(?i)\b(password|passwd|pwd|token|secret|api[_-]?key)\s*[:=]\s*([^\s,;&]+)`),
		replacement: `$1=` + redactedValue,
	},
}

// FormatStoredError renders a failure cause as "<type>: <message>" with
// credentials redacted, bounded for the last_error and DLQ columns.
func FormatStoredError(cause error) string {
	if cause == nil {
		return ""
	}
	msg := fmt.Sprintf("%T: %s", cause, redact(strings.TrimSpace(cause.Error())))
	return truncateStoredError(msg)
}

func redact(msg string) string {
	for _, r := range redactions {
		msg = r.pattern.ReplaceAllString(msg, r.replacement)
	}
	return msg
}

func truncateStoredError(message string) string {
	if len(message) <= maxStoredErrorLen {
		return message
	}
	return message[:maxStoredErrorLen]
}
