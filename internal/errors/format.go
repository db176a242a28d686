package errors

import (
	"encoding/json"
	"regexp"
)

// sensitivePatterns matches substrings that must never reach a log line
// or an error surfaced to a caller outside the process.
var sensitivePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(api[_-]?key|apikey)\s*[:=]\s*\S+`),
	regexp.MustCompile(`(?i)bearer\s+[a-z0-9._-]+`),
	regexp.MustCompile(`(?i)(token|secret)\s*[:=]\s*\S+`),
	regexp.MustCompile(`(?i)password\s*[:=]\s*\S+`),
	regexp.MustCompile(`-----BEGIN [A-Z ]*PRIVATE KEY-----[\s\S]*?-----END [A-Z ]*PRIVATE KEY-----`),
	regexp.MustCompile(`(?i)(postgres|mysql|mongodb|redis)://[^:]+:[^@]+@\S+`),
	regexp.MustCompile(`(?i)AKIA[0-9A-Z]{16}`),
	regexp.MustCompile(`[a-z][a-z0-9+.-]*://[^:@/\s]+:[^@/\s]+@\S+`),
}

const redactedPlaceholder = "[REDACTED]"

// Redact replaces any recognized secret-shaped substring in s with a
// placeholder.
func Redact(s string) string {
	out := s
	for _, p := range sensitivePatterns {
		out = p.ReplaceAllString(out, redactedPlaceholder)
	}
	return out
}

// RedactMap redacts every value in m, leaving keys untouched.
func RedactMap(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = Redact(v)
	}
	return out
}

// FormatSafe renders err for a log line or user-facing surface: a
// *ReachError renders via SafeError (structured, no cause chain); any
// other error is redacted.
func FormatSafe(err error) string {
	if err == nil {
		return ""
	}
	if re, ok := err.(*ReachError); ok {
		return re.SafeError()
	}
	return Redact(err.Error())
}

// FormatJSON marshals err as redacted JSON bytes.
func FormatJSON(err error) ([]byte, error) {
	if re, ok := err.(*ReachError); ok {
		return json.Marshal(re)
	}
	return json.Marshal(map[string]string{
		"code":    string(CodeUnknown),
		"message": Redact(err.Error()),
	})
}

// FormatJSONString is FormatJSON rendered as a string, falling back to
// FormatSafe on marshal failure.
func FormatJSONString(err error) string {
	b, marshalErr := FormatJSON(err)
	if marshalErr != nil {
		return FormatSafe(err)
	}
	return string(b)
}

const maxTruncateLen = 4096

// Truncate caps s at maxLen bytes, or the package default if maxLen <= 0.
func Truncate(s string, maxLen int) string {
	if maxLen <= 0 {
		maxLen = maxTruncateLen
	}
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "...[truncated]"
}

var contextKeyPattern = regexp.MustCompile(`[^a-zA-Z0-9_.-]`)

// SanitizeContextKey strips characters that could break structured log
// ingestion from a context map key.
func SanitizeContextKey(key string) string {
	return contextKeyPattern.ReplaceAllString(key, "_")
}
