package logging

import (
	"regexp"
)

const (
	// MaxQueryLogLength is the maximum length of a SQL statement to log.
	MaxQueryLogLength = 200
	// MaxTermLogLength is the maximum length of a caller-supplied search
	// term or filter value to log.
	MaxTermLogLength = 64
	// RedactedText is the replacement text for sensitive data.
	RedactedText = "[REDACTED]"
)

var (
	// Matches credentials embedded in paths or DSNs handed to ingestion
	// (password=xxx, pwd=xxx, pass=xxx up to the next delimiter).
	passwordPattern = regexp.MustCompile(`(?i)(password|pwd|pass)=[^;&'\s]+`)

	// Matches user:pass@host credentials in URI form.
	connStringPattern = regexp.MustCompile(`://[^:/\s]+:[^@\s]+@[^/\s]+`)
)

// SanitizeQuery truncates and sanitizes a SQL statement for logging.
func SanitizeQuery(query string) string {
	if query == "" {
		return ""
	}
	sanitized := passwordPattern.ReplaceAllString(query, "${1}="+RedactedText)
	return TruncateString(sanitized, MaxQueryLogLength)
}

// SanitizeTerm bounds a caller-supplied search term or filter value before
// it reaches the log. Terms are customer-identifying, so only a prefix is
// kept.
func SanitizeTerm(term string) string {
	return TruncateString(term, MaxTermLogLength)
}

// SanitizeError removes credential-shaped substrings from an error message.
func SanitizeError(err error) string {
	if err == nil {
		return ""
	}
	sanitized := passwordPattern.ReplaceAllString(err.Error(), "${1}="+RedactedText)
	sanitized = connStringPattern.ReplaceAllString(sanitized, "://"+RedactedText+"@"+RedactedText)
	return sanitized
}

// TruncateString truncates a string to maxLen and adds ellipsis if needed.
func TruncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
