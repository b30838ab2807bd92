// Package logging scrubs credentials and bounds the size of values written to logs.
package logging

import (
	"regexp"
	"strings"
)

const (
	// MaxQueryLogLength is the maximum number of characters of SQL written to a log line.
	MaxQueryLogLength = 500
	// MaxQuestionLogLength is the maximum number of characters of a user question written to a log line.
	MaxQuestionLogLength = 200
	// RedactedText is the replacement text for sensitive data
	RedactedText = "[REDACTED]"
)

var (
	// key=value secrets in DSNs and ADO-style SQL Server connection strings,
	// e.g. password=x, Pwd=x, client secret=x, client_secret=x
	secretPattern = regexp.MustCompile(`(?i)(password|pwd|pass|client[ _]?secret)\s*=\s*[^;&\s]+`)

	bearerPattern = regexp.MustCompile(`(?i)Bearer\s+[A-Za-z0-9-_]+\.[A-Za-z0-9-_]+\.[A-Za-z0-9-_]*`)

	apiKeyPattern = regexp.MustCompile(`(?i)(api[_-]?key|apikey|x-api-key|key)\s*[=:]\s*[A-Za-z0-9-_]{20,}`)

	// OpenAI and Anthropic style secret keys
	providerKeyPattern = regexp.MustCompile(`\bsk-[A-Za-z0-9-_]{16,}`)

	// user:pass@host in URL DSNs (postgres://, sqlserver://, azuresql://)
	urlCredentialPattern = regexp.MustCompile(`://[^:/\s]+:[^@\s]+@`)

	whitespacePattern = regexp.MustCompile(`\s+`)
)

func redactSecrets(s string) string {
	s = secretPattern.ReplaceAllString(s, "${1}="+RedactedText)
	s = bearerPattern.ReplaceAllString(s, "Bearer "+RedactedText)
	s = apiKeyPattern.ReplaceAllString(s, "${1}="+RedactedText)
	s = providerKeyPattern.ReplaceAllString(s, RedactedText)
	return urlCredentialPattern.ReplaceAllString(s, "://"+RedactedText+"@")
}

// SanitizeConnectionString removes credentials from a DSN before it is logged.
func SanitizeConnectionString(connStr string) string {
	if connStr == "" {
		return ""
	}
	return redactSecrets(connStr)
}

// SanitizeError renders err with credentials removed. Driver and provider errors
// sometimes echo the DSN or request headers.
func SanitizeError(err error) string {
	if err == nil {
		return ""
	}
	return redactSecrets(err.Error())
}

// SanitizeQuery collapses whitespace in generated SQL, removes credential patterns
// and truncates the result to MaxQueryLogLength characters.
func SanitizeQuery(query string) string {
	if query == "" {
		return ""
	}
	sanitized := strings.TrimSpace(whitespacePattern.ReplaceAllString(query, " "))
	return TruncateString(redactSecrets(sanitized), MaxQueryLogLength)
}

// SanitizeQuestion bounds a user's question for logging. Line breaks are flattened
// so one question stays on one log line.
func SanitizeQuestion(question string) string {
	flattened := strings.TrimSpace(whitespacePattern.ReplaceAllString(question, " "))
	return TruncateString(redactSecrets(flattened), MaxQuestionLogLength)
}

// TruncateString truncates s to maxLen characters and adds an ellipsis if needed.
// It never splits a multi-byte character.
func TruncateString(s string, maxLen int) string {
	if maxLen < 0 {
		maxLen = 0
	}
	if len(s) <= maxLen {
		return s
	}
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen]) + "..."
}
