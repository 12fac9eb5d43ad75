package logging

import (
	"regexp"
)

const (
	// MaxPromptLogLength is the maximum length of prompt text to log
	MaxPromptLogLength = 200
	// RedactedText is the replacement text for sensitive data
	RedactedText = "[REDACTED]"
)

var (
	// Pattern to match potential API keys in URLs or error messages
	apiKeyPattern = regexp.MustCompile(`(?i)(api[_-]?key|apikey|key|token)=[A-Za-z0-9-_]{16,}`)

	// Pattern to match bearer tokens in headers echoed back by providers
	bearerPattern = regexp.MustCompile(`Bearer\s+[A-Za-z0-9-_.]+`)

	// Pattern to match credentials embedded in endpoint URLs (user:pass@host)
	credURLPattern = regexp.MustCompile(`://[^:/\s]+:[^@\s]+@[^/\s]+`)
)

// SanitizeError sanitizes error messages that might contain sensitive data.
// Provider errors can echo back request headers or the endpoint URL, so run
// every provider error through this before logging.
func SanitizeError(err error) string {
	if err == nil {
		return ""
	}

	sanitized := apiKeyPattern.ReplaceAllString(err.Error(), "${1}="+RedactedText)
	sanitized = bearerPattern.ReplaceAllString(sanitized, "Bearer "+RedactedText)
	sanitized = credURLPattern.ReplaceAllString(sanitized, "://"+RedactedText+"@"+RedactedText)

	return sanitized
}

// SanitizePrompt truncates prompt text for logging. Prompts carry the user's
// profile and job posting text, so only a short prefix is ever logged.
func SanitizePrompt(prompt string) string {
	return TruncateString(prompt, MaxPromptLogLength)
}

// TruncateString truncates a string to maxLen and adds ellipsis if needed
func TruncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
