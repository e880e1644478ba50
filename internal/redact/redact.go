// Package redact removes credentials from strings before they are logged or
// persisted as user-visible error messages. Model SDK and driver errors can
// echo request URLs, connection strings or keys verbatim.
package redact

import "regexp"

// Redaction placeholders
const (
	RedactedCredentialPlaceholder = "[REDACTED_CREDENTIAL]"
	RedactedKeyPlaceholder        = "[REDACTED_KEY]"
)

var (
	// Database and broker connection strings with userinfo
	connRegex = regexp.MustCompile(`(?i)(postgres|postgresql|redis|rediss|mysql|mongodb)://[^@\s]+@`)

	passwordRegex = regexp.MustCompile(`(?i)(password|passwd|pwd)([=:\s]?['"]?)[^'"&\s]{3,}`)

	// key=..., api_key: ..., x-goog-api-key ... as found in URLs and headers
	apiKeyRegex = regexp.MustCompile(
		`(?i)(api[_-]?key|x-goog-api-key|token|secret|key)(['"\s:=]+)[A-Za-z0-9_\-.~+/]{8,}`,
	)

	// Google API keys appear bare in some SDK errors.
	googleKeyRegex = regexp.MustCompile(`AIza[0-9A-Za-z_\-]{35}`)

	bearerRegex = regexp.MustCompile(`(?i)bearer\s+[A-Za-z0-9_\-.~+/=]{8,}`)

	patterns = []struct {
		re          *regexp.Regexp
		placeholder string
	}{
		{connRegex, RedactedCredentialPlaceholder},
		{passwordRegex, RedactedCredentialPlaceholder},
		{bearerRegex, RedactedCredentialPlaceholder},
		{googleKeyRegex, RedactedKeyPlaceholder},
		{apiKeyRegex, RedactedKeyPlaceholder},
	}
)

// String redacts credentials from input.
func String(input string) string {
	if input == "" {
		return input
	}
	result := input
	for _, p := range patterns {
		result = p.re.ReplaceAllString(result, p.placeholder)
	}
	return result
}

// Error redacts credentials from an error's Error() output.
func Error(err error) string {
	if err == nil {
		return ""
	}
	return String(err.Error())
}
