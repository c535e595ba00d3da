// Package redact strips credentials and other sensitive fragments from
// strings before they reach logs or clients: connection strings, API keys,
// bearer and query tokens, signed URL parameters, file paths and SQL.
package redact

import "regexp"

// Placeholders substituted for redacted fragments.
const (
	RedactionPlaceholder          = "[REDACTED]"
	RedactedPathPlaceholder       = "[REDACTED_PATH]"
	RedactedCredentialPlaceholder = "[REDACTED_CREDENTIAL]"
	RedactedKeyPlaceholder        = "[REDACTED_KEY]"
	RedactedJWTPlaceholder        = "[REDACTED_JWT]"
	RedactedSQLPlaceholder        = "[REDACTED_SQL]"
)

type rule struct {
	re          *regexp.Regexp
	replacement string
}

// Order matters: URL and token rules run before the generic path rule so a
// credential inside a URL is not half-eaten first.
var rules = []rule{
	// userinfo in postgres:// and redis:// URLs
	{regexp.MustCompile(`(?i)\b(postgres(?:ql)?|rediss?|mysql|mongodb)://[^@\s/]+@`), "$1://" + RedactedCredentialPlaceholder + "@"},
	// Google API keys
	{regexp.MustCompile(`AIza[0-9A-Za-z_\-]{35}`), RedactedKeyPlaceholder},
	// JWTs anywhere, including Authorization headers and access_token params
	{regexp.MustCompile(`eyJ[a-zA-Z0-9_-]+\.eyJ[a-zA-Z0-9_-]+\.[a-zA-Z0-9_-]+`), RedactedJWTPlaceholder},
	{regexp.MustCompile(`(?i)\b(bearer)\s+[A-Za-z0-9_\-.~+/=]{8,}`), "$1 " + RedactionPlaceholder},
	// signed URL and token query parameters
	{regexp.MustCompile(`(?i)([?&](?:access_token|token|key|x-goog-signature|x-amz-signature|signature|sig)=)[^&\s"']+`), "${1}" + RedactionPlaceholder},
	// key=value style secrets
	{regexp.MustCompile(`(?i)\b(password|passwd|pwd|secret|api[_-]?key)(\s*[=:]\s*['"]?)[^'"&\s,]{3,}`), "$1$2" + RedactedCredentialPlaceholder},
	// SQL statements
	{regexp.MustCompile(`(?i)\b(SELECT|INSERT|UPDATE|DELETE)\b[\s\w,*()$='".]+?\b(FROM|INTO|SET)\b[\s\w,*()$='".]*`), RedactedSQLPlaceholder},
	// absolute unix paths with at least two segments
	{regexp.MustCompile(`(?:^|\s)(/[\w.-]+){2,}`), " " + RedactedPathPlaceholder},
}

// String redacts sensitive information from s.
func String(s string) string {
	if s == "" {
		return s
	}
	for _, r := range rules {
		s = r.re.ReplaceAllString(s, r.replacement)
	}
	return s
}

// Error redacts sensitive information from an error's Error() output.
func Error(err error) string {
	if err == nil {
		return ""
	}
	return String(err.Error())
}
