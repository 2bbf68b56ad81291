// Package redact masks secret-shaped substrings in text destined for logs,
// persisted audit rows, or HTTP responses. Redaction is mandatory before an
// error payload leaves the process boundary, not optional hygiene.
package redact

import "regexp"

// Mask replaces every matched secret.
const Mask = "[REDACTED]"

var patterns = []*regexp.Regexp{
	// Bearer tokens in headers or auth strings.
	regexp.MustCompile(`(?i)(bearer\s+)[A-Za-z0-9._~+/!*$-]+=*`),
	// JSON string fields: "refresh_token":"...", "access_token":"...", etc.
	regexp.MustCompile(`(?i)("(?:refresh_token|access_token|password|secret|client_secret)"\s*:\s*")[^"]*(")`),
	// Form-encoded pairs: refresh_token=..., access_token=..., etc.
	regexp.MustCompile(`(?i)\b((?:refresh_token|access_token|password|secret|client_secret)=)[^&\s"']+`),
}

var replacements = []string{
	"${1}" + Mask,
	"${1}" + Mask + "${2}",
	"${1}" + Mask,
}

// String returns s with every secret-shaped substring replaced by Mask.
func String(s string) string {
	for i, p := range patterns {
		s = p.ReplaceAllString(s, replacements[i])
	}
	return s
}

// Error redacts err's message; a nil error yields an empty string.
func Error(err error) string {
	if err == nil {
		return ""
	}
	return String(err.Error())
}
