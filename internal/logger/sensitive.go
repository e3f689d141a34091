package logger

import (
	"net/url"
	"regexp"
	"strings"
)

const redacted = "[REDACTED]"

// SensitiveDataPatterns match credentials embedded in free text
var SensitiveDataPatterns = []*regexp.Regexp{
	// Authorization: Token token=...  (NYPL style)
	regexp.MustCompile(`(?i)(token\s+token=)"?([^;,\s"]+)"?`),
	regexp.MustCompile(`(?i)(bearer\s+)([A-Za-z0-9-._~+/]+=*)`),
	// key=value pairs in query strings and config dumps
	regexp.MustCompile(`(?i)((?:api_key|apikey|wskey|key|token|secret|password)=)([^&;,\s"]+)`),
}

// SensitiveQueryParams are query parameter names whose values are never logged
var SensitiveQueryParams = []string{"api_key", "apikey", "key", "wskey", "token", "consumer_key", "secret"}

// RedactSensitiveData replaces credential values in s with "[REDACTED]"
func RedactSensitiveData(s string) string {
	if s == "" {
		return s
	}
	for _, pattern := range SensitiveDataPatterns {
		s = pattern.ReplaceAllString(s, "${1}"+redacted)
	}
	return s
}

// RedactURL returns rawURL with sensitive query parameter values replaced.
// Unparseable input falls back to pattern based redaction.
func RedactURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return RedactSensitiveData(rawURL)
	}

	q := u.Query()
	changed := false
	for name := range q {
		lower := strings.ToLower(name)
		for _, sensitive := range SensitiveQueryParams {
			if lower == sensitive {
				q.Set(name, redacted)
				changed = true
				break
			}
		}
	}
	if u.User != nil {
		u.User = url.User(u.User.Username())
		changed = true
	}
	if !changed {
		return rawURL
	}
	u.RawQuery = q.Encode()
	return u.String()
}
