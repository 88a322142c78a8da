package security

import (
	"net/url"
	"regexp"
)

// mask matches what url.URL.Redacted substitutes.
const mask = "xxxxx"

// keyword DSNs: "host=db user=chan password=secret dbname=chanlun"
var passwordPattern = regexp.MustCompile(`(?i)(password\s*=\s*)('[^']*'|[^\s]+)`)

// MaskDSN hides the password of a PostgreSQL or Redis connection string.
// Both URL and keyword forms are handled.
func MaskDSN(dsn string) string {
	if dsn == "" {
		return ""
	}
	if u, err := url.Parse(dsn); err == nil && u.Scheme != "" && u.Host != "" {
		q := u.Query()
		if q.Has("password") {
			q.Set("password", mask)
			u.RawQuery = q.Encode()
		}
		return u.Redacted()
	}
	return passwordPattern.ReplaceAllString(dsn, "${1}"+mask)
}

// MaskSecret keeps the first and last two characters of a secret.
func MaskSecret(s string) string {
	if len(s) <= 6 {
		return mask
	}
	return s[:2] + mask + s[len(s)-2:]
}
