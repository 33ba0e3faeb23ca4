// Package security masks secrets before they reach logs.
package security

import (
	"net/url"
	"regexp"
	"strings"
)

const redacted = "***REDACTED***"

var (
	jwtPattern        = regexp.MustCompile(`eyJ[a-zA-Z0-9_-]*\.eyJ[a-zA-Z0-9_-]*\.[a-zA-Z0-9_-]*`)
	apiKeyPattern     = regexp.MustCompile(`(?i)(api[_-]?key|apikey|secret|token|password|auth)["\s:=]+["']?([a-zA-Z0-9_:-]{16,})["']?`)
	privateKeyPattern = regexp.MustCompile(`\b(0x)?[a-fA-F0-9]{64}\b`)

	// Path segments of this length or longer are treated as provider keys,
	// e.g. https://eth-sepolia.g.alchemy.com/v2/<key>
	minKeySegment = 20
)

// MaskString redacts tokens, API keys and 32-byte hex secrets in s
func MaskString(s string) string {
	s = jwtPattern.ReplaceAllString(s, "eyJ"+redacted)
	s = apiKeyPattern.ReplaceAllString(s, "$1: "+redacted)
	s = privateKeyPattern.ReplaceAllString(s, redacted)
	return s
}

// MaskAPIKey keeps the first and last four characters of a key
func MaskAPIKey(key string) string {
	if key == "" {
		return ""
	}
	if len(key) <= 8 {
		return strings.Repeat("*", len(key))
	}
	return key[:4] + strings.Repeat("*", len(key)-8) + key[len(key)-4:]
}

// MaskURL strips credentials, query values and key-like path segments from
// an RPC or API endpoint
func MaskURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return MaskString(raw)
	}

	if u.User != nil {
		u.User = url.User(redacted)
	}

	if u.RawQuery != "" {
		q := u.Query()
		for k := range q {
			q.Set(k, redacted)
		}
		u.RawQuery = q.Encode()
	}

	segments := strings.Split(u.Path, "/")
	for i, seg := range segments {
		if len(seg) >= minKeySegment {
			segments[i] = MaskAPIKey(seg)
		}
	}
	u.Path = strings.Join(segments, "/")
	u.RawPath = ""

	out, err := url.PathUnescape(u.String())
	if err != nil {
		return u.String()
	}
	return out
}
