package relay

import (
	"net/url"
	"strings"
)

// NormalizeURL implements spec.md §3's Relay URL normalization: lowercase
// scheme and host, strip the default port for the scheme, strip a trailing
// slash from an otherwise-empty path. Malformed input is returned unchanged
// so callers can still surface a clear error later rather than silently
// dropping it here.
func NormalizeURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return raw
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)

	if port := u.Port(); port != "" {
		if (u.Scheme == "wss" && port == "443") || (u.Scheme == "ws" && port == "80") {
			u.Host = u.Hostname()
		}
	}
	if u.Path == "/" {
		u.Path = ""
	}
	return u.String()
}

// NormalizeURLs applies NormalizeURL to every entry, deduplicating while
// preserving first-seen order.
func NormalizeURLs(raw []string) []string {
	seen := make(map[string]bool, len(raw))
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		n := NormalizeURL(r)
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	return out
}
