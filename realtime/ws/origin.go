package ws

import (
	"net"
	"net/http"
	"net/url"
	"strings"
)

// IsOriginAllowed checks the Origin header of an incoming upgrade request
// against config.Config's AllowedOrigins list. An entry may be:
//
//   - a full origin, e.g. "https://app.example.com:5173"
//   - a bare hostname, e.g. "example.com" (matches any port)
//   - a host:port pair, e.g. "example.com:5173" (matches that port only)
//   - a wildcard hostname, e.g. "*.example.com" (subdomains only, not the
//     apex domain itself)
//   - a literal non-URL value such as "null", matched verbatim
//
// A request with no Origin header (same-origin requests, non-browser
// clients) is accepted only when allowNoOrigin is set.
func IsOriginAllowed(r *http.Request, allowed []string, allowNoOrigin bool) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return allowNoOrigin
	}
	parsed, err := url.Parse(origin)
	var host, hostname string
	if err == nil {
		host = parsed.Host
		hostname = parsed.Hostname()
	}
	for _, raw := range allowed {
		entry := strings.TrimSpace(raw)
		if entry == "" {
			continue
		}
		if originEntryMatches(entry, origin, host, hostname) {
			return true
		}
	}
	return false
}

func originEntryMatches(entry, origin, host, hostname string) bool {
	switch {
	case strings.Contains(entry, "://"):
		// A full scheme://host[:port] entry must match the Origin exactly.
		return origin == entry
	case strings.HasPrefix(entry, "*."):
		base := strings.TrimPrefix(entry, "*.")
		if hostname == "" || base == "" {
			return false
		}
		return strings.HasSuffix(strings.ToLower(hostname), "."+strings.ToLower(base))
	default:
		if host != "" {
			if _, _, err := net.SplitHostPort(entry); err == nil {
				// entry has an explicit port; only a matching host:port counts.
				return strings.EqualFold(host, entry)
			}
		}
		return (hostname != "" && strings.EqualFold(hostname, entry)) || origin == entry
	}
}

// NewOriginChecker adapts IsOriginAllowed into the CheckOrigin hook
// UpgraderOptions expects.
func NewOriginChecker(allowed []string, allowNoOrigin bool) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		return IsOriginAllowed(r, allowed, allowNoOrigin)
	}
}
