package ws

import (
	"net"
	"net/http"
	"net/url"
	"strings"
)

// IsOriginAllowed validates r.Header["Origin"] against an allow-list.
//
// Allowed entries support:
//   - Full Origin values with scheme, e.g. "https://example.com" or "http://127.0.0.1:5173"
//   - Hostnames, e.g. "example.com" (any port)
//   - host:port entries, e.g. "example.com:5173"
//   - Wildcard hostnames, e.g. "*.example.com" (subdomains only)
//   - Exact non-standard Origin values, e.g. "null"
//
// Hostname comparison is case-insensitive. If the request has no Origin
// header, allowNoOrigin controls acceptance.
func IsOriginAllowed(r *http.Request, allowed []string, allowNoOrigin bool) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return allowNoOrigin
	}
	parsed, err := url.Parse(origin)
	host := ""
	hostname := ""
	if err == nil {
		host = strings.ToLower(parsed.Host)
		hostname = strings.ToLower(parsed.Hostname())
	}
	for _, entry := range allowed {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		// An entry with a scheme is a full Origin value match.
		if strings.Contains(entry, "://") {
			if origin == entry {
				return true
			}
			continue
		}
		entryLower := strings.ToLower(entry)
		// "*.example.com" matches subdomains, not the bare hostname.
		if strings.HasPrefix(entryLower, "*.") {
			base := strings.TrimPrefix(entryLower, "*.")
			if hostname != "" && base != "" && strings.HasSuffix(hostname, "."+base) {
				return true
			}
			continue
		}
		// host:port entries compare against the parsed Host, so an explicit
		// port allow-list stays distinct from hostname-only entries.
		if host != "" {
			if _, _, err := net.SplitHostPort(entryLower); err == nil {
				if host == entryLower {
					return true
				}
				continue
			}
		}
		if hostname != "" && hostname == entryLower {
			return true
		}
		// Exact string match covers non-standard Origin values like "null".
		if origin == entry {
			return true
		}
	}
	return false
}

// IsLoopbackOrigin reports whether the Origin points at localhost or a
// loopback address, on any port. Local development origins pass regardless
// of the allow-list.
func IsLoopbackOrigin(origin string) bool {
	parsed, err := url.Parse(origin)
	if err != nil {
		return false
	}
	hostname := strings.ToLower(parsed.Hostname())
	if hostname == "localhost" {
		return true
	}
	if ip := net.ParseIP(hostname); ip != nil {
		return ip.IsLoopback()
	}
	return false
}

// NewOriginChecker returns a websocket upgrader CheckOrigin function.
// Loopback origins are always accepted.
func NewOriginChecker(allowed []string, allowNoOrigin bool) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		if origin := r.Header.Get("Origin"); origin != "" && IsLoopbackOrigin(origin) {
			return true
		}
		return IsOriginAllowed(r, allowed, allowNoOrigin)
	}
}
