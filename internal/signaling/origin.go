package signaling

import (
	"net/http"
	"net/url"
	"strings"
)

// originAllowed decides whether a websocket upgrade may proceed based on the
// browser Origin header.
//
// With a non-empty allow list, each entry must be "*" or an origin of the
// form scheme://host[:port]. With an empty list the policy is same-host
// only: the Origin host[:port] must match the request Host header. Scheme is
// deliberately not compared against the request, since a TLS-terminating
// proxy in front of the server makes the request look like plain HTTP while
// the browser Origin stays HTTPS.
func originAllowed(r *http.Request, allowedOrigins []string) bool {
	header := strings.TrimSpace(r.Header.Get("Origin"))
	if header == "" {
		// Non-browser clients send no Origin; there is nothing to enforce.
		return true
	}

	origin, host, ok := normalizeOrigin(header)
	if !ok {
		return false
	}

	if len(allowedOrigins) > 0 {
		for _, allowed := range allowedOrigins {
			if allowed == "*" || allowed == origin {
				return true
			}
		}
		return false
	}

	if host == "" {
		// The "null" origin never matches a host-based policy.
		return false
	}
	scheme := origin[:strings.Index(origin, ":")]
	reqHost, ok := normalizeHostPort(strings.ToLower(strings.TrimSpace(r.Host)), scheme)
	return ok && host == reqHost
}

// normalizeOrigin canonicalizes an Origin header value to
// scheme://host[:port] with the default port elided. The special value
// "null" is accepted and returned as-is with an empty host.
func normalizeOrigin(header string) (origin, host string, ok bool) {
	if header == "null" {
		return "null", "", true
	}

	u, err := url.Parse(header)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", "", false
	}
	if u.User != nil || u.RawQuery != "" || u.Fragment != "" {
		return "", "", false
	}
	if u.Path != "" && u.Path != "/" {
		return "", "", false
	}

	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", "", false
	}

	host, ok = normalizeHostPort(strings.ToLower(u.Host), scheme)
	if !ok {
		return "", "", false
	}
	return scheme + "://" + host, host, true
}

// normalizeHostPort lowercases a host[:port] authority and drops the port
// when it is the scheme's default.
func normalizeHostPort(authority, scheme string) (string, bool) {
	hostname, port := authority, ""
	if strings.HasPrefix(authority, "[") {
		end := strings.IndexByte(authority, ']')
		if end < 0 {
			return "", false
		}
		rest := authority[end+1:]
		hostname = authority[:end+1]
		if rest != "" {
			if !strings.HasPrefix(rest, ":") || len(rest) == 1 {
				return "", false
			}
			port = rest[1:]
		}
	} else if i := strings.IndexByte(authority, ':'); i >= 0 {
		hostname, port = authority[:i], authority[i+1:]
		if hostname == "" || port == "" || strings.Contains(port, ":") {
			return "", false
		}
	}
	if hostname == "" {
		return "", false
	}

	if (scheme == "http" && port == "80") || (scheme == "https" && port == "443") {
		port = ""
	}
	if port == "" {
		return hostname, true
	}
	return hostname + ":" + port, true
}
