package ratelimit

import (
	"net"
	"net/http"
	"strings"
)

// ClientAddr derives the caller address used for address-keyed limits.
//
// With trustForwarded set, the first X-Forwarded-For entry wins when it
// parses as an IP, then X-Real-IP. Only enable it behind a proxy that
// overwrites these headers; otherwise clients can pick their own key.
func ClientAddr(r *http.Request, trustForwarded bool) string {
	if trustForwarded {
		if xff := strings.TrimSpace(r.Header.Get("X-Forwarded-For")); xff != "" {
			first := strings.TrimSpace(strings.Split(xff, ",")[0])
			if net.ParseIP(first) != nil {
				return first
			}
		}
		if realIP := strings.TrimSpace(r.Header.Get("X-Real-IP")); net.ParseIP(realIP) != nil {
			return realIP
		}
	}

	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err != nil {
		return strings.TrimSpace(r.RemoteAddr)
	}
	return host
}
