package hydrate

import (
	"net"
	"net/http"
	"strings"
)

// ResolveClientIP picks the client address for a request.
//
// The rule, exactly: prefer the connection peer address (RemoteAddr with
// the port stripped). If that address is private or loopback — meaning the
// engine sits behind a proxy or load balancer — fall back to the leftmost
// non-private entry of the X-Forwarded-For chain. If every forwarded entry
// is private too, the peer address stands.
func ResolveClientIP(r *http.Request) string {
	peer := stripPort(r.RemoteAddr)

	if peer != "" && !IsPrivate(peer) && !IsLoopback(peer) {
		return peer
	}

	for _, entry := range strings.Split(r.Header.Get("X-Forwarded-For"), ",") {
		candidate := strings.TrimSpace(entry)
		if candidate == "" {
			continue
		}
		if !IsPrivate(candidate) && !IsLoopback(candidate) {
			return candidate
		}
	}

	return peer
}

func stripPort(addr string) string {
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}

// IsLoopback reports whether the address parses and is loopback.
func IsLoopback(addr string) bool {
	ip := net.ParseIP(addr)
	return ip != nil && ip.IsLoopback()
}

// IsPrivate reports whether the address parses and is RFC1918/ULA private
// or link-local.
func IsPrivate(addr string) bool {
	ip := net.ParseIP(addr)
	return ip != nil && (ip.IsPrivate() || ip.IsLinkLocalUnicast())
}
