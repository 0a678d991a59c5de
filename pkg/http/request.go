package http

import (
	"net"
	"net/http"
	"net/netip"
	"strings"
)

// IPConfig lists the proxies (CIDR ranges) allowed to set forwarding headers
type IPConfig struct {
	TrustedProxies []string
}

// trusts reports whether peer falls inside a configured proxy range. Unparsable ranges are skipped.
func (c *IPConfig) trusts(peer netip.Addr) bool {
	if c == nil || !peer.IsValid() {
		return false
	}
	for _, cidr := range c.TrustedProxies {
		prefix, err := netip.ParsePrefix(strings.TrimSpace(cidr))
		if err != nil {
			continue
		}
		if prefix.Contains(peer) {
			return true
		}
	}
	return false
}

// ExtractClientIP returns the address a request should be attributed to. Forwarding headers are
// honoured only when the peer is a trusted proxy; otherwise the peer address wins, so a direct
// client cannot spoof its IP.
func ExtractClientIP(r *http.Request, config *IPConfig) string {
	peer, raw := remoteAddr(r)

	if config.trusts(peer) {
		for _, hop := range strings.Split(r.Header.Get("X-Forwarded-For"), ",") {
			if addr, err := netip.ParseAddr(strings.TrimSpace(hop)); err == nil {
				return addr.String()
			}
		}
		if addr, err := netip.ParseAddr(strings.TrimSpace(r.Header.Get("X-Real-IP"))); err == nil {
			return addr.String()
		}
	}

	return raw
}

// ForwardedIP returns the client address a request claims through X-Forwarded-For (first hop)
// or X-Real-IP, without checking the peer. Empty when neither header is set.
func ForwardedIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if first = strings.TrimSpace(first); first != "" {
			return first
		}
	}
	return strings.TrimSpace(r.Header.Get("X-Real-IP"))
}

// remoteAddr splits the port off RemoteAddr. raw is the host part as written, or "unknown".
func remoteAddr(r *http.Request) (netip.Addr, string) {
	if r.RemoteAddr == "" {
		return netip.Addr{}, "unknown"
	}

	host := r.RemoteAddr
	if h, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		host = h
	}

	addr, err := netip.ParseAddr(host)
	if err != nil {
		return netip.Addr{}, host
	}
	return addr.Unmap(), host
}
