package guard

import (
	"net"
	"strings"
)

// UnknownIP is used when no client address can be determined.
const UnknownIP = "unknown"

// ClientIdentity is the key under which per-client guard state is tracked.
type ClientIdentity struct {
	IP     string `json:"ip"`
	UserID string `json:"user_id,omitempty"`
}

// RateKey is the key used by the rate limiter.
func (id ClientIdentity) RateKey() string { return id.IP }

// Key is the key used by the CSRF store and brute-force tracker: the user id
// when authenticated, otherwise the address.
func (id ClientIdentity) Key() string {
	if id.UserID != "" {
		return "u:" + id.UserID
	}
	return "ip:" + id.IP
}

// IdentityExtractor derives a ClientIdentity from request metadata.
type IdentityExtractor struct {
	trusted []*net.IPNet
}

// NewIdentityExtractor parses trustedProxies (CIDRs or plain addresses).
// Unparseable entries are ignored.
func NewIdentityExtractor(trustedProxies []string) *IdentityExtractor {
	return &IdentityExtractor{trusted: parseCIDRs(trustedProxies)}
}

// Extract never fails. Without trusted proxies only the remote address is
// used; otherwise the right-most X-Forwarded-For hop that is not a trusted
// proxy wins.
func (e *IdentityExtractor) Extract(remoteAddr, xForwardedFor, userID string) ClientIdentity {
	return ClientIdentity{IP: e.clientIP(remoteAddr, xForwardedFor), UserID: userID}
}

func (e *IdentityExtractor) clientIP(remoteAddr, xff string) string {
	remoteIP := stripPort(strings.TrimSpace(remoteAddr))
	if remoteIP == "" {
		remoteIP = UnknownIP
	}
	if e == nil || len(e.trusted) == 0 || xff == "" {
		return remoteIP
	}
	// Only honour the header when the direct peer is itself trusted.
	if ip := net.ParseIP(remoteIP); ip == nil || !e.isTrusted(ip) {
		return remoteIP
	}

	parts := strings.Split(xff, ",")
	for i := len(parts) - 1; i >= 0; i-- {
		hop := strings.TrimSpace(parts[i])
		ip := net.ParseIP(hop)
		if ip == nil {
			continue
		}
		if !e.isTrusted(ip) {
			return ip.String()
		}
	}
	return remoteIP
}

func (e *IdentityExtractor) isTrusted(ip net.IP) bool {
	for _, n := range e.trusted {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

func stripPort(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return strings.Trim(addr, "[]")
	}
	return host
}

func parseCIDRs(cidrs []string) []*net.IPNet {
	nets := make([]*net.IPNet, 0, len(cidrs))
	for _, c := range cidrs {
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}
		if _, ipNet, err := net.ParseCIDR(c); err == nil {
			nets = append(nets, ipNet)
			continue
		}
		if ip := net.ParseIP(c); ip != nil {
			bits := 128
			if ip.To4() != nil {
				ip = ip.To4()
				bits = 32
			}
			nets = append(nets, &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)})
		}
	}
	return nets
}

// AddressList matches client addresses against a set of CIDRs.
type AddressList struct {
	nets []*net.IPNet
}

// NewAddressList builds a list from CIDRs or plain addresses.
func NewAddressList(entries []string) *AddressList {
	return &AddressList{nets: parseCIDRs(entries)}
}

// Contains reports whether ip falls in the list. Unparseable input never matches.
func (l *AddressList) Contains(ip string) bool {
	if l == nil || len(l.nets) == 0 {
		return false
	}
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return false
	}
	for _, n := range l.nets {
		if n.Contains(parsed) {
			return true
		}
	}
	return false
}

// Len returns the number of parsed entries.
func (l *AddressList) Len() int {
	if l == nil {
		return 0
	}
	return len(l.nets)
}
