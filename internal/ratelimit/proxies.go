package ratelimit

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"strings"
)

const headerXFF = "X-Forwarded-For"

// Proxies is the set of peers whose X-Forwarded-For entries are believed.
// The zero value trusts nobody, so the direct peer address is the client.
type Proxies []netip.Prefix

// ParseProxies parses CIDR ranges or bare addresses.
func ParseProxies(specs []string) (Proxies, error) {
	var out Proxies
	for _, s := range specs {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if strings.Contains(s, "/") {
			p, err := netip.ParsePrefix(s)
			if err != nil {
				return nil, fmt.Errorf("ratelimit: trusted proxy %q: %w", s, err)
			}
			out = append(out, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(s)
		if err != nil {
			return nil, fmt.Errorf("ratelimit: trusted proxy %q: %w", s, err)
		}
		addr = addr.Unmap()
		out = append(out, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return out, nil
}

func (p Proxies) contains(addr netip.Addr) bool {
	addr = addr.Unmap()
	for _, prefix := range p {
		if prefix.Contains(addr) {
			return true
		}
	}
	return false
}

// ClientAddr returns the address r is attributed to. When the direct peer is
// trusted, X-Forwarded-For is walked from the right and the first entry
// outside the trusted set wins; entries left of it are client-supplied.
func (p Proxies) ClientAddr(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	peer, err := netip.ParseAddr(host)
	if err != nil || len(p) == 0 || !p.contains(peer) {
		return host
	}

	var hops []string
	for _, v := range r.Header.Values(headerXFF) {
		hops = append(hops, strings.Split(v, ",")...)
	}
	client := peer.Unmap().String()
	for i := len(hops) - 1; i >= 0; i-- {
		addr, err := netip.ParseAddr(strings.TrimSpace(hops[i]))
		if err != nil {
			break
		}
		client = addr.Unmap().String()
		if !p.contains(addr) {
			break
		}
	}
	return client
}

// Fingerprint derives the client key from the attributed address and the
// User-Agent header. It identifies clients for throttling only.
func (p Proxies) Fingerprint(r *http.Request) string {
	sum := sha256.Sum256([]byte(p.ClientAddr(r) + "\x00" + r.UserAgent()))
	return hex.EncodeToString(sum[:16])
}
