// Package ssrf implements the outbound-fetch SSRF policy: a target
// hostname is resolved, and if any resolved address falls in a
// forbidden private/loopback/link-local range, the request is rejected
// with SSRF_DETECTED.
package ssrf

import (
	"context"
	"net"

	domainerrors "github.com/crawlrs/crawlrs/internal/errors"
)

// forbiddenV4 are the blocked IPv4 ranges.
var forbiddenV4 = mustParseCIDRs([]string{
	"127.0.0.0/8",
	"10.0.0.0/8",
	"172.16.0.0/12",
	"192.168.0.0/16",
	"169.254.0.0/16",
})

// forbiddenV6 are the blocked IPv6 ranges, plus the loopback single
// address ::1.
var forbiddenV6 = mustParseCIDRs([]string{
	"::1/128",
	"fc00::/7",
	"fe80::/10",
})

func mustParseCIDRs(cidrs []string) []*net.IPNet {
	out := make([]*net.IPNet, 0, len(cidrs))
	for _, c := range cidrs {
		_, n, err := net.ParseCIDR(c)
		if err != nil {
			panic("ssrf: invalid built-in CIDR " + c + ": " + err.Error())
		}
		out = append(out, n)
	}
	return out
}

// Resolver abstracts DNS resolution so tests can inject deterministic
// results instead of hitting the network.
type Resolver interface {
	LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error)
}

// Checker validates a target hostname against the SSRF policy.
type Checker struct {
	resolver Resolver
}

// NewChecker wraps a Resolver; pass net.DefaultResolver in production.
func NewChecker(resolver Resolver) *Checker {
	return &Checker{resolver: resolver}
}

// Check resolves host and returns an errors.KindSSRFDetected error if any
// resolved address is in a forbidden range. A literal IP address (no DNS
// needed) is checked directly.
func (c *Checker) Check(ctx context.Context, host string) error {
	if ip := net.ParseIP(host); ip != nil {
		if Forbidden(ip) {
			return domainerrors.New(domainerrors.KindSSRFDetected, "target resolves to a forbidden range", nil)
		}
		return nil
	}

	addrs, err := c.resolver.LookupIPAddr(ctx, host)
	if err != nil {
		return domainerrors.New(domainerrors.KindInvalidInput, "could not resolve target host", err)
	}
	for _, a := range addrs {
		if Forbidden(a.IP) {
			return domainerrors.New(domainerrors.KindSSRFDetected, "target resolves to a forbidden range", nil)
		}
	}
	return nil
}

// Forbidden reports whether ip falls in any of the forbidden ranges.
func Forbidden(ip net.IP) bool {
	if v4 := ip.To4(); v4 != nil {
		for _, n := range forbiddenV4 {
			if n.Contains(v4) {
				return true
			}
		}
		return false
	}
	for _, n := range forbiddenV6 {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}
