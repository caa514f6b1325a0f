package ssrf

import (
	"context"
	"net"
	"testing"
)

type staticResolver struct {
	ips []net.IPAddr
	err error
}

func (r staticResolver) LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error) {
	return r.ips, r.err
}

func TestForbiddenRangesExactMatchSpec(t *testing.T) {
	cases := map[string]bool{
		"127.0.0.1":       true,
		"10.1.2.3":        true,
		"172.16.0.1":      true,
		"172.31.255.255":  true,
		"172.32.0.1":      false,
		"192.168.1.1":     true,
		"169.254.1.1":     true,
		"8.8.8.8":         false,
		"1.1.1.1":         false,
		"::1":             true,
		"fc00::1":         true,
		"fe80::1":         true,
		"2001:4860:4860::8888": false,
	}
	for addr, want := range cases {
		ip := net.ParseIP(addr)
		if ip == nil {
			t.Fatalf("test bug: invalid IP literal %q", addr)
		}
		if got := Forbidden(ip); got != want {
			t.Errorf("Forbidden(%s) = %v, want %v", addr, got, want)
		}
	}
}

func TestCheckRejectsLiteralLoopback(t *testing.T) {
	c := NewChecker(staticResolver{})
	if err := c.Check(context.Background(), "127.0.0.1"); err == nil {
		t.Fatalf("expected SSRF rejection for loopback literal")
	}
}

func TestCheckRejectsResolvedPrivateAddress(t *testing.T) {
	c := NewChecker(staticResolver{ips: []net.IPAddr{{IP: net.ParseIP("10.0.0.5")}}})
	if err := c.Check(context.Background(), "internal.example.com"); err == nil {
		t.Fatalf("expected SSRF rejection for resolved private address")
	}
}

func TestCheckAllowsPublicAddress(t *testing.T) {
	c := NewChecker(staticResolver{ips: []net.IPAddr{{IP: net.ParseIP("93.184.216.34")}}})
	if err := c.Check(context.Background(), "example.com"); err != nil {
		t.Fatalf("unexpected rejection of public address: %v", err)
	}
}
