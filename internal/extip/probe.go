// Package extip discovers the public IPv4 address of this host.
//
// A Resolver asks several independent Probes for the address and combines
// their answers with a Policy. Probes are observational only: calling
// Resolve repeatedly has no side effects anywhere.
package extip

import (
	"context"
	"fmt"
	"net/netip"
	"strings"
)

// Probe is one strategy for learning the external address.
type Probe interface {
	Name() string
	Probe(ctx context.Context) (netip.Addr, error)
}

// ParsePublicIPv4 parses a probe answer and rejects anything that cannot be
// our public IPv4 address.
func ParsePublicIPv4(raw string) (netip.Addr, error) {
	s := strings.TrimSpace(raw)
	addr, err := netip.ParseAddr(s)
	if err != nil {
		return netip.Addr{}, fmt.Errorf("not an IP address: %q", truncate(s, 64))
	}
	return checkPublicIPv4(addr)
}

func checkPublicIPv4(addr netip.Addr) (netip.Addr, error) {
	addr = addr.Unmap()
	switch {
	case !addr.Is4():
		return netip.Addr{}, fmt.Errorf("%s is not an IPv4 address", addr)
	case addr.IsUnspecified(), addr.IsLoopback(), addr.IsPrivate(),
		addr.IsLinkLocalUnicast(), addr.IsMulticast():
		return netip.Addr{}, fmt.Errorf("%s is not a public address", addr)
	}
	return addr, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
