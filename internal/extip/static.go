package extip

import (
	"context"
	"net/netip"
)

// StaticProbe always answers with a configured address. It stands in for
// detection when the operator already knows the address.
type StaticProbe struct {
	Addr netip.Addr
}

func (p StaticProbe) Name() string { return "static " + p.Addr.String() }

func (p StaticProbe) Probe(context.Context) (netip.Addr, error) {
	return checkPublicIPv4(p.Addr)
}
