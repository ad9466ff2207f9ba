package extip

import (
	"context"
	"fmt"
	"net/netip"
	"strings"

	"github.com/miekg/dns"
)

// DNSProbe asks an authoritative server that answers with the querying
// client's address, e.g. OpenDNS for myip.opendns.com.
type DNSProbe struct {
	Server string // host:port
	Query  string // fully qualified or not
	QType  uint16 // dns.TypeA or dns.TypeTXT
	Net    string // "udp" (default) or "tcp"
}

// DefaultDNSProbes are the well-known "who am I" names.
func DefaultDNSProbes() []*DNSProbe {
	return []*DNSProbe{
		{Server: "resolver1.opendns.com:53", Query: "myip.opendns.com", QType: dns.TypeA},
		{Server: "ns1.google.com:53", Query: "o-o.myaddr.l.google.com", QType: dns.TypeTXT},
	}
}

// ParseQType maps the config spelling of a record type.
func ParseQType(s string) (uint16, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", "A":
		return dns.TypeA, nil
	case "TXT":
		return dns.TypeTXT, nil
	}
	return 0, fmt.Errorf("unsupported dns record type %q (want A or TXT)", s)
}

func (p *DNSProbe) Name() string {
	return fmt.Sprintf("dns %s %s @%s", dns.TypeToString[p.QType], p.Query, p.Server)
}

func (p *DNSProbe) Probe(ctx context.Context) (netip.Addr, error) {
	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(p.Query), p.QType)
	m.RecursionDesired = false

	c := &dns.Client{Net: p.Net}
	in, _, err := c.ExchangeContext(ctx, m, p.Server)
	if err != nil {
		return netip.Addr{}, err
	}
	if in.Rcode != dns.RcodeSuccess {
		return netip.Addr{}, fmt.Errorf("dns rcode %s", dns.RcodeToString[in.Rcode])
	}

	for _, rr := range in.Answer {
		switch rec := rr.(type) {
		case *dns.A:
			if addr, ok := netip.AddrFromSlice(rec.A); ok {
				return checkPublicIPv4(addr)
			}
		case *dns.TXT:
			for _, txt := range rec.Txt {
				if addr, err := ParsePublicIPv4(txt); err == nil {
					return addr, nil
				}
			}
		}
	}
	return netip.Addr{}, fmt.Errorf("no usable %s record in answer", dns.TypeToString[p.QType])
}
