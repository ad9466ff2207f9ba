package extip

import (
	"context"
	"net"
	"testing"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// startDNS serves answers from records (qname -> RR strings) on a loopback
// UDP port and returns its address.
func startDNS(t *testing.T, records map[string][]string) string {
	t.Helper()

	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)

	started := make(chan struct{})
	srv := &dns.Server{
		PacketConn:        pc,
		NotifyStartedFunc: func() { close(started) },
		Handler: dns.HandlerFunc(func(w dns.ResponseWriter, r *dns.Msg) {
			m := new(dns.Msg)
			m.SetReply(r)
			rrs, found := records[r.Question[0].Name]
			if !found {
				m.Rcode = dns.RcodeNameError
			}
			for _, s := range rrs {
				rr, err := dns.NewRR(s)
				if err == nil {
					m.Answer = append(m.Answer, rr)
				}
			}
			_ = w.WriteMsg(m)
		}),
	}
	go func() { _ = srv.ActivateAndServe() }()
	<-started
	t.Cleanup(func() { _ = srv.Shutdown() })

	return pc.LocalAddr().String()
}

func TestDNSProbe(t *testing.T) {
	addr := startDNS(t, map[string][]string{
		"myip.opendns.com.":        {"myip.opendns.com. 0 IN A 203.0.113.10"},
		"o-o.myaddr.l.google.com.": {`o-o.myaddr.l.google.com. 0 IN TXT "203.0.113.10"`},
		"private.example.":         {"private.example. 0 IN A 10.1.2.3"},
	})

	t.Run("A record", func(t *testing.T) {
		p := &DNSProbe{Server: addr, Query: "myip.opendns.com", QType: dns.TypeA}
		got, err := p.Probe(context.Background())
		require.NoError(t, err)
		assert.Equal(t, ipA, got)
	})

	t.Run("TXT record", func(t *testing.T) {
		p := &DNSProbe{Server: addr, Query: "o-o.myaddr.l.google.com", QType: dns.TypeTXT}
		got, err := p.Probe(context.Background())
		require.NoError(t, err)
		assert.Equal(t, ipA, got)
	})

	t.Run("NXDOMAIN", func(t *testing.T) {
		p := &DNSProbe{Server: addr, Query: "missing.example", QType: dns.TypeA}
		_, err := p.Probe(context.Background())
		assert.ErrorContains(t, err, "NXDOMAIN")
	})

	t.Run("private answer rejected", func(t *testing.T) {
		p := &DNSProbe{Server: addr, Query: "private.example", QType: dns.TypeA}
		_, err := p.Probe(context.Background())
		assert.Error(t, err)
	})
}

func TestParseQType(t *testing.T) {
	q, err := ParseQType("txt")
	require.NoError(t, err)
	assert.Equal(t, dns.TypeTXT, q)

	q, err = ParseQType("")
	require.NoError(t, err)
	assert.Equal(t, dns.TypeA, q)

	_, err = ParseQType("AAAA")
	assert.Error(t, err)
}
