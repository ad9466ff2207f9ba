package extip

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/netip"
)

// DefaultHTTPEndpoints answer a plain GET with the caller's address as text.
var DefaultHTTPEndpoints = []string{
	"https://checkip.amazonaws.com",
	"https://api.ipify.org",
	"https://icanhazip.com",
	"https://ifconfig.me/ip",
}

// HTTPProbe reads the external address from a text endpoint.
type HTTPProbe struct {
	URL    string
	Client *http.Client
}

func NewHTTPProbe(url string, client *http.Client) *HTTPProbe {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPProbe{URL: url, Client: client}
}

func (p *HTTPProbe) Name() string { return "http " + p.URL }

func (p *HTTPProbe) Probe(ctx context.Context) (netip.Addr, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.URL, nil)
	if err != nil {
		return netip.Addr{}, err
	}
	req.Header.Set("User-Agent", "doorman")
	req.Header.Set("Accept", "text/plain")

	resp, err := p.Client.Do(req)
	if err != nil {
		return netip.Addr{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return netip.Addr{}, fmt.Errorf("bad status: %s", resp.Status)
	}

	// An address is at most 15 bytes; anything long is an HTML error page.
	body, err := io.ReadAll(io.LimitReader(resp.Body, 256))
	if err != nil {
		return netip.Addr{}, err
	}
	return ParsePublicIPv4(string(body))
}
