package extip

import (
	"errors"
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	ipA = netip.MustParseAddr("203.0.113.10")
	ipB = netip.MustParseAddr("198.51.100.20")
)

func ok(name string, a netip.Addr) Answer { return Answer{Probe: name, Addr: a} }
func bad(name string) Answer             { return Answer{Probe: name, Err: errors.New("timeout")} }

func TestPolicies(t *testing.T) {
	tests := []struct {
		name    string
		policy  Policy
		answers []Answer
		want    netip.Addr
		wantErr bool
	}{
		{"first picks first success", First{}, []Answer{bad("p1"), ok("p2", ipB), ok("p3", ipA)}, ipB, false},
		{"first with nothing", First{}, []Answer{bad("p1")}, netip.Addr{}, true},
		{"majority wins", Majority{}, []Answer{ok("p1", ipB), ok("p2", ipA), ok("p3", ipA)}, ipA, false},
		{"majority ignores failures", Majority{}, []Answer{bad("p1"), bad("p2"), ok("p3", ipA)}, ipA, false},
		{"majority tie", Majority{}, []Answer{ok("p1", ipA), ok("p2", ipB)}, netip.Addr{}, true},
		{"majority all failed", Majority{}, []Answer{bad("p1"), bad("p2")}, netip.Addr{}, true},
		{"unanimous agrees", Unanimous{}, []Answer{ok("p1", ipA), bad("p2"), ok("p3", ipA)}, ipA, false},
		{"unanimous disagrees", Unanimous{}, []Answer{ok("p1", ipA), ok("p2", ipA), ok("p3", ipB)}, netip.Addr{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.policy.Decide(tt.answers)
			if tt.wantErr {
				var rerr *ResolutionError
				require.ErrorAs(t, err, &rerr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestExprPolicy(t *testing.T) {
	p, err := NewPolicy(PolicyExpr, "votes >= 2 && failed < 2")
	require.NoError(t, err)

	got, err := p.Decide([]Answer{ok("p1", ipA), ok("p2", ipA), bad("p3")})
	require.NoError(t, err)
	assert.Equal(t, ipA, got)

	_, err = p.Decide([]Answer{ok("p1", ipA), bad("p2"), bad("p3")})
	var rerr *ResolutionError
	require.ErrorAs(t, err, &rerr)
	assert.Contains(t, rerr.Reason, "rejected")
}

func TestNewPolicy_Errors(t *testing.T) {
	_, err := NewPolicy("quorum", "")
	assert.Error(t, err)

	_, err = NewPolicy(PolicyExpr, "")
	assert.Error(t, err)

	_, err = NewPolicy(PolicyExpr, "votes + 1")
	assert.Error(t, err, "non-boolean expression must not compile")

	p, err := NewPolicy("", "")
	require.NoError(t, err)
	assert.Equal(t, PolicyMajority, p.Name())
}

func TestParsePublicIPv4(t *testing.T) {
	got, err := ParsePublicIPv4(" 203.0.113.10\n")
	require.NoError(t, err)
	assert.Equal(t, ipA, got)

	for _, in := range []string{"2001:db8::1", "10.0.0.1", "127.0.0.1", "0.0.0.0", "<html>", ""} {
		_, err := ParsePublicIPv4(in)
		assert.Error(t, err, in)
	}
}
