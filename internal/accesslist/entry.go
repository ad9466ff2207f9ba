// Package accesslist manages entries of one remote prefix list.
//
// Entries are owned by doorman iff their description equals the configured
// tag exactly. Entries with any other description are read but never
// changed.
package accesslist

import (
	"fmt"
	"net/netip"
	"time"
)

// Entry is one CIDR record of the list.
type Entry struct {
	CIDR        netip.Prefix
	Description string
	// Version is the list version observed when the entry was read. It is
	// opaque to callers.
	Version string
	// CreatedAt is zero when the backend does not report creation times.
	CreatedAt time.Time
	// Position is the index in server order.
	Position int
}

func (e Entry) String() string {
	return fmt.Sprintf("%s (%q)", e.CIDR, e.Description)
}

// Owned reports whether the entry carries the tag.
func (e Entry) Owned(tag string) bool {
	return e.Description == tag
}

// HostPrefix returns the single-address prefix for addr, /32 for IPv4.
func HostPrefix(addr netip.Addr) netip.Prefix {
	return netip.PrefixFrom(addr, addr.BitLen())
}

// ListInfo describes the list itself.
type ListInfo struct {
	ID            string
	Name          string
	Version       string
	AddressFamily string
	MaxEntries    int
	State         string
}

// Snapshot is a consistent read of the list at one version.
type Snapshot struct {
	Info    ListInfo
	Entries []Entry
}

// Owned filters the snapshot down to entries carrying tag.
func (s Snapshot) Owned(tag string) []Entry {
	var out []Entry
	for _, e := range s.Entries {
		if e.Owned(tag) {
			out = append(out, e)
		}
	}
	return out
}

func (s Snapshot) find(cidr netip.Prefix) (Entry, bool) {
	for _, e := range s.Entries {
		if e.CIDR == cidr {
			return e, true
		}
	}
	return Entry{}, false
}
