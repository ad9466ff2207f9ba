package accesslist

import (
	"context"
	"net/netip"
)

// Backend is the raw control-plane API of one list. Implementations return
// *Error values so that callers can classify failures.
type Backend interface {
	ListID() string
	Describe(ctx context.Context) (ListInfo, error)
	// Entries reads every entry at a single list version.
	Entries(ctx context.Context) (Snapshot, error)
	// Modify applies add and remove atomically if version is still current
	// and returns the new version.
	Modify(ctx context.Context, version string, add []Entry, remove []netip.Prefix) (string, error)
}
