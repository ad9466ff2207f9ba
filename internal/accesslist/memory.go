package accesslist

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"strconv"
	"sync"
	"time"
)

// Operation names accepted by MemoryBackend.FailNext and Calls.
const (
	OpDescribe = "describe"
	OpEntries  = "entries"
	OpModify   = "modify"
)

// MemoryBackend is an in-process list with the same versioning rules as
// the real control plane. It backs the "memory" provider and tests.
type MemoryBackend struct {
	mu         sync.Mutex
	id         string
	name       string
	version    int64
	maxEntries int
	entries    []Entry
	deleted    bool
	now        func() time.Time

	faults map[string][]error
	calls  map[string]int

	// BeforeModify, if set, runs inside Modify before the version check,
	// with the lock released. Tests use it to simulate concurrent edits.
	BeforeModify func()
}

func NewMemoryBackend(id string, maxEntries int) *MemoryBackend {
	return &MemoryBackend{
		id:         id,
		name:       "doorman-" + id,
		version:    1,
		maxEntries: maxEntries,
		now:        time.Now,
		faults:     make(map[string][]error),
		calls:      make(map[string]int),
	}
}

func (m *MemoryBackend) ListID() string { return m.id }

// Seed inserts an entry directly, as an operator editing the list would.
func (m *MemoryBackend) Seed(cidr, description string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, Entry{
		CIDR:        netip.MustParsePrefix(cidr),
		Description: description,
		CreatedAt:   m.stamp(),
	})
	m.version++
}

// Delete simulates the whole list being removed out of band.
func (m *MemoryBackend) Delete() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleted = true
}

// FailNext queues errors returned by the next calls of op, one per call.
func (m *MemoryBackend) FailNext(op string, errs ...error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.faults[op] = append(m.faults[op], errs...)
}

// Calls returns how many times op was invoked.
func (m *MemoryBackend) Calls(op string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[op]
}

// List returns a copy of every entry.
func (m *MemoryBackend) List() []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.copyEntries()
}

func (m *MemoryBackend) Describe(ctx context.Context) (ListInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(ctx, OpDescribe); err != nil {
		return ListInfo{}, err
	}
	return m.info(), nil
}

func (m *MemoryBackend) Entries(ctx context.Context) (Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(ctx, OpEntries); err != nil {
		return Snapshot{}, err
	}
	return Snapshot{Info: m.info(), Entries: m.copyEntries()}, nil
}

func (m *MemoryBackend) Modify(ctx context.Context, version string, add []Entry, remove []netip.Prefix) (string, error) {
	if hook := m.BeforeModify; hook != nil {
		hook()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(ctx, OpModify); err != nil {
		return "", err
	}
	if version != strconv.FormatInt(m.version, 10) {
		return "", NewError(ErrVersionConflict, OpModify, m.id,
			fmt.Errorf("current version is %d, request used %s", m.version, version))
	}

	next := make([]Entry, 0, len(m.entries)+len(add))
	removed := make(map[netip.Prefix]bool, len(remove))
	for _, cidr := range remove {
		removed[cidr] = true
	}
	for _, cidr := range remove {
		if _, found := m.index(cidr); !found {
			return "", conflictf(OpModify, m.id, "cannot remove %s: no such entry", cidr)
		}
	}
	for _, e := range m.entries {
		if !removed[e.CIDR] {
			next = append(next, e)
		}
	}
	for _, e := range add {
		for _, cur := range next {
			if cur.CIDR == e.CIDR {
				return "", conflictf(OpModify, m.id, "duplicate entry %s", e.CIDR)
			}
		}
		next = append(next, Entry{CIDR: e.CIDR, Description: e.Description, CreatedAt: m.stamp()})
	}
	if m.maxEntries > 0 && len(next) > m.maxEntries {
		return "", NewError(ErrQuotaExceeded, OpModify, m.id,
			fmt.Errorf("%d entries exceed the maximum of %d", len(next), m.maxEntries))
	}

	m.entries = next
	m.version++
	return strconv.FormatInt(m.version, 10), nil
}

// enter records the call and returns a queued fault, if any. Must hold mu.
func (m *MemoryBackend) enter(ctx context.Context, op string) error {
	m.calls[op]++
	if err := ctx.Err(); err != nil {
		return err
	}
	if q := m.faults[op]; len(q) > 0 {
		m.faults[op] = q[1:]
		return q[0]
	}
	if m.deleted {
		return NewError(ErrNotFound, op, m.id, errors.New("prefix list does not exist"))
	}
	return nil
}

func (m *MemoryBackend) info() ListInfo {
	return ListInfo{
		ID:            m.id,
		Name:          m.name,
		Version:       strconv.FormatInt(m.version, 10),
		AddressFamily: "IPv4",
		MaxEntries:    m.maxEntries,
		State:         "modify-complete",
	}
}

func (m *MemoryBackend) copyEntries() []Entry {
	out := make([]Entry, len(m.entries))
	v := strconv.FormatInt(m.version, 10)
	for i, e := range m.entries {
		e.Version = v
		e.Position = i
		out[i] = e
	}
	return out
}

func (m *MemoryBackend) index(cidr netip.Prefix) (int, bool) {
	for i, e := range m.entries {
		if e.CIDR == cidr {
			return i, true
		}
	}
	return -1, false
}

// stamp returns strictly increasing creation times so that "newest" is
// well defined even when the clock does not move between calls.
func (m *MemoryBackend) stamp() time.Time {
	t := m.now()
	for _, e := range m.entries {
		if !t.After(e.CreatedAt) {
			t = e.CreatedAt.Add(time.Nanosecond)
		}
	}
	return t
}
