package engine

import (
	"fmt"
	"net/netip"
	"strings"

	"github.com/melih-ucgun/doorman/internal/accesslist"
	"github.com/melih-ucgun/doorman/internal/core"
)

// DuplicatePolicy decides which owned entry survives when more than one is
// found.
type DuplicatePolicy string

const (
	// KeepNewest keeps the most recently created entry. Entries without a
	// creation time fall back to server order, last wins. EC2 reports no
	// creation time and does not document its entry order as insertion
	// order, so on EC2 this is a guess; prefer KeepMatching there.
	KeepNewest DuplicatePolicy = "keep-newest"
	// KeepMatching keeps an entry already equal to the desired CIDR, else
	// behaves like KeepNewest.
	KeepMatching DuplicatePolicy = "keep-matching"
	// ReplaceAll removes every owned entry and adds a fresh one.
	ReplaceAll DuplicatePolicy = "replace-all"
)

func ParseDuplicatePolicy(s string) (DuplicatePolicy, error) {
	switch p := DuplicatePolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return KeepNewest, nil
	case KeepNewest, KeepMatching, ReplaceAll:
		return p, nil
	}
	return "", fmt.Errorf("unknown duplicate policy %q (want %s, %s or %s)", s, KeepNewest, KeepMatching, ReplaceAll)
}

// Plan is the set of mutations one cycle would apply.
type Plan struct {
	Desired netip.Prefix
	Owned   []accesslist.Entry

	// Kind is the outcome the plan leads to: NoChange, Added, Updated or
	// Healed.
	Kind OutcomeKind
	// Then is the converge step after the duplicates are removed. Only set
	// when Kind is Healed.
	Then OutcomeKind

	// Survivor is the owned entry that is kept and converged, nil when a
	// fresh entry is added.
	Survivor *accesslist.Entry
	// Remove holds the duplicates that are deleted first.
	Remove []accesslist.Entry
}

// ComputePlan diffs the owned entries against the desired CIDR.
func ComputePlan(owned []accesslist.Entry, desired netip.Prefix, policy DuplicatePolicy) Plan {
	p := Plan{Desired: desired, Owned: owned}

	switch len(owned) {
	case 0:
		p.Kind = Added
		return p
	case 1:
		survivor := owned[0]
		p.Survivor = &survivor
		p.Kind = converge(&survivor, desired)
		return p
	}

	p.Kind = Healed
	survivor, ok := chooseSurvivor(owned, desired, policy)
	for _, e := range owned {
		if ok && e.CIDR == survivor.CIDR && e.Position == survivor.Position {
			continue
		}
		p.Remove = append(p.Remove, e)
	}
	if ok {
		p.Survivor = &survivor
		p.Then = converge(&survivor, desired)
	} else {
		p.Then = Added
	}
	return p
}

// Step returns the converge step of the plan.
func (p Plan) Step() OutcomeKind {
	if p.Kind == Healed {
		return p.Then
	}
	return p.Kind
}

// Empty reports whether applying the plan would not touch the list.
func (p Plan) Empty() bool {
	return p.Kind == NoChange
}

// Diff renders the owned entries before and after the plan.
func (p Plan) Diff() string {
	before := make([]string, 0, len(p.Owned))
	for _, e := range p.Owned {
		before = append(before, e.CIDR.String())
	}
	return core.GenerateDiff(strings.Join(before, "\n"), p.Desired.String())
}

func converge(survivor *accesslist.Entry, desired netip.Prefix) OutcomeKind {
	if survivor.CIDR == desired {
		return NoChange
	}
	return Updated
}

func chooseSurvivor(owned []accesslist.Entry, desired netip.Prefix, policy DuplicatePolicy) (accesslist.Entry, bool) {
	switch policy {
	case ReplaceAll:
		return accesslist.Entry{}, false
	case KeepMatching:
		for _, e := range owned {
			if e.CIDR == desired {
				return e, true
			}
		}
	}
	return newest(owned), true
}

func newest(entries []accesslist.Entry) accesslist.Entry {
	best := entries[0]
	for _, e := range entries[1:] {
		switch {
		case e.CreatedAt.After(best.CreatedAt):
			best = e
		case e.CreatedAt.Equal(best.CreatedAt) && e.Position > best.Position:
			best = e
		}
	}
	return best
}
