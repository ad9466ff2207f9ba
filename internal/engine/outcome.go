package engine

import (
	"fmt"
	"net/netip"
	"strings"
	"time"
)

// OutcomeKind classifies the result of one reconciliation cycle.
type OutcomeKind int

const (
	NoChange OutcomeKind = iota
	Added
	Updated
	Removed
	// Healed means duplicate owned entries were found and removed before the
	// survivor was converged.
	Healed
	Failed
)

func (k OutcomeKind) String() string {
	switch k {
	case NoChange:
		return "no_change"
	case Added:
		return "added"
	case Updated:
		return "updated"
	case Removed:
		return "removed"
	case Healed:
		return "healed"
	case Failed:
		return "failed"
	}
	return "unknown"
}

// Outcome is the result of one cycle.
type Outcome struct {
	Kind    OutcomeKind
	CycleID string

	// Old and New are set for Added (New only) and Updated.
	Old netip.Prefix
	New netip.Prefix
	// Removed lists the CIDRs deleted during this cycle.
	Removed []netip.Prefix
	// Then is the converge step that followed a Healed cycle: Added, Updated
	// or NoChange.
	Then OutcomeKind

	Err      error
	Duration time.Duration
}

// Changed reports whether the cycle mutated the list.
func (o Outcome) Changed() bool {
	switch o.Kind {
	case Added, Updated, Removed, Healed:
		return true
	}
	return false
}

func (o Outcome) String() string {
	switch o.Kind {
	case Added:
		return fmt.Sprintf("added %s", o.New)
	case Updated:
		return fmt.Sprintf("updated %s -> %s", o.Old, o.New)
	case Removed:
		return "removed " + joinPrefixes(o.Removed)
	case Healed:
		msg := fmt.Sprintf("healed: removed %s", joinPrefixes(o.Removed))
		switch o.Then {
		case Added:
			msg += fmt.Sprintf(", added %s", o.New)
		case Updated:
			msg += fmt.Sprintf(", updated %s -> %s", o.Old, o.New)
		}
		return msg
	case Failed:
		return fmt.Sprintf("failed: %v", o.Err)
	}
	return o.Kind.String()
}

func joinPrefixes(ps []netip.Prefix) string {
	if len(ps) == 0 {
		return "nothing"
	}
	s := make([]string, len(ps))
	for i, p := range ps {
		s[i] = p.String()
	}
	return strings.Join(s, ", ")
}
