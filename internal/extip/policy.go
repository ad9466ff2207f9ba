package extip

import (
	"fmt"
	"net/netip"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// Policy names accepted in configuration.
const (
	PolicyFirst     = "first"
	PolicyMajority  = "majority"
	PolicyUnanimous = "unanimous"
	PolicyExpr      = "expr"
)

// Answer is what one probe said during a resolution round.
type Answer struct {
	Probe string
	Addr  netip.Addr
	Err   error
}

// Policy combines probe answers into one address.
type Policy interface {
	Name() string
	Decide(answers []Answer) (netip.Addr, error)
}

// sequential policies are satisfied by the first success, so the resolver
// stops probing as soon as it has one.
type sequential interface {
	sequential()
}

// NewPolicy builds a policy by name; source is only used by PolicyExpr.
func NewPolicy(name, source string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case PolicyFirst:
		return First{}, nil
	case "", PolicyMajority:
		return Majority{}, nil
	case PolicyUnanimous:
		return Unanimous{}, nil
	case PolicyExpr:
		return NewExprPolicy(source)
	}
	return nil, fmt.Errorf("unknown consensus policy %q", name)
}

type candidate struct {
	addr  netip.Addr
	votes int
}

// tally counts votes per address, ordered by votes and then by the order in
// which addresses were first reported.
func tally(answers []Answer) (cands []candidate, succeeded int) {
	idx := make(map[netip.Addr]int)
	for _, a := range answers {
		if a.Err != nil {
			continue
		}
		succeeded++
		if i, ok := idx[a.Addr]; ok {
			cands[i].votes++
			continue
		}
		idx[a.Addr] = len(cands)
		cands = append(cands, candidate{addr: a.Addr, votes: 1})
	}
	// stable insertion sort; there are only a handful of candidates
	for i := 1; i < len(cands); i++ {
		for j := i; j > 0 && cands[j].votes > cands[j-1].votes; j-- {
			cands[j], cands[j-1] = cands[j-1], cands[j]
		}
	}
	return cands, succeeded
}

func leader(answers []Answer) (candidate, int, error) {
	cands, ok := tally(answers)
	if len(cands) == 0 {
		return candidate{}, 0, &ResolutionError{Answers: answers, Reason: "no probe succeeded"}
	}
	if len(cands) > 1 && cands[0].votes == cands[1].votes {
		return candidate{}, ok, &ResolutionError{
			Answers: answers,
			Reason:  fmt.Sprintf("tie between %s and %s", cands[0].addr, cands[1].addr),
		}
	}
	return cands[0], ok, nil
}

// First accepts the first successful answer in probe order.
type First struct{}

func (First) Name() string { return PolicyFirst }
func (First) sequential()  {}

func (First) Decide(answers []Answer) (netip.Addr, error) {
	for _, a := range answers {
		if a.Err == nil {
			return a.Addr, nil
		}
	}
	return netip.Addr{}, &ResolutionError{Answers: answers, Reason: "no probe succeeded"}
}

// Majority accepts the address reported by the most probes. A tie for first
// place is treated as no answer.
type Majority struct{}

func (Majority) Name() string { return PolicyMajority }

func (Majority) Decide(answers []Answer) (netip.Addr, error) {
	c, _, err := leader(answers)
	if err != nil {
		return netip.Addr{}, err
	}
	return c.addr, nil
}

// Unanimous requires every successful probe to report the same address.
type Unanimous struct{}

func (Unanimous) Name() string { return PolicyUnanimous }

func (Unanimous) Decide(answers []Answer) (netip.Addr, error) {
	cands, _ := tally(answers)
	switch len(cands) {
	case 0:
		return netip.Addr{}, &ResolutionError{Answers: answers, Reason: "no probe succeeded"}
	case 1:
		return cands[0].addr, nil
	}
	return netip.Addr{}, &ResolutionError{
		Answers: answers,
		Reason:  fmt.Sprintf("probes disagree (%d distinct addresses)", len(cands)),
	}
}

// ExprPolicy takes the majority candidate and accepts it only if a boolean
// expression over votes, total, succeeded and failed holds.
type ExprPolicy struct {
	Source  string
	program *vm.Program
}

func exprEnv(votes, total, succeeded int) map[string]any {
	return map[string]any{
		"votes":     votes,
		"total":     total,
		"succeeded": succeeded,
		"failed":    total - succeeded,
	}
}

func NewExprPolicy(source string) (*ExprPolicy, error) {
	if strings.TrimSpace(source) == "" {
		return nil, fmt.Errorf("expr policy needs an expression, e.g. \"votes >= 2\"")
	}
	program, err := expr.Compile(source, expr.Env(exprEnv(0, 0, 0)), expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("invalid consensus expression: %w", err)
	}
	return &ExprPolicy{Source: source, program: program}, nil
}

func (p *ExprPolicy) Name() string { return PolicyExpr + "(" + p.Source + ")" }

func (p *ExprPolicy) Decide(answers []Answer) (netip.Addr, error) {
	c, succeeded, err := leader(answers)
	if err != nil {
		return netip.Addr{}, err
	}
	out, err := expr.Run(p.program, exprEnv(c.votes, len(answers), succeeded))
	if err != nil {
		return netip.Addr{}, &ResolutionError{Answers: answers, Reason: "evaluating expression: " + err.Error()}
	}
	if ok, _ := out.(bool); !ok {
		return netip.Addr{}, &ResolutionError{
			Answers: answers,
			Reason:  fmt.Sprintf("%s rejected by %q (votes=%d)", c.addr, p.Source, c.votes),
		}
	}
	return c.addr, nil
}
