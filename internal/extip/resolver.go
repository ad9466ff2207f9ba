package extip

import (
	"context"
	"fmt"
	"net/netip"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/melih-ucgun/doorman/internal/core"
)

// Observer receives per-probe results, e.g. for metrics.
type Observer interface {
	ObserveProbe(probe string, err error, elapsed time.Duration)
}

type Options struct {
	// Timeout bounds each probe individually.
	Timeout time.Duration
	// Parallelism bounds concurrent probes. Zero means one per probe.
	Parallelism int
	Logger      core.Logger
	Observer    Observer
}

// Resolver produces the current external IPv4 address.
type Resolver struct {
	probes []Probe
	policy Policy
	opts   Options
}

func NewResolver(probes []Probe, policy Policy, opts Options) (*Resolver, error) {
	if len(probes) == 0 {
		return nil, fmt.Errorf("resolver needs at least one probe")
	}
	if policy == nil {
		policy = Majority{}
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	if opts.Parallelism <= 0 || opts.Parallelism > len(probes) {
		opts.Parallelism = len(probes)
	}
	return &Resolver{probes: probes, policy: policy, opts: opts}, nil
}

func (r *Resolver) Policy() Policy { return r.policy }

// Resolve queries the probes and applies the policy. Any returned error is a
// *ResolutionError unless ctx was cancelled.
func (r *Resolver) Resolve(ctx context.Context) (netip.Addr, error) {
	answers := r.Answers(ctx)
	if err := ctx.Err(); err != nil {
		return netip.Addr{}, err
	}
	addr, err := r.policy.Decide(answers)
	if err != nil {
		return netip.Addr{}, err
	}
	if r.opts.Logger != nil {
		r.opts.Logger.Debug("external ip resolved", "ip", addr, "policy", r.policy.Name(), "probes", len(answers))
	}
	return addr, nil
}

// Answers runs the probes and returns their answers in probe order.
func (r *Resolver) Answers(ctx context.Context) []Answer {
	if _, ok := r.policy.(sequential); ok {
		return r.probeSequential(ctx)
	}

	answers := make([]Answer, len(r.probes))
	var g errgroup.Group
	g.SetLimit(r.opts.Parallelism)
	for i, p := range r.probes {
		g.Go(func() error {
			answers[i] = r.probeOne(ctx, p)
			return nil
		})
	}
	_ = g.Wait()
	return answers
}

func (r *Resolver) probeSequential(ctx context.Context) []Answer {
	answers := make([]Answer, 0, len(r.probes))
	for _, p := range r.probes {
		if ctx.Err() != nil {
			break
		}
		a := r.probeOne(ctx, p)
		answers = append(answers, a)
		if a.Err == nil {
			break
		}
	}
	return answers
}

func (r *Resolver) probeOne(ctx context.Context, p Probe) Answer {
	pctx, cancel := context.WithTimeout(ctx, r.opts.Timeout)
	defer cancel()

	start := time.Now()
	addr, err := p.Probe(pctx)
	elapsed := time.Since(start)

	if r.opts.Observer != nil {
		r.opts.Observer.ObserveProbe(p.Name(), err, elapsed)
	}
	if err != nil && r.opts.Logger != nil {
		r.opts.Logger.Debug("probe failed", "probe", p.Name(), "error", err, "elapsed", elapsed)
	}
	return Answer{Probe: p.Name(), Addr: addr, Err: err}
}
