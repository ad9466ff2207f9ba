// Package engine keeps one owned access-list entry in sync with the current
// external address.
package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/netip"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/melih-ucgun/doorman/internal/accesslist"
	"github.com/melih-ucgun/doorman/internal/core"
)

// ErrShutdown is the cycle error when shutdown was requested between phases.
var ErrShutdown = errors.New("shutting down")

// Resolver yields the current external address.
type Resolver interface {
	Resolve(ctx context.Context) (netip.Addr, error)
}

// ListClient is the access-list surface the engine drives.
type ListClient interface {
	ListID() string
	FetchOwned(ctx context.Context, tag string) ([]accesslist.Entry, error)
	Add(ctx context.Context, cidr netip.Prefix, tag string) (accesslist.Entry, error)
	Update(ctx context.Context, entry accesslist.Entry, cidr netip.Prefix) (accesslist.Entry, error)
	Remove(ctx context.Context, entry accesslist.Entry) error
}

// Observer is notified of cycle outcomes and state changes.
type Observer interface {
	ObserveCycle(outcome string, elapsed time.Duration)
	ObserveState(state string)
}

type Options struct {
	// Tag is the exact description that marks entries as ours.
	Tag      string
	Interval time.Duration
	// MutationTimeout bounds one list mutation including its retries.
	MutationTimeout time.Duration
	// CleanupTimeout bounds the whole shutdown cleanup.
	CleanupTimeout  time.Duration
	DuplicatePolicy DuplicatePolicy
	Logger          core.Logger
	Observer        Observer
}

func (o Options) withDefaults() Options {
	if o.Interval <= 0 {
		o.Interval = time.Minute
	}
	if o.MutationTimeout <= 0 {
		o.MutationTimeout = 30 * time.Second
	}
	if o.CleanupTimeout <= 0 {
		o.CleanupTimeout = time.Minute
	}
	if o.DuplicatePolicy == "" {
		o.DuplicatePolicy = KeepNewest
	}
	if o.Logger == nil {
		o.Logger = core.NewLogger(io.Discard, core.LevelError, core.FormatText)
	}
	return o
}

// Engine runs reconciliation cycles one at a time.
type Engine struct {
	resolver Resolver
	client   ListClient
	opts     Options
	logger   core.Logger

	state    atomic.Int32
	stop     chan struct{}
	stopOnce sync.Once

	// mu serializes cycles and cleanup.
	mu      sync.Mutex
	cleaned bool
}

func New(resolver Resolver, client ListClient, opts Options) (*Engine, error) {
	if opts.Tag == "" {
		return nil, errors.New("engine: empty ownership tag")
	}
	if resolver == nil || client == nil {
		return nil, errors.New("engine: resolver and client are required")
	}
	opts = opts.withDefaults()
	e := &Engine{
		resolver: resolver,
		client:   client,
		opts:     opts,
		logger:   opts.Logger.With("list", client.ListID()),
		stop:     make(chan struct{}),
	}
	e.setState(Starting)
	return e, nil
}

func (e *Engine) State() State { return State(e.state.Load()) }

func (e *Engine) setState(s State) {
	prev := State(e.state.Swap(int32(s)))
	if prev != s {
		e.logger.Debug("state changed", "from", prev, "to", s)
	}
	if e.opts.Observer != nil {
		e.opts.Observer.ObserveState(s.String())
	}
}

// Stop requests shutdown. It is safe to call more than once and from any
// goroutine. A running Run returns after cleanup.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() { close(e.stop) })
}

func (e *Engine) stopping(ctx context.Context) bool {
	select {
	case <-e.stop:
		return true
	case <-ctx.Done():
		return true
	default:
		return false
	}
}

// interrupted reports whether err stems from ctx being cancelled rather
// than from a probe or list fault.
func interrupted(ctx context.Context, err error) bool {
	return errors.Is(err, context.Canceled) || ctx.Err() != nil
}

// Run converges the list every interval until ctx is done or Stop is
// called, then removes the owned entries. The returned error is nil or a
// *CleanupError.
func (e *Engine) Run(ctx context.Context) error {
	e.setState(Converging)
	e.logger.Info("agent started", "interval", e.opts.Interval, "tag", e.opts.Tag)

	timer := time.NewTimer(0)
	defer timer.Stop()

loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case <-e.stop:
			break loop
		case <-timer.C:
		}

		e.Reconcile(ctx)
		timer.Reset(e.opts.Interval)
	}

	return e.Cleanup(ctx)
}

// Reconcile runs one cycle: resolve, fetch, plan and apply.
func (e *Engine) Reconcile(ctx context.Context) Outcome {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.State() == Starting {
		e.setState(Converging)
	}

	start := time.Now()
	out := Outcome{CycleID: uuid.NewString()}
	log := e.logger.With("cycle", out.CycleID)

	e.reconcile(ctx, log, &out)

	out.Duration = time.Since(start)
	if out.Kind != Failed && e.State() == Converging {
		e.setState(Steady)
	}
	e.report(log, out)
	return out
}

func (e *Engine) reconcile(ctx context.Context, log core.Logger, out *Outcome) {
	fail := func(err error) {
		out.Kind = Failed
		out.Err = err
	}

	addr, err := e.resolver.Resolve(ctx)
	if err != nil {
		if interrupted(ctx, err) {
			err = ErrShutdown
		}
		fail(err)
		return
	}
	desired := accesslist.HostPrefix(addr)
	log.Debug("external address resolved", "addr", addr)
	if e.stopping(ctx) {
		fail(ErrShutdown)
		return
	}

	owned, err := e.client.FetchOwned(ctx, e.opts.Tag)
	if err != nil {
		if interrupted(ctx, err) {
			fail(ErrShutdown)
			return
		}
		fail(fmt.Errorf("fetch owned entries: %w", err))
		return
	}
	if e.stopping(ctx) {
		fail(ErrShutdown)
		return
	}

	plan := ComputePlan(owned, desired, e.opts.DuplicatePolicy)
	if plan.Kind == Healed {
		log.Warn("duplicate owned entries found", "count", len(owned), "policy", e.opts.DuplicatePolicy)
	}
	if err := e.apply(ctx, log, plan, out); err != nil {
		fail(err)
	}
}

// apply executes plan. Each mutation runs detached from ctx so that a
// shutdown never aborts a request already sent.
func (e *Engine) apply(ctx context.Context, log core.Logger, plan Plan, out *Outcome) error {
	for _, dup := range plan.Remove {
		if e.stopping(ctx) {
			return ErrShutdown
		}
		if err := e.mutate(ctx, func(mctx context.Context) error {
			return e.client.Remove(mctx, dup)
		}); err != nil {
			return fmt.Errorf("remove duplicate %s: %w", dup.CIDR, err)
		}
		log.Info("duplicate entry removed", "cidr", dup.CIDR)
		out.Removed = append(out.Removed, dup.CIDR)
	}

	step := plan.Step()
	if step != NoChange && e.stopping(ctx) {
		return ErrShutdown
	}

	switch step {
	case Added:
		err := e.mutate(ctx, func(mctx context.Context) error {
			_, err := e.client.Add(mctx, plan.Desired, e.opts.Tag)
			return err
		})
		if err != nil {
			return fmt.Errorf("add %s: %w", plan.Desired, err)
		}
		out.New = plan.Desired
	case Updated:
		err := e.mutate(ctx, func(mctx context.Context) error {
			_, err := e.client.Update(mctx, *plan.Survivor, plan.Desired)
			return err
		})
		if err != nil {
			return fmt.Errorf("update %s -> %s: %w", plan.Survivor.CIDR, plan.Desired, err)
		}
		out.Old = plan.Survivor.CIDR
		out.New = plan.Desired
	case NoChange:
		out.New = plan.Desired
	}

	out.Kind = plan.Kind
	out.Then = plan.Then
	return nil
}

func (e *Engine) mutate(ctx context.Context, fn func(context.Context) error) error {
	mctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.opts.MutationTimeout)
	defer cancel()
	return fn(mctx)
}

func (e *Engine) report(log core.Logger, out Outcome) {
	args := []any{"outcome", out.Kind, "duration", out.Duration.Round(time.Millisecond)}
	switch out.Kind {
	case NoChange:
		log.Debug("in sync", append(args, "cidr", out.New)...)
	case Added, Updated, Removed:
		log.Info(out.String(), args...)
	case Healed:
		log.Warn(out.String(), args...)
	case Failed:
		if errors.Is(out.Err, ErrShutdown) {
			log.Debug("cycle interrupted by shutdown", args...)
			break
		}
		log.Error("cycle failed", append(args, "error", out.Err, "kind", accesslist.KindName(out.Err))...)
	}
	if e.opts.Observer != nil {
		e.opts.Observer.ObserveCycle(out.Kind.String(), out.Duration)
	}
}

// Plan resolves and fetches like a cycle but applies nothing.
func (e *Engine) Plan(ctx context.Context) (Plan, error) {
	addr, err := e.resolver.Resolve(ctx)
	if err != nil {
		return Plan{}, err
	}
	owned, err := e.client.FetchOwned(ctx, e.opts.Tag)
	if err != nil {
		return Plan{}, fmt.Errorf("fetch owned entries: %w", err)
	}
	return ComputePlan(owned, accesslist.HostPrefix(addr), e.opts.DuplicatePolicy), nil
}
