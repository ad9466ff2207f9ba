package engine

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/melih-ucgun/doorman/internal/accesslist"
)

// CleanupError reports owned entries that could not be removed on shutdown.
// They may need manual removal.
type CleanupError struct {
	ListID string
	// Err is set when the owned entries could not even be listed.
	Err    error
	Failed []netip.Prefix
	Errs   []error
}

func (e *CleanupError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("cleanup of %s failed: %v", e.ListID, e.Err)
	}
	parts := make([]string, len(e.Failed))
	for i := range e.Failed {
		parts[i] = fmt.Sprintf("%s: %v", e.Failed[i], e.Errs[i])
	}
	return fmt.Sprintf("cleanup of %s left %d entries: %s", e.ListID, len(e.Failed), strings.Join(parts, "; "))
}

func (e *CleanupError) Unwrap() []error {
	if e.Err != nil {
		return []error{e.Err}
	}
	return e.Errs
}

// Cleanup removes every owned entry, best effort, and moves the engine to
// Stopped. It runs detached from ctx cancellation, bounded by the cleanup
// timeout. Only the first call touches the list; later calls return nil.
func (e *Engine) Cleanup(ctx context.Context) error {
	e.Stop()

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.cleaned {
		e.logger.Debug("cleanup already done")
		return nil
	}
	e.cleaned = true
	e.setState(ShuttingDown)
	defer e.setState(Stopped)

	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.opts.CleanupTimeout)
	defer cancel()

	start := time.Now()
	out := Outcome{Kind: Removed, CycleID: uuid.NewString()}
	log := e.logger.With("cycle", out.CycleID)
	log.Info("removing owned entries")

	owned, err := e.client.FetchOwned(cctx, e.opts.Tag)
	if errors.Is(err, accesslist.ErrNotFound) {
		log.Warn("list no longer exists, nothing to clean up")
		owned, err = nil, nil
	}
	if err != nil {
		out.Kind, out.Err = Failed, err
		out.Duration = time.Since(start)
		e.report(log, out)
		return &CleanupError{ListID: e.client.ListID(), Err: err}
	}

	cerr := &CleanupError{ListID: e.client.ListID()}
	for _, entry := range owned {
		rctx, rcancel := context.WithTimeout(cctx, e.opts.MutationTimeout)
		err := e.client.Remove(rctx, entry)
		rcancel()
		if err != nil {
			log.Error("could not remove entry", "cidr", entry.CIDR, "error", err)
			cerr.Failed = append(cerr.Failed, entry.CIDR)
			cerr.Errs = append(cerr.Errs, err)
			continue
		}
		out.Removed = append(out.Removed, entry.CIDR)
	}

	out.Duration = time.Since(start)
	if len(cerr.Failed) > 0 {
		out.Kind, out.Err = Failed, cerr
		e.report(log, out)
		return cerr
	}
	if len(out.Removed) == 0 {
		out.Kind = NoChange
	}
	e.report(log, out)
	return nil
}
