package accesslist

import (
	"context"
	"errors"
	"net/netip"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"

	"github.com/melih-ucgun/doorman/internal/core"
)

// RetryConfig bounds the retries of one mutation.
type RetryConfig struct {
	// MaxAttempts includes the first attempt.
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 5,
		BaseDelay:   200 * time.Millisecond,
		MaxDelay:    5 * time.Second,
	}
}

func (c RetryConfig) normalize() RetryConfig {
	if c.MaxAttempts < 1 {
		c.MaxAttempts = 1
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = 200 * time.Millisecond
	}
	if c.MaxDelay < c.BaseDelay {
		c.MaxDelay = c.BaseDelay
	}
	return c
}

// MutationObserver is notified once per mutation with the number of
// attempts it took and its final error.
type MutationObserver interface {
	ObserveMutation(op string, attempts int, err error)
}

type Options struct {
	Retry    RetryConfig
	Logger   core.Logger
	Observer MutationObserver
	// Now is used to stamp entries created through this client.
	Now func() time.Time
}

// Client maps engine intent onto one list. Reads are never cached; every
// mutation attempt starts by refreshing the list version.
type Client struct {
	backend Backend
	opts    Options
}

func NewClient(backend Backend, opts Options) *Client {
	opts.Retry = opts.Retry.normalize()
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Client{backend: backend, opts: opts}
}

func (c *Client) ListID() string { return c.backend.ListID() }

// Describe returns metadata of the list.
func (c *Client) Describe(ctx context.Context) (ListInfo, error) {
	return c.backend.Describe(ctx)
}

// Snapshot returns every entry of the list, owned or not.
func (c *Client) Snapshot(ctx context.Context) (Snapshot, error) {
	return c.backend.Entries(ctx)
}

// FetchOwned returns the entries whose description equals tag. Transient
// read failures are retried under the same bounds as mutations.
func (c *Client) FetchOwned(ctx context.Context, tag string) ([]Entry, error) {
	snap, _, err := retry(ctx, c, "read", func(err error) bool {
		return errors.Is(err, ErrTransient)
	}, func() (Snapshot, error) {
		return c.backend.Entries(ctx)
	})
	if err != nil {
		return nil, err
	}
	return snap.Owned(tag), nil
}

// Add creates a single-address entry for cidr with description tag. Adding
// a CIDR we already own returns the existing entry.
func (c *Client) Add(ctx context.Context, cidr netip.Prefix, tag string) (Entry, error) {
	return c.mutate(ctx, "add", func(ctx context.Context) (Entry, error) {
		snap, err := c.backend.Entries(ctx)
		if err != nil {
			return Entry{}, err
		}
		if existing, found := snap.find(cidr); found {
			if existing.Owned(tag) {
				return existing, nil
			}
			return Entry{}, conflictf("add", c.ListID(), "%s already present with description %q", cidr, existing.Description)
		}
		if max := snap.Info.MaxEntries; max > 0 && len(snap.Entries) >= max {
			return Entry{}, NewError(ErrQuotaExceeded, "add", c.ListID(), errors.New("list is full"))
		}

		entry := Entry{CIDR: cidr, Description: tag, CreatedAt: c.opts.Now(), Position: len(snap.Entries)}
		version, err := c.backend.Modify(ctx, snap.Info.Version, []Entry{entry}, nil)
		if err != nil {
			return Entry{}, err
		}
		entry.Version = version
		return entry, nil
	})
}

// Update replaces entry with newCIDR in one versioned modification. If the
// old entry has vanished in the meantime the new one is simply added.
func (c *Client) Update(ctx context.Context, entry Entry, newCIDR netip.Prefix) (Entry, error) {
	return c.mutate(ctx, "update", func(ctx context.Context) (Entry, error) {
		snap, err := c.backend.Entries(ctx)
		if err != nil {
			return Entry{}, err
		}

		var remove []netip.Prefix
		if old, found := snap.find(entry.CIDR); found && old.Owned(entry.Description) && old.CIDR != newCIDR {
			remove = append(remove, old.CIDR)
		}

		var add []Entry
		updated := Entry{CIDR: newCIDR, Description: entry.Description, CreatedAt: c.opts.Now(), Position: len(snap.Entries)}
		if existing, found := snap.find(newCIDR); found {
			if !existing.Owned(entry.Description) {
				return Entry{}, conflictf("update", c.ListID(), "%s already present with description %q", newCIDR, existing.Description)
			}
			updated = existing
		} else {
			if max := snap.Info.MaxEntries; len(remove) == 0 && max > 0 && len(snap.Entries) >= max {
				return Entry{}, NewError(ErrQuotaExceeded, "update", c.ListID(), errors.New("list is full"))
			}
			add = append(add, updated)
		}

		if len(add) == 0 && len(remove) == 0 {
			updated.Version = snap.Info.Version
			return updated, nil
		}

		version, err := c.backend.Modify(ctx, snap.Info.Version, add, remove)
		if err != nil {
			return Entry{}, err
		}
		updated.Version = version
		return updated, nil
	})
}

// Remove deletes entry. An entry that is already gone, or a list that no
// longer exists, counts as removed.
func (c *Client) Remove(ctx context.Context, entry Entry) error {
	_, err := c.mutate(ctx, "remove", func(ctx context.Context) (Entry, error) {
		snap, err := c.backend.Entries(ctx)
		if errors.Is(err, ErrNotFound) {
			return entry, nil
		}
		if err != nil {
			return Entry{}, err
		}

		current, found := snap.find(entry.CIDR)
		if !found || !current.Owned(entry.Description) {
			if c.opts.Logger != nil {
				c.opts.Logger.Debug("entry already gone", "list", c.ListID(), "cidr", entry.CIDR)
			}
			return entry, nil
		}

		_, err = c.backend.Modify(ctx, snap.Info.Version, nil, []netip.Prefix{entry.CIDR})
		if errors.Is(err, ErrNotFound) {
			return entry, nil
		}
		return entry, err
	})
	return err
}

// mutate runs fn under the retry policy. fn must re-read the list itself so
// that every attempt uses a fresh version.
func (c *Client) mutate(ctx context.Context, op string, fn func(context.Context) (Entry, error)) (Entry, error) {
	entry, attempts, err := retry(ctx, c, op, Retryable, func() (Entry, error) {
		return fn(ctx)
	})
	if c.opts.Observer != nil {
		c.opts.Observer.ObserveMutation(op, attempts, err)
	}
	return entry, err
}

// retry runs fn until it succeeds, fails with an error handle rejects, or
// the attempt ceiling is reached. It returns the number of attempts made.
func retry[T any](ctx context.Context, c *Client, op string, handle func(error) bool, fn func() (T, error)) (T, int, error) {
	attempts := 0
	policy := retrypolicy.NewBuilder[T]().
		HandleIf(func(_ T, err error) bool {
			return err != nil && handle(err)
		}).
		WithMaxRetries(c.opts.Retry.MaxAttempts-1).
		WithBackoff(c.opts.Retry.BaseDelay, c.opts.Retry.MaxDelay).
		WithJitterFactor(0.2).
		ReturnLastFailure().
		OnRetry(func(e failsafe.ExecutionEvent[T]) {
			if c.opts.Logger != nil {
				c.opts.Logger.Warn("retrying list call",
					"op", op, "list", c.ListID(), "attempt", e.Attempts(), "error", e.LastError())
			}
		}).
		Build()

	v, err := failsafe.With[T](policy).WithContext(ctx).Get(func() (T, error) {
		attempts++
		return fn()
	})
	return v, attempts, err
}
