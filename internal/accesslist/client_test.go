package accesslist

import (
	"context"
	"errors"
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const tag = "doorman"

var (
	cidrA = netip.MustParsePrefix("1.2.3.4/32")
	cidrB = netip.MustParsePrefix("5.6.7.8/32")
)

type countingObserver struct {
	ops      []string
	attempts []int
	errs     []error
}

func (o *countingObserver) ObserveMutation(op string, attempts int, err error) {
	o.ops = append(o.ops, op)
	o.attempts = append(o.attempts, attempts)
	o.errs = append(o.errs, err)
}

func newTestClient(b Backend, attempts int) (*Client, *countingObserver) {
	obs := &countingObserver{}
	return NewClient(b, Options{
		Retry:    RetryConfig{MaxAttempts: attempts, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond},
		Observer: obs,
	}), obs
}

func transient(op string) error {
	return NewError(ErrTransient, op, "pl-test", errors.New("RequestLimitExceeded"))
}

func TestClient_FetchOwnedFiltersByExactTag(t *testing.T) {
	b := NewMemoryBackend("pl-test", 0)
	b.Seed("10.0.0.0/8", "office")
	b.Seed("1.2.3.4/32", tag)
	b.Seed("9.9.9.9/32", "Doorman")
	b.Seed("8.8.8.8/32", tag+" ")
	c, _ := newTestClient(b, 3)

	owned, err := c.FetchOwned(context.Background(), tag)
	require.NoError(t, err)
	require.Len(t, owned, 1)
	assert.Equal(t, cidrA, owned[0].CIDR)
	assert.NotEmpty(t, owned[0].Version)
}

func TestClient_FetchOwnedNotFound(t *testing.T) {
	b := NewMemoryBackend("pl-test", 0)
	b.Delete()
	c, _ := newTestClient(b, 3)

	_, err := c.FetchOwned(context.Background(), tag)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestClient_FetchOwnedRetriesTransientReads(t *testing.T) {
	t.Run("recovers within the bound", func(t *testing.T) {
		b := NewMemoryBackend("pl-test", 0)
		b.Seed("1.2.3.4/32", tag)
		b.FailNext(OpEntries, transient(OpEntries), transient(OpEntries))
		c, obs := newTestClient(b, 3)

		owned, err := c.FetchOwned(context.Background(), tag)
		require.NoError(t, err)
		require.Len(t, owned, 1)
		assert.Equal(t, 3, b.Calls(OpEntries))
		assert.Empty(t, obs.ops)
	})

	t.Run("version conflicts are not retried", func(t *testing.T) {
		b := NewMemoryBackend("pl-test", 0)
		b.FailNext(OpEntries, NewError(ErrVersionConflict, OpEntries, "pl-test", errors.New("IncorrectState")))
		c, _ := newTestClient(b, 3)

		_, err := c.FetchOwned(context.Background(), tag)
		assert.ErrorIs(t, err, ErrVersionConflict)
		assert.Equal(t, 1, b.Calls(OpEntries))
	})

	t.Run("forbidden fails at once", func(t *testing.T) {
		b := NewMemoryBackend("pl-test", 0)
		b.FailNext(OpEntries, NewError(ErrForbidden, OpEntries, "pl-test", errors.New("UnauthorizedOperation")))
		c, _ := newTestClient(b, 3)

		_, err := c.FetchOwned(context.Background(), tag)
		assert.ErrorIs(t, err, ErrForbidden)
		assert.Equal(t, 1, b.Calls(OpEntries))
	})
}

func TestClient_Add(t *testing.T) {
	t.Run("creates entry", func(t *testing.T) {
		b := NewMemoryBackend("pl-test", 0)
		c, _ := newTestClient(b, 3)

		e, err := c.Add(context.Background(), cidrA, tag)
		require.NoError(t, err)
		assert.Equal(t, cidrA, e.CIDR)
		assert.Equal(t, tag, e.Description)
		assert.Len(t, b.List(), 1)
	})

	t.Run("idempotent for owned duplicate", func(t *testing.T) {
		b := NewMemoryBackend("pl-test", 0)
		b.Seed("1.2.3.4/32", tag)
		c, _ := newTestClient(b, 3)

		_, err := c.Add(context.Background(), cidrA, tag)
		require.NoError(t, err)
		assert.Equal(t, 0, b.Calls(OpModify))
	})

	t.Run("conflict with foreign duplicate", func(t *testing.T) {
		b := NewMemoryBackend("pl-test", 0)
		b.Seed("1.2.3.4/32", "someone-else")
		c, _ := newTestClient(b, 3)

		_, err := c.Add(context.Background(), cidrA, tag)
		assert.ErrorIs(t, err, ErrConflict)
		assert.Equal(t, "someone-else", b.List()[0].Description)
	})

	t.Run("quota exceeded is not retried", func(t *testing.T) {
		b := NewMemoryBackend("pl-test", 1)
		b.Seed("10.0.0.0/8", "office")
		c, obs := newTestClient(b, 5)

		_, err := c.Add(context.Background(), cidrA, tag)
		assert.ErrorIs(t, err, ErrQuotaExceeded)
		assert.Equal(t, []int{1}, obs.attempts)
	})
}

func TestClient_Update(t *testing.T) {
	t.Run("replaces atomically", func(t *testing.T) {
		b := NewMemoryBackend("pl-test", 0)
		b.Seed("10.0.0.0/8", "office")
		b.Seed("1.2.3.4/32", tag)
		c, _ := newTestClient(b, 3)
		owned, err := c.FetchOwned(context.Background(), tag)
		require.NoError(t, err)

		e, err := c.Update(context.Background(), owned[0], cidrB)
		require.NoError(t, err)
		assert.Equal(t, cidrB, e.CIDR)
		assert.Equal(t, 1, b.Calls(OpModify))

		entries := b.List()
		require.Len(t, entries, 2)
		assert.Equal(t, "office", entries[0].Description)
		assert.Equal(t, cidrB, entries[1].CIDR)
	})

	t.Run("old entry vanished", func(t *testing.T) {
		b := NewMemoryBackend("pl-test", 0)
		c, _ := newTestClient(b, 3)

		e, err := c.Update(context.Background(), Entry{CIDR: cidrA, Description: tag, Version: "1"}, cidrB)
		require.NoError(t, err)
		assert.Equal(t, cidrB, e.CIDR)
		require.Len(t, b.List(), 1)
	})

	t.Run("stale version is refreshed", func(t *testing.T) {
		b := NewMemoryBackend("pl-test", 0)
		b.Seed("1.2.3.4/32", tag)
		c, _ := newTestClient(b, 3)
		owned, err := c.FetchOwned(context.Background(), tag)
		require.NoError(t, err)

		// someone else edits the list between our read and our write
		b.Seed("10.0.0.0/8", "office")

		_, err = c.Update(context.Background(), owned[0], cidrB)
		require.NoError(t, err)
		assert.Len(t, b.List(), 2)
	})

	t.Run("version conflict race is retried", func(t *testing.T) {
		b := NewMemoryBackend("pl-test", 0)
		b.Seed("1.2.3.4/32", tag)
		raced := false
		b.BeforeModify = func() {
			if !raced {
				raced = true
				b.Seed("10.0.0.0/8", "office")
			}
		}
		c, obs := newTestClient(b, 3)
		owned, err := c.FetchOwned(context.Background(), tag)
		require.NoError(t, err)

		_, err = c.Update(context.Background(), owned[0], cidrB)
		require.NoError(t, err)
		assert.Equal(t, []int{2}, obs.attempts)
	})
}

func TestClient_Remove(t *testing.T) {
	t.Run("removes owned entry", func(t *testing.T) {
		b := NewMemoryBackend("pl-test", 0)
		b.Seed("1.2.3.4/32", tag)
		c, _ := newTestClient(b, 3)

		require.NoError(t, c.Remove(context.Background(), Entry{CIDR: cidrA, Description: tag}))
		assert.Empty(t, b.List())
	})

	t.Run("already gone is success", func(t *testing.T) {
		b := NewMemoryBackend("pl-test", 0)
		c, _ := newTestClient(b, 3)

		require.NoError(t, c.Remove(context.Background(), Entry{CIDR: cidrA, Description: tag}))
		assert.Equal(t, 0, b.Calls(OpModify))
	})

	t.Run("list deleted is success", func(t *testing.T) {
		b := NewMemoryBackend("pl-test", 0)
		b.Delete()
		c, _ := newTestClient(b, 3)

		require.NoError(t, c.Remove(context.Background(), Entry{CIDR: cidrA, Description: tag}))
	})

	t.Run("never removes foreign entry with same cidr", func(t *testing.T) {
		b := NewMemoryBackend("pl-test", 0)
		b.Seed("1.2.3.4/32", "office")
		c, _ := newTestClient(b, 3)

		require.NoError(t, c.Remove(context.Background(), Entry{CIDR: cidrA, Description: tag}))
		assert.Len(t, b.List(), 1)
	})
}

func TestClient_RetryBound(t *testing.T) {
	const attempts = 4

	t.Run("N-1 transient failures then success", func(t *testing.T) {
		b := NewMemoryBackend("pl-test", 0)
		for i := 0; i < attempts-1; i++ {
			b.FailNext(OpModify, transient(OpModify))
		}
		c, obs := newTestClient(b, attempts)

		_, err := c.Add(context.Background(), cidrA, tag)
		require.NoError(t, err)
		assert.Equal(t, []int{attempts}, obs.attempts)
		assert.Len(t, b.List(), 1)
	})

	t.Run("N+1 transient failures", func(t *testing.T) {
		b := NewMemoryBackend("pl-test", 0)
		for i := 0; i < attempts+1; i++ {
			b.FailNext(OpModify, transient(OpModify))
		}
		c, obs := newTestClient(b, attempts)

		_, err := c.Add(context.Background(), cidrA, tag)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrTransient)
		assert.Equal(t, []int{attempts}, obs.attempts)
		assert.Empty(t, b.List())
	})
}

func TestError(t *testing.T) {
	err := NewError(ErrVersionConflict, "modify", "pl-123", errors.New("PrefixListVersionMismatch"))
	assert.ErrorIs(t, err, ErrVersionConflict)
	assert.True(t, Retryable(err))
	assert.Equal(t, "version_conflict", KindName(err))
	assert.Equal(t, "modify pl-123: version conflict: PrefixListVersionMismatch", err.Error())

	assert.False(t, Retryable(NewError(ErrConflict, "add", "", nil)))
	assert.Nil(t, KindOf(errors.New("boom")))
	assert.Equal(t, "unknown", KindName(errors.New("boom")))
	assert.Equal(t, "ok", KindName(nil))
}
