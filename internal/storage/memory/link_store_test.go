package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/trendradar/newsflow/internal/pipeline"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(1700000000, 0).UTC()}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func seedLink(t *testing.T, store *LinkStore, id, rawURL string) pipeline.LinkRecord {
	t.Helper()
	rec := pipeline.LinkRecord{
		ID:           id,
		URL:          rawURL,
		IdentityHash: "hash-" + id,
		Status:       pipeline.StatusPending,
	}
	created, gotID, err := store.InsertIfAbsent(context.Background(), rec)
	require.NoError(t, err)
	require.True(t, created)
	require.Equal(t, id, gotID)
	return rec
}

func TestInsertIfAbsentDeduplicates(t *testing.T) {
	t.Parallel()

	store := NewLinkStore(newFakeClock())
	seedLink(t, store, "link-1", "https://news.example.com/a")

	created, id, err := store.InsertIfAbsent(context.Background(), pipeline.LinkRecord{
		ID:           "link-2",
		URL:          "https://news.example.com/a",
		IdentityHash: "hash-link-1",
	})
	require.NoError(t, err)
	require.False(t, created)
	require.Equal(t, "link-1", id)
}

func TestBackfillTitleOnlyWhenEmpty(t *testing.T) {
	t.Parallel()

	store := NewLinkStore(newFakeClock())
	seedLink(t, store, "link-1", "https://news.example.com/a")

	require.NoError(t, store.BackfillTitle(context.Background(), "hash-link-1", "First title"))
	require.NoError(t, store.BackfillTitle(context.Background(), "hash-link-1", "Second title"))

	link, err := store.GetLink(context.Background(), "link-1")
	require.NoError(t, err)
	require.Equal(t, "First title", link.Title)
}

func TestCompareAndSetStatusIsExclusive(t *testing.T) {
	t.Parallel()

	store := NewLinkStore(newFakeClock())
	seedLink(t, store, "link-1", "https://news.example.com/a")

	ok, err := store.CompareAndSetStatus(context.Background(), "link-1", pipeline.StatusPending, pipeline.StatusProcessing, "")
	require.NoError(t, err)
	require.True(t, ok)

	// Second claim observes the status change and loses.
	ok, err = store.CompareAndSetStatus(context.Background(), "link-1", pipeline.StatusPending, pipeline.StatusProcessing, "")
	require.NoError(t, err)
	require.False(t, ok)

	link, err := store.GetLink(context.Background(), "link-1")
	require.NoError(t, err)
	require.Equal(t, pipeline.StatusProcessing, link.Status)
	require.NotNil(t, link.LastCheckedAt)
}

func TestCompareAndSetStatusRejectsIllegalTransition(t *testing.T) {
	t.Parallel()

	store := NewLinkStore(newFakeClock())
	seedLink(t, store, "link-1", "https://news.example.com/a")

	_, err := store.CompareAndSetStatus(context.Background(), "link-1", pipeline.StatusPending, pipeline.StatusCompleted, "")
	require.Error(t, err)
}

func TestMarkCompletedStoresResultAtomically(t *testing.T) {
	t.Parallel()

	store := NewLinkStore(newFakeClock())
	seedLink(t, store, "link-1", "https://news.example.com/a")

	// Result must not exist before completion.
	_, err := store.GetResult(context.Background(), "link-1")
	require.ErrorIs(t, err, ErrNotFound)

	// Completing without a claim is refused.
	err = store.MarkCompleted(context.Background(), "link-1", pipeline.ProcessedResult{Title: "t"})
	require.Error(t, err)

	ok, err := store.CompareAndSetStatus(context.Background(), "link-1", pipeline.StatusPending, pipeline.StatusProcessing, "")
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, store.MarkCompleted(context.Background(), "link-1", pipeline.ProcessedResult{Title: "t"}))

	link, err := store.GetLink(context.Background(), "link-1")
	require.NoError(t, err)
	require.Equal(t, pipeline.StatusCompleted, link.Status)

	result, err := store.GetResult(context.Background(), "link-1")
	require.NoError(t, err)
	require.Equal(t, "link-1", result.LinkID)
}

func TestResetStuckReclaimsOnlyStaleProcessing(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	store := NewLinkStore(clock)
	seedLink(t, store, "stale", "https://a.example.com/1")
	seedLink(t, store, "fresh", "https://b.example.com/1")

	ctx := context.Background()
	ok, err := store.CompareAndSetStatus(ctx, "stale", pipeline.StatusPending, pipeline.StatusProcessing, "")
	require.NoError(t, err)
	require.True(t, ok)

	clock.Advance(15 * time.Minute)
	ok, err = store.CompareAndSetStatus(ctx, "fresh", pipeline.StatusPending, pipeline.StatusProcessing, "")
	require.NoError(t, err)
	require.True(t, ok)

	count, err := store.ResetStuck(ctx, 10*time.Minute, "reclaimed: worker stale")
	require.NoError(t, err)
	require.Equal(t, 1, count)

	stale, err := store.GetLink(ctx, "stale")
	require.NoError(t, err)
	require.Equal(t, pipeline.StatusPending, stale.Status)
	require.Equal(t, "reclaimed: worker stale", stale.ErrorMessage)

	fresh, err := store.GetLink(ctx, "fresh")
	require.NoError(t, err)
	require.Equal(t, pipeline.StatusProcessing, fresh.Status)

	// An immediate second sweep finds nothing: reclaim happens once.
	count, err = store.ResetStuck(ctx, 10*time.Minute, "reclaimed: worker stale")
	require.NoError(t, err)
	require.Zero(t, count)
}

func TestResetFailedHonorsRetryableFilter(t *testing.T) {
	t.Parallel()

	store := NewLinkStore(newFakeClock())
	seedLink(t, store, "soft", "https://a.example.com/1")
	seedLink(t, store, "hard", "https://b.example.com/1")

	ctx := context.Background()
	for _, id := range []string{"soft", "hard"} {
		ok, err := store.CompareAndSetStatus(ctx, id, pipeline.StatusPending, pipeline.StatusProcessing, "")
		require.NoError(t, err)
		require.True(t, ok)
	}
	ok, err := store.CompareAndSetStatus(ctx, "soft", pipeline.StatusProcessing, pipeline.StatusFailed, pipeline.RetryableMarker+"timeout")
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = store.CompareAndSetStatus(ctx, "hard", pipeline.StatusProcessing, pipeline.StatusFailed, "blocked by host (status 451)")
	require.NoError(t, err)
	require.True(t, ok)

	count, err := store.ResetFailed(ctx, true)
	require.NoError(t, err)
	require.Equal(t, 1, count)

	soft, err := store.GetLink(ctx, "soft")
	require.NoError(t, err)
	require.Equal(t, pipeline.StatusPending, soft.Status)

	hard, err := store.GetLink(ctx, "hard")
	require.NoError(t, err)
	require.Equal(t, pipeline.StatusFailed, hard.Status)
}

func TestListPendingOldestFirst(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	store := NewLinkStore(clock)
	seedLink(t, store, "old", "https://a.example.com/1")
	clock.Advance(time.Minute)
	seedLink(t, store, "new", "https://b.example.com/1")

	pending, err := store.ListPending(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	require.Equal(t, "old", pending[0].ID)
}

func TestDomainActivity(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	store := NewLinkStore(clock)
	seedLink(t, store, "link-1", "https://a.example.com/1")

	ctx := context.Background()
	since := clock.Now().Add(-time.Hour)
	ok, err := store.CompareAndSetStatus(ctx, "link-1", pipeline.StatusPending, pipeline.StatusProcessing, "")
	require.NoError(t, err)
	require.True(t, ok)

	activity, err := store.DomainActivity(ctx, since)
	require.NoError(t, err)
	require.Contains(t, activity, "a.example.com")
}
