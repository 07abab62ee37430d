package recovery

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/trendradar/newsflow/internal/pipeline"
	"github.com/trendradar/newsflow/internal/storage/memory"
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

func seedProcessing(t *testing.T, store *memory.LinkStore, clock *fakeClock, id string) {
	t.Helper()
	ctx := context.Background()
	created, _, err := store.InsertIfAbsent(ctx, pipeline.LinkRecord{
		ID:           id,
		URL:          "https://example.com/" + id,
		IdentityHash: "hash-" + id,
		Status:       pipeline.StatusPending,
		DiscoveredAt: clock.Now(),
	})
	require.NoError(t, err)
	require.True(t, created)
	claimed, err := store.CompareAndSetStatus(ctx, id, pipeline.StatusPending, pipeline.StatusProcessing, "")
	require.NoError(t, err)
	require.True(t, claimed)
}

func TestSweepReclaimsStaleProcessing(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	store := memory.NewLinkStore(clock)
	seedProcessing(t, store, clock, "stale")

	clock.Advance(11 * time.Minute)
	seedProcessing(t, store, clock, "fresh")

	kicked := 0
	s := New(store, 10*time.Minute, time.Minute, func() { kicked++ }, zap.NewNop())
	n, err := s.Sweep(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Equal(t, 1, kicked)

	stale, err := store.GetLink(ctx, "stale")
	require.NoError(t, err)
	require.Equal(t, pipeline.StatusPending, stale.Status)
	require.True(t, pipeline.IsRetryableMessage(stale.ErrorMessage))

	fresh, err := store.GetLink(ctx, "fresh")
	require.NoError(t, err)
	require.Equal(t, pipeline.StatusProcessing, fresh.Status)
}

func TestSweepNoStaleIsQuiet(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	store := memory.NewLinkStore(clock)
	seedProcessing(t, store, clock, "fresh")

	kicked := 0
	s := New(store, 10*time.Minute, time.Minute, func() { kicked++ }, zap.NewNop())
	n, err := s.Sweep(ctx)
	require.NoError(t, err)
	require.Zero(t, n)
	require.Zero(t, kicked)
}

func TestSweepIsIdempotent(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	store := memory.NewLinkStore(clock)
	seedProcessing(t, store, clock, "stale")
	clock.Advance(11 * time.Minute)

	s := New(store, 10*time.Minute, time.Minute, nil, zap.NewNop())
	n, err := s.Sweep(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	n, err = s.Sweep(ctx)
	require.NoError(t, err)
	require.Zero(t, n)
}
