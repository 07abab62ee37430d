package scheduler

import (
	"context"
	"errors"
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

type fixture struct {
	clock     *fakeClock
	store     *memory.LinkStore
	blacklist *memory.BlacklistStore
	sched     *DomainScheduler
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	clock := newFakeClock()
	store := memory.NewLinkStore(clock)
	blacklist := memory.NewBlacklistStore(clock)
	return &fixture{
		clock:     clock,
		store:     store,
		blacklist: blacklist,
		sched:     New(store, blacklist, clock, cfg, zap.NewNop()),
	}
}

func (f *fixture) addPending(t *testing.T, id, rawURL string) {
	t.Helper()
	created, _, err := f.store.InsertIfAbsent(context.Background(), pipeline.LinkRecord{
		ID:           id,
		URL:          rawURL,
		IdentityHash: "hash-" + id,
		Status:       pipeline.StatusPending,
	})
	require.NoError(t, err)
	require.True(t, created)
}

// claim mirrors the worker's pending->processing transition for a
// dispatched link.
func (f *fixture) claim(t *testing.T, id string) {
	t.Helper()
	ok, err := f.store.CompareAndSetStatus(context.Background(), id, pipeline.StatusPending, pipeline.StatusProcessing, "")
	require.NoError(t, err)
	require.True(t, ok)
}

func domains(batch []pipeline.LinkRecord) []string {
	out := make([]string, 0, len(batch))
	for _, link := range batch {
		out = append(out, pipeline.Domain(link.URL))
	}
	return out
}

func TestNextBatchOneItemPerDomain(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{MaxConcurrentDomains: 4, SameDomainDelay: time.Second})
	f.addPending(t, "a1", "https://a.example.com/1")
	f.clock.Advance(time.Millisecond)
	f.addPending(t, "a2", "https://a.example.com/2")
	f.clock.Advance(time.Millisecond)
	f.addPending(t, "b1", "https://b.example.com/1")

	batch, err := f.sched.NextBatch(context.Background())
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"a.example.com", "b.example.com"}, domains(batch))
}

func TestNextBatchCapsConcurrentDomains(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{MaxConcurrentDomains: 2, SameDomainDelay: time.Second})
	hosts := []string{"a", "b", "c", "d"}
	for _, h := range hosts {
		f.addPending(t, h, "https://"+h+".example.com/1")
		f.clock.Advance(time.Millisecond)
	}

	batch, err := f.sched.NextBatch(context.Background())
	require.NoError(t, err)
	require.Len(t, batch, 2)
}

func TestNextBatchOldestDiscoveredWins(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{MaxConcurrentDomains: 1, SameDomainDelay: time.Second})
	f.addPending(t, "old", "https://old.example.com/1")
	f.clock.Advance(time.Minute)
	f.addPending(t, "new", "https://new.example.com/1")

	batch, err := f.sched.NextBatch(context.Background())
	require.NoError(t, err)
	require.Len(t, batch, 1)
	require.Equal(t, "old", batch[0].ID)
}

func TestNextBatchSkipsInflightDomainUntilRelease(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{MaxConcurrentDomains: 2, SameDomainDelay: 0})
	f.addPending(t, "a1", "https://a.example.com/1")
	f.clock.Advance(time.Millisecond)
	f.addPending(t, "a2", "https://a.example.com/2")

	ctx := context.Background()
	batch, err := f.sched.NextBatch(ctx)
	require.NoError(t, err)
	require.Len(t, batch, 1)
	require.Equal(t, "a1", batch[0].ID)

	// Domain still in flight: nothing eligible even though a2 is pending.
	batch, err = f.sched.NextBatch(ctx)
	require.NoError(t, err)
	require.Empty(t, batch)

	// The worker claims the item before releasing the slot.
	f.claim(t, "a1")
	f.sched.Release("a.example.com")
	batch, err = f.sched.NextBatch(ctx)
	require.NoError(t, err)
	require.Len(t, batch, 1)
	require.Equal(t, "a2", batch[0].ID)
}

func TestNextBatchHonorsCooldown(t *testing.T) {
	t.Parallel()

	delay := 3 * time.Second
	f := newFixture(t, Config{MaxConcurrentDomains: 2, SameDomainDelay: delay})
	f.addPending(t, "a1", "https://a.example.com/1")
	f.clock.Advance(time.Millisecond)
	f.addPending(t, "a2", "https://a.example.com/2")

	ctx := context.Background()
	batch, err := f.sched.NextBatch(ctx)
	require.NoError(t, err)
	require.Len(t, batch, 1)
	f.claim(t, "a1")
	f.sched.Release("a.example.com")

	// Released but still cooling down.
	batch, err = f.sched.NextBatch(ctx)
	require.NoError(t, err)
	require.Empty(t, batch)

	f.clock.Advance(delay)
	batch, err = f.sched.NextBatch(ctx)
	require.NoError(t, err)
	require.Len(t, batch, 1)
	require.Equal(t, "a2", batch[0].ID)
}

func TestNextBatchExcludesBlacklistedDomain(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{MaxConcurrentDomains: 3, SameDomainDelay: 0})
	f.addPending(t, "blocked", "https://blocked.example.com/1")
	f.clock.Advance(time.Millisecond)
	f.addPending(t, "fine", "https://fine.example.com/1")

	ctx := context.Background()
	require.NoError(t, f.blacklist.RecordBlock(ctx, pipeline.BlacklistEntry{
		Domain:  "blocked.example.com",
		LastURL: "https://blocked.example.com/1",
		Reason:  "403",
	}))

	batch, err := f.sched.NextBatch(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"fine.example.com"}, domains(batch))
}

func TestBlacklistingMidStreamStopsFurtherDispatch(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{MaxConcurrentDomains: 2, SameDomainDelay: 0})
	f.addPending(t, "b1", "https://blocked.example.com/1")
	f.clock.Advance(time.Millisecond)
	f.addPending(t, "b2", "https://blocked.example.com/2")

	ctx := context.Background()
	batch, err := f.sched.NextBatch(ctx)
	require.NoError(t, err)
	require.Len(t, batch, 1)

	// The first item triggered a block while in flight.
	require.NoError(t, f.blacklist.RecordBlock(ctx, pipeline.BlacklistEntry{
		Domain:  "blocked.example.com",
		LastURL: "https://blocked.example.com/1",
		Reason:  "451",
	}))
	f.sched.Release("blocked.example.com")

	batch, err = f.sched.NextBatch(ctx)
	require.NoError(t, err)
	require.Empty(t, batch)
}

type faultyBlacklist struct {
	*memory.BlacklistStore
	failDomain string
}

func (b *faultyBlacklist) IsBlacklisted(ctx context.Context, domain string) (bool, error) {
	if domain == b.failDomain {
		return false, errors.New("blacklist store unavailable")
	}
	return b.BlacklistStore.IsBlacklisted(ctx, domain)
}

func TestNextBatchReleasesSlotsOnBlacklistError(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{MaxConcurrentDomains: 3, SameDomainDelay: 0})
	f.addPending(t, "a1", "https://a.example.com/1")
	f.clock.Advance(time.Millisecond)
	f.addPending(t, "b1", "https://b.example.com/1")

	faulty := &faultyBlacklist{BlacklistStore: f.blacklist, failDomain: "b.example.com"}
	sched := New(f.store, faulty, f.clock, Config{MaxConcurrentDomains: 3, SameDomainDelay: 0}, zap.NewNop())

	ctx := context.Background()
	_, err := sched.NextBatch(ctx)
	require.Error(t, err)

	// The failed pass must not strand a.example.com's slot.
	faulty.failDomain = ""
	batch, err := sched.NextBatch(ctx)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"a.example.com", "b.example.com"}, domains(batch))
}

func TestReconcileSeedsCooldownFromDurableState(t *testing.T) {
	t.Parallel()

	delay := 5 * time.Second
	f := newFixture(t, Config{MaxConcurrentDomains: 2, SameDomainDelay: delay})
	f.addPending(t, "a1", "https://a.example.com/1")
	f.clock.Advance(time.Millisecond)
	f.addPending(t, "a2", "https://a.example.com/2")

	ctx := context.Background()

	// Simulate a dispatch that happened just before a restart: a1 was
	// claimed, stamping last_checked_at for the domain.
	ok, err := f.store.CompareAndSetStatus(ctx, "a1", pipeline.StatusPending, pipeline.StatusProcessing, "")
	require.NoError(t, err)
	require.True(t, ok)

	// Fresh scheduler (post-restart) without reconciliation would dispatch
	// immediately; with it the cooldown survives.
	restarted := New(f.store, f.blacklist, f.clock, Config{MaxConcurrentDomains: 2, SameDomainDelay: delay}, zap.NewNop())
	require.NoError(t, restarted.Reconcile(ctx))

	batch, err := restarted.NextBatch(ctx)
	require.NoError(t, err)
	require.Empty(t, batch)

	f.clock.Advance(delay)
	batch, err = restarted.NextBatch(ctx)
	require.NoError(t, err)
	require.Len(t, batch, 1)
	require.Equal(t, "a2", batch[0].ID)
}
