package postgres

import (
	"context"
	"testing"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/trendradar/newsflow/internal/pipeline"
)

func newBlacklist(t *testing.T) (*BlacklistStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	store, err := NewBlacklistStore(mock, fixedClock{now: testNow})
	require.NoError(t, err)
	return store, mock
}

func TestRecordBlockUpsertsLowercasedDomain(t *testing.T) {
	t.Parallel()
	store, mock := newBlacklist(t)

	mock.ExpectExec("INSERT INTO blacklisted_sites").
		WithArgs("paywalled.example", "https://Paywalled.example/story", "Story",
			"blocked by host (status 403)", testNow).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := store.RecordBlock(context.Background(), pipeline.BlacklistEntry{
		Domain:  "Paywalled.Example",
		LastURL: "https://Paywalled.example/story",
		Title:   "Story",
		Reason:  "blocked by host (status 403)",
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestIsBlacklisted(t *testing.T) {
	t.Parallel()
	store, mock := newBlacklist(t)

	mock.ExpectQuery("SELECT EXISTS").
		WithArgs("paywalled.example").
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))

	blocked, err := store.IsBlacklisted(context.Background(), "Paywalled.Example")
	require.NoError(t, err)
	require.True(t, blocked)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestClearReportsMissingDomain(t *testing.T) {
	t.Parallel()
	store, mock := newBlacklist(t)

	mock.ExpectExec("DELETE FROM blacklisted_sites").
		WithArgs("gone.example").
		WillReturnResult(pgxmock.NewResult("DELETE", 0))

	removed, err := store.Clear(context.Background(), "gone.example")
	require.NoError(t, err)
	require.False(t, removed)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListReturnsEntries(t *testing.T) {
	t.Parallel()
	store, mock := newBlacklist(t)

	mock.ExpectQuery("SELECT domain, last_url").
		WillReturnRows(pgxmock.NewRows([]string{
			"domain", "last_url", "title", "reason", "created_at", "updated_at",
		}).AddRow("a.example", "https://a.example/x", "", "blocked", testNow, testNow))

	entries, err := store.List(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "a.example", entries[0].Domain)
	require.NoError(t, mock.ExpectationsWereMet())
}
