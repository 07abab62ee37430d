package pipeline

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalizeURLStripsTrackingParams(t *testing.T) {
	t.Parallel()

	got, err := NormalizeURL("https://news.example.com/a?utm_source=x&utm_medium=mail&id=7")
	require.NoError(t, err)
	require.Equal(t, "https://news.example.com/a?id=7", got)

	bare, err := NormalizeURL("https://news.example.com/a?id=7")
	require.NoError(t, err)
	require.Equal(t, bare, got)
}

func TestNormalizeURLCanonicalForms(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		in   string
		want string
	}{
		{"lowercase host", "https://News.Example.COM/Path", "https://news.example.com/Path"},
		{"default https port", "https://news.example.com:443/a", "https://news.example.com/a"},
		{"default http port", "http://news.example.com:80/a", "http://news.example.com/a"},
		{"trailing slash", "https://news.example.com/a/", "https://news.example.com/a"},
		{"root trailing slash", "https://news.example.com/", "https://news.example.com"},
		{"fragment removed", "https://news.example.com/a#section", "https://news.example.com/a"},
		{"query sorted", "https://news.example.com/a?b=2&a=1", "https://news.example.com/a?a=1&b=2"},
		{"gclid removed", "https://news.example.com/a?gclid=zzz", "https://news.example.com/a"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, err := NormalizeURL(tc.in)
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
		})
	}
}

func TestNormalizeURLIsIdempotent(t *testing.T) {
	t.Parallel()

	inputs := []string{
		"https://News.example.com:443/a/?utm_source=x&b=2&a=1#frag",
		"http://example.com:80/",
		"https://example.com/path/to/story?fbclid=abc",
	}
	for _, in := range inputs {
		once, err := NormalizeURL(in)
		require.NoError(t, err)
		twice, err := NormalizeURL(once)
		require.NoError(t, err)
		require.Equal(t, once, twice)
	}
}

func TestNormalizeURLRejectsInvalid(t *testing.T) {
	t.Parallel()

	for _, in := range []string{"", "not a url", "ftp://example.com/file", "https://"} {
		_, err := NormalizeURL(in)
		require.Error(t, err, "input %q", in)
	}
}

func TestDomain(t *testing.T) {
	t.Parallel()

	require.Equal(t, "news.example.com", Domain("https://News.Example.com:8443/a"))
	require.Equal(t, "", Domain("://bad"))
}
