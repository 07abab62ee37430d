package pipeline

import (
	"fmt"
	"net/url"
	"strings"
)

// Tracking parameters stripped during canonicalization. Anything with a
// utm_ prefix is dropped as well.
var trackingParams = map[string]struct{}{
	"gclid":  {},
	"fbclid": {},
	"igshid": {},
	"mc_cid": {},
	"mc_eid": {},
	"ref":    {},
	"spm":    {},
}

// NormalizeURL canonicalizes a discovered URL for identity comparison.
// It lowercases the scheme and host, removes default ports and the fragment,
// strips tracking query parameters, sorts the remaining parameters, and
// removes trailing slashes. NormalizeURL(NormalizeURL(x)) == NormalizeURL(x).
func NormalizeURL(rawURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Hostname() == "" {
		return "", fmt.Errorf("url has no host")
	}

	if u.Scheme == "http" {
		u.Host = strings.TrimSuffix(u.Host, ":80")
	}
	if u.Scheme == "https" {
		u.Host = strings.TrimSuffix(u.Host, ":443")
	}

	u.Fragment = ""
	u.Path = strings.TrimRight(u.Path, "/")

	q := u.Query()
	for key := range q {
		if _, tracked := trackingParams[strings.ToLower(key)]; tracked {
			q.Del(key)
			continue
		}
		if strings.HasPrefix(strings.ToLower(key), "utm_") {
			q.Del(key)
		}
	}
	u.RawQuery = q.Encode()

	return u.String(), nil
}

// Domain extracts the lowercased hostname used for blacklist and
// scheduling decisions. It returns "" for unparseable URLs.
func Domain(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}
