package crawler

import (
	"net/http"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/garkling/PDFLinkCrawler/pkg/types"
)

func req(t *testing.T, method, raw string) types.CrawlRequest {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return types.CrawlRequest{Method: method, URL: u}
}

func TestFingerprintCanonicalisesURLs(t *testing.T) {
	cases := []struct {
		a, b string
	}{
		{"https://X.com:443/a", "https://x.com/a"},
		{"http://x.com", "http://x.com/"},
		{"https://x.com/a?b=2&a=1", "https://x.com/a?a=1&b=2"},
		{"https://x.com/a#frag", "https://x.com/a"},
	}
	for _, tc := range cases {
		assert.Equal(t,
			Fingerprint(req(t, http.MethodGet, tc.a)),
			Fingerprint(req(t, http.MethodGet, tc.b)),
			tc.a,
		)
	}

	assert.NotEqual(t,
		Fingerprint(req(t, http.MethodGet, "https://x.com/a")),
		Fingerprint(req(t, http.MethodHead, "https://x.com/a")),
	)
	assert.NotEqual(t,
		Fingerprint(req(t, http.MethodGet, "https://x.com:8443/a")),
		Fingerprint(req(t, http.MethodGet, "https://x.com/a")),
	)
	assert.Empty(t, Fingerprint(types.CrawlRequest{}))
}

func TestRequestFilterSeen(t *testing.T) {
	f := NewRequestFilter(10)
	r := req(t, http.MethodHead, "https://x.com/report")

	assert.False(t, f.Seen(r))
	assert.True(t, f.Seen(r))
	assert.False(t, f.Seen(req(t, http.MethodGet, "https://x.com/report")))
	assert.True(t, f.Seen(types.CrawlRequest{}), "requests without a URL are never scheduled")
	assert.Equal(t, 2, f.Len())
}

func TestRequestFilterEvictsOldest(t *testing.T) {
	f := NewRequestFilter(2)
	first := req(t, http.MethodGet, "https://x.com/1")
	assert.False(t, f.Seen(first))
	assert.False(t, f.Seen(req(t, http.MethodGet, "https://x.com/2")))
	assert.False(t, f.Seen(req(t, http.MethodGet, "https://x.com/3")))

	assert.Equal(t, 2, f.Len())
	assert.False(t, f.Seen(first), "oldest fingerprint was evicted")
}
