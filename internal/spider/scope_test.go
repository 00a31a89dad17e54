package spider

import (
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeStartURLs(t *testing.T) {
	tests := []struct {
		raw  string
		want []string
	}{
		{"example.com,https://foo.com", []string{"https://example.com", "https://foo.com"}},
		{"//example.com/docs", []string{"https://example.com/docs"}},
		{"///example.com", []string{"https://example.com"}},
		{"http://a.com,http://a.com,a.com", []string{"http://a.com", "https://a.com"}},
		{"a.com, b.com ,", []string{"https://a.com", "https://b.com"}},
		{"", []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeStartURLs(tt.raw, "https://"))
		})
	}
}

func TestNormalizeStartURLsHasNoDuplicatesAndSchemes(t *testing.T) {
	for _, raw := range []string{
		"a.com,a.com,/a.com,//a.com",
		"https://x.org/p,x.org/p,http://x.org/p",
		"sub.example.co.uk,example.co.uk/path?q=1",
	} {
		got := NormalizeStartURLs(raw, "https://")
		seen := map[string]bool{}
		for _, u := range got {
			assert.False(t, seen[u], "duplicate %q in %v", u, got)
			seen[u] = true
			parsed, err := url.Parse(u)
			if assert.NoError(t, err) {
				assert.NotEmpty(t, parsed.Scheme, u)
			}
		}
	}
}

func TestAllowedDomains(t *testing.T) {
	start := []string{"https://a.b.example.com"}
	assert.Equal(t, []string{"example.com"}, AllowedDomains(start, true))
	assert.Equal(t, []string{"a.b.example.com"}, AllowedDomains(start, false))

	multi := []string{"https://docs.example.co.uk:8443/x", "https://www.example.co.uk", "http://other.org"}
	assert.Equal(t, []string{"docs.example.co.uk:8443", "other.org", "www.example.co.uk"}, AllowedDomains(multi, false))
	assert.Equal(t, []string{"example.co.uk", "other.org"}, AllowedDomains(multi, true))
}

func TestAllowedDomainsKeepsDegenerateEntries(t *testing.T) {
	assert.Equal(t, []string{""}, AllowedDomains([]string{"https://", "https://%zz"}, false))
	assert.Equal(t, []string{""}, AllowedDomains([]string{"http://localhost:8080", "http://127.0.0.1"}, true))
}

func TestRegistrableDomain(t *testing.T) {
	tests := map[string]string{
		"a.b.example.com":   "example.com",
		"example.com":       "example.com",
		"EXAMPLE.com:443":   "example.com",
		"news.bbc.co.uk":    "bbc.co.uk",
		"localhost":         "",
		"10.0.0.1":          "",
		"[::1]:80":          "",
		"host.notarealtld1": "",
		"":                  "",
	}
	for host, want := range tests {
		assert.Equal(t, want, RegistrableDomain(host), host)
	}
}

func TestScopeAllows(t *testing.T) {
	s := NewScope([]string{"example.com", "docs.other.org:8443", ""})

	allowed := []string{
		"https://example.com/a",
		"https://www.example.com/a",
		"http://EXAMPLE.com:8080/",
		"https://docs.other.org/x",
		"https://v2.docs.other.org/x",
	}
	denied := []string{
		"https://other.org/",
		"https://notexample.com/",
		"https://example.com.evil.net/",
		"mailto:someone@example.com",
	}
	for _, raw := range allowed {
		u, _ := url.Parse(raw)
		assert.True(t, s.Allows(u), raw)
	}
	for _, raw := range denied {
		u, _ := url.Parse(raw)
		assert.False(t, s.Allows(u), raw)
	}
	assert.False(t, NewScope([]string{""}).AllowsHost("example.com"))
	assert.Equal(t, []string{"example.com", "docs.other.org"}, s.Domains())
}

func TestDeniedExtensionsAlwaysKeepsPDF(t *testing.T) {
	denied := DeniedExtensions("pdf", []string{"pkg", ".ISO"})
	joined := "," + strings.Join(denied, ",") + ","
	assert.NotContains(t, joined, ",pdf,")
	assert.Contains(t, joined, ",pkg,")
	assert.Contains(t, joined, ",zip,")
	assert.Contains(t, joined, ",iso,")

	// Removing an extension that is not on the list leaves the list intact
	// and does not add it back.
	withoutFoo := DeniedExtensions("foo", nil)
	assert.Contains(t, withoutFoo, "pdf")
	assert.NotContains(t, withoutFoo, "foo")

	f := NewExtensionFilter(denied)
	assert.False(t, f.Denied("/files/report.pdf"))
	assert.True(t, f.Denied("/img/logo.PNG"))
	assert.True(t, f.Denied("/dist/app.pkg"))
	assert.False(t, f.Denied("/about"))
	assert.False(t, f.Denied("/docs/v1.2/"))
}
