package spider

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func keys(set map[string]struct{}) []string {
	return sortedKeys(set)
}

func decode(t *testing.T, raw string) any {
	t.Helper()
	var v any
	require.NoError(t, jsonAPI.UnmarshalFromString(raw, &v))
	return v
}

func TestExtractPDFLinks(t *testing.T) {
	v := decode(t, `{"a": ["https://x.com/doc.pdf", "https://x.com/page", 42, null]}`)

	got := ExtractPDFLinks(v, "pdf")
	assert.Equal(t, []string{"https://x.com/doc.pdf"}, keys(got.PDF))
	assert.Equal(t, []string{"https://x.com/page"}, keys(got.Other))
}

func TestExtractPDFLinksIgnoresKeysAndPartialURLs(t *testing.T) {
	v := decode(t, `{
		"https://keys.example/are-ignored.pdf": true,
		"nested": {"deeper": [{"url": "//cdn.x.com/files/a.pdf?v=2"}]},
		"noPath": "https://x.com",
		"relative": "/files/b.pdf",
		"upper": "https://x.com/C.PDF",
		"mail": "mailto:a@x.com",
		"plain": "just words",
		"num": 1.5,
		"flag": false
	}`)

	got := ExtractPDFLinks(v, "pdf")
	assert.Equal(t, []string{"//cdn.x.com/files/a.pdf?v=2"}, keys(got.PDF))
	assert.Equal(t, []string{"https://x.com/C.PDF"}, keys(got.Other))
}

func TestExtractPDFLinksScalarsAndDisjointness(t *testing.T) {
	assert.Zero(t, ExtractPDFLinks(nil, "pdf").Len())
	assert.Zero(t, ExtractPDFLinks(3.0, "pdf").Len())
	assert.Equal(t, 1, ExtractPDFLinks("https://x.com/a.pdf", "pdf").Len())

	v := decode(t, `["https://x.com/a.pdf", "https://x.com/a.pdf", "https://x.com/b", ["https://x.com/b"]]`)
	first := ExtractPDFLinks(v, "pdf")
	second := ExtractPDFLinks(v, "pdf")
	assert.Equal(t, first, second)
	for link := range first.PDF {
		_, clash := first.Other[link]
		assert.False(t, clash, link)
	}
	assert.Equal(t, 2, first.Len())
}

func TestExtractPDFLinksDeepNesting(t *testing.T) {
	const depth = 100000

	// Built by hand: decoders cap nesting well below this.
	var v any = "https://x.com/deep.pdf"
	for i := 0; i < depth; i++ {
		v = []any{map[string]any{"k": v}}
	}
	got := ExtractPDFLinks(v, "pdf")
	assert.Equal(t, []string{"https://x.com/deep.pdf"}, keys(got.PDF))
}

func TestParseScriptsSkipsMalformedBodies(t *testing.T) {
	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, nil))

	got := ParseScripts([]string{
		`{"file": "https://x.com/one.pdf"}`,
		`{not json`,
		``,
		`["https://x.com/next", {"f": "https://x.com/two.pdf"}]`,
	}, "pdf", logger)

	assert.Equal(t, []string{"https://x.com/one.pdf", "https://x.com/two.pdf"}, keys(got.PDF))
	assert.Equal(t, []string{"https://x.com/next"}, keys(got.Other))
	assert.Equal(t, 2, strings.Count(logs.String(), "invalid JSON"))
}
