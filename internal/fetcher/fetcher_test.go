package fetcher

import (
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/andybalholm/brotli"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/garkling/PDFLinkCrawler/pkg/types"
)

func newServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/gzip", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Header().Set("Content-Encoding", "gzip")
		gz := gzip.NewWriter(w)
		_, _ = gz.Write([]byte("<p>gzipped</p>"))
		_ = gz.Close()
	})
	mux.HandleFunc("/br", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Header().Set("Content-Encoding", "br")
		bw := brotli.NewWriter(w)
		_, _ = bw.Write([]byte("<p>brotli</p>"))
		_ = bw.Close()
	})
	mux.HandleFunc("/doc", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-agent", r.Header.Get("User-Agent"))
		assert.Equal(t, "on", r.Header.Get("X-Extra"))
		w.Header().Set("Content-Type", "application/pdf")
		_, _ = w.Write([]byte("%PDF-1.7"))
	})
	mux.HandleFunc("/big", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(bytes.Repeat([]byte("x"), 64))
	})
	mux.HandleFunc("/redirect", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/doc", http.StatusFound)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newTestFetcher(t *testing.T, maxBody int64) *HTTPFetcher {
	t.Helper()
	f, err := NewHTTPFetcher(Options{
		UserAgent:    "test-agent",
		Headers:      map[string]string{"X-Extra": "on"},
		MaxBodyBytes: maxBody,
	})
	require.NoError(t, err)
	return f
}

func request(t *testing.T, method, raw string) types.CrawlRequest {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return types.CrawlRequest{Method: method, URL: u}
}

func TestHTTPFetcherDecodesBodies(t *testing.T) {
	srv := newServer(t)
	f := newTestFetcher(t, 1024)

	page, err := f.Fetch(context.Background(), request(t, http.MethodGet, srv.URL+"/gzip"))
	require.NoError(t, err)
	assert.Equal(t, "<p>gzipped</p>", string(page.Body))

	page, err = f.Fetch(context.Background(), request(t, http.MethodGet, srv.URL+"/br"))
	require.NoError(t, err)
	assert.Equal(t, "<p>brotli</p>", string(page.Body))
	assert.Equal(t, http.MethodGet, page.Method)
}

func TestHTTPFetcherHeadSkipsBody(t *testing.T) {
	srv := newServer(t)
	f := newTestFetcher(t, 1024)

	page, err := f.Fetch(context.Background(), request(t, http.MethodHead, srv.URL+"/redirect"))
	require.NoError(t, err)
	assert.Equal(t, http.MethodHead, page.Method)
	assert.Empty(t, page.Body)
	assert.Equal(t, "application/pdf", page.ContentType)
	assert.Equal(t, srv.URL+"/doc", page.FinalURL.String())
	assert.Equal(t, srv.URL+"/redirect", page.URL.String())
}

func TestHTTPFetcherEnforcesBodyLimit(t *testing.T) {
	srv := newServer(t)
	f := newTestFetcher(t, 16)

	_, err := f.Fetch(context.Background(), request(t, http.MethodGet, srv.URL+"/big"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exceeds limit")
}

func TestHTTPFetcherRejectsOtherMethods(t *testing.T) {
	f := newTestFetcher(t, 16)
	_, err := f.Fetch(context.Background(), request(t, http.MethodPost, "http://127.0.0.1/"))
	assert.Error(t, err)
	_, err = f.Fetch(context.Background(), types.CrawlRequest{})
	assert.Error(t, err)
}

type stubFetcher struct {
	calls []types.CrawlRequest
}

func (s *stubFetcher) Fetch(_ context.Context, req types.CrawlRequest) (*types.Page, error) {
	s.calls = append(s.calls, req)
	return &types.Page{URL: req.URL, Method: req.Method}, nil
}

type stubRenderer struct {
	err         error
	status      int
	contentType string
	calls       int
}

func (s *stubRenderer) Render(_ context.Context, req types.CrawlRequest) (*types.Page, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	page := &types.Page{URL: req.URL, Rendered: true, StatusCode: http.StatusOK, ContentType: "text/html; charset=utf-8"}
	if s.status != 0 {
		page.StatusCode = s.status
	}
	if s.contentType != "" {
		page.ContentType = s.contentType
	}
	return page, nil
}

func TestCompositeRouting(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	t.Run("renders GET when requested", func(t *testing.T) {
		httpF, renderer := &stubFetcher{}, &stubRenderer{}
		c := NewComposite(httpF, renderer, logger)
		req := request(t, http.MethodGet, "https://x.com/")
		req.Render = true

		page, err := c.Fetch(context.Background(), req)
		require.NoError(t, err)
		assert.True(t, page.Rendered)
		assert.Empty(t, httpF.calls)
	})

	t.Run("never renders HEAD", func(t *testing.T) {
		httpF, renderer := &stubFetcher{}, &stubRenderer{}
		c := NewComposite(httpF, renderer, logger)
		req := request(t, http.MethodHead, "https://x.com/file")
		req.Render = true

		_, err := c.Fetch(context.Background(), req)
		require.NoError(t, err)
		assert.Zero(t, renderer.calls)
		require.Len(t, httpF.calls, 1)
		assert.False(t, httpF.calls[0].Render)
	})

	t.Run("falls back on render error", func(t *testing.T) {
		httpF, renderer := &stubFetcher{}, &stubRenderer{err: errors.New("no chrome")}
		c := NewComposite(httpF, renderer, logger)
		req := request(t, http.MethodGet, "https://x.com/")
		req.Render = true

		page, err := c.Fetch(context.Background(), req)
		require.NoError(t, err)
		assert.False(t, page.Rendered)
		assert.Equal(t, 1, renderer.calls)
		require.Len(t, httpF.calls, 1)
	})

	t.Run("fetches non-html documents over http", func(t *testing.T) {
		httpF, renderer := &stubFetcher{}, &stubRenderer{contentType: "application/pdf"}
		c := NewComposite(httpF, renderer, logger)
		req := request(t, http.MethodGet, "https://x.com/download")
		req.Render = true

		page, err := c.Fetch(context.Background(), req)
		require.NoError(t, err)
		assert.False(t, page.Rendered)
		assert.Equal(t, 1, renderer.calls)
		require.Len(t, httpF.calls, 1)
		assert.False(t, httpF.calls[0].Render)
	})

	t.Run("fetches error pages over http", func(t *testing.T) {
		httpF, renderer := &stubFetcher{}, &stubRenderer{status: http.StatusServiceUnavailable}
		c := NewComposite(httpF, renderer, logger)
		req := request(t, http.MethodGet, "https://x.com/busy")
		req.Render = true

		page, err := c.Fetch(context.Background(), req)
		require.NoError(t, err)
		assert.False(t, page.Rendered)
		require.Len(t, httpF.calls, 1)
	})

	t.Run("http only without renderer", func(t *testing.T) {
		httpF := &stubFetcher{}
		c := NewComposite(httpF, nil, logger)
		_, err := c.Fetch(context.Background(), request(t, http.MethodGet, "https://x.com/"))
		require.NoError(t, err)
		assert.Len(t, httpF.calls, 1)
		assert.True(t, strings.HasPrefix(httpF.calls[0].URL.String(), "https://"))
	})
}

func TestDecodeBodyRejectsCorruptGzip(t *testing.T) {
	resp := &http.Response{
		Header: http.Header{"Content-Encoding": []string{"gzip"}},
		Body:   io.NopCloser(strings.NewReader("not gzip")),
	}
	_, err := decodeBody(resp, 1024)
	assert.ErrorContains(t, err, "gzip decode")

	resp = &http.Response{
		Header: http.Header{"Content-Encoding": []string{"identity"}},
		Body:   io.NopCloser(strings.NewReader("plain")),
	}
	body, err := decodeBody(resp, 1024)
	require.NoError(t, err)
	assert.Equal(t, "plain", string(body))
}

func TestRenderedPage(t *testing.T) {
	req := request(t, http.MethodGet, "https://x.com/start")

	t.Run("reports document status and type", func(t *testing.T) {
		page, err := renderedPage(req, documentMeta{Status: 404, ContentType: "text/html"}, "https://x.com/moved", "<html></html>", 1024)
		require.NoError(t, err)
		assert.Equal(t, http.StatusNotFound, page.StatusCode)
		assert.Equal(t, "text/html; charset=utf-8", page.ContentType)
		assert.Equal(t, "https://x.com/moved", page.FinalURL.String())
		assert.Equal(t, "https://x.com/start", page.URL.String())
		assert.True(t, page.Rendered)
	})

	t.Run("keeps non-html media types", func(t *testing.T) {
		page, err := renderedPage(req, documentMeta{ContentType: "application/pdf"}, "", "", 1024)
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, page.StatusCode)
		assert.Equal(t, "application/pdf", page.ContentType)
		assert.Empty(t, page.Body)
		assert.Equal(t, req.URL, page.FinalURL)
	})

	t.Run("rejects oversized documents", func(t *testing.T) {
		_, err := renderedPage(req, documentMeta{ContentType: "text/html"}, "", strings.Repeat("x", 64), 16)
		assert.ErrorContains(t, err, "exceeds limit of 16 bytes")
	})
}

func TestDocumentMetaRenderable(t *testing.T) {
	assert.True(t, documentMeta{ContentType: "text/html"}.renderable())
	assert.True(t, documentMeta{Status: 200, ContentType: "application/xhtml+xml"}.renderable())
	assert.False(t, documentMeta{Status: 500, ContentType: "text/html"}.renderable())
	assert.False(t, documentMeta{Status: 200, ContentType: "application/pdf"}.renderable())
}
