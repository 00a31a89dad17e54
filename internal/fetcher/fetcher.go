// Package fetcher retrieves crawl requests over HTTP, optionally through a
// headless browser for pages whose links are built by JavaScript.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/garkling/PDFLinkCrawler/pkg/types"
)

// Fetcher performs a crawl request and returns the response.
type Fetcher interface {
	Fetch(ctx context.Context, req types.CrawlRequest) (*types.Page, error)
}

// Options controls HTTP fetching behaviour.
type Options struct {
	UserAgent    string
	Headers      map[string]string
	Timeout      time.Duration
	MaxBodyBytes int64
	ProxyURL     string
}

const (
	acceptHeader = "text/html,application/xhtml+xml,application/pdf;q=0.9,*/*;q=0.8"
	// headDrainLimit bounds how much of a body a misbehaving server may send
	// with a HEAD response before the connection is dropped.
	headDrainLimit = 4096
)

// HTTPFetcher implements Fetcher with net/http. It only issues GET and HEAD.
type HTTPFetcher struct {
	client       *http.Client
	headers      http.Header
	maxBodyBytes int64
}

// NewHTTPFetcher constructs an HTTP fetcher using the provided options.
func NewHTTPFetcher(opts Options) (*HTTPFetcher, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 8 * 1024 * 1024
	}

	transport := &http.Transport{
		DialContext:           (&net.Dialer{Timeout: 10 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   8,
		IdleConnTimeout:       90 * time.Second,
		ExpectContinueTimeout: time.Second,
		// Bodies are decoded by decodeBody so brotli is handled too.
		DisableCompression: true,
	}
	if raw := strings.TrimSpace(opts.ProxyURL); raw != "" {
		proxyURL, err := url.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("parse proxy url: %w", err)
		}
		transport.Proxy = http.ProxyURL(proxyURL)
	}

	headers := make(http.Header)
	headers.Set("Accept", acceptHeader)
	headers.Set("Accept-Language", "en-US,en;q=0.8")
	headers.Set("Accept-Encoding", "gzip, deflate, br")
	if opts.UserAgent != "" {
		headers.Set("User-Agent", opts.UserAgent)
	}
	for k, v := range opts.Headers {
		headers.Set(k, v)
	}

	return &HTTPFetcher{
		client:       &http.Client{Timeout: opts.Timeout, Transport: transport},
		headers:      headers,
		maxBodyBytes: opts.MaxBodyBytes,
	}, nil
}

// Fetch performs a GET or HEAD request. HEAD responses carry headers only.
// Redirects are followed and the last URL is reported as FinalURL.
func (f *HTTPFetcher) Fetch(ctx context.Context, req types.CrawlRequest) (*types.Page, error) {
	if req.URL == nil {
		return nil, errors.New("request URL is nil")
	}
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	if method != http.MethodGet && method != http.MethodHead {
		return nil, fmt.Errorf("unsupported method %q", method)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, req.URL.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header = f.headers.Clone()

	start := time.Now()
	resp, err := f.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, req.URL.Redacted(), err)
	}
	defer resp.Body.Close()

	var body []byte
	if method == http.MethodHead {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, headDrainLimit))
	} else {
		body, err = decodeBody(resp, f.maxBodyBytes)
		if err != nil {
			return nil, fmt.Errorf("%s %s: %w", method, req.URL.Redacted(), err)
		}
	}

	finalURL := req.URL
	if resp.Request != nil && resp.Request.URL != nil {
		finalURL = resp.Request.URL
	}

	return &types.Page{
		Method:          method,
		URL:             req.URL,
		FinalURL:        finalURL,
		Body:            body,
		ContentType:     resp.Header.Get("Content-Type"),
		StatusCode:      resp.StatusCode,
		Headers:         resp.Header.Clone(),
		FetchedAt:       time.Now(),
		ResponseLatency: time.Since(start),
	}, nil
}

// Client exposes the underlying HTTP client for reuse (eg. robots.txt fetches).
func (f *HTTPFetcher) Client() *http.Client {
	if f == nil {
		return nil
	}
	return f.client
}
