package fetcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/chromedp/chromedp"

	"github.com/garkling/PDFLinkCrawler/pkg/types"
)

// Renderer executes JavaScript and returns the rendered DOM.
type Renderer interface {
	Render(ctx context.Context, req types.CrawlRequest) (*types.Page, error)
}

// RenderOptions configures the JavaScript rendering pipeline.
type RenderOptions struct {
	Timeout            time.Duration
	WaitForSelector    string
	UserAgent          string
	MaxBodyBytes       int64
	DisableHeadless    bool
	ConcurrentSessions int
	// SettleDelay is how long to wait after navigation when no selector is set.
	SettleDelay time.Duration
}

// ChromedpRenderer executes headless Chrome sessions using chromedp so that
// client-rendered anchors and payloads end up in the page body.
type ChromedpRenderer struct {
	opts      RenderOptions
	semaphore chan struct{}
	logger    *slog.Logger
}

// NewChromedpRenderer constructs a renderer with bounded concurrency.
func NewChromedpRenderer(opts RenderOptions, logger *slog.Logger) *ChromedpRenderer {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 8 * 1024 * 1024
	}
	if opts.ConcurrentSessions <= 0 {
		opts.ConcurrentSessions = 1
	}
	if opts.SettleDelay <= 0 {
		opts.SettleDelay = 1500 * time.Millisecond
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ChromedpRenderer{
		opts:      opts,
		semaphore: make(chan struct{}, opts.ConcurrentSessions),
		logger:    logger.With("component", "renderer"),
	}
}

// Render navigates to the target URL and exports the final DOM outer HTML.
func (r *ChromedpRenderer) Render(parentCtx context.Context, req types.CrawlRequest) (*types.Page, error) {
	if req.URL == nil {
		return nil, errors.New("render request URL is nil")
	}
	if req.Method == http.MethodHead {
		return nil, errors.New("HEAD requests cannot be rendered")
	}

	select {
	case r.semaphore <- struct{}{}:
		defer func() { <-r.semaphore }()
	case <-parentCtx.Done():
		return nil, parentCtx.Err()
	}

	ctx, cancel := context.WithTimeout(parentCtx, r.opts.Timeout)
	defer cancel()

	execOpts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	execOpts = append(execOpts,
		chromedp.Flag("headless", !r.opts.DisableHeadless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("no-sandbox", true),
	)
	if ua := strings.TrimSpace(r.opts.UserAgent); ua != "" {
		execOpts = append(execOpts, chromedp.UserAgent(ua))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, execOpts...)
	defer allocCancel()
	chromeCtx, chromeCancel := chromedp.NewContext(allocCtx)
	defer chromeCancel()

	var (
		doc      string
		location string
		meta     documentMeta
	)
	navigate := []chromedp.Action{
		chromedp.Navigate(req.URL.String()),
		chromedp.Evaluate(documentMetaScript, &meta),
		chromedp.Location(&location),
	}

	start := time.Now()
	if err := chromedp.Run(chromeCtx, navigate...); err != nil {
		return nil, fmt.Errorf("chromedp navigate: %w", err)
	}
	// Error pages and non-HTML documents are returned without a DOM so the
	// caller sees the real status and media type.
	if meta.renderable() {
		var settle chromedp.Action = chromedp.Sleep(r.opts.SettleDelay)
		if sel := strings.TrimSpace(r.opts.WaitForSelector); sel != "" {
			settle = chromedp.WaitReady(sel, chromedp.ByQuery)
		}
		if err := chromedp.Run(chromeCtx, settle, chromedp.OuterHTML("html", &doc, chromedp.ByQuery)); err != nil {
			return nil, fmt.Errorf("chromedp render: %w", err)
		}
	}

	page, err := renderedPage(req, meta, location, doc, r.opts.MaxBodyBytes)
	if err != nil {
		return nil, err
	}
	page.ResponseLatency = time.Since(start)
	r.logger.Debug("render complete",
		"url", req.URL.String(),
		"final_url", page.FinalURL.String(),
		"status", page.StatusCode,
		"content_type", page.ContentType,
		"latency_ms", page.ResponseLatency.Milliseconds(),
		"html_bytes", len(doc),
	)
	return page, nil
}

// documentMetaScript reads the navigation response status and the document
// media type. responseStatus is 0 when the browser does not expose it.
const documentMetaScript = `(() => {
  const nav = performance.getEntriesByType("navigation")[0];
  return {
    status: nav && nav.responseStatus ? nav.responseStatus : 0,
    contentType: document.contentType || ""
  };
})()`

type documentMeta struct {
	Status      int    `json:"status"`
	ContentType string `json:"contentType"`
}

func (m documentMeta) statusCode() int {
	if m.Status <= 0 {
		return http.StatusOK
	}
	return m.Status
}

func (m documentMeta) renderable() bool {
	return m.statusCode() < http.StatusBadRequest && isHTML(m.ContentType)
}

func renderedPage(req types.CrawlRequest, meta documentMeta, location, doc string, limit int64) (*types.Page, error) {
	if limit > 0 && int64(len(doc)) > limit {
		return nil, fmt.Errorf("rendered document exceeds limit of %d bytes", limit)
	}

	final := req.URL
	if location != "" {
		if u, err := url.Parse(location); err == nil {
			final = u
		}
	}
	contentType := meta.ContentType
	if isHTML(contentType) {
		contentType += "; charset=utf-8"
	}

	page := &types.Page{
		Method:      http.MethodGet,
		URL:         req.URL,
		FinalURL:    final,
		ContentType: contentType,
		StatusCode:  meta.statusCode(),
		FetchedAt:   time.Now(),
		Rendered:    true,
	}
	if doc != "" {
		page.Body = []byte(doc)
	}
	return page, nil
}

func isHTML(contentType string) bool {
	mediaType := strings.ToLower(strings.TrimSpace(contentType))
	if i := strings.IndexByte(mediaType, ';'); i >= 0 {
		mediaType = strings.TrimSpace(mediaType[:i])
	}
	return mediaType == "text/html" || mediaType == "application/xhtml+xml"
}
