package fetcher

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/garkling/PDFLinkCrawler/pkg/types"
)

// Composite routes a request to the renderer or the plain HTTP fetcher.
type Composite struct {
	http     Fetcher
	renderer Renderer
	logger   *slog.Logger
}

// NewComposite builds a composite fetcher. renderer may be nil.
func NewComposite(httpFetcher Fetcher, renderer Renderer, logger *slog.Logger) *Composite {
	if logger == nil {
		logger = slog.Default()
	}
	return &Composite{http: httpFetcher, renderer: renderer, logger: logger.With("component", "fetcher")}
}

// Fetch renders GET requests that ask for it and falls back to HTTP when
// rendering fails or the browser did not get a successful HTML document.
// HEAD probes are never rendered.
func (c *Composite) Fetch(ctx context.Context, req types.CrawlRequest) (*types.Page, error) {
	if req.Render && c.renderer != nil && req.Method != http.MethodHead {
		page, err := c.renderer.Render(ctx, req)
		switch {
		case err != nil:
			c.logger.Warn("renderer failed, falling back to HTTP fetch", "url", req.URL.String(), "error", err)
		case page.StatusCode >= http.StatusBadRequest || !isHTML(page.ContentType):
			c.logger.Debug("rendered response is not an html page, fetching over HTTP",
				"url", req.URL.String(), "status", page.StatusCode, "content_type", page.ContentType)
		default:
			return page, nil
		}
	}
	req.Render = false
	return c.http.Fetch(ctx, req)
}
