package types

import (
	"net/http"
	"net/url"
	"time"
)

// Intent names the handler that receives the response of a request.
type Intent int

const (
	// IntentParse routes the response to page parsing.
	IntentParse Intent = iota
	// IntentProbe routes the response to the content-type probe handler.
	IntentProbe
)

func (i Intent) String() string {
	switch i {
	case IntentParse:
		return "parse"
	case IntentProbe:
		return "probe"
	default:
		return "unknown"
	}
}

// CrawlRequest models a work item submitted to the crawler frontier.
type CrawlRequest struct {
	Method string
	URL    *url.URL
	Intent Intent
	// DontFilter bypasses the engine's request and offsite filters.
	DontFilter bool
	Depth      int
	Parent     *url.URL
	Render     bool
	Attempt    int
	EnqueuedAt time.Time
}

// Page represents the fetched content.
type Page struct {
	Method          string
	URL             *url.URL
	FinalURL        *url.URL
	Body            []byte
	ContentType     string
	StatusCode      int
	Headers         http.Header
	FetchedAt       time.Time
	Rendered        bool
	ResponseLatency time.Duration
}

// EffectiveURL returns the final URL after redirects, falling back to the requested URL.
func (p *Page) EffectiveURL() *url.URL {
	if p == nil {
		return nil
	}
	if p.FinalURL != nil {
		return p.FinalURL
	}
	return p.URL
}

// PageContent is the link material pulled out of a fetched HTML page.
type PageContent struct {
	// Base is the URL relative references resolve against (honours <base href>).
	Base *url.URL
	// Anchors are absolute, in-scope anchor links with a permitted extension.
	Anchors []string
	// Scripts holds the raw text of every <script type="application/json"> block.
	Scripts []string
}

// LinkRecord is a discovered PDF link delivered to the output sink.
type LinkRecord struct {
	Link string `json:"link"`
}
