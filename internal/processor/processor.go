package processor

import (
	"bytes"
	"context"
	"fmt"
	"mime"
	"net/http"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
	"golang.org/x/net/html/charset"

	"github.com/garkling/PDFLinkCrawler/pkg/types"
)

// Processor extracts link material from a fetched page.
type Processor interface {
	Process(ctx context.Context, page *types.Page) (*types.PageContent, error)
}

// DomainScope decides whether a link's host is in the crawl scope.
type DomainScope interface {
	Allows(u *url.URL) bool
}

// ExtensionDenier decides whether a URL path carries an unwanted extension.
type ExtensionDenier interface {
	Denied(urlPath string) bool
}

// HTMLProcessor pulls anchors and JSON script payloads out of HTML pages.
type HTMLProcessor struct {
	scope  DomainScope
	denied ExtensionDenier
}

// NewHTMLProcessor constructs a processor. A nil scope accepts every host and a
// nil denier accepts every extension.
func NewHTMLProcessor(scope DomainScope, denied ExtensionDenier) *HTMLProcessor {
	return &HTMLProcessor{scope: scope, denied: denied}
}

var htmlContentTypes = map[string]struct{}{
	"text/html":             {},
	"application/xhtml+xml": {},
}

const (
	anchorSelector = "a[href], area[href]"
	scriptSelector = "script[type='application/json']"
)

var skipPrefixes = []string{"#", "javascript:", "mailto:", "tel:", "data:"}

// Process parses the page body. Non-HTML responses yield empty content rather
// than an error so that a stray binary never aborts a crawl.
func (p *HTMLProcessor) Process(ctx context.Context, page *types.Page) (*types.PageContent, error) {
	if page == nil {
		return nil, fmt.Errorf("page is nil")
	}
	pageURL := page.EffectiveURL()
	if pageURL == nil {
		return nil, fmt.Errorf("page has no url")
	}

	content := &types.PageContent{Base: pageURL}
	if len(page.Body) == 0 || !isHTML(page.ContentType, page.Body) {
		return content, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	reader, err := charset.NewReader(bytes.NewReader(page.Body), page.ContentType)
	if err != nil {
		return nil, fmt.Errorf("decode charset: %w", err)
	}
	root, err := html.Parse(reader)
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	doc := goquery.NewDocumentFromNode(root)

	if href, ok := doc.Find("base[href]").First().Attr("href"); ok {
		if base, err := pageURL.Parse(strings.TrimSpace(href)); err == nil && base.IsAbs() {
			content.Base = base
		}
	}

	content.Anchors = p.extractAnchors(doc, content.Base)
	doc.Find(scriptSelector).Each(func(_ int, s *goquery.Selection) {
		content.Scripts = append(content.Scripts, s.Text())
	})
	return content, nil
}

func (p *HTMLProcessor) extractAnchors(doc *goquery.Document, base *url.URL) []string {
	seen := make(map[string]struct{})
	links := make([]string, 0)

	doc.Find(anchorSelector).Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		href = strings.TrimSpace(href)
		if href == "" || hasSkipPrefix(href) {
			return
		}
		u, err := base.Parse(href)
		if err != nil {
			return
		}
		u.Fragment = ""
		u.RawFragment = ""
		if !p.accept(u) {
			return
		}
		key := u.String()
		if _, exists := seen[key]; exists {
			return
		}
		seen[key] = struct{}{}
		links = append(links, key)
	})
	return links
}

func (p *HTMLProcessor) accept(u *url.URL) bool {
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return false
	}
	if p.scope != nil && !p.scope.Allows(u) {
		return false
	}
	if p.denied != nil && p.denied.Denied(u.Path) {
		return false
	}
	return true
}

func hasSkipPrefix(href string) bool {
	lower := strings.ToLower(href)
	for _, prefix := range skipPrefixes {
		if strings.HasPrefix(lower, prefix) {
			return true
		}
	}
	return false
}

func isHTML(contentType string, body []byte) bool {
	if strings.TrimSpace(contentType) == "" {
		contentType = http.DetectContentType(body)
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	_, ok := htmlContentTypes[strings.ToLower(mediaType)]
	return ok
}
