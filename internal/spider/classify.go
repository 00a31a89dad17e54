package spider

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/garkling/PDFLinkCrawler/pkg/types"
)

// Verdict is the classification of a single link.
type Verdict int

const (
	// Confirmed links are PDFs and are emitted as records.
	Confirmed Verdict = iota
	// NeedsProbe links must be checked with a HEAD request.
	NeedsProbe
	// NotPDF links are re-fetched with GET and parsed as pages.
	NotPDF
)

func (v Verdict) String() string {
	switch v {
	case Confirmed:
		return "confirmed"
	case NeedsProbe:
		return "needs_probe"
	case NotPDF:
		return "not_pdf"
	default:
		return "unknown"
	}
}

// VerdictForLink classifies a link by its suffix alone.
func (s *Spider) VerdictForLink(link string) Verdict {
	if strings.HasSuffix(link, "."+s.cfg.Extension) {
		return Confirmed
	}
	return NeedsProbe
}

// VerdictForContentType classifies a probed link by its Content-Type header.
func (s *Spider) VerdictForContentType(contentType string) Verdict {
	if strings.Contains(contentType, s.cfg.Mimetype) {
		return Confirmed
	}
	return NotPDF
}

// Classify decides what to do with one candidate link: emit it when the
// suffix already says PDF, otherwise ask for a HEAD probe. The probe request
// goes through the engine's usual duplicate filtering.
func (s *Spider) Classify(link string, parent *url.URL) Outcome {
	if s.VerdictForLink(link) == Confirmed {
		s.logger.Info("found the url with the appropriate extension", "url", link)
		return Outcome{Records: []types.LinkRecord{{Link: link}}}
	}

	target, err := url.Parse(link)
	if err != nil || !target.IsAbs() {
		s.logger.Debug("dropping unparseable link", "url", link, "error", err)
		return Outcome{}
	}
	return Outcome{Requests: []types.CrawlRequest{{
		Method: http.MethodHead,
		URL:    target,
		Intent: types.IntentProbe,
		Parent: parent,
	}}}
}

// HandleProbe inspects a HEAD response. A PDF content type confirms the link;
// anything else schedules a full GET of the same URL that bypasses duplicate
// filtering and is parsed as a fresh page.
func (s *Spider) HandleProbe(resp *types.Page) Outcome {
	if resp == nil {
		return Outcome{}
	}
	target := resp.EffectiveURL()
	if target == nil {
		return Outcome{}
	}
	link := target.String()

	if s.VerdictForContentType(resp.ContentType) == Confirmed {
		s.logger.Info("found the url with the appropriate mimetype", "url", link)
		return Outcome{Records: []types.LinkRecord{{Link: link}}}
	}

	s.logger.Debug("probe is not a pdf, fetching as page", "url", link, "content_type", resp.ContentType)
	return Outcome{Requests: []types.CrawlRequest{{
		Method:     http.MethodGet,
		URL:        target,
		Intent:     types.IntentParse,
		DontFilter: true,
		Parent:     resp.URL,
	}}}
}
