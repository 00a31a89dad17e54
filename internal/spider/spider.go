// Package spider holds the PDF link discovery policy: seed normalisation,
// domain scoping, JSON payload link extraction and the per-link classification
// that decides between emitting a result and probing the URL.
//
// Nothing here performs I/O. The crawl engine feeds fetched pages and probe
// responses in and acts on the returned Outcome.
package spider

import (
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"sort"

	"github.com/garkling/PDFLinkCrawler/internal/config"
	"github.com/garkling/PDFLinkCrawler/pkg/types"
)

// ErrNoStartURLs is returned when the seed string yields no URL.
var ErrNoStartURLs = errors.New("no start urls configured")

// Spider turns fetched pages into follow-up requests and link records.
// It is safe for concurrent use once constructed.
type Spider struct {
	cfg       config.SpiderConfig
	startURLs []string
	domains   []string
	scope     *Scope
	denied    *ExtensionFilter
	logger    *slog.Logger
}

// Outcome is what a spider entry point hands back to the engine.
type Outcome struct {
	Requests []types.CrawlRequest
	Records  []types.LinkRecord
}

func (o *Outcome) merge(other Outcome) {
	o.Requests = append(o.Requests, other.Requests...)
	o.Records = append(o.Records, other.Records...)
}

// New prepares the start URLs and the allowed domains from cfg.
func New(cfg config.SpiderConfig, logger *slog.Logger) (*Spider, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "spider")

	startURLs := NormalizeStartURLs(cfg.StartURLs, cfg.DefaultScheme)
	if len(startURLs) == 0 {
		return nil, ErrNoStartURLs
	}
	logger.Info("initialised the start urls", "start_urls", startURLs)

	domains := AllowedDomains(startURLs, cfg.AllSubdomains)
	logger.Info("configured the allowed domains", "allowed_domains", domains, "all_subdomains", cfg.AllSubdomains)

	return &Spider{
		cfg:       cfg,
		startURLs: startURLs,
		domains:   domains,
		scope:     NewScope(domains),
		denied:    NewExtensionFilter(DeniedExtensions(cfg.Extension, cfg.ExtraIgnoredExtensions)),
		logger:    logger,
	}, nil
}

// StartURLs returns the normalised seed URLs.
func (s *Spider) StartURLs() []string {
	return append([]string(nil), s.startURLs...)
}

// AllowedDomains returns the crawl scope as computed from the seeds.
func (s *Spider) AllowedDomains() []string {
	return append([]string(nil), s.domains...)
}

// Scope returns the domain matcher used for anchors and offsite filtering.
func (s *Spider) Scope() *Scope {
	return s.scope
}

// ExtensionFilter returns the anchor extension deny-list. The PDF extension is
// never on it.
func (s *Spider) ExtensionFilter() *ExtensionFilter {
	return s.denied
}

// StartRequests builds the seed GET requests routed to page parsing.
func (s *Spider) StartRequests() []types.CrawlRequest {
	reqs := make([]types.CrawlRequest, 0, len(s.startURLs))
	for _, raw := range s.startURLs {
		u, err := url.Parse(raw)
		if err != nil {
			s.logger.Warn("skipping unparseable start url", "url", raw, "error", err)
			continue
		}
		reqs = append(reqs, types.CrawlRequest{
			Method: http.MethodGet,
			URL:    u,
			Intent: types.IntentParse,
		})
	}
	return reqs
}

// Parse collects the candidate links of a fetched page and classifies each of
// them. Anchors arrive pre-filtered in content; links found in JSON script
// payloads are resolved against the page base and go through the same
// classification as anchors. A page that is itself served as a PDF is
// recorded instead of parsed.
func (s *Spider) Parse(page *types.Page, content *types.PageContent) Outcome {
	var out Outcome
	if page == nil {
		return out
	}
	if page.ContentType != "" && s.VerdictForContentType(page.ContentType) == Confirmed {
		if target := page.EffectiveURL(); target != nil {
			s.logger.Info("fetched page is a pdf", "url", target.String())
			out.Records = append(out.Records, types.LinkRecord{Link: target.String()})
		}
		return out
	}
	if content == nil {
		return out
	}
	base := content.Base
	if base == nil {
		base = page.EffectiveURL()
	}

	candidates := s.collect(base, content)
	for _, link := range candidates {
		out.merge(s.Classify(link, base))
	}
	return out
}

func (s *Spider) collect(base *url.URL, content *types.PageContent) []string {
	seen := make(map[string]struct{}, len(content.Anchors))
	candidates := make([]string, 0, len(content.Anchors))
	add := func(link string) {
		if _, ok := seen[link]; ok {
			return
		}
		seen[link] = struct{}{}
		candidates = append(candidates, link)
	}

	for _, link := range content.Anchors {
		add(link)
	}

	if len(content.Scripts) == 0 {
		return candidates
	}
	found := ParseScripts(content.Scripts, s.cfg.Extension, s.logger)
	for _, set := range []map[string]struct{}{found.PDF, found.Other} {
		for _, raw := range sortedKeys(set) {
			resolved := resolve(base, raw)
			if resolved == "" {
				s.logger.Debug("skipping unresolvable script link", "link", raw)
				continue
			}
			add(resolved)
		}
	}
	return candidates
}

func sortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func resolve(base *url.URL, raw string) string {
	ref, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	if base == nil {
		if !ref.IsAbs() {
			return ""
		}
		return ref.String()
	}
	return base.ResolveReference(ref).String()
}
