package crawler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/garkling/PDFLinkCrawler/internal/config"
	"github.com/garkling/PDFLinkCrawler/internal/dedup"
	"github.com/garkling/PDFLinkCrawler/internal/fetcher"
	"github.com/garkling/PDFLinkCrawler/internal/logging"
	"github.com/garkling/PDFLinkCrawler/internal/output"
	"github.com/garkling/PDFLinkCrawler/internal/processor"
	robotsclient "github.com/garkling/PDFLinkCrawler/internal/robots"
	"github.com/garkling/PDFLinkCrawler/internal/spider"
	"github.com/garkling/PDFLinkCrawler/pkg/types"
)

// Engine drives a crawl: it schedules spider requests, fetches them politely
// and routes every response to the spider entry point named by its intent.
type Engine struct {
	cfg       config.Config
	spider    *spider.Spider
	fetcher   fetcher.Fetcher
	processor processor.Processor
	robots    *robotsclient.Agent
	pipeline  *output.Pipeline

	limiter *DomainLimiter
	filter  *RequestFilter

	logger *slog.Logger

	maxRequests int64
	stats       counters

	pool *WorkerPool
	wg   sync.WaitGroup

	closers   []func() error
	closeOnce sync.Once
}

// Stats is a point-in-time snapshot of crawl counters.
type Stats struct {
	Scheduled         int64 `json:"scheduled"`
	Fetched           int64 `json:"fetched"`
	Failed            int64 `json:"failed"`
	Retried           int64 `json:"retried"`
	Probes            int64 `json:"probes"`
	FilteredDuplicate int64 `json:"filtered_duplicate"`
	FilteredOffsite   int64 `json:"filtered_offsite"`
	FilteredDepth     int64 `json:"filtered_depth"`
	FilteredBudget    int64 `json:"filtered_budget"`
	RobotsBlocked     int64 `json:"robots_blocked"`
	RecordsEmitted    int64 `json:"records_emitted"`
	RecordsDropped    int64 `json:"records_dropped"`
}

type counters struct {
	scheduled, fetched, failed, retried, probes atomic.Int64
	duplicate, offsite, depth, budget, robots   atomic.Int64
}

// Option customises engine construction.
type Option func(*options)

type options struct {
	logger  *slog.Logger
	sink    output.Sink
	gate    *dedup.Gate
	fetcher fetcher.Fetcher
}

// WithLogger sets the engine logger. Without it a logger is built from the
// logging configuration.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithSink sends records to sink instead of the configured output feed.
// The engine closes the sink when it is closed.
func WithSink(sink output.Sink) Option {
	return func(o *options) { o.sink = sink }
}

// WithGate shares a dedup gate across engines.
func WithGate(gate *dedup.Gate) Option {
	return func(o *options) { o.gate = gate }
}

// WithFetcher replaces the HTTP and rendering fetchers.
func WithFetcher(f fetcher.Fetcher) Option {
	return func(o *options) { o.fetcher = f }
}

// NewEngine builds a crawler engine from configuration.
func NewEngine(cfg config.Config, opts ...Option) (*Engine, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	logger := o.logger
	if logger == nil {
		var err error
		logger, err = logging.New(cfg.Logging, nil)
		if err != nil {
			return nil, err
		}
	}

	sp, err := spider.New(cfg.Spider, logger)
	if err != nil {
		return nil, err
	}

	httpFetcher, err := fetcher.NewHTTPFetcher(fetcher.Options{
		UserAgent:    cfg.Crawl.UserAgent,
		Headers:      cfg.Crawl.Headers,
		Timeout:      cfg.Crawl.RequestTimeout.Duration,
		MaxBodyBytes: cfg.Crawl.MaxBodyBytes,
		ProxyURL:     cfg.Crawl.ProxyURL,
	})
	if err != nil {
		return nil, fmt.Errorf("http fetcher: %w", err)
	}

	fetch := o.fetcher
	if fetch == nil {
		var renderer fetcher.Renderer
		if cfg.Rendering.Enabled {
			switch strings.ToLower(cfg.Rendering.Engine) {
			case "chromedp", "chrome":
				renderer = fetcher.NewChromedpRenderer(fetcher.RenderOptions{
					Timeout:            cfg.Rendering.Timeout.Duration,
					WaitForSelector:    cfg.Rendering.WaitForSelector,
					UserAgent:          cfg.Crawl.UserAgent,
					MaxBodyBytes:       cfg.Crawl.MaxBodyBytes,
					DisableHeadless:    cfg.Rendering.DisableHeadless,
					ConcurrentSessions: cfg.Rendering.ConcurrentSessions,
				}, logger)
			case "none":
			default:
				return nil, fmt.Errorf("unsupported rendering engine %q", cfg.Rendering.Engine)
			}
		}
		fetch = fetcher.NewComposite(httpFetcher, renderer, logger)
	}

	sink := o.sink
	if sink == nil {
		sink, err = output.OpenFeed(cfg.Output)
		if err != nil {
			return nil, err
		}
	}
	pipeline := output.NewPipeline(o.gate, sink, cfg.Output.WarnSeenLinks, logger)

	robotsCfg := cfg.Robots
	if robotsCfg.UserAgent == "" {
		robotsCfg.UserAgent = cfg.Crawl.UserAgent
	}

	var rateCfg RateLimiterSettings
	if rl := cfg.Crawl.RateLimitPerDomain; rl.Enabled() {
		rateCfg = RateLimiterSettings{Requests: rl.Requests, Window: rl.Window.Duration}
	}
	limiter := NewDomainLimiter(cfg.Crawl.DownloadDelay.Duration, rateCfg)

	return &Engine{
		cfg:         cfg,
		spider:      sp,
		fetcher:     fetch,
		processor:   processor.NewHTMLProcessor(sp.Scope(), sp.ExtensionFilter()),
		robots:      robotsclient.NewAgent(robotsCfg, httpFetcher.Client(), logger),
		pipeline:    pipeline,
		limiter:     limiter,
		filter:      NewRequestFilter(cfg.Crawl.RequestFilter.MaxEntries),
		logger:      logger.With("component", "engine"),
		maxRequests: int64(cfg.Crawl.MaxRequests),
		closers:     []func() error{pipeline.Close},
	}, nil
}

// Spider exposes the spider driving this engine.
func (e *Engine) Spider() *spider.Spider {
	return e.spider
}

// Run executes the crawl until the frontier is exhausted or ctx is cancelled.
// The engine is closed when Run returns.
func (e *Engine) Run(ctx context.Context) error {
	pool, err := NewWorkerPool(ctx, e.cfg.Worker.Concurrency, e.cfg.Worker.QueueSize)
	if err != nil {
		return err
	}
	e.pool = pool
	defer pool.Close()

	started := time.Now()
	for _, req := range e.spider.StartRequests() {
		e.enqueue(ctx, req, true)
	}

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		e.logger.Warn("context cancelled, shutting down")
		<-done
		runErr = ctx.Err()
	case <-done:
	}

	stats := e.Stats()
	e.logger.Info("crawl finished",
		"elapsed_ms", time.Since(started).Milliseconds(),
		"fetched", stats.Fetched,
		"failed", stats.Failed,
		"links", stats.RecordsEmitted,
		"duplicates", stats.RecordsDropped,
	)

	if err := e.Close(); err != nil {
		runErr = errors.Join(runErr, err)
	}
	return runErr
}

// Stats returns the current crawl counters.
func (e *Engine) Stats() Stats {
	return Stats{
		Scheduled:         e.stats.scheduled.Load(),
		Fetched:           e.stats.fetched.Load(),
		Failed:            e.stats.failed.Load(),
		Retried:           e.stats.retried.Load(),
		Probes:            e.stats.probes.Load(),
		FilteredDuplicate: e.stats.duplicate.Load(),
		FilteredOffsite:   e.stats.offsite.Load(),
		FilteredDepth:     e.stats.depth.Load(),
		FilteredBudget:    e.stats.budget.Load(),
		RobotsBlocked:     e.stats.robots.Load(),
		RecordsEmitted:    e.pipeline.Emitted(),
		RecordsDropped:    e.pipeline.Dropped(),
	}
}

// Close releases resources owned by the engine, flushing the output sink.
func (e *Engine) Close() error {
	var err error
	e.closeOnce.Do(func() {
		for _, closer := range e.closers {
			if cerr := closer(); cerr != nil {
				err = errors.Join(err, cerr)
			}
		}
	})
	return err
}

// enqueue applies the scheduling filters and hands the request to the pool.
// Seeds skip the offsite check since they define the scope.
func (e *Engine) enqueue(ctx context.Context, req types.CrawlRequest, seed bool) {
	if req.URL == nil || ctx.Err() != nil {
		return
	}
	if e.cfg.Crawl.MaxDepth > 0 && req.Depth > e.cfg.Crawl.MaxDepth {
		e.stats.depth.Add(1)
		return
	}
	if !req.DontFilter {
		if !seed && !e.spider.Scope().Allows(req.URL) {
			e.stats.offsite.Add(1)
			e.logger.Debug("filtered offsite request", "url", req.URL.String())
			return
		}
		if e.filter.Seen(req) {
			e.stats.duplicate.Add(1)
			return
		}
	}
	if e.maxRequests > 0 {
		if e.stats.scheduled.Add(1) > e.maxRequests {
			e.stats.scheduled.Add(-1)
			e.stats.budget.Add(1)
			return
		}
	} else {
		e.stats.scheduled.Add(1)
	}

	req.Render = e.cfg.Rendering.Enabled && req.Method == http.MethodGet
	req.EnqueuedAt = time.Now()
	e.submit(ctx, req)
}

func (e *Engine) submit(ctx context.Context, req types.CrawlRequest) {
	e.wg.Add(1)
	run := func(workerCtx context.Context) {
		defer e.wg.Done()
		e.handleRequest(workerCtx, req)
	}

	err := e.pool.TrySubmit(run)
	if err == nil {
		return
	}
	if !errors.Is(err, ErrQueueFull) {
		e.wg.Done()
		e.logger.Debug("enqueue skipped", "url", req.URL.String(), "error", err)
		return
	}
	// Workers enqueue their own follow-ups, so a full queue must not block them.
	go func() {
		if err := e.pool.Submit(ctx, run); err != nil {
			e.wg.Done()
			e.logger.Debug("enqueue skipped", "url", req.URL.String(), "error", err)
		}
	}()
}

func (e *Engine) handleRequest(ctx context.Context, req types.CrawlRequest) {
	if ctx.Err() != nil {
		return
	}
	log := e.logger.With("url", req.URL.String(), "method", req.Method, "intent", req.Intent.String())

	if !e.robots.Allowed(ctx, req.URL) {
		e.stats.robots.Add(1)
		log.Debug("blocked by robots")
		return
	}

	if err := e.limiter.Wait(ctx, req.URL.Hostname()); err != nil {
		log.Debug("domain limiter interrupted", "error", err)
		return
	}

	page, err := e.fetcher.Fetch(ctx, req)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		if e.retry(ctx, req, log, err.Error()) {
			return
		}
		e.stats.failed.Add(1)
		log.Warn("fetch failed", "error", err, "attempts", req.Attempt+1)
		return
	}
	if retryableStatus(page.StatusCode) && e.retry(ctx, req, log, http.StatusText(page.StatusCode)) {
		return
	}
	e.stats.fetched.Add(1)

	var outcome spider.Outcome
	switch req.Intent {
	case types.IntentProbe:
		e.stats.probes.Add(1)
		if page.StatusCode >= 400 && !inconclusiveProbe(page.StatusCode) {
			log.Debug("ignoring probe response", "status", page.StatusCode)
			return
		}
		outcome = e.spider.HandleProbe(page)
	default:
		if page.StatusCode >= 400 {
			log.Debug("ignoring error response", "status", page.StatusCode)
			return
		}
		content, err := e.processor.Process(ctx, page)
		if err != nil {
			log.Debug("processor error", "error", err)
			return
		}
		outcome = e.spider.Parse(page, content)
	}

	for _, rec := range outcome.Records {
		if _, err := e.pipeline.Process(ctx, rec); err != nil {
			log.Error("emit failed", "link", rec.Link, "error", err)
		}
	}
	for _, child := range outcome.Requests {
		child.Depth = req.Depth + 1
		e.enqueue(ctx, child, false)
	}
}

// retry re-schedules req after a linear backoff while attempts remain. It
// reports whether a retry was scheduled.
func (e *Engine) retry(ctx context.Context, req types.CrawlRequest, log *slog.Logger, reason string) bool {
	if req.Attempt >= e.cfg.Worker.MaxRetries {
		return false
	}
	backoff := e.cfg.Worker.RetryBackoff.Duration * time.Duration(req.Attempt+1)
	e.stats.retried.Add(1)
	log.Debug("retrying request", "reason", reason, "attempt", req.Attempt+1, "backoff_ms", backoff.Milliseconds())

	if backoff > 0 {
		timer := time.NewTimer(backoff)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return true
		}
	}
	req.Attempt++
	e.submit(ctx, req)
	return true
}

func retryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || (code >= 500 && code != http.StatusNotImplemented)
}

// Servers that refuse HEAD say nothing about the resource, so the link is
// fetched with GET like any other non-PDF probe.
func inconclusiveProbe(code int) bool {
	return code == http.StatusMethodNotAllowed || code == http.StatusNotImplemented
}
