package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config captures the full configuration required to initialise the crawler engine.
type Config struct {
	Spider    SpiderConfig    `yaml:"spider"`
	Worker    WorkerConfig    `yaml:"worker"`
	Crawl     CrawlConfig     `yaml:"crawl"`
	Robots    RobotsConfig    `yaml:"robots"`
	Rendering RenderingConfig `yaml:"rendering"`
	Output    OutputConfig    `yaml:"output"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// SpiderConfig holds the link discovery settings fixed for the lifetime of a crawl.
type SpiderConfig struct {
	// StartURLs is the raw comma-separated seed string.
	StartURLs     string `yaml:"start_urls"`
	AllSubdomains bool   `yaml:"all_subdomains"`
	Extension     string `yaml:"extension"`
	Mimetype      string `yaml:"mimetype"`
	DefaultScheme string `yaml:"default_scheme"`
	// ExtraIgnoredExtensions extends the built-in anchor deny-list.
	ExtraIgnoredExtensions []string `yaml:"extra_ignored_extensions"`
}

// WorkerConfig controls concurrency, retry behaviour, and queue sizing.
type WorkerConfig struct {
	Concurrency  int      `yaml:"concurrency"`
	QueueSize    int      `yaml:"queue_size"`
	MaxRetries   int      `yaml:"max_retries"`
	RetryBackoff Duration `yaml:"retry_backoff"`
}

// CrawlConfig controls the crawl frontier, limits, and throttling.
type CrawlConfig struct {
	MaxDepth           int                 `yaml:"max_depth"`
	MaxRequests        int                 `yaml:"max_requests"`
	UserAgent          string              `yaml:"user_agent"`
	Headers            map[string]string   `yaml:"headers"`
	ProxyURL           string              `yaml:"proxy_url"`
	DownloadDelay      Duration            `yaml:"download_delay"`
	RateLimitPerDomain RateLimitConfig     `yaml:"rate_limit_per_domain"`
	RequestTimeout     Duration            `yaml:"request_timeout"`
	MaxBodyBytes       int64               `yaml:"max_body_bytes"`
	RequestFilter      RequestFilterConfig `yaml:"request_filter"`
}

// RateLimitConfig applies a token bucket per domain.
type RateLimitConfig struct {
	Requests int      `yaml:"requests"`
	Window   Duration `yaml:"window"`
}

// RequestFilterConfig bounds the engine's seen-request memory.
type RequestFilterConfig struct {
	MaxEntries int `yaml:"max_entries"`
}

// RobotsConfig configures robots.txt handling.
type RobotsConfig struct {
	Respect   bool     `yaml:"respect"`
	Overrides []string `yaml:"overrides"`
	UserAgent string   `yaml:"user_agent"`
	CacheTTL  Duration `yaml:"cache_ttl"`
}

// RenderingConfig controls optional JavaScript rendering.
type RenderingConfig struct {
	Enabled            bool     `yaml:"enabled"`
	Engine             string   `yaml:"engine"`
	Timeout            Duration `yaml:"timeout"`
	WaitForSelector    string   `yaml:"wait_for_selector"`
	ConcurrentSessions int      `yaml:"concurrent_sessions"`
	DisableHeadless    bool     `yaml:"disable_headless"`
}

// OutputConfig selects where discovered links are written.
type OutputConfig struct {
	// Path is a file path, or "-" for stdout.
	Path   string `yaml:"path"`
	Format string `yaml:"format"`
	// WarnSeenLinks logs a one-off memory warning once the dedup set grows past this size.
	WarnSeenLinks int `yaml:"warn_seen_links"`
}

// LoggingConfig selects log verbosity and format.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	Structured bool   `yaml:"structured"`
}

// Output formats understood by the feed writer.
const (
	FormatJSONLines = "jsonl"
	FormatJSON      = "json"
)

// Default returns a Config populated with sensible defaults.
func Default() Config {
	return Config{
		Spider: SpiderConfig{
			Extension:              "pdf",
			Mimetype:               "application/pdf",
			DefaultScheme:          "https://",
			ExtraIgnoredExtensions: []string{"pkg"},
		},
		Worker: WorkerConfig{
			Concurrency:  16,
			QueueSize:    4096,
			MaxRetries:   2,
			RetryBackoff: DurationFrom(500 * time.Millisecond),
		},
		Crawl: CrawlConfig{
			UserAgent:      "pdfcrawler-bot/1.0",
			Headers:        map[string]string{},
			DownloadDelay:  DurationFrom(100 * time.Millisecond),
			RequestTimeout: DurationFrom(15 * time.Second),
			MaxBodyBytes:   8 * 1024 * 1024,
			RequestFilter: RequestFilterConfig{
				MaxEntries: 500000,
			},
		},
		Robots: RobotsConfig{
			Respect:   true,
			Overrides: []string{},
			UserAgent: "pdfcrawler-bot/1.0",
			CacheTTL:  DurationFrom(6 * time.Hour),
		},
		Rendering: RenderingConfig{
			Enabled:            false,
			Engine:             "chromedp",
			Timeout:            DurationFrom(15 * time.Second),
			ConcurrentSessions: 2,
		},
		Output: OutputConfig{
			Path:          "-",
			Format:        FormatJSONLines,
			WarnSeenLinks: 1000000,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Structured: true,
		},
	}
}

// Load reads, merges, and validates configuration from a YAML file.
func Load(path string) (*Config, error) {
	cfg, err := Read(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Read merges a YAML file over the defaults without validating, so callers
// can apply overrides first. An empty path yields the defaults.
func Read(path string) (*Config, error) {
	if path == "" {
		cfg := Default()
		return &cfg, nil
	}
	fh, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer fh.Close()

	cfg := Default()
	if err := decodeYAML(fh, &cfg); err != nil {
		return nil, err
	}
	cfg.Normalise()
	return &cfg, nil
}

// LoadFromReader decodes configuration from an arbitrary reader.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	if err := decodeYAML(r, &cfg); err != nil {
		return nil, err
	}
	cfg.Normalise()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func decodeYAML(r io.Reader, cfg *Config) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("decode config: %w", err)
	}
	return nil
}

// Validate enforces required invariants for the crawler configuration.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Spider.StartURLs) == "" {
		return errors.New("spider.start_urls must be set")
	}
	if c.Spider.Extension == "" {
		return errors.New("spider.extension must be set")
	}
	if c.Spider.Mimetype == "" {
		return errors.New("spider.mimetype must be set")
	}
	if !strings.HasSuffix(c.Spider.DefaultScheme, "://") {
		return fmt.Errorf("spider.default_scheme must end with \"://\" (got %q)", c.Spider.DefaultScheme)
	}
	if c.Worker.Concurrency <= 0 {
		return fmt.Errorf("worker.concurrency must be > 0 (got %d)", c.Worker.Concurrency)
	}
	if c.Worker.QueueSize <= 0 {
		return fmt.Errorf("worker.queue_size must be > 0 (got %d)", c.Worker.QueueSize)
	}
	if c.Worker.MaxRetries < 0 {
		return fmt.Errorf("worker.max_retries must be >= 0 (got %d)", c.Worker.MaxRetries)
	}
	if c.Crawl.MaxDepth < 0 {
		return fmt.Errorf("crawl.max_depth must be >= 0 (got %d)", c.Crawl.MaxDepth)
	}
	if c.Crawl.MaxRequests < 0 {
		return fmt.Errorf("crawl.max_requests must be >= 0 (got %d)", c.Crawl.MaxRequests)
	}
	if rl := c.Crawl.RateLimitPerDomain; rl.Requests < 0 {
		return fmt.Errorf("crawl.rate_limit_per_domain.requests must be >= 0 (got %d)", rl.Requests)
	}
	if c.Crawl.MaxBodyBytes <= 0 {
		return fmt.Errorf("crawl.max_body_bytes must be > 0 (got %d)", c.Crawl.MaxBodyBytes)
	}
	if strings.TrimSpace(c.Crawl.UserAgent) == "" {
		return errors.New("crawl.user_agent must be set")
	}
	if strings.TrimSpace(c.Robots.UserAgent) == "" {
		return errors.New("robots.user_agent must be set")
	}
	switch c.Output.Format {
	case FormatJSONLines, FormatJSON:
	default:
		return fmt.Errorf("output.format must be %q or %q (got %q)", FormatJSONLines, FormatJSON, c.Output.Format)
	}
	return nil
}

// Normalise trims and de-duplicates user supplied values. Callers that mutate a
// loaded Config (eg. CLI overrides) should call it again before Validate.
func (c *Config) Normalise() {
	c.Spider.StartURLs = strings.TrimSpace(c.Spider.StartURLs)
	c.Spider.Extension = strings.TrimPrefix(strings.TrimSpace(c.Spider.Extension), ".")
	c.Spider.Mimetype = strings.TrimSpace(c.Spider.Mimetype)
	c.Spider.DefaultScheme = strings.TrimSpace(c.Spider.DefaultScheme)
	if len(c.Spider.ExtraIgnoredExtensions) > 0 {
		c.Spider.ExtraIgnoredExtensions = dedupeLower(c.Spider.ExtraIgnoredExtensions)
	}

	c.Crawl.UserAgent = strings.TrimSpace(c.Crawl.UserAgent)
	c.Robots.UserAgent = strings.TrimSpace(c.Robots.UserAgent)
	if c.Crawl.Headers == nil {
		c.Crawl.Headers = make(map[string]string)
	}
	if len(c.Robots.Overrides) > 0 {
		c.Robots.Overrides = dedupeLower(c.Robots.Overrides)
	}

	c.Output.Path = strings.TrimSpace(c.Output.Path)
	if c.Output.Path == "" {
		c.Output.Path = "-"
	}
	c.Output.Format = strings.ToLower(strings.TrimSpace(c.Output.Format))
	if c.Output.Format == "" {
		c.Output.Format = FormatJSONLines
	}
}

func dedupeLower(values []string) []string {
	unique := make(map[string]struct{}, len(values))
	cleaned := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.ToLower(strings.TrimSpace(v))
		if v == "" {
			continue
		}
		if _, ok := unique[v]; ok {
			continue
		}
		unique[v] = struct{}{}
		cleaned = append(cleaned, v)
	}
	sort.Strings(cleaned)
	return cleaned
}

// Enabled reports whether per-domain rate limiting is active.
func (r RateLimitConfig) Enabled() bool {
	return r.Requests > 0 && !r.Window.IsZero()
}

// ParseBool converts a flag value coming from the command line or an API
// payload into a boolean. It accepts the usual spellings ("true", "1", "yes",
// "on" and their negatives) and rejects everything else.
func ParseBool(raw string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "y", "yes", "on":
		return true, nil
	case "n", "no", "off":
		return false, nil
	}
	v, err := strconv.ParseBool(strings.TrimSpace(raw))
	if err != nil {
		return false, fmt.Errorf("invalid boolean %q", raw)
	}
	return v, nil
}
