package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/garkling/PDFLinkCrawler/internal/config"
	"github.com/garkling/PDFLinkCrawler/internal/crawler"
	"github.com/garkling/PDFLinkCrawler/internal/logging"
)

// overrides holds command line values that take precedence over the config file.
type overrides struct {
	startURLs     string
	allSubdomains string
	outputPath    string
	format        string
	logLevel      string
}

func main() {
	cfgPath := flag.String("config", "", "Path to crawler configuration file (defaults are used when empty)")
	var ov overrides
	flag.StringVar(&ov.startURLs, "start-urls", "", "Comma-separated start URLs, eg. \"example.com,https://foo.com\"")
	flag.StringVar(&ov.allSubdomains, "all-subdomains", "", "Crawl every subdomain of the start URL domains (true/false/yes/no/1/0)")
	flag.StringVar(&ov.outputPath, "o", "", "Output file, \"-\" for stdout")
	flag.StringVar(&ov.format, "format", "", "Output format: jsonl or json")
	flag.StringVar(&ov.logLevel, "log-level", "", "Log level: debug, info, warn, error")
	flag.Parse()

	cfg, err := config.Read(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if err := applyOverrides(cfg, ov); err != nil {
		fmt.Fprintf(os.Stderr, "invalid flags: %v\n", err)
		os.Exit(2)
	}

	logger, err := logging.New(cfg.Logging, os.Stderr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}

	engine, err := crawler.NewEngine(*cfg, crawler.WithLogger(logger))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise engine: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := engine.Run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "crawler stopped with error: %v\n", err)
		os.Exit(1)
	}
}

// applyOverrides merges flag values into cfg and validates the result.
func applyOverrides(cfg *config.Config, ov overrides) error {
	if ov.startURLs != "" {
		cfg.Spider.StartURLs = ov.startURLs
	}
	if ov.allSubdomains != "" {
		v, err := config.ParseBool(ov.allSubdomains)
		if err != nil {
			return fmt.Errorf("-all-subdomains: %w", err)
		}
		cfg.Spider.AllSubdomains = v
	}
	if ov.outputPath != "" {
		cfg.Output.Path = ov.outputPath
	}
	if ov.format != "" {
		cfg.Output.Format = ov.format
	}
	if ov.logLevel != "" {
		cfg.Logging.Level = ov.logLevel
	}
	cfg.Normalise()
	return cfg.Validate()
}
