// Package output delivers discovered links to their destination.
package output

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	jsoniter "github.com/json-iterator/go"

	"github.com/garkling/PDFLinkCrawler/internal/config"
	"github.com/garkling/PDFLinkCrawler/pkg/types"
)

var jsonAPI = jsoniter.ConfigCompatibleWithStandardLibrary

// Sink receives link records that passed de-duplication.
type Sink interface {
	Emit(ctx context.Context, rec types.LinkRecord) error
	Close() error
}

// FeedWriter serialises records as JSON lines or as a single JSON array.
type FeedWriter struct {
	mu     sync.Mutex
	w      *bufio.Writer
	closer io.Closer
	format string
	count  int
	closed bool
}

// NewFeedWriter writes to w. closer, when non-nil, is closed by Close.
func NewFeedWriter(w io.Writer, closer io.Closer, format string) (*FeedWriter, error) {
	switch format {
	case config.FormatJSONLines, config.FormatJSON:
	default:
		return nil, fmt.Errorf("unsupported output format %q", format)
	}
	return &FeedWriter{w: bufio.NewWriter(w), closer: closer, format: format}, nil
}

// OpenFeed opens the feed described by cfg. Path "-" writes to stdout.
func OpenFeed(cfg config.OutputConfig) (*FeedWriter, error) {
	if cfg.Path == "" || cfg.Path == "-" {
		return NewFeedWriter(os.Stdout, nil, cfg.Format)
	}
	fh, err := os.Create(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("open output: %w", err)
	}
	fw, err := NewFeedWriter(fh, fh, cfg.Format)
	if err != nil {
		_ = fh.Close()
		return nil, err
	}
	return fw, nil
}

// Emit appends one record to the feed.
func (f *FeedWriter) Emit(_ context.Context, rec types.LinkRecord) error {
	data, err := jsonAPI.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return errors.New("feed writer closed")
	}
	switch f.format {
	case config.FormatJSON:
		sep := ",\n"
		if f.count == 0 {
			sep = "[\n"
		}
		if _, err := f.w.WriteString(sep); err != nil {
			return fmt.Errorf("write record: %w", err)
		}
		if _, err := f.w.Write(data); err != nil {
			return fmt.Errorf("write record: %w", err)
		}
	default:
		if _, err := f.w.Write(data); err != nil {
			return fmt.Errorf("write record: %w", err)
		}
		if err := f.w.WriteByte('\n'); err != nil {
			return fmt.Errorf("write record: %w", err)
		}
		if err := f.w.Flush(); err != nil {
			return fmt.Errorf("flush feed: %w", err)
		}
	}
	f.count++
	return nil
}

// Close terminates the feed and releases the underlying file.
func (f *FeedWriter) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil
	}
	f.closed = true

	var err error
	if f.format == config.FormatJSON {
		tail := "\n]\n"
		if f.count == 0 {
			tail = "[]\n"
		}
		if _, werr := f.w.WriteString(tail); werr != nil {
			err = werr
		}
	}
	if ferr := f.w.Flush(); ferr != nil {
		err = errors.Join(err, ferr)
	}
	if f.closer != nil {
		if cerr := f.closer.Close(); cerr != nil {
			err = errors.Join(err, cerr)
		}
	}
	return err
}

// MemorySink keeps records in memory, in emission order.
type MemorySink struct {
	mu      sync.RWMutex
	records []types.LinkRecord
}

// NewMemorySink returns an empty in-memory sink.
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

func (m *MemorySink) Emit(_ context.Context, rec types.LinkRecord) error {
	m.mu.Lock()
	m.records = append(m.records, rec)
	m.mu.Unlock()
	return nil
}

func (m *MemorySink) Close() error { return nil }

// Links returns a copy of the collected links.
func (m *MemorySink) Links() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, len(m.records))
	for i, rec := range m.records {
		out[i] = rec.Link
	}
	return out
}

// Len returns the number of collected records.
func (m *MemorySink) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}

// MultiSink fans records out to several sinks.
type MultiSink []Sink

func (ms MultiSink) Emit(ctx context.Context, rec types.LinkRecord) error {
	var err error
	for _, s := range ms {
		if serr := s.Emit(ctx, rec); serr != nil {
			err = errors.Join(err, serr)
		}
	}
	return err
}

func (ms MultiSink) Close() error {
	var err error
	for _, s := range ms {
		if cerr := s.Close(); cerr != nil {
			err = errors.Join(err, cerr)
		}
	}
	return err
}
