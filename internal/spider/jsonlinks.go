package spider

import (
	"log/slog"
	"net/url"
	"strings"

	jsoniter "github.com/json-iterator/go"
)

var jsonAPI = jsoniter.ConfigCompatibleWithStandardLibrary

// LinkSet partitions the URL-like strings found in a JSON document.
type LinkSet struct {
	PDF   map[string]struct{}
	Other map[string]struct{}
}

// NewLinkSet returns an empty LinkSet.
func NewLinkSet() LinkSet {
	return LinkSet{
		PDF:   make(map[string]struct{}),
		Other: make(map[string]struct{}),
	}
}

// Merge adds every link of other into s.
func (s LinkSet) Merge(other LinkSet) {
	for link := range other.PDF {
		s.PDF[link] = struct{}{}
	}
	for link := range other.Other {
		s.Other[link] = struct{}{}
	}
}

// Len returns the total number of links in the set.
func (s LinkSet) Len() int {
	return len(s.PDF) + len(s.Other)
}

// ExtractPDFLinks walks a decoded JSON value of unknown shape and collects every
// string that parses as a URL with both a host and a path. Strings whose path
// ends in "."+ext go to PDF, the rest to Other. Object keys and non-string
// scalars are ignored. The walk uses an explicit stack so nesting depth is
// bounded only by memory.
func ExtractPDFLinks(value any, ext string) LinkSet {
	links := NewLinkSet()
	suffix := "." + ext

	stack := []any{value}
	for len(stack) > 0 {
		n := len(stack) - 1
		current := stack[n]
		stack[n] = nil
		stack = stack[:n]

		switch v := current.(type) {
		case map[string]any:
			for _, child := range v {
				stack = append(stack, child)
			}
		case []any:
			stack = append(stack, v...)
		case string:
			u, err := url.Parse(v)
			if err != nil || u.Host == "" || u.Path == "" {
				continue
			}
			if strings.HasSuffix(u.Path, suffix) {
				links.PDF[v] = struct{}{}
			} else {
				links.Other[v] = struct{}{}
			}
		}
	}
	return links
}

// ParseScripts decodes each JSON script body and merges the links found in all
// of them. Bodies that are not valid JSON are logged and skipped.
func ParseScripts(bodies []string, ext string, logger *slog.Logger) LinkSet {
	merged := NewLinkSet()
	for _, raw := range bodies {
		var data any
		if err := jsonAPI.UnmarshalFromString(raw, &data); err != nil {
			if logger != nil {
				logger.Error("invalid JSON in <script> tag", "snippet", snippet(raw, 30), "error", err)
			}
			continue
		}
		merged.Merge(ExtractPDFLinks(data, ext))
	}
	return merged
}

func snippet(raw string, n int) string {
	raw = strings.TrimSpace(raw)
	if len(raw) <= n {
		return raw
	}
	return raw[:n] + "..."
}
