package crawler

import (
	"container/list"
	"net/url"
	"strings"
	"sync"

	"github.com/garkling/PDFLinkCrawler/pkg/types"
)

// RequestFilter remembers request fingerprints so the same request is only
// scheduled once. Memory is bounded by evicting the oldest fingerprint.
type RequestFilter struct {
	mu         sync.Mutex
	entries    map[string]*list.Element
	order      *list.List
	maxEntries int
}

// NewRequestFilter creates a filter holding at most maxEntries fingerprints.
// A non-positive value falls back to 200000.
func NewRequestFilter(maxEntries int) *RequestFilter {
	if maxEntries <= 0 {
		maxEntries = 200000
	}
	return &RequestFilter{
		entries:    make(map[string]*list.Element),
		order:      list.New(),
		maxEntries: maxEntries,
	}
}

// Seen records the request and reports whether it had been recorded before.
func (f *RequestFilter) Seen(req types.CrawlRequest) bool {
	key := Fingerprint(req)
	if key == "" {
		return true
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.entries[key]; ok {
		return true
	}
	f.entries[key] = f.order.PushBack(key)
	for f.order.Len() > f.maxEntries {
		oldest := f.order.Front()
		f.order.Remove(oldest)
		delete(f.entries, oldest.Value.(string))
	}
	return false
}

// Len returns the number of remembered fingerprints.
func (f *RequestFilter) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.entries)
}

// Fingerprint identifies a request by method and canonical URL. HEAD and GET
// of the same URL are different requests.
func Fingerprint(req types.CrawlRequest) string {
	if req.URL == nil {
		return ""
	}
	method := strings.ToUpper(req.Method)
	if method == "" {
		method = "GET"
	}
	return method + " " + canonicalKey(req.URL)
}

func canonicalKey(u *url.URL) string {
	scheme := strings.ToLower(u.Scheme)
	if scheme == "" {
		scheme = "http"
	}
	host := strings.ToLower(u.Hostname())
	if port := u.Port(); port != "" && port != defaultPortForScheme(scheme) {
		host = host + ":" + port
	}
	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}
	key := scheme + "://" + host + path
	if u.RawQuery != "" {
		// Encode sorts by key so argument order does not matter.
		if values, err := url.ParseQuery(u.RawQuery); err == nil {
			key += "?" + values.Encode()
		} else {
			key += "?" + u.RawQuery
		}
	}
	return key
}

func defaultPortForScheme(scheme string) string {
	switch scheme {
	case "http":
		return "80"
	case "https":
		return "443"
	default:
		return ""
	}
}
