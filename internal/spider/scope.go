package spider

import (
	"net"
	"net/url"
	"sort"
	"strings"

	"golang.org/x/net/publicsuffix"
)

// NormalizeStartURLs splits a comma-separated seed string into a de-duplicated
// list of absolute URLs. Pieces without a scheme have their leading slashes
// stripped and defaultScheme (eg. "https://") prepended. Empty pieces are
// ignored. The result is sorted.
func NormalizeStartURLs(raw, defaultScheme string) []string {
	seen := make(map[string]struct{})
	out := make([]string, 0)
	for _, piece := range strings.Split(raw, ",") {
		piece = strings.TrimSpace(piece)
		if piece == "" {
			continue
		}
		if !hasScheme(piece) {
			piece = defaultScheme + strings.TrimLeft(piece, "/")
		}
		if _, ok := seen[piece]; ok {
			continue
		}
		seen[piece] = struct{}{}
		out = append(out, piece)
	}
	sort.Strings(out)
	return out
}

func hasScheme(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return u.Scheme != ""
}

// AllowedDomains derives the crawl scope from the start URLs. Without
// allSubdomains each entry is the URL's network location (host[:port]); with it
// the host is reduced to its registrable domain (eTLD+1). Unparseable URLs and
// hosts without a registrable domain contribute an empty entry.
func AllowedDomains(startURLs []string, allSubdomains bool) []string {
	seen := make(map[string]struct{})
	out := make([]string, 0, len(startURLs))
	for _, raw := range startURLs {
		domain := netloc(raw)
		if allSubdomains {
			domain = RegistrableDomain(domain)
		}
		if _, ok := seen[domain]; ok {
			continue
		}
		seen[domain] = struct{}{}
		out = append(out, domain)
	}
	sort.Strings(out)
	return out
}

func netloc(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return u.Host
}

// RegistrableDomain returns the domain.suffix form of host (port ignored), or
// "" for IP addresses, single-label hosts and hosts under an unlisted suffix.
func RegistrableDomain(host string) string {
	host = strings.ToLower(stripPort(host))
	if host == "" || net.ParseIP(host) != nil {
		return ""
	}
	suffix, icann := publicsuffix.PublicSuffix(host)
	if !icann && !strings.Contains(suffix, ".") {
		// Fallback "*" rule: the TLD is not on the list.
		return ""
	}
	domain, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		return ""
	}
	return domain
}

func stripPort(hostport string) string {
	if hostport == "" {
		return ""
	}
	if host, _, err := net.SplitHostPort(hostport); err == nil {
		return host
	}
	return strings.Trim(hostport, "[]")
}

// Scope answers whether a URL belongs to the allowed domains. A host matches a
// domain when it is equal to it or one of its subdomains. Ports are ignored.
type Scope struct {
	domains []string
}

// NewScope builds a scope from AllowedDomains output. Empty entries never match.
func NewScope(domains []string) *Scope {
	cleaned := make([]string, 0, len(domains))
	for _, d := range domains {
		d = strings.ToLower(stripPort(strings.TrimSpace(d)))
		if d == "" {
			continue
		}
		cleaned = append(cleaned, d)
	}
	return &Scope{domains: cleaned}
}

// Domains returns the normalised host names of the scope.
func (s *Scope) Domains() []string {
	return append([]string(nil), s.domains...)
}

// Allows reports whether u's host falls within the scope.
func (s *Scope) Allows(u *url.URL) bool {
	if s == nil || u == nil {
		return false
	}
	return s.AllowsHost(u.Hostname())
}

// AllowsHost reports whether host falls within the scope.
func (s *Scope) AllowsHost(host string) bool {
	host = strings.ToLower(strings.TrimSuffix(host, "."))
	if host == "" {
		return false
	}
	for _, d := range s.domains {
		if host == d || strings.HasSuffix(host, "."+d) {
			return true
		}
	}
	return false
}
