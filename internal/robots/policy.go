// Package robots implements the robots exclusion protocol: a lenient
// robots.txt parser, first-match rule evaluation, and a per-host cache that
// fetches policies over HTTP.
package robots

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// RuleLine is a single Allow or Disallow directive. Path is stored decoded and
// then percent-encoded again so equivalent spellings compare equal.
type RuleLine struct {
	Path  string
	Allow bool
}

func newRuleLine(path string, allow bool) RuleLine {
	if path == "" && !allow {
		// An empty Disallow allows everything.
		allow = true
	}
	return RuleLine{Path: quotePath(unquote(path)), Allow: allow}
}

func (r RuleLine) appliesTo(path string) bool {
	return r.Path == "*" || strings.HasPrefix(path, r.Path)
}

// Entry is one robots.txt block.
type Entry struct {
	UserAgents []string
	Rules      []RuleLine
	// CrawlDelay is in seconds; zero means none was given.
	CrawlDelay int
}

// appliesTo matches an entry agent as a case-insensitive substring of the
// product token of the requesting agent ("Foo/1.0 (bar)" -> "foo").
func (e *Entry) appliesTo(agent string) bool {
	token, _, _ := strings.Cut(agent, "/")
	token = strings.ToLower(strings.TrimSpace(token))
	for _, ua := range e.UserAgents {
		if ua == "*" {
			return true
		}
		if ua != "" && strings.Contains(token, strings.ToLower(ua)) {
			return true
		}
	}
	return false
}

func (e *Entry) allowance(path string) bool {
	for _, rule := range e.Rules {
		if rule.appliesTo(path) {
			return rule.Allow
		}
	}
	return true
}

func (e *Entry) hasWildcardAgent() bool {
	for _, ua := range e.UserAgents {
		if ua == "*" {
			return true
		}
	}
	return false
}

// Sitemap is a Sitemap: directive and the line it was found on.
type Sitemap struct {
	URL  string
	Line int
}

// Policy is the parsed robots.txt of one host.
type Policy struct {
	DisallowAll bool
	AllowAll    bool
	Entries     []*Entry
	// DefaultEntry holds the first "*" block; it is consulted only when no
	// specific entry matches.
	DefaultEntry *Entry
	Sitemaps     []Sitemap
}

// AllowAllPolicy returns a policy that permits every path.
func AllowAllPolicy() *Policy { return &Policy{AllowAll: true} }

// DisallowAllPolicy returns a policy that forbids every path.
func DisallowAllPolicy() *Policy { return &Policy{DisallowAll: true} }

func (p *Policy) addEntry(e *Entry) {
	if e.hasWildcardAgent() {
		if p.DefaultEntry == nil {
			p.DefaultEntry = e
		}
		return
	}
	p.Entries = append(p.Entries, e)
}

// entryFor returns the entry governing agent, or nil.
func (p *Policy) entryFor(agent string) *Entry {
	for _, e := range p.Entries {
		if e.appliesTo(agent) {
			return e
		}
	}
	return p.DefaultEntry
}

// CanFetch reports whether agent may fetch target, which may be a full URL
// or a path with optional query.
func (p *Policy) CanFetch(agent, target string) bool {
	if p == nil {
		return true
	}
	if p.DisallowAll {
		return false
	}
	if p.AllowAll {
		return true
	}
	entry := p.entryFor(agent)
	if entry == nil {
		return true
	}
	return entry.allowance(requestPath(target))
}

// CrawlDelay returns the crawl delay the governing entry asks of agent.
func (p *Policy) CrawlDelay(agent string) time.Duration {
	if p == nil || p.AllowAll || p.DisallowAll {
		return 0
	}
	entry := p.entryFor(agent)
	if entry == nil {
		return 0
	}
	return time.Duration(entry.CrawlDelay) * time.Second
}

// String renders the policy as robots.txt text. Parsing the output yields an
// equivalent policy.
func (p *Policy) String() string {
	var b strings.Builder
	switch {
	case p.DisallowAll:
		b.WriteString("User-agent: *\nDisallow: /\n")
	case p.AllowAll:
		b.WriteString("User-agent: *\nDisallow:\n")
	default:
		for _, e := range p.Entries {
			writeEntry(&b, e)
		}
		if p.DefaultEntry != nil {
			writeEntry(&b, p.DefaultEntry)
		}
	}
	for _, sm := range p.Sitemaps {
		fmt.Fprintf(&b, "Sitemap: %s\n", sm.URL)
	}
	return b.String()
}

func writeEntry(b *strings.Builder, e *Entry) {
	for _, ua := range e.UserAgents {
		fmt.Fprintf(b, "User-agent: %s\n", ua)
	}
	for _, r := range e.Rules {
		directive := "Disallow"
		if r.Allow {
			directive = "Allow"
		}
		fmt.Fprintf(b, "%s: %s\n", directive, r.Path)
	}
	if e.CrawlDelay > 0 {
		fmt.Fprintf(b, "Crawl-delay: %d\n", e.CrawlDelay)
	}
	b.WriteString("\n")
}

// requestPath reduces target to its encoded path and query.
func requestPath(target string) string {
	path := target
	if u, err := url.Parse(target); err == nil && (u.Scheme != "" || u.Host != "") {
		path = u.EscapedPath()
		if u.RawQuery != "" {
			path += "?" + u.RawQuery
		}
	}
	if path == "" {
		path = "/"
	}
	return quotePath(unquote(path))
}

func unquote(s string) string {
	if v, err := url.PathUnescape(s); err == nil {
		return v
	}
	return s
}

// quotePath percent-encodes everything except unreserved characters and "/".
func quotePath(s string) string {
	const hex = "0123456789ABCDEF"
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if isUnreserved(c) || c == '/' || (c == '*' && s == "*") {
			b.WriteByte(c)
			continue
		}
		b.WriteByte('%')
		b.WriteByte(hex[c>>4])
		b.WriteByte(hex[c&0x0f])
	}
	return b.String()
}

func isUnreserved(c byte) bool {
	switch {
	case 'a' <= c && c <= 'z', 'A' <= c && c <= 'Z', '0' <= c && c <= '9':
		return true
	case c == '-', c == '_', c == '.', c == '~':
		return true
	}
	return false
}
