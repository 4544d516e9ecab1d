package checker

import (
	"fmt"
	"net"
	"net/url"
	"regexp"
	"strings"

	"golang.org/x/net/publicsuffix"
)

// Filter precedence values.
const (
	PrecedenceExtern = "extern"
	PrecedenceIntern = "intern"
)

const (
	strictPrefix = "strict:"
	negatePrefix = "!"
)

// Pattern is one domain filter expression. A leading "strict:" marks the
// matches as strict extern; a following "!" inverts the match.
type Pattern struct {
	re     *regexp.Regexp
	negate bool
	strict bool
	source string
}

// ParsePattern compiles a filter expression.
func ParsePattern(expr string) (Pattern, error) {
	p := Pattern{source: expr}
	rest := strings.TrimSpace(expr)
	if strings.HasPrefix(rest, strictPrefix) {
		p.strict = true
		rest = strings.TrimPrefix(rest, strictPrefix)
	}
	if strings.HasPrefix(rest, negatePrefix) {
		p.negate = true
		rest = strings.TrimPrefix(rest, negatePrefix)
	}
	re, err := regexp.Compile(rest)
	if err != nil {
		return Pattern{}, fmt.Errorf("compile filter pattern %q: %w", expr, err)
	}
	p.re = re
	return p, nil
}

// Match reports whether target satisfies the pattern.
func (p Pattern) Match(target string) bool {
	return p.re.MatchString(target) != p.negate
}

func (p Pattern) String() string { return p.source }

// Filter decides which URLs are extern.
type Filter struct {
	intern     []Pattern
	extern     []Pattern
	precedence string
}

// NewFilter compiles the intern and extern pattern lists.
func NewFilter(intern, extern []string, precedence string) (*Filter, error) {
	f := &Filter{precedence: precedence}
	if f.precedence == "" {
		f.precedence = PrecedenceExtern
	}
	if f.precedence != PrecedenceExtern && f.precedence != PrecedenceIntern {
		return nil, fmt.Errorf("unknown filter precedence %q", precedence)
	}
	for _, expr := range intern {
		p, err := ParsePattern(expr)
		if err != nil {
			return nil, err
		}
		f.intern = append(f.intern, p)
	}
	for _, expr := range extern {
		p, err := ParsePattern(expr)
		if err != nil {
			return nil, err
		}
		f.extern = append(f.extern, p)
	}
	return f, nil
}

// HasIntern reports whether any intern pattern is configured.
func (f *Filter) HasIntern() bool { return f != nil && len(f.intern) > 0 }

// AddSeedDefaults derives intern patterns from the seeds' registrable
// domains. It is meant for runs without explicit intern patterns.
func (f *Filter) AddSeedDefaults(seeds []string) {
	seen := make(map[string]struct{})
	for _, seed := range seeds {
		expr := SeedPattern(seed)
		if expr == "" {
			continue
		}
		if _, dup := seen[expr]; dup {
			continue
		}
		seen[expr] = struct{}{}
		f.intern = append(f.intern, Pattern{re: regexp.MustCompile(expr), source: expr})
	}
}

// SeedPattern returns the default intern expression for a seed: every host
// sharing the seed's registrable domain, or the local filesystem for file
// seeds.
func SeedPattern(seed string) string {
	u, err := url.Parse(strings.TrimSpace(seed))
	if err != nil {
		return ""
	}
	switch strings.ToLower(u.Scheme) {
	case "file":
		return `^file:`
	case "http", "https", "ftp":
	default:
		return ""
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return ""
	}
	domain := host
	if net.ParseIP(host) == nil {
		if etld1, err := publicsuffix.EffectiveTLDPlusOne(host); err == nil {
			domain = etld1
		}
	}
	return `^(https?|ftp)://([^/?#@]*\.)?` + regexp.QuoteMeta(domain) + `(:[0-9]+)?([/?#]|$)`
}

// Classify reports whether target is extern and, if so, whether it is
// strict extern. Only URLs with an authority fall back to extern when intern
// patterns exist and none matches.
func (f *Filter) Classify(target string, hasHost bool) (extern, strict bool) {
	if f == nil {
		return false, false
	}
	internMatch := false
	for _, p := range f.intern {
		if p.Match(target) {
			internMatch = true
			break
		}
	}
	var externMatch *Pattern
	for i := range f.extern {
		if f.extern[i].Match(target) {
			externMatch = &f.extern[i]
			break
		}
	}

	if f.precedence == PrecedenceIntern && internMatch {
		return false, false
	}
	if externMatch != nil {
		return true, externMatch.strict
	}
	if internMatch {
		return false, false
	}
	if hasHost && len(f.intern) > 0 {
		return true, false
	}
	return false, false
}
