package checker

import (
	"fmt"
	"net"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"golang.org/x/net/proxy"
)

// Credential supplies login data for URLs matching Pattern.
type Credential struct {
	Pattern  string `mapstructure:"pattern"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
}

type credentialRule struct {
	re   *regexp.Regexp
	user string
	pass string
}

// Credentials is an ordered rule list; the first matching rule wins.
type Credentials []credentialRule

// CompileCredentials compiles the credential patterns in order.
func CompileCredentials(creds []Credential) (Credentials, error) {
	out := make(Credentials, 0, len(creds))
	for _, c := range creds {
		re, err := regexp.Compile(c.Pattern)
		if err != nil {
			return nil, fmt.Errorf("compile credential pattern %q: %w", c.Pattern, err)
		}
		out = append(out, credentialRule{re: re, user: c.User, pass: c.Password})
	}
	return out, nil
}

// Lookup returns the first credential whose pattern matches target.
func (c Credentials) Lookup(target string) (user, password string, ok bool) {
	for _, rule := range c {
		if rule.re.MatchString(target) {
			return rule.user, rule.pass, true
		}
	}
	return "", "", false
}

// Options configures a Checker for one run.
type Options struct {
	UserAgent string
	// MaxDepth bounds recursion; a negative value means unlimited.
	MaxDepth        int
	Timeout         time.Duration
	CheckExtern     bool
	RespectRobots   bool
	FollowSitemaps  bool
	CheckAnchors    bool
	MaxRedirects    int
	MaxContentBytes int64
	SSLVerify       bool
	NNTPServer      string
	NNTPRetries     int
	NNTPBackoff     time.Duration
	SMTPPort        int
	Credentials     []Credential
	ProxyURL        string
	NoProxy         []string
	Filter          *Filter
}

const (
	defaultUserAgent       = "linkcheck/1.0"
	defaultTimeout         = 30 * time.Second
	defaultMaxRedirects    = 5
	defaultMaxContentBytes = 8 << 20
	defaultSMTPPort        = 25
	defaultNNTPBackoff     = 5 * time.Second
)

func (o *Options) applyDefaults() {
	if o.UserAgent == "" {
		o.UserAgent = defaultUserAgent
	}
	if o.Timeout <= 0 {
		o.Timeout = defaultTimeout
	}
	if o.MaxRedirects <= 0 {
		o.MaxRedirects = defaultMaxRedirects
	}
	if o.MaxContentBytes <= 0 {
		o.MaxContentBytes = defaultMaxContentBytes
	}
	if o.SMTPPort <= 0 {
		o.SMTPPort = defaultSMTPPort
	}
	if o.NNTPBackoff <= 0 {
		o.NNTPBackoff = defaultNNTPBackoff
	}
	if o.NNTPRetries < 0 {
		o.NNTPRetries = 0
	}
}

// withinDepth reports whether a record at depth may exist as a child.
func (o *Options) withinDepth(depth int) bool {
	return o.MaxDepth < 0 || depth <= o.MaxDepth
}

// proxySettings decides per host whether the configured proxy applies.
type proxySettings struct {
	url     *url.URL
	noProxy []string
}

func newProxySettings(raw string, noProxy []string) (*proxySettings, error) {
	if strings.TrimSpace(raw) == "" {
		return &proxySettings{}, nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse proxy url: %w", err)
	}
	normalized := make([]string, 0, len(noProxy))
	for _, p := range noProxy {
		if p = strings.ToLower(strings.TrimSpace(p)); p != "" {
			normalized = append(normalized, p)
		}
	}
	return &proxySettings{url: u, noProxy: normalized}, nil
}

// bypass reports whether host matches a no-proxy pattern. A pattern matches
// the host itself and, with a leading dot or not, any subdomain.
func (p *proxySettings) bypass(host string) bool {
	host = strings.ToLower(host)
	for _, pattern := range p.noProxy {
		if pattern == "*" {
			return true
		}
		suffix := strings.TrimPrefix(pattern, ".")
		if host == suffix || strings.HasSuffix(host, "."+suffix) {
			return true
		}
	}
	return false
}

// httpProxy is an http.Transport Proxy func.
func (p *proxySettings) httpProxy(req *http.Request) (*url.URL, error) {
	if p.url == nil || p.bypass(req.URL.Hostname()) {
		return nil, nil
	}
	return p.url, nil
}

// dialer returns the forward dialer for raw protocol connections to host.
// Only SOCKS proxies can carry them.
func (p *proxySettings) dialer(host string, timeout time.Duration) proxy.ContextDialer {
	direct := &net.Dialer{Timeout: timeout}
	if p.url == nil || p.bypass(host) {
		return direct
	}
	switch p.url.Scheme {
	case "socks5", "socks5h":
	default:
		return direct
	}
	d, err := proxy.FromURL(p.url, direct)
	if err != nil {
		return direct
	}
	if cd, ok := d.(proxy.ContextDialer); ok {
		return cd
	}
	return direct
}
