package checker

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/linkcheck/internal/cache"
	"github.com/JakeFAU/linkcheck/internal/connpool"
	"github.com/JakeFAU/linkcheck/internal/metrics"
	"github.com/JakeFAU/linkcheck/internal/policy/ratelimit"
	"github.com/JakeFAU/linkcheck/internal/robots"
	"github.com/JakeFAU/linkcheck/internal/urlnorm"
)

// ProbeRequest is the input of a protocol probe.
type ProbeRequest struct {
	// Record is read-only for probers.
	Record *Record
	Target urlnorm.Normalized
	// WantContent asks the prober to return the body when it can be parsed.
	WantContent bool
}

// Prober performs the connection check for one scheme.
type Prober interface {
	Probe(ctx context.Context, req ProbeRequest) Outcome
}

// pacedProber waits on per-host crawl delays and applies the check timeout
// to each request itself instead of to the whole probe.
type pacedProber interface {
	Prober
	paced()
}

// ProberFunc adapts a function to the Prober interface.
type ProberFunc func(ctx context.Context, req ProbeRequest) Outcome

// Probe implements Prober.
func (f ProberFunc) Probe(ctx context.Context, req ProbeRequest) Outcome { return f(ctx, req) }

// Option customizes a Checker.
type Option func(*settings)

type settings struct {
	logger    *zap.Logger
	resolver  Resolver
	transport http.RoundTripper
	probers   map[urlnorm.Scheme]Prober
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *settings) { s.logger = logger }
}

// WithResolver replaces the DNS resolver used for mail hosts.
func WithResolver(r Resolver) Option {
	return func(s *settings) { s.resolver = r }
}

// WithTransport sets the base HTTP transport wrapped by the connection pool.
func WithTransport(rt http.RoundTripper) Option {
	return func(s *settings) { s.transport = rt }
}

// WithProber overrides the prober for one scheme.
func WithProber(scheme urlnorm.Scheme, p Prober) Option {
	return func(s *settings) { s.probers[scheme] = p }
}

// Checker runs the per-URL state machine. It is safe for concurrent use;
// each Record is handled by exactly one goroutine.
type Checker struct {
	opts    Options
	cache   *cache.Cache[Result]
	probers map[urlnorm.Scheme]Prober
	http    *httpProber
	logger  *zap.Logger

	// sitemapHosts remembers hosts whose robots.txt sitemaps were emitted.
	sitemapHosts sync.Map
}

// New builds a Checker whose network probes draw slots from pool.
func New(opts Options, pool *connpool.Pool, options ...Option) (*Checker, error) {
	opts.applyDefaults()
	s := &settings{probers: make(map[urlnorm.Scheme]Prober)}
	for _, o := range options {
		o(s)
	}
	logger := s.logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if s.resolver == nil {
		s.resolver = net.DefaultResolver
	}
	if pool == nil {
		pool = connpool.New(4, logger)
	}
	creds, err := CompileCredentials(opts.Credentials)
	if err != nil {
		return nil, err
	}
	proxies, err := newProxySettings(opts.ProxyURL, opts.NoProxy)
	if err != nil {
		return nil, err
	}

	transport := newHTTPTransport(&opts, proxies, pool, s.transport)
	hp := &httpProber{
		client: &http.Client{
			Transport: transport,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		limiter:      ratelimit.New(ratelimit.Config{}),
		credentials:  creds,
		userAgent:    opts.UserAgent,
		maxRedirects: opts.MaxRedirects,
		maxContent:   opts.MaxContentBytes,
		timeout:      opts.Timeout,
		logger:       logger.Named("http"),
	}
	if opts.RespectRobots {
		robotsClient := &http.Client{Transport: transport, Timeout: opts.Timeout}
		hp.robots = robots.NewCache(robotsClient, opts.UserAgent, logger.Named("robots"))
	}

	c := &Checker{
		opts:   opts,
		cache:  cache.New[Result](),
		http:   hp,
		logger: logger,
		probers: map[urlnorm.Scheme]Prober{
			urlnorm.SchemeHTTP:  hp,
			urlnorm.SchemeHTTPS: hp,
			urlnorm.SchemeFile:  &fileProber{maxContent: opts.MaxContentBytes},
			urlnorm.SchemeFTP: &ftpProber{
				dialer:      &connpool.Dialer{Pool: pool},
				proxies:     proxies,
				credentials: creds,
				timeout:     opts.Timeout,
			},
			urlnorm.SchemeMailto: &mailtoProber{
				resolver: s.resolver,
				pool:     pool,
				proxies:  proxies,
				port:     opts.SMTPPort,
				timeout:  opts.Timeout,
				helo:     "localhost",
			},
			urlnorm.SchemeNNTP: &nntpProber{
				pool:    pool,
				proxies: proxies,
				server:  opts.NNTPServer,
				retries: opts.NNTPRetries,
				backoff: opts.NNTPBackoff,
				timeout: opts.Timeout,
				logger:  logger.Named("nntp"),
			},
			urlnorm.SchemeTelnet:     &telnetProber{pool: pool, proxies: proxies, timeout: opts.Timeout},
			urlnorm.SchemeJavaScript: javascriptProber{},
			urlnorm.SchemeUnknown:    unknownProber{},
		},
	}
	for scheme, p := range s.probers {
		c.probers[scheme] = p
	}
	return c, nil
}

// Published reports whether rec's cache key already has a result, so that
// checking rec completes without any I/O. References that fail to
// normalize also complete immediately.
func (c *Checker) Published(rec *Record) bool {
	n, err := urlnorm.Normalize(rec.Raw, rec.Parent, rec.Base)
	if err != nil {
		return true
	}
	return c.cache.Has(n.CacheKey)
}

// Check drives rec to a terminal state and returns the child records to
// enqueue.
func (c *Checker) Check(ctx context.Context, rec *Record) []*Record {
	start := time.Now()
	rec.State = StateInit

	n, err := urlnorm.Normalize(rec.Raw, rec.Parent, rec.Base)
	if err != nil {
		rec.Kind = KindSyntax
		rec.Valid = false
		rec.Message = err.Error()
		rec.State = StateError
		rec.CheckTime = time.Since(start)
		metrics.ObserveCheck(string(urlnorm.SchemeUnknown), rec.Kind.String(), rec.CheckTime)
		c.logRecord(rec)
		return nil
	}
	rec.State = StateSyntaxChecked
	rec.Resolved = n.URL
	rec.Scheme = n.Scheme
	rec.CacheKey = n.CacheKey
	rec.Fragment = n.Fragment

	entry, owner := c.cache.Claim(n.CacheKey)
	if !owner {
		rec.State = StateCacheHit
		res, err := entry.Wait(ctx)
		if err != nil {
			rec.Kind = KindTimeout
			rec.Valid = false
			rec.Message = "check canceled while waiting for cached result"
			rec.State = StateError
			return nil
		}
		rec.copyResult(res)
		c.verifyAnchor(rec, res.HTML, res.Anchors)
		rec.State = terminal(rec.Valid)
		metrics.ObserveCacheHit()
		c.logRecord(rec)
		return nil
	}

	rec.State = StateCacheMiss
	children, anchors, html := c.run(ctx, rec, n)
	rec.CheckTime = time.Since(start)
	if err := c.cache.Publish(n.CacheKey, rec.result(anchors, html)); err != nil {
		c.logger.Error("publish result", zap.String("cache_key", n.CacheKey), zap.Error(err))
	}
	c.verifyAnchor(rec, html, anchors)
	rec.State = terminal(rec.Valid)
	metrics.ObserveCheck(string(rec.Scheme), rec.Kind.String(), rec.CheckTime)
	c.logRecord(rec)
	return children
}

// run performs the filter, connection and content steps for the cache
// owner.
func (c *Checker) run(ctx context.Context, rec *Record, n urlnorm.Normalized) ([]*Record, map[string]struct{}, bool) {
	hierarchical := n.Scheme == urlnorm.SchemeHTTP || n.Scheme == urlnorm.SchemeHTTPS || n.Scheme == urlnorm.SchemeFTP
	rec.Extern, rec.Strict = c.opts.Filter.Classify(n.URL, hierarchical)
	if rec.Extern && (rec.Strict || !c.opts.CheckExtern) {
		rec.State = StateFiltered
		rec.Kind = KindPolicy
		rec.Valid = true
		rec.Message = "syntax OK"
		rec.AddWarning(TagExtern, "outside domain filter, syntax only")
		return nil, nil, false
	}

	recurse := !rec.Extern && c.opts.withinDepth(rec.Depth+1)
	prober, found := c.probers[n.Scheme]
	if !found {
		prober = c.probers[urlnorm.SchemeUnknown]
	}

	rec.State = StateConnecting
	probeCtx, cancel := ctx, context.CancelFunc(func() {})
	if _, ok := prober.(pacedProber); !ok {
		probeCtx, cancel = context.WithTimeout(ctx, c.opts.Timeout)
	}
	out := prober.Probe(probeCtx, ProbeRequest{
		Record:      rec,
		Target:      n,
		WantContent: recurse || c.opts.CheckAnchors,
	})
	cancel()

	rec.Kind = out.Kind
	rec.Valid = out.Kind.Valid()
	rec.Message = out.Message
	rec.Warnings = append(rec.Warnings, out.Warnings...)
	rec.Infos = append(rec.Infos, out.Infos...)
	rec.RealURL = out.RealURL
	rec.ContentType = out.ContentType
	rec.Size = out.Size
	rec.DownloadTime = out.DownloadTime
	if !rec.Valid {
		return nil, nil, false
	}
	rec.State = StateConnected
	if out.Kind == KindPolicy {
		return nil, nil, false
	}

	var (
		anchors map[string]struct{}
		html    bool
		links   = out.Links
	)
	if len(out.Content) > 0 {
		switch {
		case isHTML(out.ContentType):
			rec.State = StateContentChecked
			html = true
			if c.opts.CheckAnchors {
				var err error
				if anchors, err = CollectAnchors(out.Content); err != nil {
					c.logger.Debug("anchor collection failed", zap.String("url", rec.Resolved), zap.Error(err))
				}
			}
			if recurse {
				ext := ExtractLinks(out.Content)
				rec.Warnings = append(rec.Warnings, ext.Warnings...)
				links = append(links, ext.Links...)
			}
		case recurse && rec.Sitemap && isXML(out.ContentType):
			rec.State = StateContentChecked
			locs, err := ExtractSitemapLocs(out.Content)
			if err != nil {
				c.logger.Debug("sitemap parse failed", zap.String("url", rec.Resolved), zap.Error(err))
			}
			links = append(links, locs...)
		}
	}
	if !recurse {
		return nil, anchors, html
	}

	parent := rec.Resolved
	if rec.RealURL != "" {
		parent = rec.RealURL
	}
	children := make([]*Record, 0, len(links))
	for _, l := range links {
		children = append(children, c.child(rec, parent, l))
	}
	if c.opts.FollowSitemaps && (n.Scheme == urlnorm.SchemeHTTP || n.Scheme == urlnorm.SchemeHTTPS) {
		robotsURL := robots.URLFor(n.Parsed)
		if _, seen := c.sitemapHosts.LoadOrStore(robotsURL, struct{}{}); !seen {
			for _, l := range c.http.sitemapTargets(ctx, n) {
				children = append(children, c.child(rec, robotsURL, l))
			}
		}
	}
	if len(children) > 0 {
		rec.State = StateRecursing
	}
	return children, anchors, html
}

func (c *Checker) child(rec *Record, parent string, l Link) *Record {
	return &Record{
		Raw:       l.URL,
		Parent:    parent,
		ParentKey: rec.CacheKey,
		Base:      l.Base,
		Line:      l.Line,
		Column:    l.Column,
		Depth:     rec.Depth + 1,
		Sitemap:   l.Sitemap,
	}
}

// verifyAnchor warns when rec's fragment names no anchor of a valid HTML
// document.
func (c *Checker) verifyAnchor(rec *Record, html bool, anchors map[string]struct{}) {
	if !c.opts.CheckAnchors || rec.Fragment == "" || !html || !rec.Valid || anchors == nil {
		return
	}
	if _, found := anchors[rec.Fragment]; found {
		return
	}
	rec.AddWarning(TagAnchorNotFound, fmt.Sprintf("anchor %q not found", rec.Fragment))
}

func (c *Checker) logRecord(rec *Record) {
	c.logger.Debug("url checked",
		zap.String("url", rec.Resolved),
		zap.String("raw", rec.Raw),
		zap.String("parent", rec.Parent),
		zap.Int("depth", rec.Depth),
		zap.String("cache_key", rec.CacheKey),
		zap.Bool("cached", rec.Cached),
		zap.Bool("valid", rec.Valid),
		zap.String("result", rec.Message),
	)
}

func terminal(valid bool) State {
	if valid {
		return StateDone
	}
	return StateError
}
