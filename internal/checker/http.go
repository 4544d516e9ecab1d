package checker

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/linkcheck/internal/connpool"
	"github.com/JakeFAU/linkcheck/internal/metrics"
	"github.com/JakeFAU/linkcheck/internal/policy/ratelimit"
	"github.com/JakeFAU/linkcheck/internal/robots"
	"github.com/JakeFAU/linkcheck/internal/urlnorm"
)

// headFallback lists statuses servers are known to return for HEAD even
// though GET works.
var headFallback = map[int]struct{}{
	http.StatusBadRequest:       {},
	http.StatusForbidden:        {},
	http.StatusMethodNotAllowed: {},
	http.StatusNotImplemented:   {},
}

func isRedirect(code int) bool {
	switch code {
	case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther,
		http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
		return true
	}
	return false
}

type httpProber struct {
	client       *http.Client
	robots       *robots.Cache
	limiter      *ratelimit.Limiter
	credentials  Credentials
	userAgent    string
	maxRedirects int
	maxContent   int64
	timeout      time.Duration
	logger       *zap.Logger
}

// paced marks the prober as bounding its own requests.
func (*httpProber) paced() {}

// newHTTPTransport builds the shared transport: proxy aware, pool limited,
// and without transparent decompression.
func newHTTPTransport(opts *Options, proxies *proxySettings, pool *connpool.Pool, base http.RoundTripper) http.RoundTripper {
	if base == nil {
		base = &http.Transport{
			Proxy: proxies.httpProxy,
			DialContext: (&net.Dialer{
				Timeout:   opts.Timeout,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			TLSClientConfig: &tls.Config{
				InsecureSkipVerify: !opts.SSLVerify, //nolint:gosec
				MinVersion:         tls.VersionTLS12,
			},
			TLSHandshakeTimeout:   opts.Timeout,
			ResponseHeaderTimeout: opts.Timeout,
			DisableCompression:    true,
			MaxIdleConnsPerHost:   pool.Max(),
			IdleConnTimeout:       90 * time.Second,
		}
	}
	return &connpool.Transport{Pool: pool, Base: base}
}

// Probe runs the HEAD/GET probe including redirects and authentication.
// Crawl-delay waits are bounded by ctx only; each request then gets its own
// timeout, so politeness never turns into a failed check.
func (p *httpProber) Probe(ctx context.Context, req ProbeRequest) Outcome {
	current := withoutFragment(req.Target.Parsed)
	if denied, out := p.robotsDenied(ctx, current); denied {
		return out
	}

	var (
		warnings []Warning
		infos    []string
		hops     int
		authUser string
		authPass string
		useAuth  bool
		authDone bool
	)
	method := http.MethodHead

	for {
		if err := p.limiter.Wait(ctx, current.Host); err != nil {
			out := failure(KindTimeout, "check canceled while waiting for crawl delay")
			out.Warnings, out.Infos = warnings, infos
			return out
		}
		attemptCtx, cancel := context.WithTimeout(ctx, p.timeout)
		start := time.Now()
		resp, err := p.do(attemptCtx, method, current, useAuth, authUser, authPass)
		if err != nil {
			if method == http.MethodHead && attemptCtx.Err() == nil && !isTimeoutErr(err) && !isDialErr(err) {
				cancel()
				p.logger.Debug("HEAD failed, retrying with GET", zap.String("url", current.Redacted()), zap.Error(err))
				method = http.MethodGet
				continue
			}
			out := classifyError(attemptCtx, err)
			cancel()
			out.Warnings, out.Infos = warnings, infos
			return out
		}

		switch {
		case isRedirect(resp.StatusCode):
			p.discard(resp)
			cancel()
			loc := resp.Header.Get("Location")
			if loc == "" {
				return Outcome{Kind: KindProtocol, Message: "redirect without Location header", Warnings: warnings, Infos: infos}
			}
			next, err := current.Parse(loc)
			if err != nil {
				return Outcome{Kind: KindProtocol, Message: fmt.Sprintf("invalid redirect target %q", loc), Warnings: warnings, Infos: infos}
			}
			hops++
			if hops > p.maxRedirects {
				return Outcome{Kind: KindConnection, Message: "too many redirects", Warnings: warnings, Infos: infos}
			}
			metrics.ObserveRedirect()
			if next.Scheme != current.Scheme {
				warnings = append(warnings, Warning{
					Tag:     TagRedirectScheme,
					Message: fmt.Sprintf("redirected from %s to %s", current.Scheme, next.Scheme),
				})
			}
			if next.Scheme != "http" && next.Scheme != "https" {
				return Outcome{Kind: KindProtocol, Message: fmt.Sprintf("unsupported redirect target %s", urlnorm.StripPassword(next)), Warnings: warnings, Infos: infos}
			}
			infos = append(infos, fmt.Sprintf("redirected to %s", urlnorm.StripPassword(next)))
			// Credentials belong to the URLs their pattern matches; a hop
			// to another origin starts unauthenticated.
			if !strings.EqualFold(next.Host, current.Host) || next.Scheme != current.Scheme {
				useAuth, authDone = false, false
				authUser, authPass = "", ""
			} else if useAuth {
				authUser, authPass, useAuth = p.credentials.Lookup(next.String())
			}
			current = withoutFragment(next)
			if denied, out := p.robotsDenied(ctx, current); denied {
				out.Warnings = append(warnings, out.Warnings...)
				out.Infos = infos
				out.RealURL = urlnorm.StripPassword(current).String()
				return out
			}
			if resp.StatusCode == http.StatusSeeOther {
				method = http.MethodGet
			}
			continue

		case resp.StatusCode == http.StatusUnauthorized && !authDone:
			if user, pass, found := p.credentials.Lookup(current.String()); found {
				p.discard(resp)
				cancel()
				authDone, useAuth = true, true
				authUser, authPass = user, pass
				continue
			}

		case method == http.MethodHead && inSet(headFallback, resp.StatusCode):
			p.discard(resp)
			cancel()
			method = http.MethodGet
			continue

		case method == http.MethodHead && resp.StatusCode < http.StatusBadRequest && p.needsBody(resp, req):
			p.discard(resp)
			cancel()
			method = http.MethodGet
			continue
		}

		out := p.finish(resp, method, start, current, warnings, infos)
		cancel()
		return out
	}
}

// needsBody reports whether a successful HEAD must be repeated as GET: the
// type is unknown, or the content will be parsed.
func (p *httpProber) needsBody(resp *http.Response, req ProbeRequest) bool {
	ct := resp.Header.Get("Content-Type")
	if mediaType(ct) == "application/octet-stream" {
		return true
	}
	return req.WantContent && (isHTML(ct) || (req.Record.Sitemap && isXML(ct)))
}

func (p *httpProber) finish(resp *http.Response, method string, start time.Time, final *url.URL, warnings []Warning, infos []string) Outcome {
	defer p.discard(resp)
	out := Outcome{
		Kind:        KindOK,
		Message:     resp.Status,
		Warnings:    warnings,
		Infos:       infos,
		RealURL:     urlnorm.StripPassword(final).String(),
		ContentType: resp.Header.Get("Content-Type"),
		Size:        max(resp.ContentLength, 0),
	}
	if resp.StatusCode >= http.StatusBadRequest {
		out.Kind = KindConnection
		return out
	}
	if method != http.MethodGet {
		return out
	}
	body, truncated, err := readBody(resp.Body, resp.Header.Get("Content-Encoding"), out.ContentType, p.maxContent)
	out.DownloadTime = time.Since(start)
	if err != nil {
		out.Kind = KindProtocol
		out.Message = fmt.Sprintf("%s: %v", resp.Status, err)
		return out
	}
	if truncated {
		out.Warnings = append(out.Warnings, Warning{
			Tag:     TagContentTooLarge,
			Message: fmt.Sprintf("content truncated at %d bytes", p.maxContent),
		})
	}
	out.Content = body
	out.Size = int64(len(body))
	out.ContentType = sniffType(out.ContentType, body)
	return out
}

func (p *httpProber) do(ctx context.Context, method string, target *url.URL, useAuth bool, user, pass string) (*http.Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, method, target.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("User-Agent", p.userAgent)
	httpReq.Header.Set("Accept-Encoding", acceptEncoding)
	httpReq.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	if useAuth {
		httpReq.SetBasicAuth(user, pass)
	}
	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, target.Redacted(), err)
	}
	return resp, nil
}

// robotsDenied consults robots.txt and registers the host's crawl delay.
func (p *httpProber) robotsDenied(ctx context.Context, target *url.URL) (bool, Outcome) {
	if p.robots == nil {
		return false, Outcome{}
	}
	policy := p.robots.Policy(ctx, target)
	p.limiter.SetDelay(target.Host, policy.CrawlDelay(p.robots.UserAgent()))
	if policy.CanFetch(p.robots.UserAgent(), target.String()) {
		return false, Outcome{}
	}
	return true, Outcome{
		Kind:    KindPolicy,
		Message: "syntax OK",
		Warnings: []Warning{{
			Tag:     TagRobots,
			Message: "denied by robots.txt, syntax only",
		}},
	}
}

func (p *httpProber) discard(resp *http.Response) {
	if resp == nil || resp.Body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	if err := resp.Body.Close(); err != nil {
		p.logger.Debug("Failed to close response body", zap.Error(err))
	}
}

func isTimeoutErr(err error) bool {
	var netErr net.Error
	return errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout())
}

func isDialErr(err error) bool {
	var opErr *net.OpError
	return errors.As(err, &opErr) && opErr.Op == "dial"
}

func inSet(set map[int]struct{}, code int) bool {
	_, ok := set[code]
	return ok
}

func withoutFragment(u *url.URL) *url.URL {
	cp := *u
	cp.Fragment = ""
	cp.RawFragment = ""
	return &cp
}

// sitemapTargets lists the robots.txt sitemaps of target's host.
func (p *httpProber) sitemapTargets(ctx context.Context, target urlnorm.Normalized) []Link {
	if p.robots == nil {
		return nil
	}
	policy := p.robots.Policy(ctx, target.Parsed)
	links := make([]Link, 0, len(policy.Sitemaps))
	for _, sm := range policy.Sitemaps {
		links = append(links, Link{URL: sm.URL, Line: sm.Line, Tag: "sitemap", Sitemap: true})
	}
	return links
}
