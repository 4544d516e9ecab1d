package robots

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/JakeFAU/linkcheck/internal/metrics"
)

// maxRobotsBytes bounds how much of a robots.txt body is read.
const maxRobotsBytes = 512 * 1024

// Fetch outcomes, also used as metric labels.
const (
	OutcomeParsed      = "parsed"
	OutcomeDisallowAll = "disallow_all"
	OutcomeStatus      = "allow_all_status"
	OutcomeContentType = "allow_all_content_type"
	OutcomeFailure     = "allow_all_failure"
)

// Cache fetches robots.txt once per scheme://host:port and keeps the parsed
// policy for the rest of the run.
type Cache struct {
	client    *http.Client
	userAgent string
	logger    *zap.Logger

	mu       sync.RWMutex
	policies map[string]*Policy
	group    singleflight.Group
}

// NewCache returns a Cache issuing requests through client.
func NewCache(client *http.Client, userAgent string, logger *zap.Logger) *Cache {
	if client == nil {
		client = http.DefaultClient
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cache{
		client:    client,
		userAgent: userAgent,
		logger:    logger,
		policies:  make(map[string]*Policy),
	}
}

// Policy returns the policy governing target, fetching it on first use.
// Failures never surface as errors: they resolve to allow-all or
// disallow-all policies.
func (c *Cache) Policy(ctx context.Context, target *url.URL) *Policy {
	key := hostKey(target)
	c.mu.RLock()
	p, ok := c.policies[key]
	c.mu.RUnlock()
	if ok {
		return p
	}

	v, _, _ := c.group.Do(key, func() (any, error) {
		c.mu.RLock()
		cached, ok := c.policies[key]
		c.mu.RUnlock()
		if ok {
			return cached, nil
		}
		policy, outcome := Fetch(ctx, c.client, key+"/robots.txt", c.userAgent, c.logger)
		metrics.ObserveRobotsFetch(outcome)
		// A cancelled run must not pin a fail-open policy for the host.
		if ctx.Err() == nil {
			c.mu.Lock()
			c.policies[key] = policy
			c.mu.Unlock()
		}
		return policy, nil
	})
	policy, ok := v.(*Policy)
	if !ok || policy == nil {
		return AllowAllPolicy()
	}
	return policy
}

// Allowed reports whether the configured agent may fetch target.
func (c *Cache) Allowed(ctx context.Context, target *url.URL) bool {
	return c.Policy(ctx, target).CanFetch(c.userAgent, target.String())
}

// UserAgent is the agent policies are evaluated for.
func (c *Cache) UserAgent() string { return c.userAgent }

// Fetch downloads and parses robotsURL. It returns the resulting policy and
// the outcome label describing how it was derived.
func Fetch(ctx context.Context, client *http.Client, robotsURL, userAgent string, logger *zap.Logger) (*Policy, string) {
	if logger == nil {
		logger = zap.NewNop()
	}
	log := logger.With(zap.String("robots_url", robotsURL))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL, nil)
	if err != nil {
		log.Warn("robots request could not be built; allowing access", zap.Error(err))
		return AllowAllPolicy(), OutcomeFailure
	}
	if userAgent != "" {
		req.Header.Set("User-Agent", userAgent)
	}
	resp, err := client.Do(req)
	if err != nil {
		log.Warn("robots fetch failed; allowing access", zap.Error(err))
		return AllowAllPolicy(), OutcomeFailure
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			log.Debug("Failed to close robots response body", zap.Error(cerr))
		}
	}()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		log.Warn("robots access denied; disallowing host", zap.Int("status", resp.StatusCode))
		return DisallowAllPolicy(), OutcomeDisallowAll
	case resp.StatusCode >= http.StatusBadRequest:
		log.Debug("robots not available; allowing access", zap.Int("status", resp.StatusCode))
		return AllowAllPolicy(), OutcomeStatus
	}
	if !isText(resp.Header.Get("Content-Type")) {
		log.Warn("robots content type is not text; allowing access",
			zap.String("content_type", resp.Header.Get("Content-Type")))
		return AllowAllPolicy(), OutcomeContentType
	}

	policy, err := Parse(io.LimitReader(resp.Body, maxRobotsBytes), log)
	if err != nil {
		log.Warn("robots body unreadable; allowing access", zap.Error(err))
		return AllowAllPolicy(), OutcomeFailure
	}
	return policy, OutcomeParsed
}

// URLFor returns the robots.txt location for target.
func URLFor(target *url.URL) string {
	return hostKey(target) + "/robots.txt"
}

// ErrNoHost reports a target without an authority.
var ErrNoHost = errors.New("robots: url has no host")

// ParseTarget parses raw and checks that it names a host.
func ParseTarget(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse robots target: %w", err)
	}
	if u.Host == "" {
		return nil, ErrNoHost
	}
	return u, nil
}

func hostKey(u *url.URL) string {
	scheme := strings.ToLower(u.Scheme)
	host := strings.ToLower(u.Hostname())
	port := u.Port()
	switch {
	case port == "":
	case scheme == "http" && port == "80", scheme == "https" && port == "443":
		port = ""
	}
	if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}
	if port != "" {
		host += ":" + port
	}
	return scheme + "://" + host
}

func isText(contentType string) bool {
	if contentType == "" {
		return true
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return strings.HasPrefix(mediaType, "text/")
}
