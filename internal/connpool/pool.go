// Package connpool limits outstanding connections per (scheme, host, port).
package connpool

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/JakeFAU/linkcheck/internal/metrics"
)

// ErrClosed is returned by Acquire after Close.
var ErrClosed = errors.New("connection pool closed")

var defaultPorts = map[string]string{
	"http":   "80",
	"https":  "443",
	"ftp":    "21",
	"nntp":   "119",
	"news":   "119",
	"snews":  "563",
	"telnet": "23",
	"smtp":   "25",
}

// Key identifies one pool of slots.
type Key struct {
	Scheme string
	Host   string
	Port   string
}

func (k Key) String() string {
	return k.Scheme + "://" + net.JoinHostPort(k.Host, k.Port)
}

// KeyOf derives the pool key of u, filling in the scheme default port.
func KeyOf(u *url.URL) Key {
	scheme := strings.ToLower(u.Scheme)
	port := u.Port()
	if port == "" {
		port = defaultPorts[scheme]
	}
	return Key{Scheme: scheme, Host: strings.ToLower(u.Hostname()), Port: port}
}

// NewKey builds a key from an address of the form host:port.
func NewKey(scheme, addr string) Key {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		host, port = addr, defaultPorts[scheme]
	}
	return Key{Scheme: strings.ToLower(scheme), Host: strings.ToLower(host), Port: port}
}

type slot struct {
	sem   *semaphore.Weighted
	inUse int
}

// Pool hands out at most max concurrent slots per key. Acquire blocks until
// a slot frees or the context ends.
type Pool struct {
	max    int64
	logger *zap.Logger

	mu     sync.Mutex
	slots  map[Key]*slot
	closed bool
}

// New returns a pool allowing maxPerKey outstanding connections per key.
func New(maxPerKey int, logger *zap.Logger) *Pool {
	if maxPerKey <= 0 {
		maxPerKey = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pool{
		max:    int64(maxPerKey),
		logger: logger,
		slots:  make(map[Key]*slot),
	}
}

// Acquire reserves a slot for key. The returned release func is idempotent
// and must be called on every exit path.
func (p *Pool) Acquire(ctx context.Context, key Key) (func(), error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrClosed
	}
	s, ok := p.slots[key]
	if !ok {
		s = &slot{sem: semaphore.NewWeighted(p.max)}
		p.slots[key] = s
	}
	p.mu.Unlock()

	start := time.Now()
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("acquire slot for %s: %w", key, err)
	}
	wait := time.Since(start)
	metrics.ObservePoolWait(key.Scheme, wait)
	if wait > time.Second {
		p.logger.Debug("waited for connection slot", zap.Stringer("key", key), zap.Duration("wait", wait))
	}

	p.mu.Lock()
	s.inUse++
	p.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			p.mu.Lock()
			s.inUse--
			p.mu.Unlock()
			s.sem.Release(1)
		})
	}, nil
}

// InUse reports the number of slots currently held for key.
func (p *Pool) InUse(key Key) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if s, ok := p.slots[key]; ok {
		return s.inUse
	}
	return 0
}

// Max is the per-key limit.
func (p *Pool) Max() int { return int(p.max) }

// Close makes further Acquire calls fail. Held slots stay valid.
func (p *Pool) Close() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
}
