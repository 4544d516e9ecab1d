package connpool

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"

	"golang.org/x/net/proxy"
)

// Transport is an http.RoundTripper that holds a pool slot from the moment a
// request is sent until its response body is closed.
type Transport struct {
	Pool *Pool
	Base http.RoundTripper
}

// RoundTrip implements http.RoundTripper.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}
	release, err := t.Pool.Acquire(req.Context(), KeyOf(req.URL))
	if err != nil {
		return nil, err
	}
	resp, err := base.RoundTrip(req)
	if err != nil {
		release()
		return nil, fmt.Errorf("round trip: %w", err)
	}
	if resp.Body == nil || resp.Body == http.NoBody {
		release()
		return resp, nil
	}
	resp.Body = &releasingBody{ReadCloser: resp.Body, release: release}
	return resp, nil
}

type releasingBody struct {
	io.ReadCloser
	once    sync.Once
	release func()
}

func (b *releasingBody) Close() error {
	err := b.ReadCloser.Close()
	b.once.Do(b.release)
	return err
}

// Dialer opens pooled raw connections for non-HTTP schemes.
type Dialer struct {
	Pool *Pool
	// Forward dials the network; it may be a SOCKS5 dialer from
	// golang.org/x/net/proxy.
	Forward proxy.ContextDialer
}

// DialContext reserves a slot for key and dials addr. Closing the returned
// connection releases the slot.
func (d *Dialer) DialContext(ctx context.Context, key Key, network, addr string) (net.Conn, error) {
	forward := d.Forward
	if forward == nil {
		forward = &net.Dialer{}
	}
	release, err := d.Pool.Acquire(ctx, key)
	if err != nil {
		return nil, err
	}
	conn, err := forward.DialContext(ctx, network, addr)
	if err != nil {
		release()
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	return &releasingConn{Conn: conn, release: release}, nil
}

type releasingConn struct {
	net.Conn
	once    sync.Once
	release func()
}

func (c *releasingConn) Close() error {
	err := c.Conn.Close()
	c.once.Do(c.release)
	return err
}
