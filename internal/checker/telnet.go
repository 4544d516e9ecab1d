package checker

import (
	"context"
	"net"
	"time"

	"github.com/JakeFAU/linkcheck/internal/connpool"
)

type telnetProber struct {
	pool    *connpool.Pool
	proxies *proxySettings
	timeout time.Duration
}

// Probe confirms that the server accepts a TCP connection.
func (p *telnetProber) Probe(ctx context.Context, req ProbeRequest) Outcome {
	addr := net.JoinHostPort(req.Target.Host, req.Target.Port)
	dialer := &connpool.Dialer{Pool: p.pool, Forward: p.proxies.dialer(req.Target.Host, p.timeout)}
	conn, err := dialer.DialContext(ctx, connpool.NewKey("telnet", addr), "tcp", addr)
	if err != nil {
		return classifyError(ctx, err)
	}
	_ = conn.Close()
	return ok("connection accepted")
}
