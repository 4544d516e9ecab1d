package checker

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/textproto"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/linkcheck/internal/connpool"
)

const defaultNNTPPort = "119"

type nntpProber struct {
	pool    *connpool.Pool
	proxies *proxySettings
	server  string
	retries int
	backoff time.Duration
	timeout time.Duration
	logger  *zap.Logger
}

// errTooManyConnections marks a greeting that asks the client to come back
// later.
type errTooManyConnections struct{ msg string }

func (e errTooManyConnections) Error() string { return e.msg }

// Probe connects to the news server and confirms the group exists.
func (p *nntpProber) Probe(ctx context.Context, req ProbeRequest) Outcome {
	addr := ""
	if req.Target.Host != "" {
		addr = net.JoinHostPort(req.Target.Host, req.Target.Port)
	} else if p.server != "" {
		addr = p.server
		if _, _, err := net.SplitHostPort(addr); err != nil {
			addr = net.JoinHostPort(addr, defaultNNTPPort)
		}
	}
	if addr == "" {
		return ok("syntax OK").withWarning(TagNoNNTPServer, "no NNTP server configured, syntax only")
	}

	for attempt := 0; ; attempt++ {
		out, err := p.attempt(ctx, addr, req.Target.Group)
		var busy errTooManyConnections
		if !errors.As(err, &busy) {
			if err != nil {
				return classifyError(ctx, err)
			}
			return out
		}
		if attempt >= p.retries {
			return failure(KindConnection, "news server busy: %s", busy.msg)
		}
		p.logger.Debug("news server busy, retrying",
			zap.String("server", addr), zap.Int("attempt", attempt+1), zap.Duration("backoff", p.backoff))
		select {
		case <-ctx.Done():
			return classifyError(ctx, ctx.Err())
		case <-time.After(p.backoff):
		}
	}
}

func (p *nntpProber) attempt(ctx context.Context, addr, group string) (Outcome, error) {
	host, _, _ := net.SplitHostPort(addr)
	dialer := &connpool.Dialer{Pool: p.pool, Forward: p.proxies.dialer(host, p.timeout)}
	conn, err := dialer.DialContext(ctx, connpool.NewKey("nntp", addr), "tcp", addr)
	if err != nil {
		return Outcome{}, err
	}
	defer conn.Close()
	if deadline, set := ctx.Deadline(); set {
		_ = conn.SetDeadline(deadline)
	}

	tp := textproto.NewConn(conn)
	code, msg, err := tp.ReadCodeLine(0)
	if err != nil {
		return Outcome{}, fmt.Errorf("read nntp greeting: %w", err)
	}
	switch {
	case code == 200 || code == 201:
	case strings.Contains(strings.ToLower(msg), "too many"):
		return Outcome{}, errTooManyConnections{msg: fmt.Sprintf("%d %s", code, msg)}
	default:
		return failure(KindConnection, "news server refused connection: %d %s", code, msg), nil
	}
	defer func() {
		if id, err := tp.Cmd("QUIT"); err == nil {
			tp.StartResponse(id)
			_, _, _ = tp.ReadCodeLine(0)
			tp.EndResponse(id)
		}
	}()

	if group == "" {
		return ok("news server OK"), nil
	}
	id, err := tp.Cmd("GROUP %s", group)
	if err != nil {
		return Outcome{}, fmt.Errorf("send GROUP: %w", err)
	}
	tp.StartResponse(id)
	code, msg, err = tp.ReadCodeLine(0)
	tp.EndResponse(id)
	if err != nil {
		return Outcome{}, fmt.Errorf("read GROUP response: %w", err)
	}
	switch code {
	case 211:
		return ok(fmt.Sprintf("newsgroup %s found", group)), nil
	case 411:
		return failure(KindConnection, "newsgroup %s not found", group), nil
	default:
		return failure(KindProtocol, "unexpected GROUP response: %d %s", code, msg), nil
	}
}
