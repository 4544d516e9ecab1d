package checker

import (
	"context"
	"errors"
	"net"
	"net/textproto"
	"strings"
	"time"

	"github.com/jlaffaye/ftp"

	"github.com/JakeFAU/linkcheck/internal/connpool"
)

const (
	anonymousUser     = "anonymous"
	anonymousPassword = "anonymous@"
)

type ftpProber struct {
	dialer      *connpool.Dialer
	proxies     *proxySettings
	credentials Credentials
	timeout     time.Duration
}

// Probe logs in and confirms that the path names a directory or a file.
func (p *ftpProber) Probe(ctx context.Context, req ProbeRequest) Outcome {
	u := req.Target.Parsed
	addr := net.JoinHostPort(req.Target.Host, req.Target.Port)
	key := connpool.NewKey("ftp", addr)
	forward := p.proxies.dialer(req.Target.Host, p.timeout)
	dialer := &connpool.Dialer{Pool: p.dialer.Pool, Forward: forward}

	// Only the control connection takes a pool slot; data connections
	// belong to it.
	control := true
	dial := func(network, address string) (net.Conn, error) {
		if control {
			control = false
			return dialer.DialContext(ctx, key, network, address)
		}
		return forward.DialContext(ctx, network, address)
	}

	conn, err := ftp.Dial(addr,
		ftp.DialWithContext(ctx),
		ftp.DialWithTimeout(p.timeout),
		ftp.DialWithDialFunc(dial),
	)
	if err != nil {
		return classifyError(ctx, err)
	}
	defer func() { _ = conn.Quit() }()

	user, pass := anonymousUser, anonymousPassword
	if u.User != nil {
		user = u.User.Username()
		if pw, set := u.User.Password(); set {
			pass = pw
		}
	} else if cu, cp, found := p.credentials.Lookup(req.Target.URL); found {
		user, pass = cu, cp
	}
	if err := conn.Login(user, pass); err != nil {
		return failure(KindConnection, "login failed: %v", ftpMessage(err))
	}

	target := u.Path
	if target == "" || target == "/" {
		return ok("FTP server OK")
	}
	if err := conn.ChangeDir(target); err == nil {
		return ok("directory OK")
	} else if strings.HasSuffix(target, "/") {
		return failure(KindConnection, "directory not found: %v", ftpMessage(err))
	}
	size, err := conn.FileSize(target)
	if err != nil {
		return failure(KindConnection, "file not found: %v", ftpMessage(err))
	}
	out := ok("file OK")
	out.Size = size
	return out
}

func ftpMessage(err error) string {
	var tpErr *textproto.Error
	if errors.As(err, &tpErr) {
		return tpErr.Error()
	}
	return err.Error()
}
