package checker

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/smtp"
	"net/textproto"
	"strconv"
	"strings"
	"time"

	"github.com/JakeFAU/linkcheck/internal/connpool"
)

// Resolver looks up mail hosts. *net.Resolver satisfies it.
type Resolver interface {
	LookupMX(ctx context.Context, name string) ([]*net.MX, error)
	LookupHost(ctx context.Context, host string) ([]string, error)
}

type mailtoProber struct {
	resolver Resolver
	pool     *connpool.Pool
	proxies  *proxySettings
	port     int
	timeout  time.Duration
	helo     string
}

type vrfyResult int

const (
	vrfyOK vrfyResult = iota
	vrfyUnverifiable
	vrfyRejected
)

// Probe resolves each address's mail host and asks it to VRFY the address.
func (p *mailtoProber) Probe(ctx context.Context, req ProbeRequest) Outcome {
	if len(req.Target.Addresses) == 0 {
		return failure(KindSyntax, "no mail addresses found")
	}
	out := ok("mail address OK")
	if len(req.Target.Addresses) > 1 {
		out.Message = "mail addresses OK"
	}
	for _, addr := range req.Target.Addresses {
		domain := addr[strings.LastIndex(addr, "@")+1:]
		hosts, err := p.mailHosts(ctx, domain)
		if err != nil {
			return classifyError(ctx, err)
		}
		if len(hosts) == 0 {
			return failure(KindConnection, "no mail host found for %s", domain)
		}
		result, detail, err := p.verify(ctx, hosts, addr)
		if err != nil {
			out := classifyError(ctx, err)
			out.Message = fmt.Sprintf("could not connect to mail host for %s: %s", addr, out.Message)
			return out
		}
		switch result {
		case vrfyRejected:
			return failure(KindConnection, "mail address %s rejected: %s", addr, detail)
		case vrfyUnverifiable:
			out = out.withWarning(TagMailUnverified, fmt.Sprintf("unverified address %s: %s", addr, detail))
		default:
			out.Infos = append(out.Infos, fmt.Sprintf("verified address %s", addr))
		}
	}
	return out
}

// mailHosts returns MX hosts in preference order, or the domain itself when
// it has an address record but no MX.
func (p *mailtoProber) mailHosts(ctx context.Context, domain string) ([]string, error) {
	mxs, err := p.resolver.LookupMX(ctx, domain)
	if err == nil && len(mxs) > 0 {
		hosts := make([]string, 0, len(mxs))
		for _, mx := range mxs {
			host := strings.TrimSuffix(mx.Host, ".")
			if host != "" {
				hosts = append(hosts, host)
			}
		}
		return hosts, nil
	}
	if ctx.Err() != nil {
		return nil, fmt.Errorf("lookup mx %s: %w", domain, ctx.Err())
	}
	if addrs, aerr := p.resolver.LookupHost(ctx, domain); aerr == nil && len(addrs) > 0 {
		return []string{domain}, nil
	}
	return nil, nil
}

// verify tries hosts in order until one answers the VRFY command.
func (p *mailtoProber) verify(ctx context.Context, hosts []string, addr string) (vrfyResult, string, error) {
	var lastErr error
	for _, host := range hosts {
		result, detail, err := p.verifyAt(ctx, host, addr)
		if err == nil {
			return result, detail, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
	}
	return vrfyUnverifiable, "", lastErr
}

func (p *mailtoProber) verifyAt(ctx context.Context, host, addr string) (vrfyResult, string, error) {
	hostPort := net.JoinHostPort(host, strconv.Itoa(p.port))
	dialer := &connpool.Dialer{Pool: p.pool, Forward: p.proxies.dialer(host, p.timeout)}
	conn, err := dialer.DialContext(ctx, connpool.NewKey("smtp", hostPort), "tcp", hostPort)
	if err != nil {
		return vrfyUnverifiable, "", err
	}
	defer conn.Close()
	if deadline, set := ctx.Deadline(); set {
		_ = conn.SetDeadline(deadline)
	}

	client, err := smtp.NewClient(conn, host)
	if err != nil {
		return vrfyUnverifiable, "", fmt.Errorf("smtp greeting from %s: %w", host, err)
	}
	defer func() { _ = client.Quit() }()
	if err := client.Hello(p.helo); err != nil {
		return vrfyUnverifiable, "", fmt.Errorf("smtp hello to %s: %w", host, err)
	}

	err = client.Verify(addr)
	if err == nil {
		return vrfyOK, "250", nil
	}
	var tpErr *textproto.Error
	if !errors.As(err, &tpErr) {
		return vrfyUnverifiable, "", fmt.Errorf("smtp vrfy at %s: %w", host, err)
	}
	detail := tpErr.Error()
	switch {
	case tpErr.Code == 251:
		return vrfyOK, detail, nil
	case tpErr.Code == 550 || tpErr.Code == 551 || tpErr.Code == 553:
		return vrfyRejected, detail, nil
	default:
		// 252, 500, 502 and friends: the server will not tell.
		return vrfyUnverifiable, detail, nil
	}
}
