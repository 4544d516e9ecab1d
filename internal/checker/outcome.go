package checker

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"time"
)

// Kind classifies the outcome of a check.
type Kind int

// Outcome kinds. KindOK and KindPolicy are valid results; the rest are
// errors local to one record.
const (
	KindOK Kind = iota
	KindPolicy
	KindSyntax
	KindConnection
	KindProtocol
	KindTimeout
)

func (k Kind) String() string {
	switch k {
	case KindOK:
		return "ok"
	case KindPolicy:
		return "policy"
	case KindSyntax:
		return "syntax"
	case KindConnection:
		return "connection"
	case KindProtocol:
		return "protocol"
	case KindTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// Valid reports whether the kind counts as a valid link.
func (k Kind) Valid() bool { return k == KindOK || k == KindPolicy }

// Link is a reference found in fetched content.
type Link struct {
	URL    string
	Line   int
	Column int
	// Base is the <base href> in effect at the reference, if any.
	Base string
	Tag  string
	// Sitemap marks references read from a sitemap document.
	Sitemap bool
}

// Outcome is what a Prober reports for one URL.
type Outcome struct {
	Kind     Kind
	Message  string
	Warnings []Warning
	Infos    []string
	// RealURL is the final location after redirects.
	RealURL     string
	ContentType string
	// Content is the decoded body when it was fetched for parsing.
	Content      []byte
	Size         int64
	DownloadTime time.Duration
	// Links are references the probe discovered without parsing, such as
	// directory entries.
	Links []Link
}

func ok(message string) Outcome {
	return Outcome{Kind: KindOK, Message: message}
}

func failure(kind Kind, format string, args ...any) Outcome {
	return Outcome{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func (o Outcome) withWarning(tag, message string) Outcome {
	o.Warnings = append(o.Warnings, Warning{Tag: tag, Message: message})
	return o
}

// classifyError maps a transport error onto an outcome. Timeouts get their
// own kind and message.
func classifyError(ctx context.Context, err error) Outcome {
	var netErr net.Error
	switch {
	case errors.Is(err, context.Canceled) || (ctx.Err() != nil && errors.Is(ctx.Err(), context.Canceled)):
		return failure(KindTimeout, "check canceled")
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, os.ErrDeadlineExceeded):
		return failure(KindTimeout, "timeout: %v", err)
	case errors.As(err, &netErr) && netErr.Timeout():
		return failure(KindTimeout, "timeout: %v", err)
	default:
		return failure(KindConnection, "%v", err)
	}
}
