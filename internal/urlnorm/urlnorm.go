// Package urlnorm resolves discovered references into absolute, canonical
// URLs and computes the scheme-specific cache key used to deduplicate checks.
package urlnorm

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"

	"golang.org/x/net/idna"
)

// ErrSyntax reports a reference that cannot be parsed into a scheme plus an
// authority or path.
var ErrSyntax = errors.New("url syntax error")

// Scheme is the tagged variant used to dispatch protocol checks.
type Scheme string

// Supported schemes.
const (
	SchemeHTTP       Scheme = "http"
	SchemeHTTPS      Scheme = "https"
	SchemeFTP        Scheme = "ftp"
	SchemeFile       Scheme = "file"
	SchemeMailto     Scheme = "mailto"
	SchemeNNTP       Scheme = "nntp"
	SchemeTelnet     Scheme = "telnet"
	SchemeJavaScript Scheme = "javascript"
	SchemeUnknown    Scheme = "unknown"
)

var defaultPorts = map[string]string{
	"http":   "80",
	"https":  "443",
	"ftp":    "21",
	"nntp":   "119",
	"news":   "119",
	"telnet": "23",
}

// SchemeOf maps a raw scheme name onto a Scheme variant.
func SchemeOf(name string) Scheme {
	switch strings.ToLower(name) {
	case "http":
		return SchemeHTTP
	case "https":
		return SchemeHTTPS
	case "ftp":
		return SchemeFTP
	case "file":
		return SchemeFile
	case "mailto":
		return SchemeMailto
	case "nntp", "news", "snews":
		return SchemeNNTP
	case "telnet":
		return SchemeTelnet
	case "javascript":
		return SchemeJavaScript
	default:
		return SchemeUnknown
	}
}

// Normalized is the result of resolving one reference.
type Normalized struct {
	// Raw is the reference as discovered.
	Raw string
	// URL is the absolute canonical form. It keeps the fragment.
	URL string
	// Scheme is the dispatch variant; SchemeName keeps the literal scheme.
	Scheme     Scheme
	SchemeName string
	// CacheKey identifies the check target; fragments never take part in it.
	CacheKey string
	Fragment string
	// Host is lower-cased and without port; Port is explicit or the scheme default.
	Host string
	Port string
	// Parsed is nil for mailto references.
	Parsed *url.URL
	// Addresses holds the sorted, de-duplicated mailto targets.
	Addresses []string
	// Group is the newsgroup of an nntp/news reference.
	Group string
}

// Normalize resolves raw against base (when set) or parent, canonicalizes it
// and computes its cache key. A relative base is itself resolved against
// parent first.
func Normalize(raw, parent, base string) (Normalized, error) {
	ref := strings.TrimSpace(raw)
	if ref == "" {
		return Normalized{}, fmt.Errorf("%w: empty reference", ErrSyntax)
	}
	if err := checkChars(ref); err != nil {
		return Normalized{}, err
	}
	if hasSchemePrefix(ref, "mailto") {
		return normalizeMailto(raw, ref)
	}

	parsed, err := url.Parse(ref)
	if err != nil {
		return Normalized{}, fmt.Errorf("%w: %v", ErrSyntax, err)
	}
	if parsed.Scheme == "" {
		anchor, err := resolutionBase(parent, base)
		if err != nil {
			return Normalized{}, err
		}
		parsed = anchor.ResolveReference(parsed)
	}
	if parsed.Scheme == "" {
		return Normalized{}, fmt.Errorf("%w: missing scheme in %q", ErrSyntax, ref)
	}
	parsed.Scheme = strings.ToLower(parsed.Scheme)

	n := Normalized{
		Raw:        raw,
		Scheme:     SchemeOf(parsed.Scheme),
		SchemeName: parsed.Scheme,
		Fragment:   parsed.Fragment,
	}
	switch n.Scheme {
	case SchemeHTTP, SchemeHTTPS, SchemeFTP:
		err = normalizeHierarchical(&n, parsed)
	case SchemeFile:
		err = normalizeFile(&n, parsed)
	case SchemeNNTP:
		err = normalizeNews(&n, parsed)
	case SchemeTelnet:
		err = normalizeTelnet(&n, parsed)
	case SchemeJavaScript:
		n.URL = ref
		n.CacheKey = ref
		n.Fragment = ""
	default:
		err = normalizeOther(&n, parsed)
	}
	if err != nil {
		return Normalized{}, err
	}
	if n.Parsed == nil && n.Scheme != SchemeJavaScript {
		n.Parsed = parsed
	}
	return n, nil
}

func resolutionBase(parent, base string) (*url.URL, error) {
	var anchor *url.URL
	if parent != "" {
		p, err := url.Parse(parent)
		if err != nil {
			return nil, fmt.Errorf("%w: parent %q: %v", ErrSyntax, parent, err)
		}
		anchor = p
	}
	if base != "" {
		b, err := url.Parse(strings.TrimSpace(base))
		if err != nil {
			return nil, fmt.Errorf("%w: base %q: %v", ErrSyntax, base, err)
		}
		if anchor != nil {
			b = anchor.ResolveReference(b)
		}
		anchor = b
	}
	if anchor == nil || anchor.Scheme == "" {
		return nil, fmt.Errorf("%w: relative reference without a base", ErrSyntax)
	}
	return anchor, nil
}

func normalizeHierarchical(n *Normalized, u *url.URL) error {
	host, port, err := splitHost(u, n.SchemeName)
	if err != nil {
		return err
	}
	if host == "" {
		return fmt.Errorf("%w: %s url without host", ErrSyntax, n.SchemeName)
	}
	n.Host, n.Port = host, port
	u.Host = joinHost(host, port, n.SchemeName)
	if err := cleanURLPath(u); err != nil {
		return err
	}
	if u.Path == "" {
		u.Path = "/"
		u.RawPath = ""
	}
	u.RawQuery = escapeQuery(u.RawQuery)
	n.Parsed = u
	public := StripPassword(u)
	n.URL = public.String()
	n.CacheKey = withoutFragment(public).String()
	return nil
}

func normalizeFile(n *Normalized, u *url.URL) error {
	host, _, err := splitHost(u, n.SchemeName)
	if err != nil {
		return err
	}
	if u.Opaque != "" {
		// file:relative/path has no usable absolute path.
		return fmt.Errorf("%w: file url without absolute path", ErrSyntax)
	}
	u.Host = host
	if err := cleanURLPath(u); err != nil {
		return err
	}
	if u.Path == "" {
		u.Path = "/"
		u.RawPath = ""
	}
	u.RawQuery = escapeQuery(u.RawQuery)
	n.Host = host
	n.Parsed = u
	n.URL = StripPassword(u).String()
	key := *StripPassword(u)
	key.RawQuery = ""
	key.ForceQuery = false
	key.Fragment = ""
	key.RawFragment = ""
	n.CacheKey = key.String()
	return nil
}

func normalizeNews(n *Normalized, u *url.URL) error {
	group := u.Opaque
	if group == "" {
		group = strings.Trim(u.Path, "/")
	}
	host, port, err := splitHost(u, n.SchemeName)
	if err != nil {
		return err
	}
	if host == "" && group == "" {
		return fmt.Errorf("%w: news url without group or host", ErrSyntax)
	}
	if host != "" {
		u.Host = joinHost(host, port, n.SchemeName)
		n.Host, n.Port = host, port
	}
	n.Group = group
	n.Parsed = u
	n.URL = StripPassword(u).String()
	key := n.Host
	if key != "" && port != defaultPorts[n.SchemeName] {
		key = net.JoinHostPort(key, port)
	}
	n.CacheKey = key + "/" + group
	return nil
}

func normalizeTelnet(n *Normalized, u *url.URL) error {
	host, port, err := splitHost(u, n.SchemeName)
	if err != nil {
		return err
	}
	if host == "" {
		return fmt.Errorf("%w: telnet url without host", ErrSyntax)
	}
	n.Host, n.Port = host, port
	u.Host = joinHost(host, port, n.SchemeName)
	n.Parsed = u
	n.URL = StripPassword(u).String()
	n.CacheKey = net.JoinHostPort(host, port)
	return nil
}

func normalizeOther(n *Normalized, u *url.URL) error {
	if u.Host != "" {
		host, port, err := splitHost(u, n.SchemeName)
		if err != nil {
			return err
		}
		n.Host, n.Port = host, port
		u.Host = joinHost(host, port, n.SchemeName)
	}
	n.Parsed = u
	public := StripPassword(u)
	n.URL = public.String()
	n.CacheKey = withoutFragment(public).String()
	return nil
}

// splitHost lower-cases and IDNA-encodes the host and fills in the default
// port for the scheme.
func splitHost(u *url.URL, scheme string) (string, string, error) {
	host := u.Hostname()
	port := u.Port()
	if host != "" && !isASCII(host) {
		ascii, err := idna.Lookup.ToASCII(host)
		if err != nil {
			return "", "", fmt.Errorf("%w: host %q: %v", ErrSyntax, host, err)
		}
		host = ascii
	}
	host = strings.ToLower(host)
	if port == "" {
		port = defaultPorts[scheme]
	}
	return host, port, nil
}

func joinHost(host, port, scheme string) string {
	if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}
	if port == "" || port == defaultPorts[scheme] {
		return host
	}
	return host + ":" + port
}

// StripPassword returns a copy of u without the password. The user name
// stays, since it selects what the server shows.
func StripPassword(u *url.URL) *url.URL {
	c := *u
	if c.User != nil {
		if _, set := c.User.Password(); set {
			c.User = url.User(c.User.Username())
		}
	}
	return &c
}

// escapeQuery percent-encodes bytes a query may not carry literally.
// Existing escapes are kept, so the result is stable under repetition.
func escapeQuery(q string) string {
	var b strings.Builder
	for i := 0; i < len(q); i++ {
		c := q[i]
		switch {
		case c == '%' && i+2 < len(q) && isHex(q[i+1]) && isHex(q[i+2]):
			b.WriteByte(c)
		case c != '%' && queryByteAllowed(c):
			b.WriteByte(c)
		default:
			fmt.Fprintf(&b, "%%%02X", c)
		}
	}
	return b.String()
}

func queryByteAllowed(c byte) bool {
	switch {
	case 'a' <= c && c <= 'z', 'A' <= c && c <= 'Z', '0' <= c && c <= '9':
		return true
	}
	return strings.IndexByte("-._~!$&'()*+,;=:@/?", c) >= 0
}

func isHex(c byte) bool {
	return ('0' <= c && c <= '9') || ('a' <= c && c <= 'f') || ('A' <= c && c <= 'F')
}

func withoutFragment(u *url.URL) *url.URL {
	c := *u
	c.Fragment = ""
	c.RawFragment = ""
	return &c
}

// cleanURLPath collapses ".", ".." and repeated slashes on the escaped path
// so percent-encoded separators survive.
func cleanURLPath(u *url.URL) error {
	if u.Opaque != "" {
		return nil
	}
	escaped := u.EscapedPath()
	if escaped == "" {
		return nil
	}
	cleaned := CleanPath(escaped)
	decoded, err := url.PathUnescape(cleaned)
	if err != nil {
		return fmt.Errorf("%w: path %q: %v", ErrSyntax, escaped, err)
	}
	u.Path = decoded
	u.RawPath = cleaned
	return nil
}

// CleanPath removes dot segments and empty segments from an absolute path and
// keeps a trailing slash.
func CleanPath(p string) string {
	if p == "" {
		return ""
	}
	trailing := strings.HasSuffix(p, "/") || strings.HasSuffix(p, "/.") || strings.HasSuffix(p, "/..")
	parts := strings.Split(p, "/")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		switch part {
		case "", ".":
		case "..":
			if len(out) > 0 {
				out = out[:len(out)-1]
			}
		default:
			out = append(out, part)
		}
	}
	cleaned := "/" + strings.Join(out, "/")
	if trailing && cleaned != "/" {
		cleaned += "/"
	}
	return cleaned
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= 0x80 {
			return false
		}
	}
	return true
}

func checkChars(ref string) error {
	for _, r := range ref {
		if r < 0x20 || r == 0x7f {
			return fmt.Errorf("%w: control character %U in %q", ErrSyntax, r, ref)
		}
	}
	return nil
}

func hasSchemePrefix(ref, scheme string) bool {
	return len(ref) > len(scheme) && strings.EqualFold(ref[:len(scheme)], scheme) && ref[len(scheme)] == ':'
}
