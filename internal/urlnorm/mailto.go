package urlnorm

import (
	"fmt"
	"net/mail"
	"net/url"
	"sort"
	"strings"
)

// addressHeaders are the mailto query headers that carry more recipients.
var addressHeaders = map[string]struct{}{"to": {}, "cc": {}, "bcc": {}}

func normalizeMailto(raw, ref string) (Normalized, error) {
	rest := ref[len("mailto:"):]
	addrPart, query, _ := strings.Cut(rest, "?")

	candidates := []string{unescapeLenient(addrPart)}
	for _, pair := range strings.Split(query, "&") {
		key, value, ok := strings.Cut(pair, "=")
		if !ok {
			continue
		}
		if _, isAddr := addressHeaders[strings.ToLower(unescapeLenient(key))]; isAddr {
			candidates = append(candidates, unescapeLenient(value))
		}
	}

	seen := make(map[string]struct{})
	addrs := make([]string, 0, 2)
	for _, candidate := range candidates {
		parsed, err := splitAddresses(candidate)
		if err != nil {
			return Normalized{}, err
		}
		for _, addr := range parsed {
			if _, dup := seen[addr]; dup {
				continue
			}
			seen[addr] = struct{}{}
			addrs = append(addrs, addr)
		}
	}
	sort.Strings(addrs)

	key := strings.Join(addrs, ",")
	canonical := "mailto:" + key
	if query != "" {
		canonical += "?" + query
	}
	return Normalized{
		Raw:        raw,
		URL:        canonical,
		Scheme:     SchemeMailto,
		SchemeName: "mailto",
		CacheKey:   key,
		Addresses:  addrs,
	}, nil
}

// splitAddresses parses an RFC 5322 address list, falling back to a comma
// split for lists net/mail rejects (unquoted display names with dots, etc.).
func splitAddresses(list string) ([]string, error) {
	list = strings.TrimSpace(list)
	if list == "" {
		return nil, nil
	}
	var out []string
	if parsed, err := mail.ParseAddressList(list); err == nil {
		for _, a := range parsed {
			addr, err := canonicalAddress(a.Address)
			if err != nil {
				return nil, err
			}
			out = append(out, addr)
		}
		return out, nil
	}
	for _, part := range strings.Split(list, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if open := strings.LastIndex(part, "<"); open >= 0 {
			if end := strings.Index(part[open:], ">"); end > 0 {
				part = part[open+1 : open+end]
			}
		}
		addr, err := canonicalAddress(part)
		if err != nil {
			return nil, err
		}
		out = append(out, addr)
	}
	return out, nil
}

// canonicalAddress lower-cases the domain; local parts are case sensitive.
func canonicalAddress(addr string) (string, error) {
	addr = strings.TrimSpace(addr)
	at := strings.LastIndex(addr, "@")
	if at <= 0 || at == len(addr)-1 {
		return "", fmt.Errorf("%w: invalid mail address %q", ErrSyntax, addr)
	}
	local, domain := addr[:at], strings.ToLower(addr[at+1:])
	if strings.ContainsAny(domain, " <>,;") || strings.ContainsAny(local, " <>,;") {
		return "", fmt.Errorf("%w: invalid mail address %q", ErrSyntax, addr)
	}
	return local + "@" + domain, nil
}

func unescapeLenient(s string) string {
	if v, err := url.PathUnescape(s); err == nil {
		return v
	}
	return s
}
