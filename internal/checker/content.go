package checker

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/brotli"
	"github.com/antchfx/xmlquery"
	"golang.org/x/net/html"
	"golang.org/x/net/html/charset"
)

// acceptEncoding is sent on every HTTP request; decodeBody undoes it.
const acceptEncoding = "gzip, deflate, br"

// readBody reads at most limit decoded bytes. truncated reports whether the
// body was cut short.
func readBody(body io.Reader, contentEncoding, contentType string, limit int64) (data []byte, truncated bool, err error) {
	decoded, err := decodeBody(body, contentEncoding)
	if err != nil {
		return nil, false, err
	}
	raw, err := io.ReadAll(io.LimitReader(decoded, limit+1))
	if err != nil {
		return nil, false, fmt.Errorf("read body: %w", err)
	}
	if int64(len(raw)) > limit {
		raw = raw[:limit]
		truncated = true
	}
	if !isMarkup(contentType) {
		return raw, truncated, nil
	}
	utf8Reader, err := charset.NewReader(bytes.NewReader(raw), contentType)
	if err != nil {
		return raw, truncated, nil
	}
	converted, err := io.ReadAll(utf8Reader)
	if err != nil {
		return raw, truncated, nil
	}
	return converted, truncated, nil
}

func decodeBody(body io.Reader, contentEncoding string) (io.Reader, error) {
	switch strings.ToLower(strings.TrimSpace(contentEncoding)) {
	case "", "identity":
		return body, nil
	case "gzip", "x-gzip":
		zr, err := gzip.NewReader(body)
		if err != nil {
			return nil, fmt.Errorf("gzip body: %w", err)
		}
		return zr, nil
	case "deflate":
		return flate.NewReader(body), nil
	case "br":
		return brotli.NewReader(body), nil
	default:
		return nil, fmt.Errorf("unsupported content encoding %q", contentEncoding)
	}
}

func mediaType(contentType string) string {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(strings.Split(contentType, ";")[0]))
	}
	return mt
}

func isHTML(contentType string) bool {
	mt := mediaType(contentType)
	return mt == "text/html" || mt == "application/xhtml+xml"
}

func isXML(contentType string) bool {
	mt := mediaType(contentType)
	return mt == "application/xml" || mt == "text/xml" || strings.HasSuffix(mt, "+xml")
}

func isMarkup(contentType string) bool {
	return isHTML(contentType) || isXML(contentType) || strings.HasPrefix(mediaType(contentType), "text/")
}

// sniffType replaces an uninformative content type by one derived from the
// body.
func sniffType(contentType string, body []byte) string {
	if mt := mediaType(contentType); mt != "" && mt != "application/octet-stream" {
		return contentType
	}
	if len(body) == 0 {
		return contentType
	}
	return http.DetectContentType(body)
}

// linkAttrs are the (tag, attribute) pairs that carry references.
var linkAttrs = map[string]string{
	"a":      "href",
	"area":   "href",
	"img":    "src",
	"form":   "action",
	"frame":  "src",
	"iframe": "src",
	"link":   "href",
}

// Extraction is the result of scanning one HTML document.
type Extraction struct {
	Links    []Link
	Warnings []Warning
}

// ExtractLinks scans HTML for references, recording the 1-based line and
// column of the tag that carries each one. Only the first <base href>
// takes effect, and only for the references after it.
func ExtractLinks(content []byte) Extraction {
	var out Extraction
	z := html.NewTokenizer(bytes.NewReader(content))
	line, col := 1, 1
	base := ""
	baseSeen := false

	for {
		tt := z.Next()
		if tt == html.ErrorToken {
			return out
		}
		raw := z.Raw()
		tagLine, tagCol := line, col
		line, col = advance(line, col, raw)

		if tt != html.StartTagToken && tt != html.SelfClosingTagToken {
			continue
		}
		name, hasAttr := z.TagName()
		if !hasAttr {
			continue
		}
		attrs := readAttrs(z)
		tag := string(name)

		switch tag {
		case "base":
			href, ok := attrs["href"]
			if !ok {
				continue
			}
			if baseSeen {
				out.Warnings = append(out.Warnings, Warning{
					Tag:     TagBaseTag,
					Message: fmt.Sprintf("ignoring additional <base> tag at line %d, column %d", tagLine, tagCol),
				})
				continue
			}
			baseSeen = true
			base = strings.TrimSpace(href)
		case "meta":
			if !strings.EqualFold(strings.TrimSpace(attrs["http-equiv"]), "refresh") {
				continue
			}
			if target := refreshURL(attrs["content"]); target != "" {
				out.Links = append(out.Links, Link{URL: target, Line: tagLine, Column: tagCol, Base: base, Tag: tag})
			}
		default:
			attr, ok := linkAttrs[tag]
			if !ok {
				continue
			}
			value := cleanRef(attrs[attr])
			if value == "" {
				continue
			}
			out.Links = append(out.Links, Link{URL: value, Line: tagLine, Column: tagCol, Base: base, Tag: tag})
		}
	}
}

func readAttrs(z *html.Tokenizer) map[string]string {
	attrs := make(map[string]string)
	for {
		key, val, more := z.TagAttr()
		k := string(key)
		if _, dup := attrs[k]; !dup {
			attrs[k] = string(val)
		}
		if !more {
			return attrs
		}
	}
}

// advance moves the position past raw, counting columns in characters.
func advance(line, col int, raw []byte) (int, int) {
	for len(raw) > 0 {
		r, size := utf8.DecodeRune(raw)
		raw = raw[size:]
		if r == '\n' {
			line++
			col = 1
			continue
		}
		col++
	}
	return line, col
}

func cleanRef(v string) string {
	v = strings.TrimSpace(v)
	if len(v) >= 2 && (v[0] == '"' || v[0] == '\'') && v[len(v)-1] == v[0] {
		v = strings.TrimSpace(v[1 : len(v)-1])
	}
	return v
}

// refreshURL extracts the target of a meta refresh value such as
// "5; url='next.html'".
func refreshURL(content string) string {
	_, rest, ok := strings.Cut(content, ";")
	if !ok {
		return ""
	}
	rest = strings.TrimSpace(rest)
	if len(rest) < 4 || !strings.EqualFold(rest[:3], "url") {
		return ""
	}
	rest = strings.TrimSpace(rest[3:])
	if !strings.HasPrefix(rest, "=") {
		return ""
	}
	return cleanRef(rest[1:])
}

// CollectAnchors returns every id and a/name the document defines.
func CollectAnchors(content []byte) (map[string]struct{}, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(content))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	anchors := make(map[string]struct{})
	doc.Find("[id]").Each(func(_ int, s *goquery.Selection) {
		if id, ok := s.Attr("id"); ok && id != "" {
			anchors[id] = struct{}{}
		}
	})
	doc.Find("a[name], area[name]").Each(func(_ int, s *goquery.Selection) {
		if name, ok := s.Attr("name"); ok && name != "" {
			anchors[name] = struct{}{}
		}
	})
	return anchors, nil
}

// ExtractSitemapLocs returns the <loc> values of a sitemap or sitemap index.
func ExtractSitemapLocs(content []byte) ([]Link, error) {
	doc, err := xmlquery.Parse(bytes.NewReader(content))
	if err != nil {
		return nil, fmt.Errorf("parse sitemap: %w", err)
	}
	nodes, err := xmlquery.QueryAll(doc, "//*[local-name()='loc']")
	if err != nil {
		return nil, fmt.Errorf("query sitemap: %w", err)
	}
	links := make([]Link, 0, len(nodes))
	for _, n := range nodes {
		loc := strings.TrimSpace(n.InnerText())
		if loc == "" {
			continue
		}
		links = append(links, Link{URL: loc, Tag: "loc", Sitemap: isSitemapURL(loc)})
	}
	return links, nil
}

func isSitemapURL(u string) bool {
	path, _, _ := strings.Cut(u, "?")
	return strings.HasSuffix(strings.ToLower(path), ".xml")
}
