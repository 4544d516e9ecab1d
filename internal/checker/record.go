// Package checker implements the per-URL check state machine: syntax
// validation, cache claiming, domain filtering, the protocol probes, content
// link extraction and anchor verification.
package checker

import (
	"time"

	"github.com/JakeFAU/linkcheck/internal/urlnorm"
)

// State is a step of the per-URL state machine.
type State int

// States in the order a record passes through them.
const (
	StateInit State = iota
	StateSyntaxChecked
	StateCacheHit
	StateCacheMiss
	StateFiltered
	StateConnecting
	StateConnected
	StateContentChecked
	StateRecursing
	StateDone
	StateError
)

var stateNames = [...]string{
	"init", "syntax_checked", "cache_hit", "cache_miss", "filtered",
	"connecting", "connected", "content_checked", "recursing", "done", "error",
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "unknown"
}

// Terminal reports whether no further transition can happen.
func (s State) Terminal() bool { return s == StateDone || s == StateError }

// Warning is a tagged, non-fatal finding on a record.
type Warning struct {
	Tag     string `json:"tag"`
	Message string `json:"message"`
}

// Warning tags.
const (
	TagExtern          = "extern"
	TagRobots          = "robots"
	TagRedirectScheme  = "redirect-scheme"
	TagAnchorNotFound  = "anchor-not-found"
	TagBaseTag         = "base-multiple"
	TagMailUnverified  = "mail-unverified"
	TagNoNNTPServer    = "nntp-no-server"
	TagIgnoredScheme   = "url-ignored"
	TagJavaScript      = "javascript"
	TagContentTooLarge = "content-too-large"
)

// Record is one checked or pending URL. It is written only by the worker
// that owns it; sinks receive copies made by Snapshot.
type Record struct {
	Raw      string
	Resolved string
	Scheme   urlnorm.Scheme
	// Parent is the resolved URL of the referring document; the record never
	// holds a pointer to its parent.
	Parent    string
	ParentKey string
	// Base is the <base href> in effect where the reference was found.
	Base   string
	Line   int
	Column int
	Depth  int

	CacheKey string
	Fragment string
	State    State
	Kind     Kind
	Valid    bool
	Message  string
	Warnings []Warning
	Infos    []string
	Cached   bool
	Extern   bool
	Strict   bool
	// Sitemap marks references taken from robots.txt or sitemap documents.
	Sitemap bool

	RealURL      string
	ContentType  string
	Size         int64
	DownloadTime time.Duration
	CheckTime    time.Duration
}

// NewSeed returns a depth-zero record for a seed reference.
func NewSeed(raw string) *Record {
	return &Record{Raw: raw}
}

// Snapshot returns a copy that shares no mutable state with r.
func (r *Record) Snapshot() Record {
	cp := *r
	cp.Warnings = append([]Warning(nil), r.Warnings...)
	cp.Infos = append([]string(nil), r.Infos...)
	return cp
}

// AddWarning appends a tagged warning.
func (r *Record) AddWarning(tag, message string) {
	r.Warnings = append(r.Warnings, Warning{Tag: tag, Message: message})
}

// Result is the cacheable part of a completed check. Records sharing a cache
// key copy it from the one record that performed the check.
type Result struct {
	Kind         Kind
	Valid        bool
	Message      string
	Warnings     []Warning
	Infos        []string
	Extern       bool
	Strict       bool
	RealURL      string
	ContentType  string
	Size         int64
	DownloadTime time.Duration
	CheckTime    time.Duration
	// HTML is set when the document was fetched and parsed as HTML; Anchors
	// then holds every id and name it defines.
	HTML    bool
	Anchors map[string]struct{}
}

func (r *Record) result(anchors map[string]struct{}, html bool) Result {
	return Result{
		Kind:         r.Kind,
		Valid:        r.Valid,
		Message:      r.Message,
		Warnings:     append([]Warning(nil), r.Warnings...),
		Infos:        append([]string(nil), r.Infos...),
		Extern:       r.Extern,
		Strict:       r.Strict,
		RealURL:      r.RealURL,
		ContentType:  r.ContentType,
		Size:         r.Size,
		DownloadTime: r.DownloadTime,
		CheckTime:    r.CheckTime,
		HTML:         html,
		Anchors:      anchors,
	}
}

func (r *Record) copyResult(res Result) {
	r.Kind = res.Kind
	r.Valid = res.Valid
	r.Message = res.Message
	r.Warnings = append([]Warning(nil), res.Warnings...)
	r.Infos = append([]string(nil), res.Infos...)
	r.Extern = res.Extern
	r.Strict = res.Strict
	r.RealURL = res.RealURL
	r.ContentType = res.ContentType
	r.Size = res.Size
	r.DownloadTime = res.DownloadTime
	r.CheckTime = res.CheckTime
	r.Cached = true
}
