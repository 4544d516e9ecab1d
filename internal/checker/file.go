package checker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"
)

type fileProber struct {
	maxContent int64
}

// Probe checks that the local path exists and is readable. Directories list
// their entries as links; HTML files are read for parsing.
func (p *fileProber) Probe(_ context.Context, req ProbeRequest) Outcome {
	u := req.Target.Parsed
	if u.Host != "" && !strings.EqualFold(u.Host, "localhost") {
		return failure(KindConnection, "remote file host %q is not supported", u.Host)
	}
	local := filepath.FromSlash(u.Path)

	info, err := os.Stat(local)
	if err != nil {
		return fileError(err)
	}
	if info.IsDir() {
		return p.directory(local, u)
	}

	f, err := os.Open(local)
	if err != nil {
		return fileError(err)
	}
	defer f.Close()

	out := ok("file OK")
	out.Size = info.Size()
	out.ContentType = fileContentType(local)
	out.RealURL = withoutFragment(u).String()
	if !req.WantContent || !isHTML(out.ContentType) {
		return out
	}
	start := time.Now()
	data, err := io.ReadAll(io.LimitReader(f, p.maxContent+1))
	out.DownloadTime = time.Since(start)
	if err != nil {
		return failure(KindConnection, "read %s: %v", local, err)
	}
	if int64(len(data)) > p.maxContent {
		data = data[:p.maxContent]
		out = out.withWarning(TagContentTooLarge, fmt.Sprintf("content truncated at %d bytes", p.maxContent))
	}
	out.Content = data
	return out
}

func (p *fileProber) directory(local string, u *url.URL) Outcome {
	entries, err := os.ReadDir(local)
	if err != nil {
		return fileError(err)
	}
	dirURL := withoutFragment(u)
	dirURL.RawQuery = ""
	if !strings.HasSuffix(dirURL.Path, "/") {
		dirURL.Path += "/"
		dirURL.RawPath = ""
	}

	out := ok("directory OK")
	out.ContentType = "text/directory"
	out.RealURL = dirURL.String()
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() {
			name += "/"
		}
		ref := (&url.URL{Path: name}).EscapedPath()
		if strings.Contains(path.Base(name), ":") {
			ref = "./" + ref
		}
		out.Links = append(out.Links, Link{URL: ref, Tag: "dir"})
	}
	return out
}

func fileError(err error) Outcome {
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return failure(KindConnection, "file not found: %v", err)
	case errors.Is(err, fs.ErrPermission):
		return failure(KindConnection, "file not readable: %v", err)
	default:
		return failure(KindConnection, "%v", err)
	}
}

func fileContentType(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".html", ".htm", ".shtml":
		return "text/html"
	case ".xhtml":
		return "application/xhtml+xml"
	case ".xml":
		return "application/xml"
	case ".txt":
		return "text/plain"
	case ".css":
		return "text/css"
	default:
		return "application/octet-stream"
	}
}
