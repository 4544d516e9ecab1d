package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"
)

func siteServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, `<html><body>
<a href="/ok.html">ok</a>
<a href="/missing.html">gone</a>
</body></html>`)
	})
	mux.HandleFunc("/ok.html", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, `<html><body><a href="/">home</a></body></html>`)
	})
	mux.HandleFunc("/robots.txt", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		fmt.Fprint(w, "User-agent: *\nDisallow: /private/\nCrawl-delay: 2\n")
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "linkcheck.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func execute(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	viper.Reset()
	t.Cleanup(viper.Reset)
	var stdout, stderr bytes.Buffer
	code := run(context.Background(), args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

const quietConfig = `
logging:
  level: error
checker:
  workers: 2
  timeout: 5s
  respect_robots: false
output:
  sinks: [memory]
`

// Not parallel: commands share the global Viper instance.
func TestCheckReportsBrokenLinks(t *testing.T) {
	srv := siteServer(t)
	cfg := writeConfig(t, quietConfig)

	code, out, errOut := execute(t, "check", "--config", cfg, srv.URL+"/")
	require.Equal(t, ExitBroken, code, errOut)
	require.Contains(t, out, "Broken links:")
	require.Contains(t, out, srv.URL+"/missing.html")
	require.Contains(t, out, "404 Not Found")
	require.Contains(t, out, "in "+srv.URL+"/, line 3")
	require.Contains(t, out, "1 errors")
}

func TestCheckJSONSummary(t *testing.T) {
	srv := siteServer(t)
	cfg := writeConfig(t, quietConfig)

	code, out, errOut := execute(t, "check", "--config", cfg, "--json", "--max-depth", "0", srv.URL+"/ok.html")
	require.Equal(t, ExitOK, code, errOut)

	var r struct {
		RunID   string            `json:"run_id"`
		Checked int               `json:"checked"`
		Errors  int               `json:"errors"`
		Broken  []json.RawMessage `json:"broken"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &r))
	require.NotEmpty(t, r.RunID)
	require.Equal(t, 1, r.Checked)
	require.Zero(t, r.Errors)
	require.Empty(t, r.Broken)
}

func TestCheckWritesSQLite(t *testing.T) {
	srv := siteServer(t)
	dbPath := filepath.Join(t.TempDir(), "out", "results.db")
	cfg := writeConfig(t, quietConfig+"  sqlite:\n    path: "+dbPath+"\n")

	code, _, errOut := execute(t, "check", "--config", cfg, "--sink", "sqlite", "--max-depth", "0", srv.URL+"/")
	require.Equal(t, ExitOK, code, errOut)
	_, err := os.Stat(dbPath)
	require.NoError(t, err)
}

func TestCheckRequiresSeeds(t *testing.T) {
	code, _, errOut := execute(t, "check")
	require.Equal(t, ExitFailed, code)
	require.Contains(t, errOut, "requires at least 1 arg")
}

func TestCheckRejectsInvalidConfig(t *testing.T) {
	cfg := writeConfig(t, "checker:\n  workers: 0\n")
	code, _, errOut := execute(t, "check", "--config", cfg, "http://example.test/")
	require.Equal(t, ExitFailed, code)
	require.Contains(t, errOut, "checker.workers")
}

func TestRobotsCommandPrintsPolicy(t *testing.T) {
	srv := siteServer(t)
	cfg := writeConfig(t, quietConfig)

	code, out, errOut := execute(t, "robots", "--config", cfg, srv.URL+"/private/page.html")
	require.Equal(t, ExitOK, code, errOut)
	require.Contains(t, out, "# "+srv.URL+"/robots.txt (parsed)")
	require.Contains(t, out, "Disallow: /private/")
	require.True(t, strings.Contains(out, "disallowed"), out)
	require.Contains(t, out, "crawl delay 2s")
}

func TestRobotsCommandRejectsHostlessURL(t *testing.T) {
	cfg := writeConfig(t, quietConfig)
	code, _, errOut := execute(t, "robots", "--config", cfg, "/just/a/path")
	require.Equal(t, ExitFailed, code)
	require.Contains(t, errOut, "no host")
}
