package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/JakeFAU/linkcheck/internal/api"
	"github.com/JakeFAU/linkcheck/internal/engine"
	"github.com/JakeFAU/linkcheck/internal/results"
)

const flushTimeout = 30 * time.Second

// newCheckCmd creates the "check" subcommand.
func newCheckCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "check [seed...]",
		Short: "Check the seeds and every link reachable from them",
		Long: `Checks each seed URL and, recursively, the links found in intern
HTML, directory listings, sitemaps, and robots.txt files. Broken links are
logged as they are found and listed again when the run finishes.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, seeds []string) error {
			return runCheck(cmd, seeds, asJSON)
		},
	}

	f := cmd.Flags()
	f.BoolVar(&asJSON, "json", false, "print the summary as JSON")
	f.Int("workers", 0, "number of concurrent workers")
	f.Int("max-depth", 0, "recursion depth limit, -1 for unlimited")
	f.Int("max-urls", 0, "stop creating records after this many, 0 for unlimited")
	f.Duration("timeout", 0, "per-connection timeout")
	f.Bool("check-extern", true, "check extern links instead of only their syntax")
	f.StringSlice("intern", nil, "intern URL pattern (regex); repeatable")
	f.StringSlice("ignore", nil, "extern URL pattern (regex, ! negates, strict: prefix); repeatable")
	f.Bool("robots", true, "obey robots.txt")
	f.Bool("sitemaps", false, "follow Sitemap entries of robots.txt")
	f.Bool("anchors", true, "verify #fragment anchors")
	f.String("nntp-server", "", "news server for news: and nntp: links")
	f.StringSlice("sink", nil, "result sink (log, memory, postgres, sqlite); repeatable")
	f.String("listen", "", "serve /healthz, /metrics and /v1/status on this address")

	for flag, key := range map[string]string{
		"workers":      "checker.workers",
		"max-depth":    "checker.max_depth",
		"max-urls":     "checker.max_urls",
		"timeout":      "checker.timeout",
		"check-extern": "checker.check_extern",
		"intern":       "checker.intern_patterns",
		"ignore":       "checker.extern_patterns",
		"robots":       "checker.respect_robots",
		"sitemaps":     "checker.follow_sitemaps",
		"anchors":      "checker.anchors",
		"nntp-server":  "checker.nntp_server",
		"sink":         "output.sinks",
		"listen":       "server.listen",
	} {
		bindFlag(f.Lookup(flag), key)
	}
	return cmd
}

func runCheck(cmd *cobra.Command, seeds []string, asJSON bool) error {
	ctx := cmd.Context()
	e, err := resolveEnv(ctx)
	if err != nil {
		return err
	}
	logger := e.logger

	a, err := newApp(ctx, e.cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	eng := engine.New(e.cfg.EngineConfig(), engine.WithLogger(logger))

	stopServer := func() {}
	if addr := e.cfg.Server.Listen; addr != "" {
		srvCtx, cancel := context.WithCancel(ctx)
		done := make(chan struct{})
		srv := api.NewServer(eng, e.cfg.Server.APIKey, logger)
		go func() {
			defer close(done)
			if err := srv.Serve(srvCtx, addr, nil); err != nil {
				logger.Error("Status server failed", zap.Error(err))
			}
		}()
		stopServer = func() {
			cancel()
			<-done
		}
	}

	summary, runErr := eng.Run(ctx, seeds, a.Emitter())
	stopServer()

	flushCtx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()
	if err := a.Flush(flushCtx); err != nil {
		logger.Warn("Failed to flush results", zap.Error(err))
	}

	if err := printReport(cmd.OutOrStdout(), summary, a.Broken(), asJSON); err != nil {
		return err
	}
	if runErr != nil {
		return fmt.Errorf("check: %w", runErr)
	}
	if !summary.OK() {
		return ErrBrokenLinks
	}
	return nil
}

type brokenLink struct {
	URL     string `json:"url"`
	Parent  string `json:"parent,omitempty"`
	Line    int    `json:"line,omitempty"`
	Column  int    `json:"column,omitempty"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

type report struct {
	engine.Summary
	Broken []brokenLink `json:"broken"`
}

func printReport(w io.Writer, summary engine.Summary, broken []results.Event, asJSON bool) error {
	r := report{Summary: summary, Broken: make([]brokenLink, 0, len(broken))}
	for _, evt := range broken {
		rec := evt.Record
		r.Broken = append(r.Broken, brokenLink{
			URL:     rec.Resolved,
			Parent:  rec.Parent,
			Line:    rec.Line,
			Column:  rec.Column,
			Kind:    rec.Kind.String(),
			Message: rec.Message,
		})
	}
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(r); err != nil {
			return fmt.Errorf("write report: %w", err)
		}
		return nil
	}

	var err error
	printf := func(format string, args ...any) {
		if err == nil {
			_, err = fmt.Fprintf(w, format, args...)
		}
	}
	if len(r.Broken) > 0 {
		printf("Broken links:\n")
		for _, b := range r.Broken {
			url := b.URL
			if url == "" {
				url = "(empty)"
			}
			printf("  %s\n", url)
			if b.Parent != "" {
				printf("    in %s, line %d, column %d\n", b.Parent, b.Line, b.Column)
			}
			printf("    %s: %s\n", b.Kind, b.Message)
		}
	}
	printf("Run %s: %d checked, %d cached, %d errors, %d warnings, %d dropped in %s\n",
		summary.RunID, summary.Checked, summary.Cached, summary.Errors, summary.Warnings,
		summary.Dropped, summary.Elapsed.Round(time.Millisecond))
	if err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}

// bindFlag binds a flag to a Viper key so the flag wins only when set.
func bindFlag(flag *pflag.Flag, key string) {
	if err := viper.BindPFlag(key, flag); err != nil {
		panic(fmt.Sprintf("bind flag %s: %v", flag.Name, err))
	}
}
