package cmd

import (
	"fmt"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/linkcheck/internal/robots"
)

// newRobotsCmd creates the "robots" subcommand.
func newRobotsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "robots <url>",
		Short: "Fetch and print the robots.txt policy governing a URL",
		Long: `Fetches robots.txt for the host of the given URL, prints the parsed
policy in normalized form, and reports whether the configured user agent may
fetch the URL.`,
		Args: cobra.ExactArgs(1),
		RunE: runRobots,
	}
}

func runRobots(cmd *cobra.Command, args []string) error {
	e, err := resolveEnv(cmd.Context())
	if err != nil {
		return err
	}
	target, err := robots.ParseTarget(args[0])
	if err != nil {
		return err
	}
	agent := e.cfg.Checker.UserAgent
	client := &http.Client{Timeout: e.cfg.Checker.Timeout}
	robotsURL := robots.URLFor(target)
	policy, outcome := robots.Fetch(cmd.Context(), client, robotsURL, agent, e.logger)

	verdict := "allowed"
	if !policy.CanFetch(agent, target.String()) {
		verdict = "disallowed"
	}
	w := cmd.OutOrStdout()
	if _, err := fmt.Fprintf(w, "# %s (%s)\n%s", robotsURL, outcome, policy.String()); err != nil {
		return fmt.Errorf("write policy: %w", err)
	}
	if _, err := fmt.Fprintf(w, "# %s: %s for %q", target.String(), verdict, agent); err != nil {
		return fmt.Errorf("write policy: %w", err)
	}
	if d := policy.CrawlDelay(agent); d > 0 {
		if _, err := fmt.Fprintf(w, ", crawl delay %s", d); err != nil {
			return fmt.Errorf("write policy: %w", err)
		}
	}
	if _, err := fmt.Fprintln(w); err != nil {
		return fmt.Errorf("write policy: %w", err)
	}
	return nil
}
