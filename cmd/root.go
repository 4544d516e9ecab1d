package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/JakeFAU/linkcheck/internal/app"
	"github.com/JakeFAU/linkcheck/internal/config"
	"github.com/JakeFAU/linkcheck/internal/engine"
	"github.com/JakeFAU/linkcheck/internal/logging"
	"github.com/JakeFAU/linkcheck/internal/results"
	pkgconfig "github.com/JakeFAU/linkcheck/pkg/config"
)

// Exit codes returned by Execute.
const (
	ExitOK     = 0
	ExitBroken = 1
	ExitFailed = 2
)

// ErrBrokenLinks is returned by "check" when the run found broken links.
var ErrBrokenLinks = errors.New("broken links found")

// envKeyType is the key for storing the command environment in the context.
type envKeyType string

const envKey envKeyType = "env"

// env is what every subcommand receives from the root command.
type env struct {
	cfg    config.Config
	logger *zap.Logger
}

// App defines the services "check" uses. This allows tests to inject a
// different factory.
type App interface {
	Emitter() engine.Emitter
	Broken() []results.Event
	Flush(ctx context.Context) error
	Close()
}

// newApp is the application factory. It's a variable so tests can replace it.
var newApp = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (App, error) {
	a, err := app.NewApp(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize application services: %w", err)
	}
	return a, nil
}

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "linkcheck",
		Short: "Check documents and web sites for broken links.",
		Long: `linkcheck follows links from one or more seed URLs across http, https,
ftp, file, mailto, news/nntp, and telnet, and reports every broken link
together with the page and position it was found on.`,
		SilenceUsage:  true,
		SilenceErrors: true,

		// Runs after flags are parsed and before the subcommand's RunE.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			used, err := pkgconfig.InitConfig(cfgFile)
			if err != nil {
				return err
			}
			cfg, err := config.FromViper(viper.GetViper())
			if err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
			if err != nil {
				return fmt.Errorf("failed to initialize logger: %w", err)
			}
			zap.ReplaceGlobals(logger)
			if used != "" {
				logger.Debug("Using config file", zap.String("path", used))
			}
			cmd.SetContext(context.WithValue(cmd.Context(), envKey, &env{cfg: cfg, logger: logger}))
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if e, ok := cmd.Context().Value(envKey).(*env); ok && e != nil {
				_ = e.logger.Sync()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"config file (default searches ./linkcheck.yaml, /etc/linkcheck/, and the XDG config dir)")
	cmd.PersistentFlags().Bool("dev", false, "development logging (console, debug level)")
	cmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")
	bindFlag(cmd.PersistentFlags().Lookup("dev"), "logging.development")
	bindFlag(cmd.PersistentFlags().Lookup("log-level"), "logging.level")

	cmd.AddCommand(newCheckCmd(), newRobotsCmd())
	return cmd
}

// resolveEnv retrieves the environment stored by the root command.
func resolveEnv(ctx context.Context) (*env, error) {
	e, ok := ctx.Value(envKey).(*env)
	if !ok || e == nil {
		return nil, errors.New("command environment not initialized")
	}
	return e, nil
}

// Execute is the main entry point. It exits the process.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// run executes the command line and maps the outcome to an exit code.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	root := newRootCmd()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	err := root.ExecuteContext(ctx)
	switch {
	case err == nil:
		return ExitOK
	case errors.Is(err, ErrBrokenLinks):
		return ExitBroken
	default:
		fmt.Fprintln(stderr, "Error:", err)
		return ExitFailed
	}
}
