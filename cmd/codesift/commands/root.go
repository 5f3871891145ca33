// Package commands implements CLI command handlers for codesift.
package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"
	noopmetric "go.opentelemetry.io/otel/metric/noop"
	nooptrace "go.opentelemetry.io/otel/trace/noop"

	"github.com/Sumatoshi-tech/codesift/pkg/config"
	"github.com/Sumatoshi-tech/codesift/pkg/engine"
	"github.com/Sumatoshi-tech/codesift/pkg/observability"
	"github.com/Sumatoshi-tech/codesift/pkg/version"
)

// ObservabilityInit creates the telemetry providers for a command run.
type ObservabilityInit func(observability.Config) (observability.Providers, error)

// ExitError carries a process exit code out of a command. Err, when set, is
// printed to stderr.
type ExitError struct {
	Err  error
	Code int
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("exit code %d", e.Code)
	}

	return e.Err.Error()
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

func fatal(err error) *ExitError {
	return &ExitError{Code: engine.ExitFatal, Err: err}
}

// globalFlags are the persistent flags shared by every command.
type globalFlags struct {
	configPath string
	verbose    bool
	quiet      bool
}

// NewRootCommand builds the codesift command tree.
func NewRootCommand(obsInit ObservabilityInit) *cobra.Command {
	if obsInit == nil {
		obsInit = observability.Init
	}

	flags := &globalFlags{}

	root := &cobra.Command{
		Use:   "codesift",
		Short: "Pattern-based static analysis rule engine",
		Long: `codesift matches declarative rules against source code parsed into a
uniform syntax tree and reports findings with precise source locations.

Commands:
  scan      Scan files or directories with a rule set
  test      Check rules against annotated fixture files
  validate  Load, schema-check and compile rule files
  parse     Print the syntax tree of a file or pattern
  mcp       Serve scan and parse tools over the Model Context Protocol`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&flags.configPath, "config", "", "config file (default is ./.codesift.yaml or $HOME/.codesift.yaml)")
	root.PersistentFlags().BoolVarP(&flags.verbose, "verbose", "v", false, "verbose output")
	root.PersistentFlags().BoolVarP(&flags.quiet, "quiet", "q", false, "suppress the summary and informational logs")

	root.AddCommand(newScanCommand(flags, obsInit))
	root.AddCommand(newTestCommand(flags, obsInit))
	root.AddCommand(newValidateCommand(flags))
	root.AddCommand(newParseCommand())
	root.AddCommand(newMCPCommand(flags, obsInit))
	root.AddCommand(newVersionCommand())

	return root
}

// Execute runs the CLI with args and returns the process exit code.
func Execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	return execute(ctx, NewRootCommand(observability.Init), args, stdout, stderr)
}

func execute(ctx context.Context, root *cobra.Command, args []string, stdout, stderr io.Writer) int {
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.ExecuteContext(ctx)
	if err == nil {
		return engine.ExitClean
	}

	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		if exitErr.Err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", exitErr.Err)
		}

		return exitErr.Code
	}

	fmt.Fprintf(stderr, "Error: %v\n", err)

	return engine.ExitFatal
}

// loadConfig reads the configuration named by --config, or the default
// search path.
func (flags *globalFlags) loadConfig() (*config.Config, error) {
	cfg, err := config.LoadConfig(flags.configPath)
	if err != nil {
		return nil, fatal(err)
	}

	return cfg, nil
}

// startObservability initializes telemetry for a CLI run and returns the
// providers with a usable logger.
func (flags *globalFlags) startObservability(cfg *config.Config, obsInit ObservabilityInit) (observability.Providers, error) {
	obsCfg := cfg.Observability(observability.ModeCLI, version.Version)

	switch {
	case flags.verbose:
		obsCfg.LogLevel = slog.LevelDebug
	case flags.quiet:
		obsCfg.LogLevel = slog.LevelError
	}

	providers, err := obsInit(obsCfg)
	if err != nil {
		return observability.Providers{}, fatal(fmt.Errorf("init observability: %w", err))
	}

	if providers.Logger == nil {
		providers.Logger = slog.Default()
	}

	if providers.Tracer == nil {
		providers.Tracer = nooptrace.NewTracerProvider().Tracer("codesift")
	}

	if providers.Meter == nil {
		providers.Meter = noopmetric.NewMeterProvider().Meter("codesift")
	}

	if providers.Shutdown == nil {
		providers.Shutdown = func(context.Context) error { return nil }
	}

	return providers, nil
}

func shutdown(ctx context.Context, providers observability.Providers) {
	err := providers.Shutdown(context.WithoutCancel(ctx))
	if err != nil {
		providers.Logger.Warn("observability shutdown failed", "error", err)
	}
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version.String())
		},
	}
}
