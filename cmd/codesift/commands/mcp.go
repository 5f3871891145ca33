package commands

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/Sumatoshi-tech/codesift/pkg/mcp"
	"github.com/Sumatoshi-tech/codesift/pkg/observability"
	"github.com/Sumatoshi-tech/codesift/pkg/version"
)

func newMCPCommand(global *globalFlags, obsInit ObservabilityInit) *cobra.Command {
	var debug bool

	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Serve scan and parse tools over the Model Context Protocol",
		Long: `Start a Model Context Protocol (MCP) server on stdio transport.

The server exposes codesift as tools that AI agents can discover and invoke:
  - codesift_scan:  run an inline YAML rule document against a code snippet
  - codesift_parse: print the syntax tree of a code snippet or rule pattern

Logs go to stderr; stdout carries the protocol.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := global.loadConfig()
			if err != nil {
				return err
			}

			obsCfg := cfg.Observability(observability.ModeMCP, version.Version)
			if debug {
				obsCfg.LogLevel = slog.LevelDebug
			}

			providers, err := obsInit(obsCfg)
			if err != nil {
				return fatal(fmt.Errorf("init observability: %w", err))
			}

			if providers.Logger == nil {
				providers.Logger = slog.Default()
			}

			if providers.Shutdown != nil {
				defer shutdown(cmd.Context(), providers)
			}

			deps := mcp.ServerDeps{Logger: providers.Logger, Tracer: providers.Tracer, Version: version.Version}

			if providers.Meter != nil {
				red, redErr := observability.NewREDMetrics(providers.Meter)
				if redErr != nil {
					return fatal(fmt.Errorf("create metrics: %w", redErr))
				}

				deps.Metrics = red
			}

			srv := mcp.NewServer(deps)
			providers.Logger.InfoContext(cmd.Context(), "mcp server starting", "tools", srv.ListToolNames())

			return srv.Run(cmd.Context())
		},
	}

	cmd.Flags().BoolVar(&debug, "debug", false, "enable debug logging to stderr")

	return cmd
}
