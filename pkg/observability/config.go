// Package observability provides OpenTelemetry tracing, scan metrics and
// structured logging for the codesift CLI and MCP server.
package observability

import "log/slog"

// AppMode identifies the application execution mode.
type AppMode string

const (
	// ModeCLI is the CLI command execution mode.
	ModeCLI AppMode = "cli"
	// ModeMCP is the MCP stdio server mode.
	ModeMCP AppMode = "mcp"
)

const (
	defaultServiceName        = "codesift"
	defaultShutdownTimeoutSec = 5
)

// Config holds all observability configuration.
type Config struct {
	// OTLPHeaders are additional gRPC metadata headers for the OTLP exporter.
	OTLPHeaders map[string]string

	ServiceName    string
	ServiceVersion string
	Environment    string
	Mode           AppMode

	// OTLPEndpoint is the OTLP gRPC collector address (e.g. "localhost:4317").
	// Empty disables export.
	OTLPEndpoint string

	// MetricsFile receives the metrics in Prometheus text format on shutdown.
	// Empty disables the file.
	MetricsFile string

	// SampleRatio is the trace sampling ratio (0.0 to 1.0) when DebugTrace is
	// false. Zero samples every root span.
	SampleRatio float64

	LogLevel slog.Level

	ShutdownTimeoutSec int

	OTLPInsecure bool

	// DebugTrace forces 100% trace sampling.
	DebugTrace bool

	// TraceVerbose keeps per-file spans, which are dropped otherwise.
	TraceVerbose bool

	LogJSON bool
}

// DefaultConfig returns a Config for zero-config startup.
func DefaultConfig() Config {
	return Config{
		ServiceName:        defaultServiceName,
		Mode:               ModeCLI,
		LogLevel:           slog.LevelInfo,
		ShutdownTimeoutSec: defaultShutdownTimeoutSec,
	}
}
