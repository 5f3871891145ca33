// Package config loads codesift settings from .codesift.yaml, CODESIFT_*
// environment variables and defaults.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/Sumatoshi-tech/codesift/pkg/observability"
	"github.com/Sumatoshi-tech/codesift/pkg/report"
)

// Sentinel validation errors.
var (
	ErrInvalidJobs        = errors.New("scan jobs must not be negative")
	ErrInvalidFormat      = errors.New("invalid output format")
	ErrInvalidColor       = errors.New("output color must be auto, always or never")
	ErrInvalidLogLevel    = errors.New("invalid log level")
	ErrInvalidLogFormat   = errors.New("log format must be text or json")
	ErrInvalidSampleRatio = errors.New("telemetry sample ratio must be between 0 and 1")
	ErrInvalidMarker      = errors.New("suppression marker must not contain whitespace")
	ErrSelectAndExclude   = errors.New("rules.select and rules.exclude cannot be combined")
)

// Color modes.
const (
	ColorAuto   = "auto"
	ColorAlways = "always"
	ColorNever  = "never"
)

// Config is the top-level configuration. Field tags use mapstructure for
// viper unmarshalling.
type Config struct {
	Scan      ScanConfig      `mapstructure:"scan"`
	Rules     RulesConfig     `mapstructure:"rules"`
	Output    OutputConfig    `mapstructure:"output"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// ScanConfig holds target discovery and worker pool settings.
type ScanConfig struct {
	Exclude           []string `mapstructure:"exclude"`
	SuppressionMarker string   `mapstructure:"suppression_marker"`
	MaxTargetBytes    int64    `mapstructure:"max_target_bytes"`
	Jobs              int      `mapstructure:"jobs"`
}

// RulesConfig names the rule files and either the rules selected from them
// or the rules left out.
type RulesConfig struct {
	Paths   []string `mapstructure:"paths"`
	Select  []string `mapstructure:"select"`
	Exclude []string `mapstructure:"exclude"`
}

// OutputConfig holds reporter settings.
type OutputConfig struct {
	Format            string `mapstructure:"format"`
	File              string `mapstructure:"file"`
	Color             string `mapstructure:"color"`
	IncludeSuppressed bool   `mapstructure:"include_suppressed"`
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// TelemetryConfig holds OpenTelemetry and Prometheus export settings.
type TelemetryConfig struct {
	OTLPEndpoint    string  `mapstructure:"otlp_endpoint"`
	OTLPHeaders     string  `mapstructure:"otlp_headers"`
	Environment     string  `mapstructure:"environment"`
	MetricsFile     string  `mapstructure:"metrics_file"`
	SampleRatio     float64 `mapstructure:"sample_ratio"`
	ShutdownTimeout int     `mapstructure:"shutdown_timeout"`
	OTLPInsecure    bool    `mapstructure:"otlp_insecure"`
	DebugTrace      bool    `mapstructure:"debug_trace"`
	TraceVerbose    bool    `mapstructure:"trace_verbose"`
}

// Validate checks Config invariants and returns the first error found.
func (c *Config) Validate() error {
	if c.Scan.Jobs < 0 {
		return fmt.Errorf("%w: %d", ErrInvalidJobs, c.Scan.Jobs)
	}

	if strings.ContainsFunc(c.Scan.SuppressionMarker, isSpace) {
		return fmt.Errorf("%w: %q", ErrInvalidMarker, c.Scan.SuppressionMarker)
	}

	if len(c.Rules.Select) > 0 && len(c.Rules.Exclude) > 0 {
		return ErrSelectAndExclude
	}

	if _, err := report.ParseFormat(c.Output.Format); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidFormat, err)
	}

	if !slices.Contains([]string{ColorAuto, ColorAlways, ColorNever}, strings.ToLower(c.Output.Color)) {
		return fmt.Errorf("%w: %q", ErrInvalidColor, c.Output.Color)
	}

	if _, err := c.LogLevel(); err != nil {
		return err
	}

	if format := strings.ToLower(c.Logging.Format); format != "text" && format != "json" {
		return fmt.Errorf("%w: %q", ErrInvalidLogFormat, c.Logging.Format)
	}

	if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1 {
		return fmt.Errorf("%w: %v", ErrInvalidSampleRatio, c.Telemetry.SampleRatio)
	}

	return nil
}

func isSpace(r rune) bool {
	return r == ' ' || r == '\t' || r == '\n' || r == '\r'
}

// LogLevel parses the configured log level.
func (c *Config) LogLevel() (slog.Level, error) {
	var level slog.Level

	if err := level.UnmarshalText([]byte(c.Logging.Level)); err != nil {
		return slog.LevelInfo, fmt.Errorf("%w: %q", ErrInvalidLogLevel, c.Logging.Level)
	}

	return level, nil
}

// Observability builds the telemetry configuration for the given mode.
func (c *Config) Observability(mode observability.AppMode, version string) observability.Config {
	obs := observability.DefaultConfig()

	obs.Mode = mode
	obs.ServiceVersion = version
	obs.Environment = c.Telemetry.Environment
	obs.OTLPEndpoint = c.Telemetry.OTLPEndpoint
	obs.OTLPHeaders = observability.ParseOTLPHeaders(c.Telemetry.OTLPHeaders)
	obs.OTLPInsecure = c.Telemetry.OTLPInsecure
	obs.MetricsFile = c.Telemetry.MetricsFile
	obs.SampleRatio = c.Telemetry.SampleRatio
	obs.DebugTrace = c.Telemetry.DebugTrace
	obs.TraceVerbose = c.Telemetry.TraceVerbose
	obs.LogJSON = strings.EqualFold(c.Logging.Format, "json")

	if c.Telemetry.ShutdownTimeout > 0 {
		obs.ShutdownTimeoutSec = c.Telemetry.ShutdownTimeout
	}

	if level, err := c.LogLevel(); err == nil {
		obs.LogLevel = level
	}

	return obs
}
