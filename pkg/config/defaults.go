package config

// Scan defaults.
const (
	DefaultScanJobs          = 0
	DefaultMaxTargetBytes    = 10_000_000
	DefaultSuppressionMarker = "nosift"
)

// Output defaults.
const (
	DefaultOutputFormat            = "text"
	DefaultOutputColor             = "auto"
	DefaultOutputIncludeSuppressed = false
)

// Logging defaults.
const (
	DefaultLogLevel  = "info"
	DefaultLogFormat = "text"
)

// Telemetry defaults.
const (
	DefaultTelemetrySampleRatio     = 0.0
	DefaultTelemetryShutdownTimeout = 5
)
