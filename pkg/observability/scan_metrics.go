package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	metricFilesTotal       = "codesift.scan.files.total"
	metricFileDuration     = "codesift.scan.file.duration.seconds"
	metricFindingsTotal    = "codesift.scan.findings.total"
	metricDiagnosticsTotal = "codesift.scan.diagnostics.total"

	attrLanguage = "language"
	attrRule     = "rule"
	attrSeverity = "severity"
	attrKind     = "kind"
	attrLevel    = "level"
)

// File outcomes recorded by RecordFile.
const (
	FileScanned   = "scanned"
	FileSkipped   = "skipped"
	FileFailed    = "failed"
	FileCancelled = "cancelled"
)

// ScanMetrics holds instruments for per-file scanning.
type ScanMetrics struct {
	filesTotal   metric.Int64Counter
	fileDuration metric.Float64Histogram
	findings     metric.Int64Counter
	diagnostics  metric.Int64Counter
}

// NewScanMetrics creates scan instruments from mt.
func NewScanMetrics(mt metric.Meter) (*ScanMetrics, error) {
	files, err := mt.Int64Counter(metricFilesTotal,
		metric.WithDescription("Files processed by outcome"),
		metric.WithUnit("{file}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricFilesTotal, err)
	}

	fileDuration, err := mt.Float64Histogram(metricFileDuration,
		metric.WithDescription("Per-file read, parse and evaluation time in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(durationBuckets...),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricFileDuration, err)
	}

	findings, err := mt.Int64Counter(metricFindingsTotal,
		metric.WithDescription("Findings reported by rule and severity"),
		metric.WithUnit("{finding}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricFindingsTotal, err)
	}

	diagnostics, err := mt.Int64Counter(metricDiagnosticsTotal,
		metric.WithDescription("Diagnostics by kind and level"),
		metric.WithUnit("{diagnostic}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricDiagnosticsTotal, err)
	}

	return &ScanMetrics{
		filesTotal:   files,
		fileDuration: fileDuration,
		findings:     findings,
		diagnostics:  diagnostics,
	}, nil
}

// RecordFile records one file outcome. Safe on a nil receiver.
func (sm *ScanMetrics) RecordFile(ctx context.Context, language, status string, duration time.Duration) {
	if sm == nil {
		return
	}

	attrs := metric.WithAttributes(
		attribute.String(attrLanguage, language),
		attribute.String(attrStatus, status),
	)

	sm.filesTotal.Add(ctx, 1, attrs)

	if status == FileScanned {
		sm.fileDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attribute.String(attrLanguage, language)))
	}
}

// RecordFinding counts one finding. Safe on a nil receiver.
func (sm *ScanMetrics) RecordFinding(ctx context.Context, ruleID, severity string) {
	if sm == nil {
		return
	}

	sm.findings.Add(ctx, 1, metric.WithAttributes(
		attribute.String(attrRule, ruleID),
		attribute.String(attrSeverity, severity),
	))
}

// RecordDiagnostic counts one diagnostic. Safe on a nil receiver.
func (sm *ScanMetrics) RecordDiagnostic(ctx context.Context, kind, level string) {
	if sm == nil {
		return
	}

	sm.diagnostics.Add(ctx, 1, metric.WithAttributes(
		attribute.String(attrKind, kind),
		attribute.String(attrLevel, level),
	))
}
