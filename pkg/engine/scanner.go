package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	nooptrace "go.opentelemetry.io/otel/trace/noop"

	"github.com/Sumatoshi-tech/codesift/pkg/diag"
	"github.com/Sumatoshi-tech/codesift/pkg/observability"
	"github.com/Sumatoshi-tech/codesift/pkg/rules"
	"github.com/Sumatoshi-tech/codesift/pkg/safeconv"
	"github.com/Sumatoshi-tech/codesift/pkg/uast"
)

// DefaultMaxTargetBytes is the largest file scanned by default.
const DefaultMaxTargetBytes int64 = 10_000_000

var errNilRuleSet = errors.New("engine: nil rule set")

// Options configure a Scanner.
type Options struct {
	// SuppressionMarker is the comment marker that silences findings. Empty
	// selects DefaultSuppressionMarker.
	SuppressionMarker string
	// Jobs is the number of files processed in parallel. Zero or less uses
	// runtime.NumCPU.
	Jobs int
	// MaxTargetBytes skips larger files. Zero selects DefaultMaxTargetBytes;
	// a negative value disables the limit.
	MaxTargetBytes int64
}

// ScannerOption customizes a Scanner.
type ScannerOption func(*Scanner)

// WithLogger sets the logger used for per-file events.
func WithLogger(logger *slog.Logger) ScannerOption {
	return func(s *Scanner) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics records per-file outcomes, findings and diagnostics.
func WithMetrics(metrics *observability.ScanMetrics) ScannerOption {
	return func(s *Scanner) { s.metrics = metrics }
}

// WithTracer sets the tracer for scan and per-file spans.
func WithTracer(tracer trace.Tracer) ScannerOption {
	return func(s *Scanner) {
		if tracer != nil {
			s.tracer = tracer
		}
	}
}

// WithParser shares a parser, and its per-language pools, across scanners.
func WithParser(parser *uast.Parser) ScannerOption {
	return func(s *Scanner) {
		if parser != nil {
			s.parser = parser
		}
	}
}

// Scanner evaluates a rule set over many files with a pool of workers. The
// rule set is shared read-only; each worker owns a file end to end.
type Scanner struct {
	set     *rules.Set
	parser  *uast.Parser
	logger  *slog.Logger
	metrics *observability.ScanMetrics
	tracer  trace.Tracer
	opts    Options
}

// NewScanner creates a Scanner for set.
func NewScanner(set *rules.Set, opts Options, options ...ScannerOption) *Scanner {
	if opts.SuppressionMarker == "" {
		opts.SuppressionMarker = DefaultSuppressionMarker
	}

	if opts.MaxTargetBytes == 0 {
		opts.MaxTargetBytes = DefaultMaxTargetBytes
	}

	scanner := &Scanner{
		set:    set,
		opts:   opts,
		parser: uast.NewParser(),
		logger: slog.Default(),
		tracer: nooptrace.NewTracerProvider().Tracer("codesift"),
	}

	for _, option := range options {
		option(scanner)
	}

	return scanner
}

// ScanPath discovers the targets under root and scans them. Discovery is
// limited to the languages the rule set targets unless opts names some.
func (s *Scanner) ScanPath(ctx context.Context, root string, opts TargetOptions) (*Result, error) {
	if s.set == nil {
		return nil, errNilRuleSet
	}

	if len(opts.Languages) == 0 {
		opts.Languages = s.set.Languages()
	}

	targets, walkDiags, err := CollectTargets(root, opts)
	if err != nil {
		return nil, err
	}

	result, err := s.Scan(ctx, targets)
	if result != nil && len(walkDiags) > 0 {
		for _, d := range walkDiags {
			s.metrics.RecordDiagnostic(ctx, string(d.Kind), string(d.Level))
		}

		result.Diagnostics = append(result.Diagnostics, walkDiags...)
		diag.Sort(result.Diagnostics)
	}

	return result, err
}

// outcome is what one worker produced for one target.
type outcome struct {
	fatal       error
	findings    []Finding
	diagnostics []diag.Diagnostic
	bytes       int64
	status      string
}

type indexedTarget struct {
	target Target
	index  int
}

// Scan processes targets and returns the sorted findings and diagnostics.
// When ctx is cancelled the remaining files are counted as cancelled and
// ctx's error is returned together with the partial result.
func (s *Scanner) Scan(ctx context.Context, targets []Target) (*Result, error) {
	if s.set == nil {
		return nil, errNilRuleSet
	}

	started := time.Now()

	ctx, span := s.tracer.Start(ctx, observability.SpanScan, trace.WithAttributes(
		attribute.Int("scan.targets", len(targets)),
		attribute.Int("scan.rules", s.set.Len()),
	))
	defer span.End()

	slots := make([]outcome, len(targets))
	soleExplicit := len(targets) == 1 && targets[0].Explicit

	workers := s.opts.Jobs
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	workers = max(min(workers, len(targets)), 1)

	work := make(chan indexedTarget, workers)

	var wg sync.WaitGroup

	for range workers {
		wg.Add(1)

		go func() {
			defer wg.Done()

			for item := range work {
				if ctx.Err() != nil {
					slots[item.index] = outcome{status: observability.FileCancelled}

					continue
				}

				slots[item.index] = s.scanFile(ctx, item.target, soleExplicit)
			}
		}()
	}

	for idx, target := range targets {
		work <- indexedTarget{target: target, index: idx}
	}

	close(work)
	wg.Wait()

	result := collect(slots)
	result.Stats.Duration = time.Since(started)

	span.SetAttributes(
		attribute.Int("scan.files", result.Stats.Files),
		attribute.Int("scan.findings", len(result.Findings)),
		attribute.Int("scan.diagnostics", len(result.Diagnostics)),
	)

	if err := ctx.Err(); err != nil {
		span.SetStatus(codes.Error, "cancelled")

		return result, fmt.Errorf("scan cancelled: %w", err)
	}

	return result, nil
}

func collect(slots []outcome) *Result {
	result := &Result{Findings: []Finding{}}

	for _, slot := range slots {
		result.Findings = append(result.Findings, slot.findings...)
		result.Diagnostics = append(result.Diagnostics, slot.diagnostics...)
		result.Stats.Bytes += slot.bytes

		if slot.fatal != nil && result.Fatal == nil {
			result.Fatal = slot.fatal
		}

		switch slot.status {
		case observability.FileScanned:
			result.Stats.Files++
		case observability.FileCancelled:
			result.Stats.Cancelled++
		default:
			result.Stats.Skipped++
		}
	}

	SortFindings(result.Findings)
	diag.Sort(result.Diagnostics)

	return result
}

func (s *Scanner) scanFile(ctx context.Context, target Target, soleExplicit bool) outcome {
	started := time.Now()

	ctx, span := s.tracer.Start(ctx, observability.SpanScanFile, trace.WithAttributes(
		attribute.String("scan.path", target.Display),
	))
	defer span.End()

	ctx = observability.ContextWithLogAttrs(ctx, slog.String("path", target.Display))

	language := uast.DetectLanguage(target.Path)
	result := s.processFile(ctx, target, language, soleExplicit)

	if result.fatal != nil || result.status == observability.FileFailed {
		span.SetStatus(codes.Error, result.status)
	}

	s.metrics.RecordFile(ctx, language, result.status, time.Since(started))

	for _, finding := range result.findings {
		s.metrics.RecordFinding(ctx, finding.RuleID, string(finding.Severity))
	}

	for _, d := range result.diagnostics {
		s.metrics.RecordDiagnostic(ctx, string(d.Kind), string(d.Level))
		s.logger.WarnContext(ctx, "scan diagnostic", "kind", d.Kind, "level", d.Level, "message", d.Message)
	}

	s.logger.DebugContext(ctx, "file scanned",
		"language", language, "status", result.status, "findings", len(result.findings))

	return result
}

func (s *Scanner) processFile(ctx context.Context, target Target, language string, soleExplicit bool) outcome {
	if language == "" {
		return outcome{
			status:      observability.FileSkipped,
			diagnostics: []diag.Diagnostic{diag.Warning(diag.KindTarget, target.Display, "unsupported language")},
		}
	}

	info, err := os.Stat(target.Path)
	if err != nil {
		return ioFailure(target, "stat", err)
	}

	if s.opts.MaxTargetBytes > 0 && info.Size() > s.opts.MaxTargetBytes {
		message := fmt.Sprintf("file size %s exceeds the %s limit",
			humanize.Bytes(safeconv.ClampInt64ToUint64(info.Size())),
			humanize.Bytes(safeconv.ClampInt64ToUint64(s.opts.MaxTargetBytes)))

		return outcome{
			status:      observability.FileSkipped,
			diagnostics: []diag.Diagnostic{diag.Warning(diag.KindTarget, target.Display, message)},
		}
	}

	content, err := os.ReadFile(target.Path)
	if err != nil {
		return ioFailure(target, "read", err)
	}

	file, parseDiag, fatal := s.parse(ctx, target, language, content)
	if file == nil {
		result := outcome{status: observability.FileFailed}

		switch {
		case soleExplicit:
			result.fatal = fatal
		case uast.IsFatal(fatal):
			parseDiag.Level = diag.LevelWarning
		}

		result.diagnostics = []diag.Diagnostic{parseDiag}

		return result
	}

	result := outcome{
		status:   observability.FileScanned,
		bytes:    int64(len(content)),
		findings: evaluate(s.set, file, target.Display, s.opts.SuppressionMarker),
	}

	if parseDiag.Message != "" {
		result.diagnostics = append(result.diagnostics, parseDiag)
	}

	return result
}

// ScanSource parses content as language and evaluates the rule set over it,
// recording findings under display. A recovered parse error is returned as a
// parse warning; a fatal one returns the error and no findings.
func (s *Scanner) ScanSource(ctx context.Context, language, display string, content []byte) ([]Finding, []diag.Diagnostic, error) {
	if s.set == nil {
		return nil, nil, errNilRuleSet
	}

	file, parseDiag, err := s.parse(ctx, Target{Path: display, Display: display}, language, content)
	if file == nil {
		return nil, []diag.Diagnostic{parseDiag}, err
	}

	var diags []diag.Diagnostic
	if parseDiag.Message != "" {
		diags = append(diags, parseDiag)
	}

	findings := evaluate(s.set, file, display, s.opts.SuppressionMarker)
	if findings == nil {
		findings = []Finding{}
	}

	return findings, diags, nil
}

// parse returns the tree and, for recovered errors, a parse warning. A nil
// tree comes with an error-level diagnostic and the error that caused it;
// processFile lowers it to a warning for files found by walking.
func (s *Scanner) parse(ctx context.Context, target Target, language string, content []byte) (*uast.File, diag.Diagnostic, error) {
	ctx, span := s.tracer.Start(ctx, observability.SpanParse,
		trace.WithAttributes(attribute.String("scan.language", language)))
	defer span.End()

	file, err := s.parser.Parse(ctx, language, content)
	if err == nil {
		return file, diag.Diagnostic{}, nil
	}

	var parseErr *uast.ParseError
	if !errors.As(err, &parseErr) {
		return nil, diag.Error(diag.KindParse, target.Display, err.Error()), err
	}

	parseErr.Path = target.Display

	level := diag.LevelWarning
	if parseErr.Fatal {
		level = diag.LevelError
	}

	d := diag.Diagnostic{
		Kind:    diag.KindParse,
		Level:   level,
		Path:    target.Display,
		Message: parseErr.Reason,
	}

	if parseErr.Pos != nil {
		d.Line = safeconv.MustUintToInt(parseErr.Pos.StartLine)
		d.Col = safeconv.MustUintToInt(parseErr.Pos.StartCol)
	}

	if parseErr.Fatal {
		return nil, d, parseErr
	}

	return file, d, nil
}

func ioFailure(target Target, op string, err error) outcome {
	ioErr := &IOError{Op: op, Path: target.Display, Err: err}

	return outcome{
		status:      observability.FileFailed,
		diagnostics: []diag.Diagnostic{diag.Error(diag.KindIO, target.Display, ioErr.Error())},
	}
}
