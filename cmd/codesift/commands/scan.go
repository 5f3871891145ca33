package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Sumatoshi-tech/codesift/pkg/config"
	"github.com/Sumatoshi-tech/codesift/pkg/diag"
	"github.com/Sumatoshi-tech/codesift/pkg/engine"
	"github.com/Sumatoshi-tech/codesift/pkg/observability"
	"github.com/Sumatoshi-tech/codesift/pkg/report"
	"github.com/Sumatoshi-tech/codesift/pkg/rules"
	"github.com/Sumatoshi-tech/codesift/pkg/version"
)

// ErrNoRulePaths is returned when neither --rules nor the config names rules.
var ErrNoRulePaths = errors.New("no rules given: use --rules or rules.paths in the config")

// ErrRuleFlagsConflict is returned when --rule and --exclude-rule are both set.
var ErrRuleFlagsConflict = errors.New("--rule and --exclude-rule cannot be combined")

const opScan = "scan"

// scanFlags are the flags of the scan and test commands. Each overrides the
// matching config key only when set on the command line.
type scanFlags struct {
	rules             []string
	ruleIDs           []string
	excludeRuleIDs    []string
	exclude           []string
	format            string
	output            string
	metricsFile       string
	maxTargetBytes    int64
	jobs              int
	includeSuppressed bool
	noColor           bool
}

func newScanCommand(global *globalFlags, obsInit ObservabilityInit) *cobra.Command {
	flags := &scanFlags{}

	cmd := &cobra.Command{
		Use:   "scan <path>",
		Short: "Scan files or directories with a rule set",
		Long: `Scan a file or directory with the rules loaded from --rules.

Findings go to stdout (or --output) in text, json or sarif format. A summary
goes to stderr unless --quiet is set.

Exit codes:
  0  no unsuppressed findings
  1  unsuppressed findings reported
  2  fatal error (config, rules, unreadable path, I/O failure)`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScan(cmd, global, flags, obsInit, args[0])
		},
	}

	addRuleFlags(cmd, flags)
	cmd.Flags().StringVarP(&flags.format, "format", "f", config.DefaultOutputFormat,
		"output format: "+strings.Join(report.Formats(), ", "))
	cmd.Flags().StringVarP(&flags.output, "output", "o", "", "write findings to a file instead of stdout")
	cmd.Flags().BoolVar(&flags.includeSuppressed, "include-suppressed", false, "report suppressed findings in text and json output")
	cmd.Flags().BoolVar(&flags.noColor, "no-color", false, "disable colored text output")
	cmd.Flags().StringVar(&flags.metricsFile, "metrics-file", "", "write Prometheus text metrics to this file on exit")

	return cmd
}

// addRuleFlags registers the flags shared by scan and test.
func addRuleFlags(cmd *cobra.Command, flags *scanFlags) {
	cmd.Flags().StringSliceVarP(&flags.rules, "rules", "r", nil, "rule file or directory (repeatable)")
	cmd.Flags().StringSliceVar(&flags.ruleIDs, "rule", nil, "run only these rule ids (repeatable)")
	cmd.Flags().StringSliceVar(&flags.excludeRuleIDs, "exclude-rule", nil, "run every rule except these ids (repeatable)")
	cmd.Flags().StringSliceVar(&flags.exclude, "exclude", nil, "additional directory names to skip (repeatable)")
	cmd.Flags().IntVarP(&flags.jobs, "jobs", "j", config.DefaultScanJobs, "files scanned in parallel (0 uses every CPU)")
	cmd.Flags().Int64Var(&flags.maxTargetBytes, "max-target-bytes", config.DefaultMaxTargetBytes,
		"skip files larger than this many bytes (negative disables the limit)")
}

// apply copies the flags set on the command line into cfg and revalidates it.
func (flags *scanFlags) apply(cmd *cobra.Command, cfg *config.Config) error {
	changed := cmd.Flags().Changed

	if changed("rule") && changed("exclude-rule") {
		return fatal(ErrRuleFlagsConflict)
	}

	if changed("rules") {
		cfg.Rules.Paths = flags.rules
	}

	if changed("rule") {
		cfg.Rules.Select = flags.ruleIDs
	}

	if changed("exclude-rule") {
		cfg.Rules.Exclude = flags.excludeRuleIDs
	}

	if changed("exclude") {
		cfg.Scan.Exclude = append(cfg.Scan.Exclude, flags.exclude...)
	}

	if changed("jobs") {
		cfg.Scan.Jobs = flags.jobs
	}

	if changed("max-target-bytes") {
		cfg.Scan.MaxTargetBytes = flags.maxTargetBytes
	}

	if changed("format") {
		cfg.Output.Format = flags.format
	}

	if changed("output") {
		cfg.Output.File = flags.output
	}

	if changed("include-suppressed") {
		cfg.Output.IncludeSuppressed = flags.includeSuppressed
	}

	if changed("no-color") && flags.noColor {
		cfg.Output.Color = config.ColorNever
	}

	if changed("metrics-file") {
		cfg.Telemetry.MetricsFile = flags.metricsFile
	}

	err := cfg.Validate()
	if err != nil {
		return fatal(fmt.Errorf("invalid flags: %w", err))
	}

	if len(cfg.Rules.Paths) == 0 {
		return fatal(ErrNoRulePaths)
	}

	return nil
}

// session is the state shared by one scan or test run.
type session struct {
	cfg       *config.Config
	providers observability.Providers
	red       *observability.REDMetrics
	stderr    io.Writer
	quiet     bool
}

func openSession(cmd *cobra.Command, global *globalFlags, flags *scanFlags, obsInit ObservabilityInit) (*session, error) {
	cfg, err := global.loadConfig()
	if err != nil {
		return nil, err
	}

	err = flags.apply(cmd, cfg)
	if err != nil {
		return nil, err
	}

	providers, err := global.startObservability(cfg, obsInit)
	if err != nil {
		return nil, err
	}

	red, err := observability.NewREDMetrics(providers.Meter)
	if err != nil {
		shutdown(cmd.Context(), providers)

		return nil, fatal(fmt.Errorf("create metrics: %w", err))
	}

	return &session{
		cfg:       cfg,
		providers: providers,
		red:       red,
		stderr:    cmd.ErrOrStderr(),
		quiet:     global.quiet,
	}, nil
}

func (s *session) close(ctx context.Context) {
	shutdown(ctx, s.providers)
}

// newScanner loads the configured rules and builds a scanner over them.
func (s *session) newScanner(ctx context.Context) (*engine.Scanner, *rules.Set, []diag.Diagnostic, error) {
	set, ruleDiags, err := s.loadRules(ctx)
	if err != nil {
		return nil, nil, ruleDiags, err
	}

	scanMetrics, err := observability.NewScanMetrics(s.providers.Meter)
	if err != nil {
		return nil, nil, ruleDiags, fatal(fmt.Errorf("create scan metrics: %w", err))
	}

	scanner := engine.NewScanner(set, engine.Options{
		SuppressionMarker: s.cfg.Scan.SuppressionMarker,
		Jobs:              s.cfg.Scan.Jobs,
		MaxTargetBytes:    s.cfg.Scan.MaxTargetBytes,
	},
		engine.WithLogger(s.providers.Logger),
		engine.WithMetrics(scanMetrics),
		engine.WithTracer(s.providers.Tracer),
	)

	return scanner, set, ruleDiags, nil
}

func (s *session) loadRules(ctx context.Context) (*rules.Set, []diag.Diagnostic, error) {
	_, span := s.providers.Tracer.Start(ctx, observability.SpanLoadRules,
		trace.WithAttributes(attribute.Int("codesift.rules.paths", len(s.cfg.Rules.Paths))))
	defer span.End()

	set, ruleDiags, err := rules.Load(s.cfg.Rules.Paths...)
	if err == nil {
		set, err = set.Select(s.cfg.Rules.Select...)
	}

	if err == nil {
		set, err = set.Exclude(s.cfg.Rules.Exclude...)
	}

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.writeDiagnostics(ruleDiags)

		return nil, ruleDiags, fatal(fmt.Errorf("load rules: %w", err))
	}

	span.SetAttributes(attribute.Int("codesift.rules.loaded", set.Len()))
	s.providers.Logger.DebugContext(ctx, "rules loaded", "rules", set.Len(), "diagnostics", len(ruleDiags))

	return set, ruleDiags, nil
}

// writeDiagnostics prints diagnostics one per line to stderr.
func (s *session) writeDiagnostics(diags []diag.Diagnostic) {
	for _, d := range diags {
		fmt.Fprintln(s.stderr, report.SingleLine(d.String()))
	}
}

// record closes the RED measurement for a run ending with err. Reported
// findings are a successful run.
func (s *session) record(ctx context.Context, op string, start time.Time, err error) {
	status := observability.StatusOK

	var exitErr *ExitError
	if err != nil && (!errors.As(err, &exitErr) || exitErr.Code == engine.ExitFatal) {
		status = observability.StatusError
	}

	s.red.RecordOperation(ctx, op, status, time.Since(start))
}

func runScan(cmd *cobra.Command, global *globalFlags, flags *scanFlags, obsInit ObservabilityInit, path string) (err error) {
	ctx := cmd.Context()

	sess, err := openSession(cmd, global, flags, obsInit)
	if err != nil {
		return err
	}
	defer sess.close(ctx)

	start := time.Now()
	done := sess.red.TrackInflight(ctx, opScan)

	defer func() {
		done()
		sess.record(ctx, opScan, start, err)
	}()

	scanner, set, ruleDiags, err := sess.newScanner(ctx)
	if err != nil {
		return err
	}

	result, err := scanner.ScanPath(ctx, path, engine.TargetOptions{Exclude: sess.cfg.Scan.Exclude})
	if err != nil {
		return fatal(err)
	}

	result.Diagnostics = append(result.Diagnostics, ruleDiags...)
	diag.Sort(result.Diagnostics)

	err = sess.render(ctx, cmd.OutOrStdout(), result, set)
	if err != nil {
		return fatal(err)
	}

	if !sess.quiet {
		err = report.RenderSummary(sess.stderr, report.Summary{
			Findings:    result.Findings,
			Diagnostics: result.Diagnostics,
			Stats:       result.Stats,
			Rules:       set.Len(),
		})
		if err != nil {
			return fatal(fmt.Errorf("write summary: %w", err))
		}
	}

	sess.providers.Logger.InfoContext(ctx, "scan complete",
		"files", result.Stats.Files,
		"findings", engine.CountUnsuppressed(result.Findings),
		"diagnostics", len(result.Diagnostics),
		"duration", result.Stats.Duration)

	code := result.ExitCode()
	if code == engine.ExitClean {
		return nil
	}

	return &ExitError{Code: code, Err: result.Fatal}
}

// render formats the findings and writes them to the configured output.
func (s *session) render(ctx context.Context, stdout io.Writer, result *engine.Result, set *rules.Set) error {
	_, span := s.providers.Tracer.Start(ctx, observability.SpanRender)
	defer span.End()

	format, err := report.ParseFormat(s.cfg.Output.Format)
	if err != nil {
		return err
	}

	span.SetAttributes(attribute.String("codesift.report.format", string(format)))

	data, err := report.Render(result.Findings, format, report.Options{
		Rules:             set.Rules(),
		ToolVersion:       version.Version,
		Color:             useColor(s.cfg.Output.Color, s.cfg.Output.File),
		IncludeSuppressed: s.cfg.Output.IncludeSuppressed,
	})
	if err != nil {
		span.RecordError(err)

		return fmt.Errorf("render %s: %w", format, err)
	}

	return writeOutput(s.cfg.Output.File, stdout, data)
}

// useColor resolves the color mode. Files never get colors; auto follows
// the terminal detection of fatih/color.
func useColor(mode, outputFile string) bool {
	if outputFile != "" {
		return false
	}

	switch strings.ToLower(mode) {
	case config.ColorAlways:
		return true
	case config.ColorNever:
		return false
	default:
		return !color.NoColor
	}
}
