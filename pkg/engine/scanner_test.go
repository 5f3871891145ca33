package engine_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/Sumatoshi-tech/codesift/pkg/diag"
	"github.com/Sumatoshi-tech/codesift/pkg/engine"
	"github.com/Sumatoshi-tech/codesift/pkg/observability"
	"github.com/Sumatoshi-tech/codesift/pkg/rules"
	"github.com/Sumatoshi-tech/codesift/pkg/uast"
)

const (
	fixtureRules = "../../testdata/rules/maven.yml"
	fixtureDir   = "../../testdata/sourcecode"
)

func loadFixtureRules(t *testing.T) *rules.Set {
	t.Helper()

	set, diags, err := rules.Load(fixtureRules)
	require.NoError(t, err)
	require.Empty(t, diags)

	return set
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()

	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o750))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	return path
}

func findingLines(findings []engine.Finding, path, ruleID string) []int {
	var lines []int

	for _, found := range findings {
		if found.Path == path && found.RuleID == ruleID {
			lines = append(lines, found.Start.Line)
		}
	}

	return lines
}

func TestScanPath_Fixtures(t *testing.T) {
	t.Parallel()

	scanner := engine.NewScanner(loadFixtureRules(t), engine.Options{Jobs: 2})

	result, err := scanner.ScanPath(context.Background(), fixtureDir, engine.TargetOptions{})
	require.NoError(t, err)
	require.NoError(t, result.Fatal)

	assert.Equal(t, 2, result.Stats.Files)
	assert.Positive(t, result.Stats.Bytes)

	clipboard := findingLines(result.Findings, "Clipboard.java", "maven-clipboard-access")
	assert.Subset(t, clipboard, []int{47, 51, 62, 65})
	assert.Equal(t, []int{42}, findingLines(result.Findings, "MouseMalice.java", "maven-event-listening"))

	assert.True(t, hasDiagnostic(result.Diagnostics, diag.KindParse, "Clipboard.java"),
		"recovered syntax errors are reported and the file is still evaluated")
	assert.Equal(t, engine.ExitFindings, result.ExitCode())
}

func hasDiagnostic(diags []diag.Diagnostic, kind diag.Kind, path string) bool {
	for _, d := range diags {
		if d.Kind == kind && d.Path == path {
			return true
		}
	}

	return false
}

func TestScan_OrderIndependentAcrossJobs(t *testing.T) {
	t.Parallel()

	set := loadFixtureRules(t)

	serial, err := engine.NewScanner(set, engine.Options{Jobs: 1}).ScanPath(context.Background(), fixtureDir, engine.TargetOptions{})
	require.NoError(t, err)

	parallel, err := engine.NewScanner(set, engine.Options{Jobs: 8}).ScanPath(context.Background(), fixtureDir, engine.TargetOptions{})
	require.NoError(t, err)

	again, err := engine.NewScanner(set, engine.Options{Jobs: 8}).ScanPath(context.Background(), fixtureDir, engine.TargetOptions{})
	require.NoError(t, err)

	assert.Equal(t, serial.Findings, parallel.Findings)
	assert.Equal(t, parallel.Findings, again.Findings)
	assert.Equal(t, serial.Diagnostics, parallel.Diagnostics)
}

func TestScan_Cancelled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	targets := []engine.Target{
		{Path: filepath.Join(fixtureDir, "Clipboard.java"), Display: "Clipboard.java"},
		{Path: filepath.Join(fixtureDir, "MouseMalice.java"), Display: "MouseMalice.java"},
	}

	result, err := engine.NewScanner(loadFixtureRules(t), engine.Options{Jobs: 2}).Scan(ctx, targets)
	require.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, result)
	assert.Equal(t, 2, result.Stats.Cancelled)
	assert.Empty(t, result.Findings, "cancelled files are never partially reported")
}

func TestScan_PerFileFailures(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	big := writeFile(t, dir, "Big.java", "class Big { void f() { clip.setContents(a, b); } }\n")
	notes := writeFile(t, dir, "notes.txt", "plain text\n")

	targets := []engine.Target{
		{Path: big, Display: "Big.java"},
		{Path: filepath.Join(dir, "Missing.java"), Display: "Missing.java"},
		{Path: notes, Display: "notes.txt"},
	}

	result, err := engine.NewScanner(loadFixtureRules(t), engine.Options{MaxTargetBytes: 16}).Scan(context.Background(), targets)
	require.NoError(t, err)

	assert.Empty(t, result.Findings)
	assert.Equal(t, 3, result.Stats.Skipped)
	require.Len(t, result.Diagnostics, 3)

	assert.Equal(t, diag.KindTarget, result.Diagnostics[0].Kind)
	assert.Contains(t, result.Diagnostics[0].Message, "exceeds")
	assert.Equal(t, diag.KindIO, result.Diagnostics[1].Kind)
	assert.Equal(t, diag.LevelError, result.Diagnostics[1].Level)
	assert.Equal(t, "Missing.java", result.Diagnostics[1].Path)
	assert.Equal(t, diag.KindTarget, result.Diagnostics[2].Kind)
	assert.Contains(t, result.Diagnostics[2].Message, "unsupported language")

	assert.Equal(t, engine.ExitFatal, result.ExitCode(), "an unreadable file outweighs findings")
}

const invalidJava = ")))) ((( }}}\n"

func TestScan_InvalidExplicitFileIsFatal(t *testing.T) {
	t.Parallel()

	path := writeFile(t, t.TempDir(), "Bad.java", invalidJava)

	targets, _, err := engine.CollectTargets(path, engine.TargetOptions{})
	require.NoError(t, err)
	require.Len(t, targets, 1)

	result, err := engine.NewScanner(loadFixtureRules(t), engine.Options{}).Scan(context.Background(), targets)
	require.NoError(t, err)

	require.Error(t, result.Fatal)
	assert.True(t, uast.IsFatal(result.Fatal))
	assert.Contains(t, result.Fatal.Error(), "source is not valid java")
	assert.Equal(t, engine.ExitFatal, result.ExitCode())

	require.Len(t, result.Diagnostics, 1)
	assert.Equal(t, diag.KindParse, result.Diagnostics[0].Kind)
	assert.Equal(t, diag.LevelError, result.Diagnostics[0].Level)
}

func TestScan_InvalidWalkedFileIsSkipped(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeFile(t, dir, "Bad.java", invalidJava)
	writeFile(t, dir, "Good.java", "class Good {}\n")

	result, err := engine.NewScanner(loadFixtureRules(t), engine.Options{}).ScanPath(context.Background(), dir, engine.TargetOptions{})
	require.NoError(t, err)

	require.NoError(t, result.Fatal)
	assert.Equal(t, engine.ExitClean, result.ExitCode())
	assert.Equal(t, 1, result.Stats.Files)

	require.Len(t, result.Diagnostics, 1)
	assert.Equal(t, diag.KindParse, result.Diagnostics[0].Kind)
	assert.Equal(t, diag.LevelWarning, result.Diagnostics[0].Level)
	assert.Equal(t, "Bad.java", result.Diagnostics[0].Path)
}

func TestScan_ParseSpansUseInjectedTracer(t *testing.T) {
	t.Parallel()

	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))

	scanner := engine.NewScanner(loadFixtureRules(t), engine.Options{Jobs: 1},
		engine.WithTracer(provider.Tracer("test")))

	_, err := scanner.ScanPath(context.Background(), fixtureDir, engine.TargetOptions{})
	require.NoError(t, err)

	parses := 0

	for _, span := range recorder.Ended() {
		if span.Name() == observability.SpanParse {
			parses++
		}
	}

	assert.Equal(t, 2, parses)
}

func TestScan_EmptyTargets(t *testing.T) {
	t.Parallel()

	result, err := engine.NewScanner(loadFixtureRules(t), engine.Options{}).Scan(context.Background(), nil)
	require.NoError(t, err)
	assert.NotNil(t, result.Findings)
	assert.Empty(t, result.Findings)
	assert.Equal(t, engine.ExitClean, result.ExitCode())
}

func TestScan_BrokenRuleDoesNotStopOthers(t *testing.T) {
	t.Parallel()

	set, diags, err := rules.Parse([]byte(`rules:
  - id: broken
    languages: [java]
    severity: error
    message: never compiles
    pattern: |
      if ($X) {
        ...
  - id: clipboard
    languages: [java]
    severity: warning
    message: clipboard
    pattern: $C.setContents(...)
`), "mixed.yml")
	require.NoError(t, err)
	require.Len(t, diags, 1)
	assert.Equal(t, diag.KindPattern, diags[0].Kind)

	dir := t.TempDir()
	path := writeFile(t, dir, "A.java", "class A { void f() { c.setContents(x, y); } }\n")

	result, err := engine.NewScanner(set, engine.Options{}).Scan(context.Background(), []engine.Target{{Path: path, Display: "A.java", Explicit: true}})
	require.NoError(t, err)
	require.Len(t, result.Findings, 1)
	assert.Equal(t, "clipboard", result.Findings[0].RuleID)
}

func TestScan_RecordsMetrics(t *testing.T) {
	t.Parallel()

	reader := sdkmetric.NewManualReader()
	metrics, err := observability.NewScanMetrics(sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)).Meter("test"))
	require.NoError(t, err)

	scanner := engine.NewScanner(loadFixtureRules(t), engine.Options{}, engine.WithMetrics(metrics))

	_, err = scanner.ScanPath(context.Background(), filepath.Join(fixtureDir, "MouseMalice.java"), engine.TargetOptions{})
	require.NoError(t, err)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	names := make(map[string]bool)

	for _, scope := range rm.ScopeMetrics {
		for _, m := range scope.Metrics {
			names[m.Name] = true
		}
	}

	assert.True(t, names["codesift.scan.files.total"])
	assert.True(t, names["codesift.scan.findings.total"])
}

func TestCollectTargets(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeFile(t, dir, "src/Main.java", "class Main {}\n")
	writeFile(t, dir, "src/util.py", "x = 1\n")
	writeFile(t, dir, "src/readme.md", "# readme\n")
	writeFile(t, dir, "tests/MainTest.java", "class MainTest {}\n")
	writeFile(t, dir, ".hidden/Secret.java", "class Secret {}\n")
	writeFile(t, dir, "node_modules/lib/index.js", "eval(x)\n")
	writeFile(t, dir, "generated/Gen.java", "class Gen {}\n")

	targets, diags, err := engine.CollectTargets(dir, engine.TargetOptions{Exclude: []string{"generated"}})
	require.NoError(t, err)
	assert.Empty(t, diags)

	displays := make([]string, 0, len(targets))
	for _, target := range targets {
		displays = append(displays, target.Display)
		assert.False(t, target.Explicit)
	}

	assert.Equal(t, []string{"src/Main.java", "src/util.py"}, displays)

	javaOnly, _, err := engine.CollectTargets(dir, engine.TargetOptions{Languages: []string{"java"}})
	require.NoError(t, err)
	require.Len(t, javaOnly, 2)
	assert.Equal(t, "generated/Gen.java", javaOnly[0].Display)
}

func TestCollectTargets_SingleFileIsExplicit(t *testing.T) {
	t.Parallel()

	path := writeFile(t, t.TempDir(), "One.java", "class One {}\n")

	targets, _, err := engine.CollectTargets(path, engine.TargetOptions{})
	require.NoError(t, err)
	require.Len(t, targets, 1)
	assert.True(t, targets[0].Explicit)
}

func TestCollectTargets_MissingRoot(t *testing.T) {
	t.Parallel()

	_, _, err := engine.CollectTargets(filepath.Join(t.TempDir(), "nope"), engine.TargetOptions{})
	require.ErrorIs(t, err, engine.ErrScanPath)
	require.ErrorIs(t, err, os.ErrNotExist)

	var ioErr *engine.IOError
	require.ErrorAs(t, err, &ioErr)
	assert.Equal(t, "stat", ioErr.Op)
}

func TestScanSource(t *testing.T) {
	t.Parallel()

	set, diags, err := rules.Parse([]byte(`rules:
  - id: python-eval
    languages: [python]
    severity: error
    message: eval of $X
    pattern: eval($X)
`), "inline")
	require.NoError(t, err)
	require.Empty(t, diags)

	scanner := engine.NewScanner(set, engine.Options{})

	findings, parseDiags, err := scanner.ScanSource(context.Background(), "python", "snippet.py", []byte("x = 1\neval(user)\n"))
	require.NoError(t, err)
	assert.Empty(t, parseDiags)
	require.Len(t, findings, 1)
	assert.Equal(t, "snippet.py", findings[0].Path)
	assert.Equal(t, 2, findings[0].Start.Line)
	assert.Equal(t, "eval of user", findings[0].Message)

	findings, _, err = scanner.ScanSource(context.Background(), "python", "clean.py", []byte("print(1)\n"))
	require.NoError(t, err)
	assert.NotNil(t, findings)
	assert.Empty(t, findings)
}
