package engine_test

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sumatoshi-tech/codesift/pkg/engine"
	"github.com/Sumatoshi-tech/codesift/pkg/rules"
	"github.com/Sumatoshi-tech/codesift/pkg/uast"
)

const clipboardRule = `rules:
  - id: clipboard-write
    languages: [java]
    severity: warning
    message: clipboard written through $CLIP with $A
    metadata: {category: exfiltration}
    pattern: $CLIP.setContents($A, $B)
  - id: flavor-listener
    languages: [java]
    severity: info
    message: flavor listener on $OBJ
    pattern: $OBJ.addFlavorListener($L)
`

const clipboardSource = `class Payload {
    void execute() {
        clip = Toolkit.getDefaultToolkit().getSystemClipboard();
        clip.setContents(new StringSelection(""), null);
    }
}
`

func loadRules(t *testing.T, doc string) *rules.Set {
	t.Helper()

	set, diags, err := rules.Parse([]byte(doc), "inline.yml")
	require.NoError(t, err)
	require.Empty(t, diags)

	return set
}

func parseSource(t *testing.T, language, source string) *uast.File {
	t.Helper()

	file, err := uast.NewParser().Parse(context.Background(), language, []byte(source))
	require.NoError(t, err)

	return file
}

func TestEvaluate_ClipboardBindings(t *testing.T) {
	t.Parallel()

	set := loadRules(t, clipboardRule)
	file := parseSource(t, uast.LangJava, clipboardSource)

	findings := engine.Evaluate(set, file, "Payload.java")
	require.Len(t, findings, 1, "addFlavorListener is absent, so only the write is reported")

	found := findings[0]
	assert.Equal(t, "clipboard-write", found.RuleID)
	assert.Equal(t, "Payload.java", found.Path)
	assert.Equal(t, rules.SeverityWarning, found.Severity)
	assert.Equal(t, "exfiltration", found.Category)
	assert.Equal(t, map[string]string{
		"$CLIP": "clip",
		"$A":    `new StringSelection("")`,
		"$B":    "null",
	}, found.Metavariables)
	assert.Equal(t, `clipboard written through clip with new StringSelection("")`, found.Message)
	assert.Equal(t, engine.Position{Line: 4, Col: 9, Offset: strings.Index(clipboardSource, "clip.setContents")}, found.Start)
	assert.Equal(t, 4, found.End.Line)
	assert.Equal(t, `clip.setContents(new StringSelection(""), null)`, found.Snippet)
	assert.Equal(t, engine.Fingerprint("clipboard-write", "Payload.java", found.Snippet), found.Fingerprint)
	assert.False(t, found.Suppressed)
}

func TestEvaluate_RepeatedMetavariable(t *testing.T) {
	t.Parallel()

	set := loadRules(t, `rules:
  - {id: same-args, languages: [python], severity: info, message: same $X, pattern: "foo($X, $X)"}
`)
	file := parseSource(t, uast.LangPython, "foo(a, a)\nfoo(a, b)\nfoo(x.y, x.y)\n")

	findings := engine.Evaluate(set, file, "same.py")
	require.Len(t, findings, 2)
	assert.Equal(t, 1, findings[0].Start.Line)
	assert.Equal(t, "same a", findings[0].Message)
	assert.Equal(t, 3, findings[1].Start.Line)
	assert.Equal(t, "same x.y", findings[1].Message)
}

func TestEvaluate_BareMetavariableSkipsTokens(t *testing.T) {
	t.Parallel()

	set := loadRules(t, `rules:
  - {id: anything, languages: [python], severity: info, message: node $X, pattern: $X}
`)
	file := parseSource(t, uast.LangPython, "a = b + c\n")

	findings := engine.Evaluate(set, file, "any.py")
	require.NotEmpty(t, findings)

	snippets := make([]string, 0, len(findings))
	for _, found := range findings {
		snippets = append(snippets, found.Snippet)
	}

	assert.Contains(t, snippets, "b")
	assert.Contains(t, snippets, "b + c")
	assert.NotContains(t, snippets, "+")
	assert.NotContains(t, snippets, "=")
}

func TestEvaluate_Composition(t *testing.T) {
	t.Parallel()

	set := loadRules(t, `rules:
  - id: shell
    languages: [python]
    severity: error
    message: shell command $CMD
    patterns:
      - pattern-either:
          - pattern: os.system($CMD)
          - pattern: os.popen($CMD)
      - pattern-not: os.system("true")
      - pattern-not-inside: |
          if __name__ == "__main__":
              ...
      - metavariable-regex:
          metavariable: $CMD
          regex: ^(cmd|"rm)
`)

	source := strings.Join([]string{
		"import os",
		"os.system(cmd)",
		`os.system("true")`,
		`os.popen("rm -rf /tmp/x")`,
		"os.system(other)",
		`if __name__ == "__main__":`,
		"    os.system(cmd)",
		"",
	}, "\n")

	findings := engine.Evaluate(set, parseSource(t, uast.LangPython, source), "run.py")

	lines := make([]int, 0, len(findings))
	for _, found := range findings {
		lines = append(lines, found.Start.Line)
	}

	assert.Equal(t, []int{2, 4}, lines)
	assert.Equal(t, `shell command "rm -rf /tmp/x"`, findings[1].Message)
}

func TestEvaluate_PatternInsideBindsOuterMetavariables(t *testing.T) {
	t.Parallel()

	set := loadRules(t, `rules:
  - id: close-in-handler
    languages: [python]
    severity: info
    message: $F closed inside $H
    patterns:
      - pattern: $F.close()
      - pattern-inside: |
          def $H(...):
              ...
`)

	source := "f.close()\n\ndef handler(x):\n    g.close()\n"
	findings := engine.Evaluate(set, parseSource(t, uast.LangPython, source), "h.py")

	require.Len(t, findings, 1)
	assert.Equal(t, 4, findings[0].Start.Line)
	assert.Equal(t, "g closed inside handler", findings[0].Message)
}

func TestEvaluate_DuplicateSpansReportedOnce(t *testing.T) {
	t.Parallel()

	set := loadRules(t, `rules:
  - id: eval-call
    languages: [javascript]
    severity: warning
    message: eval
    pattern-either:
      - pattern: eval($X)
      - pattern: eval(...)
`)

	findings := engine.Evaluate(set, parseSource(t, uast.LangJavaScript, "eval(code);\n"), "a.js")
	require.Len(t, findings, 1)
	assert.Equal(t, map[string]string{"$X": "code"}, findings[0].Metavariables, "the first branch wins")
}

func TestEvaluate_Suppression(t *testing.T) {
	t.Parallel()

	set := loadRules(t, clipboardRule)
	source := `class Payload {
    void execute() {
        clip.setContents(a, b); // nosift
        // nosift: flavor-listener
        clip.setContents(c, d);
        // nosift: clipboard-write
        clip.setContents(e, f);
        clip.setContents(g, h); // nosifted
    }
}
`

	findings := engine.Evaluate(set, parseSource(t, uast.LangJava, source), "S.java")
	require.Len(t, findings, 4)

	suppressed := make(map[int]bool, len(findings))
	for _, found := range findings {
		suppressed[found.Start.Line] = found.Suppressed
	}

	assert.Equal(t, map[int]bool{3: true, 5: false, 7: true, 8: false}, suppressed)
	assert.Equal(t, 2, engine.CountUnsuppressed(findings))
}

func TestEvaluate_SequencePattern(t *testing.T) {
	t.Parallel()

	set := loadRules(t, `rules:
  - id: open-close
    languages: [python]
    severity: info
    message: $X opened then closed
    pattern: |
      $X = open($F)
      $X.close()
`)

	source := "a = open(p)\na.close()\nb = open(q)\nc.close()\n"
	findings := engine.Evaluate(set, parseSource(t, uast.LangPython, source), "seq.py")

	require.Len(t, findings, 1)
	assert.Equal(t, 1, findings[0].Start.Line)
	assert.Equal(t, 2, findings[0].End.Line)
	assert.Equal(t, "a opened then closed", findings[0].Message)
}

func TestEvaluate_OtherLanguageRulesIgnored(t *testing.T) {
	t.Parallel()

	set := loadRules(t, clipboardRule)
	file := parseSource(t, uast.LangPython, "clip.setContents(a, b)\n")

	assert.Empty(t, engine.Evaluate(set, file, "x.py"))
}

func TestTrimSnippet(t *testing.T) {
	t.Parallel()

	short := strings.Repeat("a", 250)
	assert.Equal(t, short, engine.TrimSnippet(short))

	long := strings.Repeat("a", 240) + strings.Repeat("b", 20) + strings.Repeat("c", 10)
	trimmed := engine.TrimSnippet(long)
	assert.Equal(t, strings.Repeat("a", 240)+"..."+strings.Repeat("c", 10), trimmed)

	wide := strings.Repeat("ż", 300)
	assert.Equal(t, 253, len([]rune(engine.TrimSnippet(wide))))
}

func TestFingerprint_Stable(t *testing.T) {
	t.Parallel()

	first := engine.Fingerprint("r", "a.java", "x()")
	assert.Equal(t, first, engine.Fingerprint("r", "a.java", "x()"))
	assert.NotEqual(t, first, engine.Fingerprint("r", "b.java", "x()"))
	assert.Len(t, first, 36)
}

func TestSortFindings(t *testing.T) {
	t.Parallel()

	findings := []engine.Finding{
		{Path: "b.py", RuleID: "a", Start: engine.Position{Line: 1, Col: 1}},
		{Path: "a.py", RuleID: "z", Start: engine.Position{Line: 2, Col: 1}},
		{Path: "a.py", RuleID: "b", Start: engine.Position{Line: 2, Col: 1}},
		{Path: "a.py", RuleID: "a", Start: engine.Position{Line: 1, Col: 5}},
	}

	engine.SortFindings(findings)

	order := make([]string, 0, len(findings))
	for _, found := range findings {
		order = append(order, found.Path+":"+found.RuleID)
	}

	assert.Equal(t, []string{"a.py:a", "a.py:b", "a.py:z", "b.py:a"}, order)
}
