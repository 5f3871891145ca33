package ruletest_test

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sumatoshi-tech/codesift/pkg/engine"
	"github.com/Sumatoshi-tech/codesift/pkg/rules"
	"github.com/Sumatoshi-tech/codesift/pkg/ruletest"
)

func TestAnnotations(t *testing.T) {
	t.Parallel()

	source := []byte(`// ruleid: a
call();
# ok: a, b

other();
x = 1 -- todook: c
/* todoruleid: d */
/* ruleid: e */
last();
// not an annotation
`)

	got := ruletest.Annotations(source)
	require.Len(t, got, 5)

	assert.Equal(t, ruletest.Annotation{Kind: ruletest.KindRuleID, RuleIDs: []string{"a"}, Line: 2, Source: 1}, got[0])
	assert.Equal(t, ruletest.Annotation{Kind: ruletest.KindOK, RuleIDs: []string{"a", "b"}, Line: 5, Source: 3}, got[1],
		"blank lines are skipped when resolving an own-line marker")
	assert.Equal(t, ruletest.Annotation{Kind: ruletest.KindTodoOK, RuleIDs: []string{"c"}, Line: 6, Source: 6}, got[2],
		"a trailing marker applies to its own line")
	assert.Equal(t, ruletest.KindTodoRuleID, got[3].Kind)
	assert.Equal(t, 9, got[3].Line, "stacked markers apply to the first code line after them")
	assert.Equal(t, []string{"d"}, got[3].RuleIDs)
	assert.Equal(t, 9, got[4].Line)
}

func TestAnnotations_DanglingMarkerDropped(t *testing.T) {
	t.Parallel()

	assert.Empty(t, ruletest.Annotations([]byte("code()\n# ruleid: a\n\n")))
}

func finding(ruleID, path string, line int, suppressed bool) engine.Finding {
	return engine.Finding{RuleID: ruleID, Path: path, Start: engine.Position{Line: line}, Suppressed: suppressed}
}

func TestCheck(t *testing.T) {
	t.Parallel()

	annotations := []ruletest.Annotation{
		{Kind: ruletest.KindRuleID, RuleIDs: []string{"a"}, Line: 2},
		{Kind: ruletest.KindRuleID, RuleIDs: []string{"a"}, Line: 4},
		{Kind: ruletest.KindOK, RuleIDs: []string{"a"}, Line: 6},
		{Kind: ruletest.KindTodoOK, RuleIDs: []string{"a"}, Line: 8},
		{Kind: ruletest.KindTodoRuleID, RuleIDs: []string{"b"}, Line: 10},
	}

	findings := []engine.Finding{
		finding("a", "f.py", 2, false),
		finding("a", "f.py", 6, false),
		finding("a", "f.py", 8, false),
		finding("a", "f.py", 4, true),
		finding("a", "other.py", 4, false),
	}

	result := ruletest.Check(findings, annotations, "f.py")

	assert.False(t, result.Passed())
	assert.Equal(t, map[string][]int{"a": {4}}, result.Missed, "suppressed findings do not count as reported")
	assert.Equal(t, map[string][]int{"a": {6}}, result.Unexpected)
	assert.Equal(t, []int{2, 6, 8}, result.Reported["a"])
	assert.Len(t, result.Todo, 2)
	assert.Equal(t, []string{"a"}, result.RuleIDs())
}

func TestCheck_Passes(t *testing.T) {
	t.Parallel()

	result := ruletest.Check(
		[]engine.Finding{finding("a", "f.py", 3, false)},
		[]ruletest.Annotation{{Kind: ruletest.KindRuleID, RuleIDs: []string{"a"}, Line: 3}},
		"f.py",
	)

	assert.True(t, result.Passed())
	assert.Nil(t, result.Missed)
	assert.Nil(t, result.Unexpected)
}

func TestDiff(t *testing.T) {
	t.Parallel()

	assert.Equal(t, " line 2\n-line 4\n+line 6\n", ruletest.Diff([]int{2, 4}, []int{2, 6}))
	assert.Equal(t, " line 1\n", ruletest.Diff([]int{1}, []int{1}))
	assert.Empty(t, ruletest.Diff(nil, nil))
}

func loadRules(t *testing.T) *rules.Set {
	t.Helper()

	set, diags, err := rules.Load("testdata/rules.yml")
	require.NoError(t, err)
	require.Empty(t, diags)

	return set
}

func TestRun_Passing(t *testing.T) {
	t.Parallel()

	set := loadRules(t)
	scanner := engine.NewScanner(set, engine.Options{Jobs: 2})

	report, err := ruletest.Run(context.Background(), scanner, "testdata/fixtures/pass", engine.TargetOptions{Languages: set.Languages()})
	require.NoError(t, err)

	require.Len(t, report.Files, 1, "files without annotations are not checked")
	assert.Equal(t, "app.py", report.Files[0].Path)
	assert.Equal(t, []int{2, 7}, report.Files[0].Expected["python-eval"])
	assert.True(t, report.Passed())

	var buf bytes.Buffer
	require.NoError(t, report.Write(&buf, false))
	assert.Equal(t, "PASS app.py\n1 passed, 0 failed\n", buf.String())
}

func TestRun_Failing(t *testing.T) {
	t.Parallel()

	set := loadRules(t)

	report, err := ruletest.Run(context.Background(), engine.NewScanner(set, engine.Options{}), "testdata/fixtures/fail", engine.TargetOptions{})
	require.NoError(t, err)

	require.Len(t, report.Files, 1)
	assert.False(t, report.Passed())
	assert.Equal(t, 1, report.Failed())

	file := report.Files[0]
	assert.Equal(t, map[string][]int{"python-eval": {2}}, file.Missed)
	assert.Equal(t, map[string][]int{"python-eval": {4}}, file.Unexpected)

	var buf bytes.Buffer
	require.NoError(t, report.Write(&buf, false))

	out := buf.String()
	assert.Contains(t, out, "FAIL bad.py\n")
	assert.Contains(t, out, "    -line 2\n")
	assert.Contains(t, out, "    +line 4\n")
	assert.Contains(t, out, "todoruleid bad.py:7 python-eval")
	assert.Contains(t, out, "0 passed, 1 failed\n")
}
