package match_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sumatoshi-tech/codesift/pkg/match"
	"github.com/Sumatoshi-tech/codesift/pkg/pattern"
	"github.com/Sumatoshi-tech/codesift/pkg/uast"
	"github.com/Sumatoshi-tech/codesift/pkg/uast/pkg/node"
)

func parse(t *testing.T, language, source string) *uast.File {
	t.Helper()

	file, err := uast.NewParser().Parse(context.Background(), language, []byte(source))
	require.NoError(t, err)

	return file
}

func nodesOfType(root *node.Node, nodeType node.Type) []*node.Node {
	return root.Find(func(n *node.Node) bool { return n.Type == nodeType })
}

// collect returns the environments produced at every node of file.
func collect(compiled *pattern.Pattern, file *uast.File) []*match.Bindings {
	var envs []*match.Bindings

	file.Root.VisitPreOrder(func(n *node.Node) {
		for env := range match.Match(compiled.Root, n, nil) {
			envs = append(envs, env)
		}
	})

	return envs
}

func TestMatch_RepeatedMetavariable(t *testing.T) {
	t.Parallel()

	compiled := pattern.MustCompile("foo($X, $X)", uast.LangJava)
	calls := nodesOfType(parse(t, uast.LangJava, "class A { void f() { foo(a, a); foo(a, b); foo(g(1), g( 1 )); } }").Root,
		"method_invocation")
	require.Len(t, calls, 5, "three foo calls and two nested g calls")

	assert.True(t, match.Matches(compiled.Root, calls[0]), "foo(a, a)")
	assert.False(t, match.Matches(compiled.Root, calls[1]), "foo(a, b)")
	assert.True(t, match.Matches(compiled.Root, calls[2]), "formatting does not affect consistency")
}

func TestMatch_EllipsisAnyArity(t *testing.T) {
	t.Parallel()

	compiled := pattern.MustCompile("foo(...)", uast.LangPython)
	file := parse(t, uast.LangPython, "foo()\nfoo(a)\nfoo(a, b, c)\nbar(a)\n")

	calls := nodesOfType(file.Root, "call")
	require.Len(t, calls, 4)

	for _, call := range calls[:3] {
		assert.True(t, match.Matches(compiled.Root, call), file.Text(call))
	}

	assert.False(t, match.Matches(compiled.Root, calls[3]))
}

func TestMatch_LiteralPatternIsStructuralIdentity(t *testing.T) {
	t.Parallel()

	compiled := pattern.MustCompile("os.system(\"ls\")", uast.LangPython)
	file := parse(t, uast.LangPython, "os.system( \"ls\" )\nos.system(\"rm\")\nos.popen(\"ls\")\n")

	calls := nodesOfType(file.Root, "call")
	require.Len(t, calls, 3)

	assert.True(t, match.Matches(compiled.Root, calls[0]))
	assert.False(t, match.Matches(compiled.Root, calls[1]))
	assert.False(t, match.Matches(compiled.Root, calls[2]))

	for _, call := range calls {
		var envs []*match.Bindings
		for env := range match.Match(compiled.Root, call, nil) {
			envs = append(envs, env)
		}

		assert.LessOrEqual(t, len(envs), 1, "literal patterns match at most once")
	}
}

func TestMatch_ClipboardBindings(t *testing.T) {
	t.Parallel()

	file := parse(t, uast.LangJava, `class Clip {
    void execute() {
        clip.setContents(new StringSelection(""), null);
    }
}
`)

	envs := collect(pattern.MustCompile("$CLIP.setContents($A, $B)", uast.LangJava), file)
	require.Len(t, envs, 1)

	env := envs[0]
	assert.Equal(t, []string{"$A", "$B", "$CLIP"}, env.Names())

	bound := env.Map()
	assert.Equal(t, "clip", file.Text(bound["$CLIP"]))
	assert.Equal(t, `new StringSelection("")`, file.Text(bound["$A"]))
	assert.Equal(t, "null", file.Text(bound["$B"]))
}

func TestMatch_NoMatch(t *testing.T) {
	t.Parallel()

	file := parse(t, uast.LangJava, "class A { void f() { clip.setContents(x, null); } }")
	assert.Empty(t, collect(pattern.MustCompile("$OBJ.addFlavorListener($L)", uast.LangJava), file))
}

func TestMatch_EllipsisBacktracks(t *testing.T) {
	t.Parallel()

	compiled := pattern.MustCompile("foo(..., $LAST)", uast.LangPython)
	file := parse(t, uast.LangPython, "foo(a, b, c)\n")

	envs := collect(compiled, file)
	require.Len(t, envs, 1)

	last, ok := envs[0].Lookup("$LAST")
	require.True(t, ok)
	assert.Equal(t, "c", file.Text(last))
}

func TestMatch_EllipsisMultipleSolutions(t *testing.T) {
	t.Parallel()

	compiled := pattern.MustCompile("foo(..., $A, ...)", uast.LangPython)
	file := parse(t, uast.LangPython, "foo(a, b, c)\n")

	var texts []string

	for _, env := range collect(compiled, file) {
		bound, _ := env.Lookup("$A")
		texts = append(texts, file.Text(bound))
	}

	assert.Equal(t, []string{"a", "b", "c"}, texts, "shortest prefix first")
}

func TestMatch_StopsWhenConsumerStops(t *testing.T) {
	t.Parallel()

	compiled := pattern.MustCompile("foo(..., $A, ...)", uast.LangPython)
	call := nodesOfType(parse(t, uast.LangPython, "foo(a, b, c)\n").Root, "call")[0]

	count := 0

	for range match.Match(compiled.Root, call, nil) {
		count++

		break
	}

	assert.Equal(t, 1, count)
}

func TestMatchSequence(t *testing.T) {
	t.Parallel()

	compiled := pattern.MustCompile("$F = open($P)\n$F.close()", uast.LangPython)
	require.True(t, compiled.IsSequence())

	file := parse(t, uast.LangPython, "x = 1\nh = open(path)\nh.close()\ng = open(p)\nh.close()\n")

	var windows []match.Window
	for window := range match.MatchSequence(compiled.Sequence, file.Root.Children, nil) {
		windows = append(windows, window)
	}

	require.Len(t, windows, 1)
	assert.Equal(t, 1, windows[0].Start)
	assert.Equal(t, 3, windows[0].End)

	bound, _ := windows[0].Env.Lookup("$P")
	assert.Equal(t, "path", file.Text(bound))
}

func TestMatchSequence_TrailingEllipsis(t *testing.T) {
	t.Parallel()

	compiled := pattern.MustCompile("$F = open($P)\n...", uast.LangPython)
	file := parse(t, uast.LangPython, "h = open(path)\nh.read()\nh.close()\n")

	var windows []match.Window
	for window := range match.MatchSequence(compiled.Nodes(), file.Root.Children, nil) {
		windows = append(windows, window)
	}

	require.Len(t, windows, 1)
	assert.Equal(t, 0, windows[0].Start)
	assert.Equal(t, 3, windows[0].End)
}

func TestBindings(t *testing.T) {
	t.Parallel()

	a := &node.Node{Type: "identifier", Token: "a"}
	otherA := &node.Node{Type: "identifier", Token: "a", Pos: node.NewPositions(9, 1, 90, 9, 2, 91)}
	b := &node.Node{Type: "identifier", Token: "b"}

	var empty *match.Bindings
	assert.Zero(t, empty.Len())
	assert.Empty(t, empty.Names())

	env, err := empty.Unify("$X", a)
	require.NoError(t, err)
	assert.Equal(t, 1, env.Len())

	same, err := env.Unify("$X", otherA)
	require.NoError(t, err)
	assert.Equal(t, 1, same.Len())

	_, err = env.Unify("$X", b)

	var violation *match.ConsistencyViolation
	require.True(t, errors.As(err, &violation))
	assert.Equal(t, "$X", violation.Name)

	_, found := empty.Lookup("$X")
	assert.False(t, found, "extending an environment never changes the original")

	other := empty.Bind("$Y", b)

	merged, err := env.Merge(other)
	require.NoError(t, err)
	assert.Equal(t, []string{"$X", "$Y"}, merged.Names())

	_, err = other.Bind("$X", b).Merge(env)
	require.Error(t, err)
}
