// Package pattern compiles rule patterns, written in the concrete syntax of the
// target language plus metavariables ($X) and ellipses (...), into templates
// over the uniform node tree.
package pattern

import (
	"context"
	"errors"
	"slices"
	"strings"

	"github.com/Sumatoshi-tech/codesift/pkg/safeconv"
	"github.com/Sumatoshi-tech/codesift/pkg/uast"
	"github.com/Sumatoshi-tech/codesift/pkg/uast/pkg/node"
)

// Pattern is a compiled, read-only matchable template.
type Pattern struct {
	// Root is set for single-node patterns.
	Root *node.Node
	// Sequence is set for patterns made of several consecutive siblings,
	// such as two statements.
	Sequence      []*node.Node
	Source        string
	Language      string
	Metavariables []string
}

// IsSequence reports whether the pattern matches a run of siblings.
func (p *Pattern) IsSequence() bool {
	return len(p.Sequence) > 0
}

// Nodes returns the pattern's top-level nodes.
func (p *Pattern) Nodes() []*node.Node {
	if p.IsSequence() {
		return p.Sequence
	}

	return []*node.Node{p.Root}
}

// String renders the compiled template as an s-expression.
func (p *Pattern) String() string {
	parts := make([]string, 0, len(p.Nodes()))

	for _, top := range p.Nodes() {
		parts = append(parts, top.String())
	}

	return strings.Join(parts, " ")
}

// Compiler compiles patterns with a shared parser. It is safe for concurrent use.
type Compiler struct {
	parser *uast.Parser
}

// NewCompiler creates a Compiler backed by parser.
func NewCompiler(parser *uast.Parser) *Compiler {
	return &Compiler{parser: parser}
}

var defaultCompiler = NewCompiler(uast.NewParser())

// Compile compiles source for language with the package default compiler.
func Compile(source, language string) (*Pattern, error) {
	return defaultCompiler.Compile(source, language)
}

// MustCompile is like Compile but panics on error. Intended for tests and
// patterns known at build time.
func MustCompile(source, language string) *Pattern {
	compiled, err := Compile(source, language)
	if err != nil {
		panic(err)
	}

	return compiled
}

// Compile parses source as a pattern for language. Malformed patterns
// produce a *SyntaxError.
func (compiler *Compiler) Compile(source, language string) (*Pattern, error) {
	syn, ok := syntaxes[language]
	if !ok {
		return nil, &SyntaxError{Pattern: source, Language: language, Reason: ErrUnsupportedLanguage.Error()}
	}

	if strings.TrimSpace(source) == "" {
		return nil, &SyntaxError{Pattern: source, Language: language, Reason: "empty pattern"}
	}

	rewritten, err := rewrite(source, language, syn)
	if err != nil {
		return nil, err
	}

	var firstErr *uast.ParseError

	for _, wrap := range syn.wrappers {
		tops, parseErr := compiler.parseWrapped(rewritten.text, language, wrap)
		if parseErr != nil {
			if firstErr == nil {
				firstErr = parseErr
			}

			continue
		}

		if tops == nil {
			continue
		}

		conv := &markerConverter{
			syn:     syn,
			names:   make(map[string]struct{}),
			emptied: make(map[uint]struct{}, len(rewritten.emptied)),
		}

		for _, offset := range rewritten.emptied {
			conv.emptied[safeconv.MustIntToUint(len(wrap.prefix)+offset)] = struct{}{}
		}

		return finish(source, language, conv, tops)
	}

	return nil, syntaxErrorFrom(source, language, firstErr)
}

func (compiler *Compiler) parseWrapped(rewritten, language string, wrap wrapper) ([]*node.Node, *uast.ParseError) {
	text := wrap.prefix + rewritten + wrap.suffix

	file, err := compiler.parser.Parse(context.Background(), language, []byte(text))
	if err != nil {
		var parseErr *uast.ParseError
		if errors.As(err, &parseErr) {
			return nil, shiftParseError(parseErr, wrap.prefix)
		}

		return nil, &uast.ParseError{Language: language, Reason: err.Error(), Fatal: true}
	}

	lead := len(rewritten) - len(strings.TrimLeft(rewritten, " \t\r\n"))
	trail := len(strings.TrimRight(rewritten, " \t\r\n"))

	start := safeconv.MustIntToUint(len(wrap.prefix) + lead)
	end := safeconv.MustIntToUint(len(wrap.prefix) + trail)

	return locate(file.Root, start, end), nil
}

// locate finds the nodes that exactly cover [start, end). The tree root
// never stands for the pattern itself: its children do.
func locate(root *node.Node, start, end uint) []*node.Node {
	current := root

	for {
		if current != root && current.Pos.StartOffset == start && current.Pos.EndOffset == end {
			return []*node.Node{deepestSameSpan(current)}
		}

		next := childContaining(current, start, end)
		if next != nil {
			current = next

			continue
		}

		return coveringRun(current, start, end)
	}
}

func deepestSameSpan(target *node.Node) *node.Node {
	for len(target.Children) == 1 && target.Children[0].Pos.Same(target.Pos) {
		target = target.Children[0]
	}

	return target
}

func childContaining(parent *node.Node, start, end uint) *node.Node {
	for _, child := range parent.Children {
		if child.Pos.StartOffset <= start && end <= child.Pos.EndOffset {
			return child
		}
	}

	return nil
}

func coveringRun(parent *node.Node, start, end uint) []*node.Node {
	first := -1

	for idx, child := range parent.Children {
		if first < 0 && child.Pos.StartOffset == start {
			first = idx
		}

		if first >= 0 && child.Pos.EndOffset == end {
			run := parent.Children[first : idx+1]
			if len(run) == 1 {
				return []*node.Node{deepestSameSpan(run[0])}
			}

			return run
		}
	}

	return nil
}

// finish turns reserved identifiers into metavariable and ellipsis nodes and
// validates the result.
func finish(source, language string, conv *markerConverter, tops []*node.Node) (*Pattern, error) {
	converted := make([]*node.Node, 0, len(tops))

	for _, top := range tops {
		converted = append(converted, conv.convert(top))
	}

	allEllipsis := true

	for _, top := range converted {
		if !top.IsEllipsis() {
			allEllipsis = false

			break
		}
	}

	if allEllipsis {
		return nil, &SyntaxError{Pattern: source, Language: language, Reason: "pattern consists only of an ellipsis"}
	}

	metavariables := make([]string, 0, len(conv.names))
	for name := range conv.names {
		metavariables = append(metavariables, name)
	}

	slices.Sort(metavariables)

	compiled := &Pattern{
		Source:        source,
		Language:      language,
		Metavariables: metavariables,
	}

	if len(converted) == 1 {
		compiled.Root = converted[0]
	} else {
		compiled.Sequence = converted
	}

	return compiled, nil
}

type markerConverter struct {
	names   map[string]struct{}
	emptied map[uint]struct{}
	syn     syntax
}

func (conv *markerConverter) convert(target *node.Node) *node.Node {
	if len(target.Children) == 0 {
		return conv.convertLeaf(target)
	}

	children := make([]*node.Node, 0, len(target.Children))
	for _, child := range target.Children {
		children = append(children, conv.convert(child))
	}

	if _, ok := conv.syn.statementKinds[target.Type]; ok && len(children) == 1 && children[0].IsEllipsis() {
		return children[0]
	}

	return &node.Node{Type: target.Type, Token: target.Token, Pos: target.Pos, Children: children, Anonymous: target.Anonymous}
}

func (conv *markerConverter) convertLeaf(target *node.Node) *node.Node {
	switch {
	case target.Token == ellipsisIdentifier:
		return &node.Node{Type: node.TypeEllipsis, Token: ellipsisToken, Pos: target.Pos}
	case strings.HasPrefix(target.Token, metavariablePrefix):
		name := "$" + strings.TrimPrefix(target.Token, metavariablePrefix)
		conv.names[name] = struct{}{}

		return &node.Node{Type: node.TypeMetavariable, Token: name, Pos: target.Pos}
	case target.Token == "":
		if _, ok := conv.emptied[target.Pos.StartOffset]; ok {
			ellipsis := &node.Node{Type: node.TypeEllipsis, Token: ellipsisToken, Pos: target.Pos}

			return &node.Node{Type: target.Type, Pos: target.Pos, Children: []*node.Node{ellipsis}}
		}
	}

	return target
}

func shiftParseError(parseErr *uast.ParseError, prefix string) *uast.ParseError {
	if parseErr.Pos == nil {
		return parseErr
	}

	prefixLines := safeconv.MustIntToUint(strings.Count(prefix, "\n"))
	shifted := *parseErr.Pos

	if shifted.StartLine > prefixLines {
		shifted.StartLine -= prefixLines
	}

	return &uast.ParseError{
		Pos:      &shifted,
		Language: parseErr.Language,
		Reason:   parseErr.Reason,
		Fatal:    parseErr.Fatal,
	}
}

func syntaxErrorFrom(source, language string, parseErr *uast.ParseError) *SyntaxError {
	result := &SyntaxError{
		Pattern:  source,
		Language: language,
		Reason:   "pattern does not parse as " + language,
	}

	if parseErr == nil {
		result.Reason = "pattern does not form complete syntax nodes in " + language

		return result
	}

	result.Reason += ": " + parseErr.Reason

	if parseErr.Pos != nil {
		result.Line = safeconv.MustUintToInt(parseErr.Pos.StartLine)
		result.Col = safeconv.MustUintToInt(parseErr.Pos.StartCol)
	}

	return result
}
