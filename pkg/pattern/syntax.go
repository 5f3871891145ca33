package pattern

import (
	"github.com/Sumatoshi-tech/codesift/pkg/uast"
	"github.com/Sumatoshi-tech/codesift/pkg/uast/pkg/node"
)

// wrapper places a rewritten pattern inside a syntactic context the grammar
// accepts. The pattern text itself is never altered by a wrapper.
type wrapper struct {
	prefix string
	suffix string
}

// syntax holds the per-language knowledge the compiler needs.
type syntax struct {
	// terminator is appended to an ellipsis standing in for a statement.
	terminator string
	// statementKinds are nodes that, when they only wrap an ellipsis, collapse into it.
	statementKinds map[node.Type]struct{}
	wrappers       []wrapper
}

var expressionStatement = map[node.Type]struct{}{"expression_statement": {}}

var cFamilyWrappers = []wrapper{
	{},
	{suffix: ";"},
	{prefix: "class __Sift {\n", suffix: "\n}"},
	{prefix: "class __Sift { void __sift() {\n", suffix: "\n} }"},
	{prefix: "class __Sift { void __sift() {\n", suffix: ";\n} }"},
}

var syntaxes = map[string]syntax{
	uast.LangJava: {
		terminator:     ";",
		statementKinds: expressionStatement,
		wrappers:       cFamilyWrappers,
	},
	uast.LangJavaScript: {
		terminator:     ";",
		statementKinds: expressionStatement,
		wrappers: []wrapper{
			{},
			{suffix: ";"},
			{prefix: "class __Sift {\n", suffix: "\n}"},
			{prefix: "function __sift() {\n", suffix: "\n}"},
		},
	},
	uast.LangTypeScript: {
		terminator:     ";",
		statementKinds: expressionStatement,
		wrappers: []wrapper{
			{},
			{suffix: ";"},
			{prefix: "class __Sift {\n", suffix: "\n}"},
			{prefix: "function __sift() {\n", suffix: "\n}"},
		},
	},
	uast.LangC: {
		terminator:     ";",
		statementKinds: expressionStatement,
		wrappers: []wrapper{
			{prefix: "void __sift(void) {\n", suffix: "\n}"},
			{prefix: "void __sift(void) {\n", suffix: ";\n}"},
			{},
			{suffix: ";"},
		},
	},
	uast.LangGo: {
		statementKinds: expressionStatement,
		wrappers: []wrapper{
			{prefix: "package __sift\n"},
			{prefix: "package __sift\nfunc __sift() {\n", suffix: "\n}"},
		},
	},
	uast.LangPython: {
		statementKinds: expressionStatement,
		wrappers:       []wrapper{{}},
	},
	uast.LangRuby: {
		wrappers: []wrapper{{}},
	},
	uast.LangKotlin: {
		wrappers: []wrapper{
			{},
			{prefix: "class __Sift {\n", suffix: "\n}"},
			{prefix: "fun __sift() {\n", suffix: "\n}"},
		},
	},
}
