package uast

import (
	"strings"
	"unicode/utf8"

	sitter "github.com/alexaandru/go-tree-sitter-bare"

	"github.com/Sumatoshi-tech/codesift/pkg/uast/pkg/node"
)

const errorNodeType = "ERROR"

// delimiters are anonymous tokens that carry no structure once the tree is built.
var delimiters = map[string]struct{}{
	"(": {}, ")": {},
	"[": {}, "]": {},
	"{": {}, "}": {},
	",": {}, ";": {},
}

// converter turns a tree-sitter tree into node.Node values. It keeps every
// named node plus anonymous operator and keyword tokens, and drops delimiters,
// comments and zero-width recovery nodes.
type converter struct {
	firstError  *node.Positions
	errorReason string
	source      []byte
}

func (conv *converter) convert(tsNode sitter.Node) *node.Node {
	nodeType := tsNode.Type()

	if nodeType == errorNodeType {
		conv.recordError(tsNode, "unexpected "+quoteSnippet(conv.text(tsNode)))
	}

	result := &node.Node{
		Type:      node.Type(nodeType),
		Pos:       positions(tsNode, conv.source),
		Anonymous: !tsNode.IsNamed(),
	}

	childCount := tsNode.ChildCount()
	if childCount == 0 {
		result.Token = conv.text(tsNode)

		return result
	}

	result.Children = make([]*node.Node, 0, childCount)

	for idx := range childCount {
		child := tsNode.Child(idx)
		if child.IsNull() {
			continue
		}

		if child.IsMissing() {
			conv.recordError(child, "missing "+quoteSnippet(child.Type()))

			continue
		}

		if skipChild(child) {
			continue
		}

		result.Children = append(result.Children, conv.convert(child))
	}

	return result
}

func (conv *converter) recordError(tsNode sitter.Node, reason string) {
	if conv.firstError != nil {
		return
	}

	conv.firstError = positions(tsNode, conv.source)
	conv.errorReason = reason
}

func (conv *converter) text(tsNode sitter.Node) string {
	start := tsNode.StartByte()
	end := tsNode.EndByte()

	if start > end || end > uint(len(conv.source)) {
		return ""
	}

	return string(conv.source[start:end])
}

func skipChild(child sitter.Node) bool {
	if child.StartByte() == child.EndByte() {
		return true
	}

	childType := child.Type()

	if strings.Contains(childType, "comment") {
		return true
	}

	if child.IsNamed() {
		return false
	}

	_, isDelimiter := delimiters[childType]

	return isDelimiter
}

// positions extracts position information from the tree-sitter node.
// positions converts tree-sitter points to 1-based lines and 1-based
// character columns. Tree-sitter columns count bytes.
func positions(tsNode sitter.Node, source []byte) *node.Positions {
	start := tsNode.StartPoint()
	end := tsNode.EndPoint()

	return node.NewPositions(
		start.Row+1,
		runeColumn(source, tsNode.StartByte(), start.Column),
		tsNode.StartByte(),
		end.Row+1,
		runeColumn(source, tsNode.EndByte(), end.Column),
		tsNode.EndByte(),
	)
}

// runeColumn counts the characters between the line start and offset.
func runeColumn(source []byte, offset, byteColumn uint) uint {
	if byteColumn > offset || offset > uint(len(source)) {
		return byteColumn + 1
	}

	return uint(utf8.RuneCount(source[offset-byteColumn:offset])) + 1
}

func onlyErrors(root *node.Node) bool {
	if root == nil || len(root.Children) == 0 {
		return false
	}

	for _, child := range root.Children {
		if child.Type != errorNodeType {
			return false
		}
	}

	return true
}

const maxSnippet = 20

func quoteSnippet(text string) string {
	text = strings.TrimSpace(text)
	if len(text) > maxSnippet {
		text = text[:maxSnippet] + "..."
	}

	return "\"" + text + "\""
}
