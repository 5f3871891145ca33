// Package node provides the uniform syntax node shared by parsed sources and
// compiled patterns, together with traversal and structural comparison.
package node

import (
	"strconv"
	"strings"
)

// Marker types used by compiled patterns. They never occur in trees produced
// from real source files.
const (
	TypeMetavariable Type = "$metavariable"
	TypeEllipsis     Type = "$ellipsis"
	TypeSequence     Type = "$sequence"
)

// Type is the kind of a node, taken verbatim from the grammar (for example
// "method_invocation" or "identifier").
type Type string

// Positions represents the byte and line/col offsets for a node.
// All fields are 1-based except StartOffset/EndOffset, which are byte offsets.
// Columns count Unicode code points.
// End positions are exclusive.
type Positions struct {
	StartLine   uint `json:"start_line"`
	StartCol    uint `json:"start_col"`
	StartOffset uint `json:"start_offset"`
	EndLine     uint `json:"end_line"`
	EndCol      uint `json:"end_col"`
	EndOffset   uint `json:"end_offset"`
}

// NewPositions builds a Positions value.
func NewPositions(startLine, startCol, startOffset, endLine, endCol, endOffset uint) *Positions {
	return &Positions{
		StartLine:   startLine,
		StartCol:    startCol,
		StartOffset: startOffset,
		EndLine:     endLine,
		EndCol:      endCol,
		EndOffset:   endOffset,
	}
}

// Contains reports whether other lies within pos.
func (pos *Positions) Contains(other *Positions) bool {
	if pos == nil || other == nil {
		return false
	}

	return pos.StartOffset <= other.StartOffset && other.EndOffset <= pos.EndOffset
}

// Same reports whether both spans cover the same bytes.
func (pos *Positions) Same(other *Positions) bool {
	if pos == nil || other == nil {
		return pos == other
	}

	return pos.StartOffset == other.StartOffset && pos.EndOffset == other.EndOffset
}

// Span returns a span from the start of first to the end of last.
func Span(first, last *Positions) *Positions {
	if first == nil {
		return last
	}

	if last == nil {
		return first
	}

	return NewPositions(first.StartLine, first.StartCol, first.StartOffset, last.EndLine, last.EndCol, last.EndOffset)
}

// String renders the span as "line:col-line:col".
func (pos *Positions) String() string {
	if pos == nil {
		return "-"
	}

	var buf strings.Builder

	buf.WriteString(strconv.FormatUint(uint64(pos.StartLine), 10))
	buf.WriteByte(':')
	buf.WriteString(strconv.FormatUint(uint64(pos.StartCol), 10))
	buf.WriteByte('-')
	buf.WriteString(strconv.FormatUint(uint64(pos.EndLine), 10))
	buf.WriteByte(':')
	buf.WriteString(strconv.FormatUint(uint64(pos.EndCol), 10))

	return buf.String()
}

// Node is a single syntax element.
//
// Fields:
//
//	Type: grammar node kind.
//	Token: raw source text for leaves, empty for internal nodes. For pattern
//	       metavariables it holds the metavariable name ("$X").
//	Pos: source span.
//	Children: ordered child nodes; spans are contained in Pos and never overlap.
//	Anonymous: keyword or operator token the grammar does not name.
type Node struct {
	Token     string     `json:"token,omitempty"`
	Type      Type       `json:"type"`
	Pos       *Positions `json:"pos,omitempty"`
	Children  []*Node    `json:"children,omitempty"`
	Anonymous bool       `json:"anonymous,omitempty"`
}

// IsLeaf reports whether the node has no children.
func (targetNode *Node) IsLeaf() bool {
	return len(targetNode.Children) == 0
}

// IsMetavariable reports whether the node is a pattern metavariable.
func (targetNode *Node) IsMetavariable() bool {
	return targetNode != nil && targetNode.Type == TypeMetavariable
}

// IsEllipsis reports whether the node is a pattern ellipsis.
func (targetNode *Node) IsEllipsis() bool {
	return targetNode != nil && targetNode.Type == TypeEllipsis
}

// AddChild appends a child node.
func (targetNode *Node) AddChild(child *Node) {
	targetNode.Children = append(targetNode.Children, child)
}

// VisitPreOrder visits all nodes in pre-order (root, then children left-to-right).
func (targetNode *Node) VisitPreOrder(fn func(*Node)) {
	if targetNode == nil {
		return
	}

	stack := []*Node{targetNode}

	for len(stack) > 0 {
		curr := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		fn(curr)

		for idx := len(curr.Children) - 1; idx >= 0; idx-- {
			stack = append(stack, curr.Children[idx])
		}
	}
}

// Find returns all nodes in the tree (including root) for which predicate(node) is true.
// Traversal is pre-order. Returns nil if n is nil.
func (targetNode *Node) Find(predicate func(*Node) bool) []*Node {
	var result []*Node

	targetNode.VisitPreOrder(func(curr *Node) {
		if predicate(curr) {
			result = append(result, curr)
		}
	})

	return result
}

// Flatten returns every node of the tree in document order.
func (targetNode *Node) Flatten() []*Node {
	return targetNode.Find(func(*Node) bool { return true })
}

// Equal reports whether two subtrees are structurally identical: same kinds,
// same leaf text, pairwise equal children. Positions are ignored, so the same
// code at different locations or with different formatting compares equal.
func Equal(left, right *Node) bool {
	if left == nil || right == nil {
		return left == right
	}

	if left.Type != right.Type || len(left.Children) != len(right.Children) {
		return false
	}

	if len(left.Children) == 0 {
		return left.Token == right.Token
	}

	for idx := range left.Children {
		if !Equal(left.Children[idx], right.Children[idx]) {
			return false
		}
	}

	return true
}

// String returns a compact s-expression of the subtree, for debugging and tests.
func (targetNode *Node) String() string {
	var buf strings.Builder

	writeSExpr(&buf, targetNode)

	return buf.String()
}

func writeSExpr(buf *strings.Builder, targetNode *Node) {
	if targetNode == nil {
		buf.WriteString("nil")

		return
	}

	if len(targetNode.Children) == 0 {
		buf.WriteString(string(targetNode.Type))

		if targetNode.Token != "" {
			buf.WriteByte(' ')
			buf.WriteString(strconv.Quote(targetNode.Token))
		}

		return
	}

	buf.WriteByte('(')
	buf.WriteString(string(targetNode.Type))

	for _, child := range targetNode.Children {
		buf.WriteByte(' ')
		writeSExpr(buf, child)
	}

	buf.WriteByte(')')
}
