package pattern

import (
	"fmt"
	"slices"
	"strings"
)

// Reserved identifiers substituted for pattern syntax before parsing.
const (
	metavariablePrefix = "__sift_mv_"
	ellipsisIdentifier = "__sift_ellipsis__"
	ellipsisToken      = "..."
)

type bracket struct {
	char   rune
	line   int
	col    int
	id     int
	offset int
}

// rewriter is a single-pass scanner over pattern source. It replaces
// metavariables and ellipses with reserved identifiers and checks that every
// ellipsis stands for complete siblings at a single nesting level.
type rewriter struct {
	out    strings.Builder
	src    string
	syn    syntax
	lang   string
	stack  []bracket
	nextID int
	line   int
	col    int
	// ellipsisScopes holds, per ellipsis, the ids of the brackets enclosing it.
	ellipsisScopes [][]int
	// emptied holds output offsets of braces whose only content was an ellipsis.
	emptied     []int
	topEllipsis bool
}

var closers = map[rune]rune{')': '(', ']': '[', '}': '{'}

// rewriteResult is pattern source ready for the grammar.
type rewriteResult struct {
	text string
	// emptied are offsets into text of "{" whose sole content, an ellipsis,
	// was removed so the braces parse in any context.
	emptied []int
}

func rewrite(src, lang string, syn syntax) (rewriteResult, error) {
	rw := &rewriter{src: src, syn: syn, lang: lang, line: 1, col: 1}

	text, err := rw.run()
	if err != nil {
		return rewriteResult{}, err
	}

	return rewriteResult{text: text, emptied: rw.emptied}, nil
}

func (rw *rewriter) run() (string, error) {
	for pos := 0; pos < len(rw.src); {
		char := rune(rw.src[pos])

		switch {
		case char == '"' || char == '\'' || char == '`':
			next, err := rw.copyString(pos)
			if err != nil {
				return "", err
			}

			pos = next
		case char == '$' && pos+1 < len(rw.src) && isMetavariableStart(rw.src[pos+1]):
			end := pos + 1
			for end < len(rw.src) && isMetavariablePart(rw.src[end]) {
				end++
			}

			rw.out.WriteString(metavariablePrefix)
			rw.out.WriteString(rw.src[pos+1 : end])
			rw.advance(rw.src[pos:end])
			pos = end
		case strings.HasPrefix(rw.src[pos:], ellipsisToken) && rw.isEllipsis(pos):
			rw.writeEllipsis(pos)
			rw.advance(ellipsisToken)
			pos += len(ellipsisToken)
		case char == '(' || char == '[' || char == '{':
			rw.stack = append(rw.stack, bracket{char: char, line: rw.line, col: rw.col, id: rw.nextID, offset: rw.out.Len()})
			rw.nextID++
			rw.copyByte(pos)
			pos++
		case char == ')' || char == ']' || char == '}':
			err := rw.closeBracket(char)
			if err != nil {
				return "", err
			}

			rw.copyByte(pos)
			pos++
		default:
			rw.copyByte(pos)
			pos++
		}
	}

	err := rw.checkUnterminated()
	if err != nil {
		return "", err
	}

	return rw.out.String(), nil
}

func (rw *rewriter) copyByte(pos int) {
	rw.out.WriteByte(rw.src[pos])
	rw.advance(rw.src[pos : pos+1])
}

func (rw *rewriter) advance(text string) {
	for _, char := range text {
		if char == '\n' {
			rw.line++
			rw.col = 1

			continue
		}

		rw.col++
	}
}

func (rw *rewriter) copyString(start int) (int, error) {
	quote := rw.src[start]
	line, col := rw.line, rw.col

	for pos := start + 1; pos < len(rw.src); pos++ {
		switch rw.src[pos] {
		case '\\':
			pos++
		case quote:
			rw.out.WriteString(rw.src[start : pos+1])
			rw.advance(rw.src[start : pos+1])

			return pos + 1, nil
		}
	}

	return 0, rw.errorAt(line, col, "unterminated string literal")
}

// isEllipsis tells a pattern ellipsis apart from spread and variadic syntax
// ("...args", "xs...").
func (rw *rewriter) isEllipsis(pos int) bool {
	if pos > 0 {
		prev := rw.src[pos-1]
		if isIdentifierPart(prev) || prev == ')' || prev == ']' || prev == '.' {
			return false
		}
	}

	after := pos + len(ellipsisToken)
	if after < len(rw.src) {
		next := rw.src[after]
		if isIdentifierPart(next) || next == '$' || next == '.' || next == '[' || next == '(' || next == '{' {
			return false
		}
	}

	return true
}

func (rw *rewriter) writeEllipsis(pos int) {
	scope := make([]int, 0, len(rw.stack))
	for _, open := range rw.stack {
		scope = append(scope, open.id)
	}

	rw.ellipsisScopes = append(rw.ellipsisScopes, scope)

	if len(rw.stack) == 0 {
		rw.topEllipsis = true
	}

	if rw.soleInBraces(pos) {
		rw.emptied = append(rw.emptied, rw.stack[len(rw.stack)-1].offset)

		return
	}

	rw.out.WriteString(ellipsisIdentifier)

	if rw.syn.terminator != "" && rw.inStatementPosition(pos) {
		rw.out.WriteString(rw.syn.terminator)
	}
}

// soleInBraces reports whether the ellipsis at pos is the only content of a
// brace pair, as in "class $C { ... }".
func (rw *rewriter) soleInBraces(pos int) bool {
	if len(rw.stack) == 0 || rw.stack[len(rw.stack)-1].char != '{' {
		return false
	}

	before := strings.TrimRight(rw.src[:pos], " \t\r\n")
	after := strings.TrimLeft(rw.src[pos+len(ellipsisToken):], " \t\r\n")

	return strings.HasSuffix(before, "{") && strings.HasPrefix(after, "}")
}

// inStatementPosition reports whether the ellipsis at pos sits where a
// statement is expected: after an opening brace, a statement end, or at the
// start of the pattern, and not followed by an explicit terminator or a
// closing argument delimiter.
func (rw *rewriter) inStatementPosition(pos int) bool {
	before := strings.TrimRight(rw.src[:pos], " \t\r\n")
	if before != "" {
		switch before[len(before)-1] {
		case '{', ';', '}':
		default:
			return false
		}
	}

	after := strings.TrimLeft(rw.src[pos+len(ellipsisToken):], " \t\r\n")
	if after == "" {
		return before != ""
	}

	switch after[0] {
	case ';', ',', ')', ']', ':':
		return false
	}

	return true
}

func (rw *rewriter) closeBracket(char rune) error {
	want := closers[char]

	if len(rw.stack) == 0 {
		if rw.topEllipsis {
			return rw.errorAt(rw.line, rw.col, fmt.Sprintf("ellipsis crosses unmatched %q", char))
		}

		return rw.errorAt(rw.line, rw.col, fmt.Sprintf("unbalanced %q", char))
	}

	top := rw.stack[len(rw.stack)-1]
	if top.char != want {
		return rw.errorAt(rw.line, rw.col, fmt.Sprintf("%q does not close %q opened at %d:%d", char, top.char, top.line, top.col))
	}

	rw.stack = rw.stack[:len(rw.stack)-1]

	return nil
}

func (rw *rewriter) checkUnterminated() error {
	if len(rw.stack) == 0 {
		return nil
	}

	for _, open := range rw.stack {
		for _, scope := range rw.ellipsisScopes {
			if slices.Contains(scope, open.id) {
				return rw.errorAt(open.line, open.col,
					fmt.Sprintf("ellipsis inside unterminated %q: it must stand for complete siblings", open.char))
			}
		}
	}

	open := rw.stack[len(rw.stack)-1]

	return rw.errorAt(open.line, open.col, fmt.Sprintf("unterminated %q", open.char))
}

func (rw *rewriter) errorAt(line, col int, reason string) *SyntaxError {
	return &SyntaxError{
		Pattern:  rw.src,
		Language: rw.lang,
		Reason:   reason,
		Line:     line,
		Col:      col,
	}
}

func isMetavariableStart(char byte) bool {
	return char == '_' || (char >= 'A' && char <= 'Z')
}

func isMetavariablePart(char byte) bool {
	return isMetavariableStart(char) || (char >= '0' && char <= '9')
}

func isIdentifierPart(char byte) bool {
	return char == '_' || (char >= 'a' && char <= 'z') || (char >= 'A' && char <= 'Z') || (char >= '0' && char <= '9')
}
