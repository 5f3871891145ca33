package uast

import (
	"errors"
	"fmt"

	"github.com/Sumatoshi-tech/codesift/pkg/uast/pkg/node"
)

// Sentinel errors for parser operations.
var (
	ErrUnsupportedLanguage  = errors.New("unsupported language")
	errLanguageNotAvailable = errors.New("tree-sitter language not available")
	errNoRootNode           = errors.New("parser: no root node")
	errPoolType             = errors.New("parser: pool returned unexpected type")
)

// ParseError reports source that does not parse cleanly under its language.
//
// A non-fatal ParseError comes together with a usable tree: tree-sitter
// recovered and Pos points at the first error or missing node. A fatal one
// means no tree could be produced for the file.
type ParseError struct {
	Pos      *node.Positions
	Path     string
	Language string
	Reason   string
	Fatal    bool
}

func (e *ParseError) Error() string {
	where := e.Path
	if where == "" {
		where = "<input>"
	}

	if e.Pos != nil {
		return fmt.Sprintf("%s:%d:%d: parse error (%s): %s", where, e.Pos.StartLine, e.Pos.StartCol, e.Language, e.Reason)
	}

	return fmt.Sprintf("%s: parse error (%s): %s", where, e.Language, e.Reason)
}

// IsFatal reports whether err is a ParseError that produced no tree.
func IsFatal(err error) bool {
	var parseErr *ParseError
	if errors.As(err, &parseErr) {
		return parseErr.Fatal
	}

	return err != nil
}
