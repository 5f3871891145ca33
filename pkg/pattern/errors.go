package pattern

import (
	"errors"
	"fmt"
)

// ErrUnsupportedLanguage is returned for languages without pattern support.
var ErrUnsupportedLanguage = errors.New("pattern: unsupported language")

// SyntaxError reports a malformed pattern. Line and Col are 1-based and
// relative to the pattern source; zero means the position is unknown.
type SyntaxError struct {
	Pattern  string
	Language string
	Reason   string
	Line     int
	Col      int
}

func (e *SyntaxError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("pattern syntax error (%s) at %d:%d: %s", e.Language, e.Line, e.Col, e.Reason)
	}

	return fmt.Sprintf("pattern syntax error (%s): %s", e.Language, e.Reason)
}
