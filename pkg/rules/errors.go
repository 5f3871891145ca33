package rules

import "errors"

// Sentinel errors for rule loading.
var (
	ErrRulesNotFound    = errors.New("rules path not found")
	ErrNoValidRules     = errors.New("no valid rules loaded")
	ErrUnknownRule      = errors.New("unknown rule id")
	ErrDuplicateRule    = errors.New("duplicate rule id")
	ErrInvalidSeverity  = errors.New("invalid severity")
	ErrUnknownLanguage  = errors.New("unknown language")
	ErrMissingPositive  = errors.New("patterns needs at least one pattern, patterns or pattern-either")
	ErrUnboundRegexVar  = errors.New("metavariable-regex names a metavariable no pattern binds")
	errInvalidFormula   = errors.New("invalid formula")
	errNoRulesKey       = errors.New("document has no rules list")
	errSchemaValidation = errors.New("rule does not match schema")
)
