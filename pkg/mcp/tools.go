package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/Sumatoshi-tech/codesift/pkg/diag"
	"github.com/Sumatoshi-tech/codesift/pkg/engine"
	"github.com/Sumatoshi-tech/codesift/pkg/pattern"
	"github.com/Sumatoshi-tech/codesift/pkg/rules"
	"github.com/Sumatoshi-tech/codesift/pkg/uast"
	"github.com/Sumatoshi-tech/codesift/pkg/uast/pkg/node"
)

// Tool name constants.
const (
	ToolNameScan  = "codesift_scan"
	ToolNameParse = "codesift_parse"
)

// Input size limits.
const (
	// MaxCodeInputBytes is the maximum allowed size for inline code input (1 MB).
	MaxCodeInputBytes = 1 << 20
	// MaxRulesInputBytes is the maximum allowed size for inline rules.
	MaxRulesInputBytes = 1 << 18
)

// Sentinel errors for tool input validation.
var (
	ErrEmptyCode           = errors.New("code parameter is required and must not be empty")
	ErrEmptyLanguage       = errors.New("language parameter is required and must not be empty")
	ErrEmptyRules          = errors.New("rules parameter is required and must not be empty")
	ErrCodeTooLarge        = errors.New("code input exceeds maximum size")
	ErrRulesTooLarge       = errors.New("rules input exceeds maximum size")
	ErrUnsupportedLanguage = errors.New("unsupported language")
)

// ScanInput is the input schema for the codesift_scan tool.
type ScanInput struct {
	Code     string   `json:"code"               jsonschema:"source code to scan"`
	Language string   `json:"language"           jsonschema:"programming language (e.g. java python javascript)"`
	Rules    string   `json:"rules"              jsonschema:"YAML rule document with a top-level rules list"`
	Path     string   `json:"path,omitempty"     jsonschema:"file name recorded in findings (default: input.<language>)"`
	RuleIDs  []string `json:"rule_ids,omitempty" jsonschema:"optional rule ids to run (default: all)"`
}

// ParseInput is the input schema for the codesift_parse tool.
type ParseInput struct {
	Code     string `json:"code"              jsonschema:"source code or pattern to parse"`
	Language string `json:"language"          jsonschema:"programming language (e.g. java python javascript)"`
	Query    string `json:"query,omitempty"   jsonschema:"optional node type filter (e.g. method_invocation)"`
	Pattern  bool   `json:"pattern,omitempty" jsonschema:"compile code as a rule pattern with metavariables and ellipses"`
}

// ScanResult is the payload returned by codesift_scan.
type ScanResult struct {
	Findings    []engine.Finding  `json:"findings"`
	Diagnostics []diag.Diagnostic `json:"diagnostics,omitempty"`
}

// ToolOutput is a generic wrapper for tool results.
type ToolOutput struct {
	Data any `json:"data"`
}

func (s *Server) handleScan(
	ctx context.Context,
	_ *mcpsdk.CallToolRequest,
	input ScanInput,
) (*mcpsdk.CallToolResult, ToolOutput, error) {
	language, err := validateCodeInput(input.Code, input.Language)
	if err != nil {
		return errorResult(err)
	}

	if input.Rules == "" {
		return errorResult(ErrEmptyRules)
	}

	if len(input.Rules) > MaxRulesInputBytes {
		return errorResult(fmt.Errorf("%w: %d bytes (max %d)", ErrRulesTooLarge, len(input.Rules), MaxRulesInputBytes))
	}

	set, ruleDiags, err := rules.Parse([]byte(input.Rules), "rules")
	if err != nil {
		return errorResult(fmt.Errorf("load rules: %w: %s", err, describe(ruleDiags)))
	}

	if len(input.RuleIDs) > 0 {
		set, err = set.Select(input.RuleIDs...)
		if err != nil {
			return errorResult(err)
		}
	}

	path := input.Path
	if path == "" {
		path = "input." + language
	}

	scanner := engine.NewScanner(set, engine.Options{Jobs: 1}, engine.WithParser(s.parser), engine.WithLogger(s.logger))

	findings, parseDiags, err := scanner.ScanSource(ctx, language, path, []byte(input.Code))
	if err != nil {
		return errorResult(fmt.Errorf("parse code: %w", err))
	}

	diags := append(ruleDiags, parseDiags...)
	diag.Sort(diags)

	s.logger.DebugContext(ctx, "mcp scan", "language", language, "rules", set.Len(), "findings", len(findings))

	return jsonResult(ScanResult{Findings: findings, Diagnostics: diags})
}

func (s *Server) handleParse(
	ctx context.Context,
	_ *mcpsdk.CallToolRequest,
	input ParseInput,
) (*mcpsdk.CallToolResult, ToolOutput, error) {
	language, err := validateCodeInput(input.Code, input.Language)
	if err != nil {
		return errorResult(err)
	}

	var root *node.Node

	if input.Pattern {
		compiled, compileErr := pattern.NewCompiler(s.parser).Compile(input.Code, language)
		if compileErr != nil {
			return errorResult(compileErr)
		}

		root = patternRoot(compiled)
	} else {
		file, parseErr := s.parser.Parse(ctx, language, []byte(input.Code))
		if file == nil {
			return errorResult(fmt.Errorf("parse code: %w", parseErr))
		}

		root = file.Root
	}

	if input.Query != "" {
		root = filterNodesByType(root, input.Query)
	}

	return jsonResult(root)
}

// patternRoot returns the single pattern root, or a synthetic sequence node
// holding the roots of a multi-statement pattern.
func patternRoot(compiled *pattern.Pattern) *node.Node {
	roots := compiled.Nodes()
	if len(roots) == 1 {
		return roots[0]
	}

	return &node.Node{Type: "pattern_sequence", Children: roots}
}

// filterNodesByType creates a filtered tree containing only nodes matching the query type.
func filterNodesByType(root *node.Node, nodeType string) *node.Node {
	matches := root.Find(func(candidate *node.Node) bool {
		return string(candidate.Type) == nodeType
	})

	return &node.Node{
		Type:     "filtered_results",
		Children: matches,
	}
}

func describe(diags []diag.Diagnostic) string {
	if len(diags) == 0 {
		return "rule document is empty"
	}

	return diags[0].String()
}

// errorResult builds a CallToolResult with isError set.
func errorResult(err error) (*mcpsdk.CallToolResult, ToolOutput, error) {
	return &mcpsdk.CallToolResult{
		Content: []mcpsdk.Content{
			&mcpsdk.TextContent{Text: err.Error()},
		},
		IsError: true,
	}, ToolOutput{}, nil
}

// jsonResult builds a CallToolResult with JSON-encoded content.
func jsonResult(value any) (*mcpsdk.CallToolResult, ToolOutput, error) {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return errorResult(fmt.Errorf("encode result: %w", err))
	}

	return &mcpsdk.CallToolResult{
		Content: []mcpsdk.Content{
			&mcpsdk.TextContent{Text: string(data)},
		},
	}, ToolOutput{Data: value}, nil
}

// validateCodeInput checks common code input constraints and returns the
// canonical language name.
func validateCodeInput(code, language string) (string, error) {
	if code == "" {
		return "", ErrEmptyCode
	}

	if language == "" {
		return "", ErrEmptyLanguage
	}

	if len(code) > MaxCodeInputBytes {
		return "", fmt.Errorf("%w: %d bytes (max %d)", ErrCodeTooLarge, len(code), MaxCodeInputBytes)
	}

	canonical, ok := uast.NormalizeLanguage(language)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedLanguage, language)
	}

	return canonical, nil
}
