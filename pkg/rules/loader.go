package rules

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"

	"github.com/Sumatoshi-tech/codesift/pkg/diag"
	"github.com/Sumatoshi-tech/codesift/pkg/pattern"
	"github.com/Sumatoshi-tech/codesift/pkg/uast"
)

// SchemaFS contains the embedded rule JSON schema.
//
//go:embed schema.json
var SchemaFS embed.FS

var ruleSchema = sync.OnceValues(func() (*gojsonschema.Schema, error) {
	data, err := SchemaFS.ReadFile("schema.json")
	if err != nil {
		return nil, fmt.Errorf("read embedded schema: %w", err)
	}

	return gojsonschema.NewSchema(gojsonschema.NewBytesLoader(data))
})

// Load reads rule files and directories (*.yml, *.yaml, walked in lexical
// order). Problems with individual rules are returned as diagnostics and the
// rule is skipped. A missing path and a result without valid rules are
// errors.
func Load(paths ...string) (*Set, []diag.Diagnostic, error) {
	files, err := collectRuleFiles(paths)
	if err != nil {
		return nil, nil, err
	}

	ld := newLoader()

	for _, file := range files {
		data, readErr := os.ReadFile(file)
		if readErr != nil {
			ld.report(diag.Error(diag.KindIO, file, readErr.Error()))

			continue
		}

		ld.addDocuments(data, file)
	}

	return ld.finish()
}

// Parse loads rules from an in-memory document. origin names it in diagnostics.
func Parse(data []byte, origin string) (*Set, []diag.Diagnostic, error) {
	ld := newLoader()
	ld.addDocuments(data, origin)

	return ld.finish()
}

// IsRuleFile reports whether path has a rule file extension.
func IsRuleFile(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))

	return ext == ".yml" || ext == ".yaml"
}

func collectRuleFiles(paths []string) ([]string, error) {
	if len(paths) == 0 {
		return nil, fmt.Errorf("%w: no rules path given", ErrRulesNotFound)
	}

	var files []string

	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			return nil, fmt.Errorf("%w: %s", ErrRulesNotFound, path)
		}

		if !info.IsDir() {
			files = append(files, path)

			continue
		}

		err = filepath.WalkDir(path, func(current string, entry fs.DirEntry, walkErr error) error {
			if walkErr != nil {
				return walkErr
			}

			if entry.IsDir() {
				if current != path && strings.HasPrefix(entry.Name(), ".") {
					return filepath.SkipDir
				}

				return nil
			}

			if IsRuleFile(current) {
				files = append(files, current)
			}

			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("walk rules directory %s: %w", path, err)
		}
	}

	return slices.Compact(files), nil
}

type loader struct {
	compiler *pattern.Compiler
	set      *Set
	diags    []diag.Diagnostic
}

func newLoader() *loader {
	set, _ := NewSet()

	return &loader{
		compiler: pattern.NewCompiler(uast.NewParser()),
		set:      set,
	}
}

func (ld *loader) report(d diag.Diagnostic) {
	ld.diags = append(ld.diags, d)
}

func (ld *loader) finish() (*Set, []diag.Diagnostic, error) {
	if ld.set.Len() == 0 {
		return ld.set, ld.diags, ErrNoValidRules
	}

	return ld.set, ld.diags, nil
}

func (ld *loader) addDocuments(data []byte, origin string) {
	decoder := yaml.NewDecoder(bytes.NewReader(data))

	for {
		var doc yaml.Node

		err := decoder.Decode(&doc)
		if errors.Is(err, io.EOF) {
			return
		}

		if err != nil {
			ld.report(diag.Error(diag.KindRule, origin, "invalid YAML: "+err.Error()))

			return
		}

		ld.addDocument(&doc, origin)
	}
}

func (ld *loader) addDocument(doc *yaml.Node, origin string) {
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 {
		return
	}

	root := doc.Content[0]

	list := mappingValue(root, "rules")
	if list == nil || list.Kind != yaml.SequenceNode {
		d := diag.Error(diag.KindRule, origin, errNoRulesKey.Error())
		d.Line = root.Line
		ld.report(d)

		return
	}

	for _, item := range list.Content {
		ld.addRule(item, origin)
	}
}

type ruleHeader struct {
	Metadata  map[string]any `yaml:"metadata"`
	ID        string         `yaml:"id"`
	Message   string         `yaml:"message"`
	Severity  string         `yaml:"severity"`
	Languages []string       `yaml:"languages"`
}

func (ld *loader) addRule(item *yaml.Node, origin string) {
	fail := func(kind diag.Kind, id string, line int, err error) {
		ld.report(diag.Diagnostic{
			Kind:    kind,
			Level:   diag.LevelError,
			Path:    origin,
			RuleID:  id,
			Line:    line,
			Message: err.Error(),
		})
	}

	id := ""
	if idNode := mappingValue(item, "id"); idNode != nil && idNode.Kind == yaml.ScalarNode {
		id = idNode.Value
	}

	err := validateSchema(item)
	if err != nil {
		fail(diag.KindRule, id, item.Line, err)

		return
	}

	var header ruleHeader

	err = item.Decode(&header)
	if err != nil {
		fail(diag.KindRule, id, item.Line, fmt.Errorf("decode rule: %w", err))

		return
	}

	severity, err := ParseSeverity(header.Severity)
	if err != nil {
		fail(diag.KindRule, header.ID, item.Line, err)

		return
	}

	languages, err := normalizeLanguages(header.Languages)
	if err != nil {
		fail(diag.KindRule, header.ID, item.Line, err)

		return
	}

	raw, err := topFormula(item)
	if err != nil {
		fail(diag.KindRule, header.ID, item.Line, err)

		return
	}

	formulas := make(map[string]*Formula, len(languages))

	for _, lang := range languages {
		compiled, compileErr := ld.compile(raw, lang)
		if compileErr != nil {
			ld.reportCompileError(compileErr, origin, header.ID, item.Line)

			return
		}

		formulas[lang] = compiled
	}

	rule := &Rule{
		ID:        header.ID,
		Message:   strings.TrimSpace(header.Message),
		Severity:  severity,
		Languages: languages,
		Metadata:  header.Metadata,
		Category:  category(header.Metadata),
		Origin:    origin,
		Line:      item.Line,
		formulas:  formulas,
	}

	err = ld.set.Add(rule)
	if err != nil {
		first, _ := ld.set.ByID(rule.ID)
		fail(diag.KindRule, rule.ID, item.Line, fmt.Errorf("%w, first defined at %s:%d", err, first.Origin, first.Line))
	}
}

func (ld *loader) reportCompileError(err error, origin, id string, ruleLine int) {
	d := diag.Diagnostic{
		Kind:    diag.KindRule,
		Level:   diag.LevelError,
		Path:    origin,
		RuleID:  id,
		Line:    ruleLine,
		Message: err.Error(),
	}

	var located *formulaError
	if errors.As(err, &located) {
		d.Line = located.line
	}

	var syntaxErr *pattern.SyntaxError
	if errors.As(err, &syntaxErr) {
		d.Kind = diag.KindPattern
		d.Message = syntaxErr.Error()

		if syntaxErr.Line > 0 {
			d.Line += syntaxErr.Line - 1
			d.Col = syntaxErr.Col
		}
	}

	ld.report(d)
}

func validateSchema(item *yaml.Node) error {
	schema, err := ruleSchema()
	if err != nil {
		return err
	}

	var document map[string]any

	err = item.Decode(&document)
	if err != nil {
		return fmt.Errorf("%w: %w", errSchemaValidation, err)
	}

	result, err := schema.Validate(gojsonschema.NewGoLoader(document))
	if err != nil {
		return fmt.Errorf("%w: %w", errSchemaValidation, err)
	}

	if result.Valid() {
		return nil
	}

	problems := make([]string, 0, len(result.Errors()))
	for _, verr := range result.Errors() {
		problems = append(problems, fmt.Sprintf("%s: %s", verr.Field(), verr.Description()))
	}

	slices.Sort(problems)

	return fmt.Errorf("%w: %s", errSchemaValidation, strings.Join(slices.Compact(problems), "; "))
}

func normalizeLanguages(names []string) ([]string, error) {
	languages := make([]string, 0, len(names))

	for _, name := range names {
		lang, ok := uast.NormalizeLanguage(name)
		if !ok {
			return nil, fmt.Errorf("%w: %q (supported: %s)", ErrUnknownLanguage, name, strings.Join(uast.Languages(), ", "))
		}

		languages = append(languages, lang)
	}

	slices.Sort(languages)

	return slices.Compact(languages), nil
}

func category(metadata map[string]any) string {
	value, ok := metadata["category"].(string)
	if !ok {
		return ""
	}

	return value
}

// mappingValue returns the value node for key in a mapping node.
func mappingValue(mapping *yaml.Node, key string) *yaml.Node {
	if mapping == nil || mapping.Kind != yaml.MappingNode {
		return nil
	}

	for idx := 0; idx+1 < len(mapping.Content); idx += 2 {
		if mapping.Content[idx].Value == key {
			return mapping.Content[idx+1]
		}
	}

	return nil
}

// formulaError attaches the YAML line of the failing formula element.
type formulaError struct {
	err  error
	line int
}

func (e *formulaError) Error() string { return e.err.Error() }

func (e *formulaError) Unwrap() error { return e.err }

// rawFormula is a formula whose patterns are still source text.
type rawFormula struct {
	regex        *regexp.Regexp
	source       string
	metavariable string
	children     []*rawFormula
	op           Op
	line         int
}

var topLevelKeys = []string{"pattern", "patterns", "pattern-either"}

func topFormula(item *yaml.Node) (*rawFormula, error) {
	for _, key := range topLevelKeys {
		value := mappingValue(item, key)
		if value != nil {
			return parseFormula(key, value)
		}
	}

	return nil, fmt.Errorf("%w: one of %s is required", errInvalidFormula, strings.Join(topLevelKeys, ", "))
}

var patternOps = map[string]Op{
	"pattern":            OpPattern,
	"pattern-not":        OpNot,
	"pattern-inside":     OpInside,
	"pattern-not-inside": OpNotInside,
}

func parseFormula(key string, value *yaml.Node) (*rawFormula, error) {
	if op, ok := patternOps[key]; ok {
		if value.Kind != yaml.ScalarNode {
			return nil, &formulaError{err: fmt.Errorf("%w: %s must be a string", errInvalidFormula, key), line: value.Line}
		}

		return &rawFormula{op: op, source: value.Value, line: scalarLine(value)}, nil
	}

	switch key {
	case "patterns":
		return parseList(OpAnd, value)
	case "pattern-either":
		return parseList(OpOr, value)
	case "metavariable-regex":
		return parseRegex(value)
	default:
		return nil, &formulaError{err: fmt.Errorf("%w: unknown operator %q", errInvalidFormula, key), line: value.Line}
	}
}

func parseList(op Op, value *yaml.Node) (*rawFormula, error) {
	if value.Kind != yaml.SequenceNode {
		return nil, &formulaError{err: fmt.Errorf("%w: %s must be a list", errInvalidFormula, op), line: value.Line}
	}

	result := &rawFormula{op: op, line: value.Line}

	for _, item := range value.Content {
		if item.Kind != yaml.MappingNode || len(item.Content) != 2 {
			return nil, &formulaError{err: fmt.Errorf("%w: %s items need exactly one operator", errInvalidFormula, op), line: item.Line}
		}

		child, err := parseFormula(item.Content[0].Value, item.Content[1])
		if err != nil {
			return nil, err
		}

		if op == OpOr && !child.op.Positive() {
			return nil, &formulaError{err: fmt.Errorf("%w: %s is only valid inside patterns", errInvalidFormula, child.op), line: item.Line}
		}

		result.children = append(result.children, child)
	}

	if op == OpAnd && !slices.ContainsFunc(result.children, func(child *rawFormula) bool { return child.op.Positive() }) {
		return nil, &formulaError{err: ErrMissingPositive, line: value.Line}
	}

	return result, nil
}

func parseRegex(value *yaml.Node) (*rawFormula, error) {
	var spec struct {
		Metavariable string `yaml:"metavariable"`
		Regex        string `yaml:"regex"`
	}

	err := value.Decode(&spec)
	if err != nil {
		return nil, &formulaError{err: fmt.Errorf("%w: %w", errInvalidFormula, err), line: value.Line}
	}

	compiled, err := regexp.Compile(spec.Regex)
	if err != nil {
		return nil, &formulaError{err: fmt.Errorf("%w: metavariable-regex: %w", errInvalidFormula, err), line: value.Line}
	}

	return &rawFormula{op: OpRegex, metavariable: spec.Metavariable, regex: compiled, line: value.Line}, nil
}

// scalarLine returns the line of the first character of a scalar's content.
// Block scalars start on the line after their indicator.
func scalarLine(value *yaml.Node) int {
	if value.Style&(yaml.LiteralStyle|yaml.FoldedStyle) != 0 {
		return value.Line + 1
	}

	return value.Line
}

func (ld *loader) compile(raw *rawFormula, language string) (*Formula, error) {
	switch raw.op {
	case OpPattern, OpNot, OpInside, OpNotInside:
		compiled, err := ld.compiler.Compile(raw.source, language)
		if err != nil {
			return nil, &formulaError{err: err, line: raw.line}
		}

		return &Formula{Op: raw.op, Pattern: compiled, Line: raw.line}, nil
	case OpRegex:
		return &Formula{Op: OpRegex, Metavariable: raw.metavariable, Regex: raw.regex, Line: raw.line}, nil
	case OpAnd, OpOr:
		result := &Formula{Op: raw.op, Line: raw.line}

		for _, child := range raw.children {
			compiled, err := ld.compile(child, language)
			if err != nil {
				return nil, err
			}

			result.Children = append(result.Children, compiled)
		}

		if raw.op == OpAnd {
			err := checkRegexBindings(result)
			if err != nil {
				return nil, err
			}
		}

		return result, nil
	default:
		return nil, &formulaError{err: fmt.Errorf("%w: %s", errInvalidFormula, raw.op), line: raw.line}
	}
}

func checkRegexBindings(conjunction *Formula) error {
	bound := make(map[string]struct{})

	for _, child := range conjunction.Children {
		if !child.Op.Positive() && child.Op != OpInside {
			continue
		}

		for _, compiled := range child.Patterns() {
			for _, name := range compiled.Metavariables {
				bound[name] = struct{}{}
			}
		}
	}

	for _, child := range conjunction.Children {
		if child.Op != OpRegex {
			continue
		}

		if _, ok := bound[child.Metavariable]; !ok {
			return &formulaError{err: fmt.Errorf("%w: %s", ErrUnboundRegexVar, child.Metavariable), line: child.Line}
		}
	}

	return nil
}
