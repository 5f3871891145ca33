// Package uast parses source files with tree-sitter grammars and normalizes
// the result into the uniform node tree consumed by patterns and the matcher.
package uast

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/src-d/enry/v2"

	sitter "github.com/alexaandru/go-tree-sitter-bare"

	"github.com/Sumatoshi-tech/codesift/pkg/safeconv"
	"github.com/Sumatoshi-tech/codesift/pkg/uast/pkg/node"
)

// File is a parsed source file.
type File struct {
	Root     *node.Node
	Language string
	Source   []byte
}

// Text returns the source text covered by targetNode.
func (file *File) Text(targetNode *node.Node) string {
	return SourceText(file.Source, targetNode)
}

// SourceText returns the slice of source covered by targetNode, or its token
// when the node carries no position.
func SourceText(source []byte, targetNode *node.Node) string {
	if targetNode == nil {
		return ""
	}

	if targetNode.Pos == nil {
		return targetNode.Token
	}

	start := safeconv.MustUintToInt(targetNode.Pos.StartOffset)
	end := safeconv.MustUintToInt(targetNode.Pos.EndOffset)

	if start > end || end > len(source) {
		return targetNode.Token
	}

	return string(source[start:end])
}

// Parser is the main entry point for parsing. It keeps one pool of
// tree-sitter parsers per language and is safe for concurrent use.
type Parser struct {
	pools sync.Map // language -> *sync.Pool
}

// NewParser creates a new Parser. Grammars are initialized lazily on first use.
func NewParser() *Parser {
	return &Parser{}
}

// IsSupported returns true if the given filename maps to a supported language.
func (parser *Parser) IsSupported(filename string) bool {
	return DetectLanguage(filename) != ""
}

// DetectLanguage returns the language identifier for filename, or an empty
// string. The extension table is consulted first, then enry's file name
// heuristics (Rakefile, Gemfile and friends).
func DetectLanguage(filename string) string {
	ext := strings.ToLower(filepath.Ext(filename))
	if lang, ok := extensionIndex[ext]; ok {
		return lang
	}

	enryLang := enry.GetLanguage(filepath.Base(filename), nil)
	if enryLang == "" {
		return ""
	}

	return enryIndex[enryLang]
}

// ParseFile detects the language of filename and parses content.
func (parser *Parser) ParseFile(ctx context.Context, filename string, content []byte) (*File, error) {
	lang := DetectLanguage(filename)
	if lang == "" {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedLanguage, filename)
	}

	file, err := parser.Parse(ctx, lang, content)
	if parseErr, ok := err.(*ParseError); ok { //nolint:errorlint // Parse returns *ParseError unwrapped.
		parseErr.Path = filename
	}

	return file, err
}

// Parse parses content as the given language. A recovered syntax error is
// returned as a non-fatal *ParseError together with the tree; a fatal one
// returns a nil File.
func (parser *Parser) Parse(ctx context.Context, language string, content []byte) (*File, error) {
	pool, err := parser.pool(language)
	if err != nil {
		return nil, err
	}

	tsParser, ok := pool.Get().(*sitter.Parser)
	if !ok {
		return nil, errPoolType
	}

	defer pool.Put(tsParser)

	tree, err := tsParser.ParseString(ctx, nil, content)
	if err != nil {
		return nil, fmt.Errorf("parser: failed to parse: %w", err)
	}
	defer tree.Close()

	root := tree.RootNode()
	if root.IsNull() {
		return nil, errNoRootNode
	}

	conv := &converter{source: content}
	file := &File{
		Root:     conv.convert(root),
		Language: language,
		Source:   content,
	}

	if root.Type() == errorNodeType || onlyErrors(file.Root) {
		return nil, &ParseError{
			Pos:      positions(root, content),
			Language: language,
			Reason:   "source is not valid " + language,
			Fatal:    true,
		}
	}

	if conv.firstError != nil {
		return file, &ParseError{
			Pos:      conv.firstError,
			Language: language,
			Reason:   conv.errorReason,
		}
	}

	return file, nil
}

func (parser *Parser) pool(language string) (*sync.Pool, error) {
	if cached, ok := parser.pools.Load(language); ok {
		pool, castOK := cached.(*sync.Pool)
		if castOK {
			return pool, nil
		}
	}

	if _, ok := languageSpecs[language]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedLanguage, language)
	}

	lang := GetLanguage(language)
	if lang == nil {
		return nil, fmt.Errorf("%w: %s", errLanguageNotAvailable, language)
	}

	pool := &sync.Pool{
		New: func() any {
			tsParser := sitter.NewParser()
			tsParser.SetLanguage(lang)

			return tsParser
		},
	}

	actual, _ := parser.pools.LoadOrStore(language, pool)

	stored, ok := actual.(*sync.Pool)
	if !ok {
		return nil, errPoolType
	}

	return stored, nil
}
