package uast

import (
	"slices"
	"strings"
	"sync"
	"unsafe"

	sitter "github.com/alexaandru/go-tree-sitter-bare"

	"github.com/alexaandru/go-sitter-forest/c"
	golang "github.com/alexaandru/go-sitter-forest/go"
	"github.com/alexaandru/go-sitter-forest/java"
	"github.com/alexaandru/go-sitter-forest/javascript"
	"github.com/alexaandru/go-sitter-forest/kotlin"
	"github.com/alexaandru/go-sitter-forest/python"
	"github.com/alexaandru/go-sitter-forest/ruby"
	"github.com/alexaandru/go-sitter-forest/typescript"
)

// Language identifiers accepted in rule documents.
const (
	LangC          = "c"
	LangGo         = "go"
	LangJava       = "java"
	LangJavaScript = "javascript"
	LangKotlin     = "kotlin"
	LangPython     = "python"
	LangRuby       = "ruby"
	LangTypeScript = "typescript"
)

// languageSpec describes one supported grammar.
type languageSpec struct {
	grammar    func() unsafe.Pointer
	extensions []string
	// enryNames are the linguist names enry reports for this language.
	enryNames []string
}

var languageSpecs = map[string]languageSpec{
	LangC:          {grammar: c.GetLanguage, extensions: []string{".c", ".h"}, enryNames: []string{"C"}},
	LangGo:         {grammar: golang.GetLanguage, extensions: []string{".go"}, enryNames: []string{"Go"}},
	LangJava:       {grammar: java.GetLanguage, extensions: []string{".java"}, enryNames: []string{"Java"}},
	LangJavaScript: {grammar: javascript.GetLanguage, extensions: []string{".js", ".mjs", ".cjs", ".jsx"}, enryNames: []string{"JavaScript"}},
	LangKotlin:     {grammar: kotlin.GetLanguage, extensions: []string{".kt", ".kts"}, enryNames: []string{"Kotlin"}},
	LangPython:     {grammar: python.GetLanguage, extensions: []string{".py", ".pyw"}, enryNames: []string{"Python"}},
	LangRuby:       {grammar: ruby.GetLanguage, extensions: []string{".rb", ".rake", ".gemspec"}, enryNames: []string{"Ruby"}},
	LangTypeScript: {grammar: typescript.GetLanguage, extensions: []string{".ts", ".mts", ".cts"}, enryNames: []string{"TypeScript"}},
}

var languageAliases = map[string]string{
	"golang": LangGo,
	"js":     LangJavaScript,
	"kt":     LangKotlin,
	"py":     LangPython,
	"rb":     LangRuby,
	"ts":     LangTypeScript,
}

var (
	extensionIndex = buildExtensionIndex()
	enryIndex      = buildEnryIndex()
	languageCache  sync.Map
)

func buildExtensionIndex() map[string]string {
	index := make(map[string]string)

	for name, spec := range languageSpecs {
		for _, ext := range spec.extensions {
			index[ext] = name
		}
	}

	return index
}

func buildEnryIndex() map[string]string {
	index := make(map[string]string)

	for name, spec := range languageSpecs {
		for _, enryName := range spec.enryNames {
			index[enryName] = name
		}
	}

	return index
}

// Languages returns the sorted list of supported language identifiers.
func Languages() []string {
	names := make([]string, 0, len(languageSpecs))

	for name := range languageSpecs {
		names = append(names, name)
	}

	slices.Sort(names)

	return names
}

// NormalizeLanguage maps a user supplied language name or alias to its
// canonical identifier. The second result is false for unknown languages.
func NormalizeLanguage(name string) (string, bool) {
	lower := strings.ToLower(strings.TrimSpace(name))

	if _, ok := languageSpecs[lower]; ok {
		return lower, true
	}

	canonical, ok := languageAliases[lower]

	return canonical, ok
}

// GetLanguage returns the tree-sitter Language for the given name, or nil if not supported.
func GetLanguage(name string) *sitter.Language {
	if cached, ok := languageCache.Load(name); ok {
		lang, castOK := cached.(*sitter.Language)
		if castOK {
			return lang
		}
	}

	spec, ok := languageSpecs[name]
	if !ok {
		return nil
	}

	var lang *sitter.Language

	func() {
		defer func() {
			_ = recover() //nolint:errcheck // recover() returns any, not error
		}()

		lang = sitter.NewLanguage(spec.grammar())
	}()

	if lang == nil {
		return nil
	}

	languageCache.Store(name, lang)

	return lang
}
