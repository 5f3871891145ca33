package commands

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Sumatoshi-tech/codesift/pkg/pattern"
	"github.com/Sumatoshi-tech/codesift/pkg/report"
	"github.com/Sumatoshi-tech/codesift/pkg/uast"
	"github.com/Sumatoshi-tech/codesift/pkg/uast/pkg/node"
)

// Sentinel errors for the parse command.
var (
	ErrParseInput       = errors.New("give a file or --pattern, not both")
	ErrPatternLanguage  = errors.New("--pattern needs --language")
	ErrUnknownLanguage  = errors.New("unknown language")
	ErrUndetectableFile = errors.New("cannot detect language, use --language")
)

type parseFlags struct {
	language string
	pattern  string
	output   string
	query    string
	compact  bool
}

func newParseCommand() *cobra.Command {
	flags := &parseFlags{}

	cmd := &cobra.Command{
		Use:   "parse [file]",
		Short: "Print the syntax tree of a file or pattern",
		Long: `Parse a source file, or a rule pattern, into the uniform syntax tree used
for matching and print it as JSON.

Examples:
  codesift parse Main.java
  codesift parse -l python script
  codesift parse --pattern '$CLIP.setContents($A, $B)' --language java
  codesift parse --query method_invocation Main.java`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runParse(cmd, flags, args)
		},
	}

	cmd.Flags().StringVarP(&flags.language, "language", "l", "", "force the language")
	cmd.Flags().StringVarP(&flags.pattern, "pattern", "p", "", "compile this pattern instead of parsing a file")
	cmd.Flags().StringVarP(&flags.output, "output", "o", "", "output file (default: stdout)")
	cmd.Flags().StringVar(&flags.query, "query", "", "print only nodes of this type")
	cmd.Flags().BoolVar(&flags.compact, "compact", false, "print JSON on one line")

	return cmd
}

func runParse(cmd *cobra.Command, flags *parseFlags, args []string) error {
	if (len(args) == 1) == (flags.pattern != "") {
		return fatal(ErrParseInput)
	}

	language := ""

	if flags.language != "" {
		canonical, ok := uast.NormalizeLanguage(flags.language)
		if !ok {
			return fatal(fmt.Errorf("%w: %s", ErrUnknownLanguage, flags.language))
		}

		language = canonical
	}

	var (
		root *node.Node
		err  error
	)

	if flags.pattern != "" {
		root, err = parsePattern(flags.pattern, language)
	} else {
		root, err = parseSourceFile(cmd, args[0], language)
	}

	if err != nil {
		return fatal(err)
	}

	if flags.query != "" {
		root = &node.Node{
			Type: "filtered_results",
			Children: root.Find(func(candidate *node.Node) bool {
				return string(candidate.Type) == flags.query
			}),
		}
	}

	data, err := encodeTree(root, flags.compact)
	if err != nil {
		return fatal(err)
	}

	err = writeOutput(flags.output, cmd.OutOrStdout(), data)
	if err != nil {
		return fatal(err)
	}

	return nil
}

func parsePattern(source, language string) (*node.Node, error) {
	if language == "" {
		return nil, ErrPatternLanguage
	}

	compiled, err := pattern.Compile(source, language)
	if err != nil {
		return nil, err
	}

	roots := compiled.Nodes()
	if len(roots) == 1 {
		return roots[0], nil
	}

	return &node.Node{Type: "pattern_sequence", Children: roots}, nil
}

// parseSourceFile parses path. A recovered syntax error is printed to stderr
// and the partial tree is still returned.
func parseSourceFile(cmd *cobra.Command, path, language string) (*node.Node, error) {
	content, resolved, err := safeReadFile(path)
	if err != nil {
		return nil, err
	}

	if language == "" {
		language = uast.DetectLanguage(resolved)
		if language == "" {
			return nil, fmt.Errorf("%w: %s", ErrUndetectableFile, path)
		}
	}

	file, err := uast.NewParser().Parse(cmd.Context(), language, content)
	if file == nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	if err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "warning: %s: %s\n", report.SingleLine(path), report.SingleLine(err.Error()))
	}

	return file.Root, nil
}

func encodeTree(root *node.Node, compact bool) ([]byte, error) {
	var (
		data []byte
		err  error
	)

	if compact {
		data, err = json.Marshal(root)
	} else {
		data, err = json.MarshalIndent(root, "", "  ")
	}

	if err != nil {
		return nil, fmt.Errorf("encode tree: %w", err)
	}

	return append(data, '\n'), nil
}
