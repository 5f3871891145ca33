package commands

import (
	"errors"
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/Sumatoshi-tech/codesift/pkg/diag"
	"github.com/Sumatoshi-tech/codesift/pkg/engine"
	"github.com/Sumatoshi-tech/codesift/pkg/report"
	"github.com/Sumatoshi-tech/codesift/pkg/rules"
)

// ErrInvalidRules is returned when some rules failed to load.
var ErrInvalidRules = errors.New("invalid rules")

func newValidateCommand(global *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "validate [rules...]",
		Short: "Load, schema-check and compile rule files",
		Long: `Load rule files or directories, check every rule against the rule schema
and compile its patterns. Diagnostics are printed one per line.

Without arguments the rule paths come from rules.paths in the config.

Exit codes:
  0  every rule is valid
  1  some rules were rejected
  2  no valid rules, or a rules path is missing`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(cmd, global, args)
		},
	}
}

func runValidate(cmd *cobra.Command, global *globalFlags, paths []string) error {
	if len(paths) == 0 {
		cfg, err := global.loadConfig()
		if err != nil {
			return err
		}

		paths = cfg.Rules.Paths
	}

	if len(paths) == 0 {
		return fatal(ErrNoRulePaths)
	}

	set, diags, loadErr := rules.Load(paths...)

	out := cmd.OutOrStdout()
	warn := color.New(color.FgYellow)
	bad := color.New(color.FgRed, color.Bold)

	for _, d := range diags {
		label := warn

		if d.Level == diag.LevelError {
			label = bad
		}

		fmt.Fprintln(out, label.Sprint(report.SingleLine(d.String())))
	}

	if loadErr != nil {
		return fatal(loadErr)
	}

	if !global.quiet {
		fmt.Fprintf(out, "%d rules valid (%s)\n", set.Len(), languageList(set))
	}

	if errs := diag.Count(diags, diag.LevelError); errs > 0 {
		return &ExitError{Code: engine.ExitFindings, Err: fmt.Errorf("%w: %d rejected", ErrInvalidRules, errs)}
	}

	return nil
}

func languageList(set *rules.Set) string {
	langs := set.Languages()
	if len(langs) == 0 {
		return "no languages"
	}

	return strings.Join(langs, ", ")
}
