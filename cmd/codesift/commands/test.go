package commands

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/Sumatoshi-tech/codesift/pkg/engine"
	"github.com/Sumatoshi-tech/codesift/pkg/ruletest"
)

const opTest = "test"

// ErrRuleTestsFailed is returned when a fixture's findings differ from its
// annotations.
var ErrRuleTestsFailed = errors.New("rule tests failed")

func newTestCommand(global *globalFlags, obsInit ObservabilityInit) *cobra.Command {
	flags := &scanFlags{}

	cmd := &cobra.Command{
		Use:   "test <path>",
		Short: "Check rules against annotated fixture files",
		Long: `Scan the fixtures under <path> and compare the findings with the
ruleid:, ok:, todoruleid: and todook: comments in each file.

A "ruleid: ID" comment expects a finding of rule ID on the next code line
(or on its own line when written after code). "ok: ID" expects none. The
todo variants are reported but never fail the run.

Exit codes:
  0  every annotated fixture passed
  1  at least one fixture failed
  2  fatal error`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTest(cmd, global, flags, obsInit, args[0])
		},
	}

	addRuleFlags(cmd, flags)

	return cmd
}

func runTest(cmd *cobra.Command, global *globalFlags, flags *scanFlags, obsInit ObservabilityInit, path string) (err error) {
	ctx := cmd.Context()

	sess, err := openSession(cmd, global, flags, obsInit)
	if err != nil {
		return err
	}
	defer sess.close(ctx)

	start := time.Now()
	done := sess.red.TrackInflight(ctx, opTest)

	defer func() {
		done()
		sess.record(ctx, opTest, start, err)
	}()

	scanner, set, ruleDiags, err := sess.newScanner(ctx)
	if err != nil {
		return err
	}

	result, err := ruletest.Run(ctx, scanner, path, engine.TargetOptions{
		Exclude:   sess.cfg.Scan.Exclude,
		Languages: set.Languages(),
	})
	if err != nil {
		return fatal(err)
	}

	sess.writeDiagnostics(ruleDiags)
	sess.writeDiagnostics(result.Diagnostics)

	err = result.Write(cmd.OutOrStdout(), useColor(sess.cfg.Output.Color, ""))
	if err != nil {
		return fatal(err)
	}

	if !result.Passed() {
		return &ExitError{
			Code: engine.ExitFindings,
			Err:  fmt.Errorf("%w: %d of %d fixtures", ErrRuleTestsFailed, result.Failed(), len(result.Files)),
		}
	}

	return nil
}
