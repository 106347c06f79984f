package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/compositefk/internal/compiler"
	"github.com/roach88/compositefk/internal/compositefk"
)

// CheckReport holds the outcome of checking a declarations directory.
type CheckReport struct {
	Valid       bool                       `json:"valid"`
	Entities    int                        `json:"entities"`
	References  int                        `json:"references"`
	Errors      []compiler.ValidationError `json:"errors,omitempty"`
	Diagnostics []compositefk.Diagnostic   `json:"diagnostics,omitempty"`
	Warnings    []compiler.CycleWarning    `json:"warnings,omitempty"`
}

// NewCheckCommand creates the check command.
func NewCheckCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check <declarations-dir>",
		Short: "Check entity declarations and composite references",
		Long: `Check the entities and composite foreign keys declared in a directory.

Declarations are read from the CUE package in the directory and from every
YAML file below it. Every problem is reported: malformed declarations
(E1xx), composite reference diagnostics (E001-E006), and CASCADE cycles as
warnings.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true, // Don't print usage on errors
		SilenceErrors: true, // Don't print errors - we handle our own error output
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheck(rootOpts, args[0], cmd)
		},
	}

	return cmd
}

func runCheck(opts *RootOptions, dir string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(), // Verbose logs go to stderr to avoid corrupting JSON
		Verbose:   opts.Verbose,
	}

	// Collect every malformed declaration, not only the first one
	result, loadErrors := LoadDeclarations(dir, LoadModeCollectAll)
	if result == nil && len(loadErrors) > 0 {
		return commandError(formatter, loadErrors[0])
	}

	formatter.VerboseLog("Found %d declaration file(s) in %s", result.FileCount(), dir)

	funcs, _, err := newFuncs(opts.Lang)
	if err != nil {
		return commandError(formatter, &LoadError{Code: ErrCodeBadArgument, Message: err.Error()})
	}

	report := CheckReport{Entities: len(result.Entities)}
	for _, err := range loadErrors {
		report.Errors = append(report.Errors, loadErrorToValidation(err))
	}
	report.Errors = append(report.Errors, compiler.Validate(result.Entities, funcs)...)

	if len(report.Errors) == 0 {
		reg, buildErr := compiler.Build(result.Entities, compiler.WithFuncs(funcs), compiler.WithLogger(opts.logger()))
		if buildErr != nil {
			report.Errors = append(report.Errors, compiler.ValidationError{
				Field:   "build",
				Message: buildErr.Error(),
				Code:    ErrCodeDeclaration,
			})
		} else {
			for _, e := range reg.Entities() {
				formatter.VerboseLog("Checking entity: %s", e.Name)
				report.References += len(e.References())
			}
			report.Diagnostics = compositefk.CheckAll(reg)
			report.Warnings = compiler.AnalyzeCascades(reg)
		}
	}

	report.Valid = len(report.Errors) == 0 && len(report.Diagnostics) == 0
	if !report.Valid {
		return outputCheckFailure(formatter, report)
	}
	return outputCheckSuccess(formatter, report)
}

// loadErrorToValidation reports a malformed declaration alongside the
// validation errors.
func loadErrorToValidation(err error) compiler.ValidationError {
	var loadErr *LoadError
	if errors.As(err, &loadErr) {
		return compiler.ValidationError{
			Field:   "load",
			Message: loadErr.Message,
			Code:    loadErr.Code,
			Line:    loadErr.Pos.Line,
		}
	}
	return compiler.ValidationError{Field: "load", Message: err.Error(), Code: ErrCodeDeclaration}
}

// outputCheckSuccess outputs a clean check.
func outputCheckSuccess(formatter *OutputFormatter, report CheckReport) error {
	if formatter.IsJSON() {
		return formatter.Success(report)
	}

	fmt.Fprintf(formatter.Writer, "✓ %d entit%s, %d composite reference(s)\n",
		report.Entities, plural(report.Entities, "y", "ies"), report.References)
	writeWarnings(formatter, report.Warnings)
	return nil
}

// outputCheckFailure outputs every problem found.
func outputCheckFailure(formatter *OutputFormatter, report CheckReport) error {
	problems := len(report.Errors) + len(report.Diagnostics)
	exitErr := NewExitError(ExitFailure, fmt.Sprintf("check failed with %d problem(s)", problems))

	if formatter.IsJSON() {
		code, message := firstProblem(report)
		if err := formatter.Failure(code, message, report); err != nil {
			return err
		}
		return exitErr
	}

	fmt.Fprintf(formatter.Writer, "✗ Check failed: %d problem(s)\n\n", problems)
	for _, err := range report.Errors {
		fmt.Fprintf(formatter.Writer, "  %s\n", err.Error())
	}
	for _, d := range report.Diagnostics {
		fmt.Fprintf(formatter.Writer, "  %s\n", d.String())
		if d.Hint != "" {
			fmt.Fprintf(formatter.Writer, "         hint: %s\n", d.Hint)
		}
	}
	writeWarnings(formatter, report.Warnings)

	// Check failures = exit code 1
	return exitErr
}

func writeWarnings(formatter *OutputFormatter, warnings []compiler.CycleWarning) {
	if len(warnings) == 0 {
		return
	}
	fmt.Fprintln(formatter.Writer)
	for _, w := range warnings {
		fmt.Fprintf(formatter.Writer, "  ⚠ %s\n", w.Message)
	}
}

func firstProblem(report CheckReport) (string, string) {
	if len(report.Errors) > 0 {
		return report.Errors[0].Code, report.Errors[0].Message
	}
	d := report.Diagnostics[0]
	return d.ID, d.Subject + ": " + d.Message
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
