package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

// ValidationResult is the JSON payload of the validate command.
type ValidationResult struct {
	Valid      bool              `json:"valid"`
	Files      int               `json:"files,omitempty"`
	Namespaces int               `json:"namespaces,omitempty"`
	Groups     int               `json:"groups,omitempty"`
	Triggers   int               `json:"triggers,omitempty"`
	Errors     []ValidationError `json:"errors,omitempty"`
}

// ValidationError is one manifest problem.
type ValidationError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Line    int    `json:"line,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <manifest-dir>",
		Short: "Check a CUE trigger manifest",
		Long: `Compile the CUE trigger manifest in a directory and report problems.

Checks the schema, names, parameter kinds and cron schedules without
touching a database.

Exit codes:
  0 - Manifest is valid
  1 - Manifest has errors
  2 - Directory missing or holds no CUE files`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}
	return cmd
}

func runValidate(opts *RootOptions, dir string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	m, err := LoadManifest(dir)
	if err != nil {
		var le *LoadError
		if !errors.As(err, &le) {
			le = &LoadError{Code: ErrCodeGeneric, Message: err.Error()}
		}
		switch le.Code {
		case ErrCodeNotFound, ErrCodeNoFiles, ErrCodeScanError:
			_ = formatter.Error(le.Code, le.Message, nil)
			return NewExitError(ExitCommandError, fmt.Sprintf("%s: %s", le.Code, le.Message))
		}
		return outputValidationErrors(formatter, []ValidationError{{
			Code:    le.Code,
			Message: le.Message,
			Line:    le.Line(),
		}})
	}

	result := ValidationResult{
		Valid:      true,
		Files:      len(m.Files),
		Namespaces: len(m.Namespaces),
		Triggers:   m.TriggerCount(),
	}
	for _, ns := range m.Namespaces {
		result.Groups += len(ns.Groups)
		formatter.VerboseLog("namespace %s: %d group(s)", ns.Name, len(ns.Groups))
	}

	if formatter.JSON() {
		return formatter.Success(result)
	}
	fmt.Fprintf(formatter.Writer, "✓ Manifest valid: %d namespace(s), %d group(s), %d trigger(s) in %d file(s)\n",
		result.Namespaces, result.Groups, result.Triggers, result.Files)
	return nil
}

func outputValidationErrors(formatter *OutputFormatter, errs []ValidationError) error {
	if formatter.JSON() {
		if err := formatter.Failure(ValidationResult{Valid: false, Errors: errs}, errs[0].Code, errs[0].Message); err != nil {
			return err
		}
		return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(errs)))
	}

	fmt.Fprintln(formatter.Writer, "✗ Validation failed")
	fmt.Fprintln(formatter.Writer)
	for _, e := range errs {
		if e.Line > 0 {
			fmt.Fprintf(formatter.Writer, "line %d\n", e.Line)
		}
		fmt.Fprintf(formatter.Writer, "  %s: %s\n\n", e.Code, e.Message)
	}
	return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(errs)))
}
