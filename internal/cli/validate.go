package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/duet/internal/compiler"
)

// ValidateOptions holds flags for the validate command.
type ValidateOptions struct {
	*RootOptions
	Lenient bool
	JSON    bool
}

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid  bool                       `json:"valid"`
	Errors []compiler.ValidationError `json:"errors,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ValidateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "validate <script>",
		Short: "Check a scenario script without writing output",
		Long: `Check a scenario script or JSON document and list every problem.

References are checked strictly unless --lenient is given.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(opts, args[0], cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Lenient, "lenient", false, "only check document shape")
	cmd.Flags().BoolVar(&opts.JSON, "json", false, "treat input as a JSON document")

	return cmd
}

func runValidate(opts *ValidateOptions, path string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())

	_, err := loadDocument(scriptSource{
		Path:   path,
		JSON:   opts.JSON,
		Strict: !opts.Lenient,
		Syntax: opts.Config.Syntax.Compiler(),
	})
	if err != nil && isLoadError(err) {
		problems := problemsOf(err)
		_ = formatter.Error(problems[0].Code, problems[0].Message, nil)
		return WrapExitError(ExitCommandError, "load "+path, err)
	}

	result := ValidationResult{Valid: err == nil}
	if err != nil {
		result.Errors = problemsOf(err)
	}

	if formatter.JSON() {
		if encErr := formatter.Success(result); encErr != nil {
			return encErr
		}
	} else if result.Valid {
		fmt.Fprintf(formatter.Writer, "✓ %s is valid\n", path)
	} else {
		fmt.Fprintf(formatter.Writer, "✗ %s: %d problem(s)\n\n", path, len(result.Errors))
		printProblems(formatter, path, result.Errors)
	}

	if !result.Valid {
		return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(result.Errors)))
	}
	return nil
}
