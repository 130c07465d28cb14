package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/evset-io/evset/internal/workload"
)

// FileResult holds validation results for one workload file.
type FileResult struct {
	File   string                     `json:"file"`
	Valid  bool                       `json:"valid"`
	Errors []workload.ValidationError `json:"errors,omitempty"`
}

// ValidationResult holds validation results across all files.
type ValidationResult struct {
	Valid   bool         `json:"valid"`
	Invalid int          `json:"invalid"`
	Files   []FileResult `json:"files"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <workload.yaml>...",
		Short: "Validate workload files without running them",
		Long: `Validate workload files against the schema without running them.

Performs structural validation against the embedded CUE schema plus the
reference checks a run would do: unique labels, dependencies that name
earlier steps, and outcome/error consistency.`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true, // Don't print usage on errors
		SilenceErrors: true, // Don't print errors - we handle our own error output
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args, cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, files []string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(), // Verbose logs go to stderr to avoid corrupting JSON
		Verbose:   opts.Verbose,
	}

	result := ValidationResult{Valid: true, Files: make([]FileResult, 0, len(files))}
	for _, file := range files {
		formatter.VerboseLog("Validating %s", file)

		data, err := os.ReadFile(file)
		if err != nil {
			_ = formatter.Error(ErrCodeNotFound, fmt.Sprintf("failed to read workload: %v", err), nil)
			return WrapExitError(ExitCommandError, "failed to read workload", err)
		}

		errs := validateWorkload(data)
		result.Files = append(result.Files, FileResult{
			File:   file,
			Valid:  len(errs) == 0,
			Errors: errs,
		})
		if len(errs) > 0 {
			result.Valid = false
			result.Invalid++
		}
	}

	if !result.Valid {
		return outputValidationErrors(formatter, result)
	}
	return outputValidateSuccess(formatter, result)
}

// validateWorkload checks one workload document: schema first, then the
// cross-step reference rules the schema cannot express.
func validateWorkload(data []byte) []workload.ValidationError {
	if errs := workload.ValidateBytes(data); len(errs) > 0 {
		return errs
	}
	if _, err := workload.Parse(data); err != nil {
		msg := strings.TrimPrefix(err.Error(), "invalid workload: ")
		return []workload.ValidationError{{Message: msg}}
	}
	return nil
}

// outputValidateSuccess outputs successful validation results.
func outputValidateSuccess(formatter *OutputFormatter, result ValidationResult) error {
	if formatter.Format == "json" {
		return formatter.Success(result)
	}

	for _, f := range result.Files {
		fmt.Fprintf(formatter.Writer, "✓ %s\n", f.File)
	}
	fmt.Fprintf(formatter.Writer, "✓ %d workload(s) valid\n", len(result.Files))
	return nil
}

// outputValidationErrors outputs validation failures.
func outputValidationErrors(formatter *OutputFormatter, result ValidationResult) error {
	errCount := 0
	for _, f := range result.Files {
		errCount += len(f.Errors)
	}

	if formatter.Format == "json" {
		first := firstValidationError(result)
		response := CLIResponse{
			Status: "error",
			Data:   result,
			Error: &CLIError{
				Code:    ErrCodeInvalid,
				Message: first.Error(),
			},
		}

		encoder := json.NewEncoder(formatter.Writer)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(response); err != nil {
			return err
		}

		// Validation failures = exit code 1
		return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", errCount))
	}

	// Text format
	fmt.Fprintln(formatter.Writer, "✗ Validation failed")
	fmt.Fprintln(formatter.Writer)

	for _, f := range result.Files {
		if f.Valid {
			fmt.Fprintf(formatter.Writer, "✓ %s\n", f.File)
			continue
		}
		fmt.Fprintf(formatter.Writer, "✗ %s\n", f.File)
		for _, e := range f.Errors {
			fmt.Fprintf(formatter.Writer, "  %s\n", e.Error())
		}
	}
	fmt.Fprintln(formatter.Writer)

	// Validation failures = exit code 1
	return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", errCount))
}

// firstValidationError returns the first violation across all files.
func firstValidationError(result ValidationResult) workload.ValidationError {
	for _, f := range result.Files {
		if len(f.Errors) > 0 {
			return f.Errors[0]
		}
	}
	return workload.ValidationError{Message: "validation failed"}
}
