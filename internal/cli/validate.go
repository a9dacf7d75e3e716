package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/rulecore/internal/compiler"
	"github.com/roach88/rulecore/internal/engine"
	"github.com/roach88/rulecore/internal/ir"
)

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid    bool                       `json:"valid"`
	Rules    int                        `json:"rules"`
	Errors   []compiler.ValidationError `json:"errors,omitempty"`
	Warnings []compiler.LoopWarning     `json:"warnings,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <rules-dir>",
		Short: "Validate rules and report possible loops",
		Long: `Validate a directory of CUE rule files.

Compiles the rules, checks them for structural errors (unknown types,
unbound variables, bad timers and templates), builds the matching network
and reports rules that may keep re-activating each other. Loops are
warnings and do not fail validation.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, rulesDir string, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd)

	rb, loadErrs := compiler.LoadRuleBase(rulesDir)
	if rb == nil && len(loadErrs) > 0 {
		code, message := parseCompileError(loadErrs[0])
		_ = formatter.Error(code, message, nil)
		return NewExitError(ExitCommandError, fmt.Sprintf("%s: %s", code, message))
	}

	result := ValidateRuleBase(rb, loadErrs)
	for _, r := range rb.Rules {
		formatter.VerboseLog("Validated rule: %s", r.Name)
	}

	if !result.Valid {
		return outputValidationErrors(formatter, result)
	}
	return outputValidateSuccess(formatter, result)
}

// ValidateRuleBase runs every check on a compiled rule base. Compile errors
// from loading are reported alongside validation errors. The network is
// only built when everything else is clean.
func ValidateRuleBase(rb *ir.RuleBase, compileErrs []error) ValidationResult {
	result := ValidationResult{Rules: len(rb.Rules)}

	for _, err := range compileErrs {
		code, message := parseCompileError(err)
		ve := compiler.ValidationError{Field: "load", Message: message, Code: code}
		var loadErr *compiler.LoadError
		if errors.As(err, &loadErr) && loadErr.Pos.IsValid() {
			ve.Line = loadErr.Pos.Line()
		}
		result.Errors = append(result.Errors, ve)
	}
	result.Errors = append(result.Errors, compiler.Validate(rb)...)

	if len(result.Errors) == 0 {
		if _, err := engine.Build(rb); err != nil {
			result.Errors = append(result.Errors, compiler.ValidationError{
				Field:   "network",
				Message: err.Error(),
				Code:    string(engine.ErrCodeBuild),
			})
		}
	}

	result.Warnings = compiler.AnalyzeLoops(rb)
	result.Valid = len(result.Errors) == 0
	return result
}

func outputValidateSuccess(formatter *OutputFormatter, result ValidationResult) error {
	if formatter.Format == "json" {
		return formatter.Success(result)
	}

	fmt.Fprintf(formatter.Writer, "✓ All %d rule(s) valid\n", result.Rules)
	writeWarnings(formatter, result.Warnings)
	return nil
}

// outputValidationErrors reports validation failures (exit code 1).
func outputValidationErrors(formatter *OutputFormatter, result ValidationResult) error {
	errs := result.Errors
	if formatter.Format == "json" {
		if err := formatter.encode(CLIResponse{
			Status: "error",
			Data:   result,
			Error: &CLIError{
				Code:    errs[0].Code,
				Message: errs[0].Message,
			},
		}); err != nil {
			return err
		}
		return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(errs)))
	}

	fmt.Fprintln(formatter.Writer, "✗ Validation failed")
	fmt.Fprintln(formatter.Writer)
	for _, err := range errs {
		if err.Line > 0 {
			fmt.Fprintf(formatter.Writer, "line %d\n", err.Line)
		}
		fmt.Fprintf(formatter.Writer, "  %s: %s: %s\n\n", err.Code, err.Field, err.Message)
	}
	writeWarnings(formatter, result.Warnings)

	return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(errs)))
}

func writeWarnings(formatter *OutputFormatter, warnings []compiler.LoopWarning) {
	if len(warnings) == 0 {
		return
	}
	fmt.Fprintf(formatter.Writer, "\n⚠ %d possible loop(s)\n", len(warnings))
	for _, w := range warnings {
		fmt.Fprintf(formatter.Writer, "  %s\n", strings.Join(w.Path, " → "))
		fmt.Fprintf(formatter.Writer, "    %s\n", w.Message)
	}
}
