package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/rulecore/internal/compiler"
	"github.com/roach88/rulecore/internal/ir"
)

// CompileOptions holds flags for the compile command.
type CompileOptions struct {
	*RootOptions
	Output string // output file path
}

// CompilationStats holds summary statistics.
type CompilationStats struct {
	Types      int `json:"types"`
	Events     int `json:"events"`
	Rules      int `json:"rules"`
	TimedRules int `json:"timed_rules"`
	Conditions int `json:"conditions"`
	Actions    int `json:"actions"`
}

// NewCompileCommand creates the compile command.
func NewCompileCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CompileOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "compile <rules-dir>",
		Short: "Compile CUE rules to a rule base",
		Long: `Compile a directory of CUE rule files into a rule base.

Type declarations, rules and session settings are compiled and written as
JSON. Compile does not run semantic validation; use validate for that.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true, // we handle our own error output
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCompile(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Output, "output", "o", "", "output file path")

	return cmd
}

func runCompile(opts *CompileOptions, rulesDir string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	if files, err := compiler.FindCUEFiles(rulesDir); err == nil {
		formatter.VerboseLog("Found %d CUE file(s) in %s", len(files), rulesDir)
	}

	rb, errs := compiler.LoadRuleBase(rulesDir)
	if len(errs) > 0 {
		return outputCompileErrors(formatter, errs)
	}
	for _, r := range rb.Rules {
		formatter.VerboseLog("Compiled rule: %s", r.Name)
	}

	stats := calculateStats(rb)

	if opts.Output != "" {
		if err := writeRuleBase(rb, opts.Output); err != nil {
			_ = formatter.Error(compiler.ErrCodeWriteFailed, err.Error(), nil)
			return WrapExitError(ExitCommandError, "writing output file", err)
		}
	}

	return outputCompileSuccess(formatter, rb, stats, opts.Output)
}

// calculateStats computes summary statistics for a rule base.
func calculateStats(rb *ir.RuleBase) CompilationStats {
	stats := CompilationStats{
		Types: len(rb.Types),
		Rules: len(rb.Rules),
	}
	for _, t := range rb.Types {
		if t.Role == ir.RoleEvent {
			stats.Events++
		}
	}
	for _, r := range rb.Rules {
		if r.Timer != nil || len(r.Durations) > 0 {
			stats.TimedRules++
		}
		stats.Conditions += len(r.Conditions)
		stats.Actions += len(r.Actions)
	}
	return stats
}

func outputCompileSuccess(formatter *OutputFormatter, rb *ir.RuleBase, stats CompilationStats, outputFile string) error {
	if formatter.Format == "json" {
		return formatter.Success(rb)
	}

	w := formatter.Writer
	fmt.Fprintf(w, "✓ Compiled %d rule(s), %d type(s)\n\n", stats.Rules, stats.Types)

	if len(rb.Types) > 0 {
		fmt.Fprintln(w, "Types:")
		for _, t := range rb.Types {
			line := "  " + t.Name
			if t.Role == ir.RoleEvent {
				line += " (event"
				if t.Expires > 0 {
					line += ", expires " + t.Expires.String()
				}
				line += ")"
			}
			if len(t.Supertypes) > 0 {
				line += fmt.Sprintf(" is-a %v", t.Supertypes)
			}
			fmt.Fprintln(w, line)
		}
		fmt.Fprintln(w)
	}

	fmt.Fprintln(w, "Rules:")
	for _, r := range rb.Rules {
		fmt.Fprintf(w, "  %s: %d condition(s), %d action(s)", r.Name, len(r.Conditions), len(r.Actions))
		if r.Salience != 0 {
			fmt.Fprintf(w, ", salience %d", r.Salience)
		}
		if r.AgendaGroup != "" {
			fmt.Fprintf(w, ", group %s", r.AgendaGroup)
		}
		if r.Timer != nil || len(r.Durations) > 0 {
			fmt.Fprint(w, ", timed")
		}
		fmt.Fprintln(w)
	}
	fmt.Fprintln(w)

	if outputFile != "" {
		fmt.Fprintf(w, "Wrote rule base to %s\n", outputFile)
	}
	return nil
}

// outputCompileErrors reports load and compile errors. They are
// command-level errors (exit code 2).
func outputCompileErrors(formatter *OutputFormatter, errs []error) error {
	if formatter.Format == "json" {
		cliErrors := make([]CLIError, len(errs))
		for i, err := range errs {
			code, message := parseCompileError(err)
			cliErrors[i] = CLIError{Code: code, Message: message}
		}
		if err := formatter.encode(CLIResponse{
			Status: "error",
			Error:  &cliErrors[0],
			Data:   cliErrors,
		}); err != nil {
			return err
		}
		return NewExitError(ExitCommandError, fmt.Sprintf("compilation failed with %d error(s)", len(errs)))
	}

	fmt.Fprintln(formatter.Writer, "✗ Compilation failed")
	fmt.Fprintln(formatter.Writer)
	for _, err := range errs {
		code, message := parseCompileError(err)
		var loadErr *compiler.LoadError
		if errors.As(err, &loadErr) && loadErr.Pos.IsValid() {
			fmt.Fprintf(formatter.Writer, "%s:%d:%d\n",
				loadErr.Pos.Filename(), loadErr.Pos.Line(), loadErr.Pos.Column())
		}
		fmt.Fprintf(formatter.Writer, "  %s: %s\n\n", code, message)
	}
	return NewExitError(ExitCommandError, fmt.Sprintf("compilation failed with %d error(s)", len(errs)))
}

// parseCompileError extracts error code and message from an error.
func parseCompileError(err error) (string, string) {
	var loadErr *compiler.LoadError
	if errors.As(err, &loadErr) {
		return loadErr.Code, loadErr.Message
	}
	var compileErr *compiler.CompileError
	if errors.As(err, &compileErr) {
		return compiler.MapFieldToErrorCode(compileErr.Field), compileErr.Message
	}
	return compiler.ErrCodeGeneric, err.Error()
}

// writeRuleBase writes the rule base as indented JSON.
func writeRuleBase(rb *ir.RuleBase, filename string) error {
	data, err := json.MarshalIndent(rb, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling rule base: %w", err)
	}
	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("writing file: %w", err)
	}
	return nil
}
