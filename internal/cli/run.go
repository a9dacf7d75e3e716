package cli

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/roach88/rulecore/internal/agenda"
	"github.com/roach88/rulecore/internal/compiler"
	"github.com/roach88/rulecore/internal/engine"
	"github.com/roach88/rulecore/internal/harness"
	"github.com/roach88/rulecore/internal/ir"
	"github.com/roach88/rulecore/internal/network"
	"github.com/roach88/rulecore/internal/store"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Facts    string // YAML facts file
	Database string // snapshot database, optional
	Session  string // session ID, generated when empty
	Resume   bool   // continue from the session's latest snapshot
	Limit    int    // fire limit, 0 fires to quiescence
	Advance  string // pseudo clock advance after the first firing pass
}

// FactsFile is the YAML input of the run command.
//
//	facts:
//	  - type: Reading
//	    fields: {sensor: s1, temp: 41}
//	  - type: Reading
//	    entry_point: sensors
//	    fields: {sensor: s2, temp: 12}
type FactsFile struct {
	Facts []FactInput `yaml:"facts"`
}

// FactInput is one fact to insert.
type FactInput struct {
	Type       string         `yaml:"type"`
	EntryPoint string         `yaml:"entry_point,omitempty"`
	Fields     map[string]any `yaml:"fields,omitempty"`
}

// RunResult is the outcome of a run.
type RunResult struct {
	Session  string     `json:"session"`
	Fired    []string   `json:"fired"`
	Facts    []FactView `json:"facts"`
	Time     int64      `json:"time"`
	Pending  int        `json:"pending"`
	Snapshot int64      `json:"snapshot,omitempty"` // stored version, 0 without --db
}

// FactView is a fact in working memory at the end of a run.
type FactView struct {
	Handle     int64       `json:"handle"`
	Type       string      `json:"type"`
	EntryPoint string      `json:"entry_point"`
	Logical    bool        `json:"logical,omitempty"`
	Fields     ir.IRObject `json:"fields"`
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run <rules-dir>",
		Short: "Run a session over a facts file",
		Long: `Run one session: insert the facts from a YAML file, fire rules until
the agenda is empty and print what fired and what remains.

With --db the final session is saved as a new snapshot version. With
--resume the session continues from its latest snapshot instead of starting
empty, so a run can pick up pending timers and queued activations.

Example:
  rulecore run ./rules --facts readings.yaml
  rulecore run ./rules --facts readings.yaml --db state.db --session plant-1
  rulecore run ./rules --db state.db --session plant-1 --resume --advance 5m`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSession(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Facts, "facts", "", "YAML file of facts to insert")
	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite snapshot database")
	cmd.Flags().StringVar(&opts.Session, "session", "", "session ID (generated when empty)")
	cmd.Flags().BoolVar(&opts.Resume, "resume", false, "restore the session's latest snapshot first")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "maximum firings per pass (0 = no limit)")
	cmd.Flags().StringVar(&opts.Advance, "advance", "", "advance the pseudo clock by this duration, then fire again")

	return cmd
}

func runSession(opts *RunOptions, rulesDir string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)
	logger := newLogger(opts.RootOptions, cmd.ErrOrStderr())
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	if opts.Resume && (opts.Database == "" || opts.Session == "") {
		return NewExitError(ExitCommandError, "--resume needs --db and --session")
	}
	if opts.Facts == "" && !opts.Resume {
		return NewExitError(ExitCommandError, "--facts is required unless resuming")
	}
	var advance time.Duration
	if opts.Advance != "" {
		d, err := time.ParseDuration(opts.Advance)
		if err != nil || d < 0 {
			return NewExitError(ExitCommandError, fmt.Sprintf("invalid --advance %q", opts.Advance))
		}
		advance = d
	}

	rb, net, err := buildRules(rulesDir)
	if err != nil {
		return err
	}
	formatter.VerboseLog("Loaded %d rule(s) from %s", len(rb.Rules), rulesDir)

	var facts []FactInput
	if opts.Facts != "" {
		facts, err = loadFacts(opts.Facts)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to load facts", err)
		}
	}

	var st *store.Store
	if opts.Database != "" {
		st, err = store.Open(opts.Database)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to open database", err)
		}
		defer func() {
			if closeErr := st.Close(); closeErr != nil {
				logger.Error("error closing database", "error", closeErr)
			}
		}()
	}

	fired := &firedRecorder{rules: []string{}}
	session, err := openSession(ctx, opts, rb, net, st, logger, fired)
	if err != nil {
		return err
	}
	defer session.Dispose()

	for i, f := range facts {
		fields, err := harness.ConvertFields(f.Fields)
		if err != nil {
			return WrapExitError(ExitCommandError, fmt.Sprintf("facts[%d]", i), err)
		}
		fact := ir.Fact{Type: f.Type, Fields: fields}
		if f.EntryPoint != "" {
			_, err = session.InsertInto(f.EntryPoint, fact)
		} else {
			_, err = session.Insert(fact)
		}
		if err != nil {
			return WrapExitError(ExitFailure, fmt.Sprintf("facts[%d]", i), err)
		}
	}

	if _, err := session.FireAll(opts.Limit); err != nil {
		return WrapExitError(ExitFailure, "firing failed", err)
	}
	if advance > 0 {
		if _, err := session.AdvanceTime(advance); err != nil {
			return WrapExitError(ExitFailure, "advancing clock failed", err)
		}
		if _, err := session.FireAll(opts.Limit); err != nil {
			return WrapExitError(ExitFailure, "firing failed", err)
		}
	}

	result := RunResult{
		Session: session.ID(),
		Fired:   fired.rules,
		Facts:   factViews(session),
		Time:    session.CurrentTime(),
		Pending: len(session.Agenda()),
	}

	if st != nil {
		snap, err := session.Snapshot()
		if err != nil {
			return WrapExitError(ExitFailure, "snapshot failed", err)
		}
		result.Snapshot, err = st.SaveSnapshot(ctx, snap)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to save snapshot", err)
		}
	}

	return outputRunResult(formatter, result)
}

// buildRules loads, validates and builds a rule base. Any problem is a
// command error.
func buildRules(dir string) (*ir.RuleBase, *network.Network, error) {
	rb, errs := compiler.LoadRuleBase(dir)
	if len(errs) > 0 {
		return nil, nil, WrapExitError(ExitCommandError, "failed to load rules", errors.Join(errs...))
	}
	if verrs := compiler.Validate(rb); len(verrs) > 0 {
		joined := make([]error, len(verrs))
		for i, e := range verrs {
			joined[i] = e
		}
		return nil, nil, WrapExitError(ExitCommandError, "invalid rules", errors.Join(joined...))
	}
	net, err := engine.Build(rb)
	if err != nil {
		return nil, nil, WrapExitError(ExitCommandError, "failed to build rules", err)
	}
	return rb, net, nil
}

func openSession(ctx context.Context, opts *RunOptions, rb *ir.RuleBase, net *network.Network, st *store.Store, logger *slog.Logger, l engine.Listener) (*engine.Session, error) {
	common := []engine.Option{engine.WithLogger(logger), engine.WithListener(l)}

	if opts.Resume {
		snap, err := st.LoadSnapshot(ctx, opts.Session)
		if errors.Is(err, store.ErrNotFound) {
			return nil, NewExitError(ExitCommandError, fmt.Sprintf("no snapshot for session %q", opts.Session))
		}
		if err != nil {
			return nil, WrapExitError(ExitCommandError, "failed to load snapshot", err)
		}
		s, err := engine.Restore(net, snap, common...)
		if err != nil {
			return nil, WrapExitError(ExitFailure, "failed to restore session", err)
		}
		return s, nil
	}

	sessOpts, err := engine.ConfigOptions(rb.Session)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "invalid session config", err)
	}
	if opts.Session != "" {
		sessOpts = append(sessOpts, engine.WithIDGenerator(engine.NewFixedGenerator(opts.Session)))
	}
	s, err := engine.NewSession(net, append(sessOpts, common...)...)
	if err != nil {
		return nil, WrapExitError(ExitFailure, "failed to create session", err)
	}
	return s, nil
}

// loadFacts reads a facts file, rejecting unknown keys.
func loadFacts(path string) ([]FactInput, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var file FactsFile
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&file); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	for i, f := range file.Facts {
		if f.Type == "" {
			return nil, fmt.Errorf("facts[%d]: type is required", i)
		}
	}
	return file.Facts, nil
}

func factViews(s *engine.Session) []FactView {
	handles := s.Facts()
	views := make([]FactView, len(handles))
	for i, h := range handles {
		f := h.Fact()
		views[i] = FactView{
			Handle:     h.ID(),
			Type:       f.Type,
			EntryPoint: h.EntryPoint(),
			Logical:    h.IsLogical(),
			Fields:     f.Fields,
		}
	}
	return views
}

func outputRunResult(formatter *OutputFormatter, result RunResult) error {
	if formatter.Format == "json" {
		return formatter.Success(result)
	}

	w := formatter.Writer
	fmt.Fprintf(w, "Session %s at t=%d\n\n", result.Session, result.Time)

	fmt.Fprintf(w, "Fired %d rule(s):\n", len(result.Fired))
	for i, rule := range result.Fired {
		fmt.Fprintf(w, "  [%d] %s\n", i+1, rule)
	}
	fmt.Fprintln(w)

	fmt.Fprintf(w, "Facts (%d):\n", len(result.Facts))
	for _, f := range result.Facts {
		fields, err := ir.MarshalCanonical(f.Fields)
		if err != nil {
			return err
		}
		marker := ""
		if f.Logical {
			marker = " (logical)"
		}
		fmt.Fprintf(w, "  #%d %s %s%s\n", f.Handle, f.Type, fields, marker)
	}

	if result.Pending > 0 {
		fmt.Fprintf(w, "\n%d activation(s) still queued\n", result.Pending)
	}
	if result.Snapshot > 0 {
		fmt.Fprintf(w, "\nSaved snapshot version %d\n", result.Snapshot)
	}
	return nil
}

// firedRecorder collects rule names in firing order.
type firedRecorder struct {
	engine.NoopListener
	rules []string
}

func (r *firedRecorder) BeforeFire(a *agenda.Activation) {
	r.rules = append(r.rules, a.Rule.Name)
}
