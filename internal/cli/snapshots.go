package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/rulecore/internal/store"
)

// SnapshotsOptions holds flags for the snapshots command.
type SnapshotsOptions struct {
	*RootOptions
	Database string
	Delete   bool
}

// NewSnapshotsCommand creates the snapshots command.
func NewSnapshotsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SnapshotsOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "snapshots [session-id]",
		Short: "List or delete stored session snapshots",
		Long: `List the snapshots in a database, optionally for one session.

With --delete every version of the named session is removed.

Example:
  rulecore snapshots --db state.db
  rulecore snapshots --db state.db plant-1 --delete`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			session := ""
			if len(args) == 1 {
				session = args[0]
			}
			return runSnapshots(opts, session, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite snapshot database (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().BoolVar(&opts.Delete, "delete", false, "delete every snapshot of the session")

	return cmd
}

func runSnapshots(opts *SnapshotsOptions, session string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	if opts.Delete && session == "" {
		return NewExitError(ExitCommandError, "--delete needs a session ID")
	}

	st, err := store.Open(opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer st.Close()

	if opts.Delete {
		n, err := st.DeleteSnapshots(ctx, session)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to delete snapshots", err)
		}
		if formatter.Format == "json" {
			return formatter.Success(map[string]any{"session": session, "deleted": n})
		}
		fmt.Fprintf(formatter.Writer, "Deleted %d snapshot(s) of %s\n", n, session)
		return nil
	}

	infos, err := st.ListSnapshots(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to list snapshots", err)
	}
	if session != "" {
		filtered := []store.SnapshotInfo{}
		for _, info := range infos {
			if info.SessionID == session {
				filtered = append(filtered, info)
			}
		}
		infos = filtered
	}

	if formatter.Format == "json" {
		return formatter.Success(infos)
	}
	if len(infos) == 0 {
		fmt.Fprintln(formatter.Writer, "No snapshots found.")
		return nil
	}
	for _, info := range infos {
		fmt.Fprintf(formatter.Writer, "%s v%d  clock=%s t=%d  facts=%d queued=%d jobs=%d\n",
			info.SessionID, info.Version, info.Clock, info.Time, info.Facts, info.Activations, info.Jobs)
	}
	return nil
}
