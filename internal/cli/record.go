package cli

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/roach88/compositefk/internal/compositefk"
	"github.com/roach88/compositefk/internal/store"
)

// RecordOptions holds flags for the record command.
type RecordOptions struct {
	*RootOptions
	Database string
}

// RecordResult lists the declaration changes since the previous record.
type RecordResult struct {
	Database string                    `json:"database"`
	Changes  []store.DeclarationChange `json:"changes"`
}

// NewRecordCommand creates the record command.
func NewRecordCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RecordOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "record <declarations-dir>",
		Short: "Create entity tables and record composite reference declarations",
		Long: `Open a SQLite database for the declared entities and record the
canonical declaration of every composite reference.

Tables and reference indexes are created when missing. References added,
changed or removed since the previous record are reported.

Example:
  compositefk record --db ./app.db ./models`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRecord(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")

	return cmd
}

func runRecord(opts *RecordOptions, dir string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}
	logger := opts.logger()

	decls, err := LoadRegistry(dir, opts.RootOptions)
	if err != nil {
		return commandError(formatter, err)
	}

	logger.Info("opening database", slog.String("path", opts.Database))
	st, err := store.Open(opts.Database, decls.Registry, store.WithLogger(logger))
	if err != nil {
		return commandError(formatter, &LoadError{Code: ErrCodeWriteFailed, Message: err.Error()})
	}
	defer func() {
		if closeErr := st.Close(); closeErr != nil {
			logger.Error("error closing database", slog.Any("error", closeErr))
		}
	}()

	changes, err := st.RecordDeclarations(cmd.Context())
	if err != nil {
		return commandError(formatter, &LoadError{Code: ErrCodeWriteFailed, Message: err.Error()})
	}
	for _, c := range changes {
		if c.Status == store.DeclarationRemoved {
			continue
		}
		if err := verifyRecorded(cmd.Context(), st, decls, c.Entity+"."+c.Field); err != nil {
			return commandError(formatter, &LoadError{Code: ErrCodeWriteFailed, Message: err.Error()})
		}
	}

	if formatter.IsJSON() {
		return formatter.Success(RecordResult{Database: opts.Database, Changes: changes})
	}

	if len(changes) == 0 {
		fmt.Fprintln(formatter.Writer, "✓ Declarations unchanged")
		return nil
	}
	fmt.Fprintf(formatter.Writer, "✓ Recorded %d change(s)\n\n", len(changes))
	for _, c := range changes {
		fmt.Fprintf(formatter.Writer, "  %-8s %s.%s\n", c.Status, c.Entity, c.Field)
	}
	return nil
}

// verifyRecorded reads back the declaration recorded for ref and checks it
// rebuilds the declared mapping.
func verifyRecorded(ctx context.Context, st *store.Store, decls *Declarations, ref string) error {
	e, field, m, err := lookupReference(decls.Registry, ref)
	if err != nil {
		return err
	}
	d, err := st.StoredDeclaration(ctx, e.Name, field)
	if err != nil {
		return fmt.Errorf("%s: read recorded declaration: %w", ref, err)
	}
	rebuilt, err := compositefk.Reconstruct(d, decls.Funcs)
	if err != nil {
		return fmt.Errorf("%s: rebuild recorded declaration: %w", ref, err)
	}
	if !rebuilt.Equal(m) {
		return fmt.Errorf("%s: recorded declaration does not rebuild the declared reference", ref)
	}
	return nil
}
