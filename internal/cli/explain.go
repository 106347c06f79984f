package cli

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/compositefk/internal/compositefk"
	"github.com/roach88/compositefk/internal/ir"
	"github.com/roach88/compositefk/internal/queryir"
	"github.com/roach88/compositefk/internal/querysql"
	"github.com/roach88/compositefk/internal/schema"
	"github.com/roach88/compositefk/internal/store"
)

// ExplainOptions holds flags for the explain command.
type ExplainOptions struct {
	*RootOptions
	Set      []string // local column assignments, col=value
	Remote   []string // remote column assignments, col=value
	Database string   // resolve the forward query against this database
}

// SQLStatement is a rendered query with its parameters.
type SQLStatement struct {
	SQL  string `json:"sql"`
	Args []any  `json:"args"`
}

// ForwardExplanation is how a local row resolves its reference.
type ForwardExplanation struct {
	Local  map[string]string `json:"local"`
	Absent bool              `json:"absent"`
	Reason string            `json:"reason,omitempty"`
	Query  *SQLStatement     `json:"query,omitempty"`
	Row    map[string]string `json:"row,omitempty"` // with --db
}

// ReverseExplanation is how the rows referencing a remote row are found.
type ReverseExplanation struct {
	Remote map[string]string `json:"remote"`
	Query  SQLStatement      `json:"query"`
}

// Explanation describes one composite reference.
type Explanation struct {
	Reference     string              `json:"reference"`
	Remote        string              `json:"remote"`
	Mapping       string              `json:"mapping"`
	Nullable      bool                `json:"nullable"`
	Unique        bool                `json:"unique"`
	OnDelete      string              `json:"on_delete"`
	RelatedName   string              `json:"related_name"`
	Join          []string            `json:"join"`
	Lookup        SQLStatement        `json:"lookup"`
	ReverseLookup SQLStatement        `json:"reverse_lookup"`
	Forward       *ForwardExplanation `json:"forward,omitempty"`
	Reverse       *ReverseExplanation `json:"reverse,omitempty"`
}

// NewExplainCommand creates the explain command.
func NewExplainCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ExplainOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "explain <declarations-dir> <Entity.field>",
		Short: "Show the queries behind a composite reference",
		Long: `Explain how a composite foreign key reads and is read.

Shows the join columns and the SQL of the lookups across the reference.
With --set, resolves a local row built from the given columns; with
--remote, finds the local rows referencing a remote row built from the
given columns. With --db, the forward query runs against the database.

Example:
  compositefk explain ./models Customer.address --set company=1 --set customer_id=5
  compositefk explain ./models Contact.customer --remote company=1 --remote customer_id=5`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExplain(opts, args[0], args[1], cmd)
		},
	}

	cmd.Flags().StringArrayVar(&opts.Set, "set", nil, "local column value, col=value (repeatable)")
	cmd.Flags().StringArrayVar(&opts.Remote, "remote", nil, "remote column value, col=value (repeatable)")
	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database to resolve against")

	return cmd
}

func runExplain(opts *ExplainOptions, dir, ref string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	decls, err := LoadRegistry(dir, opts.RootOptions)
	if err != nil {
		return commandError(formatter, err)
	}
	reg := decls.Registry

	local, field, m, err := lookupReference(reg, ref)
	if err != nil {
		return commandError(formatter, err)
	}
	remote, ok := reg.Entity(m.RemoteEntity())
	if !ok {
		return commandError(formatter, &LoadError{Code: compositefk.DiagUnknownRemoteColumn,
			Message: fmt.Sprintf("remote entity %s does not exist", m.RemoteEntity())})
	}

	ex, err := explainMapping(local, remote, field, m)
	if err != nil {
		return commandError(formatter, err)
	}

	if len(opts.Set) > 0 {
		inst, values, err := buildInstance(local, opts.Set)
		if err != nil {
			return commandError(formatter, err)
		}
		if ex.Forward, err = explainForward(m, remote, inst, values); err != nil {
			return commandError(formatter, err)
		}

		if opts.Database != "" && !ex.Forward.Absent {
			row, err := resolveRow(cmd, opts, reg, local.Name, field, inst)
			if err != nil {
				return commandError(formatter, err)
			}
			ex.Forward.Row = row
		}
	}

	if len(opts.Remote) > 0 {
		inst, values, err := buildInstance(remote, opts.Remote)
		if err != nil {
			return commandError(formatter, err)
		}
		filter, err := m.FilterFor(inst)
		if err != nil {
			return commandError(formatter, err)
		}
		stmt, err := render(queryir.Select{From: local.Table, Filter: filter})
		if err != nil {
			return commandError(formatter, err)
		}
		ex.Reverse = &ReverseExplanation{Remote: values, Query: stmt}
	}

	if formatter.IsJSON() {
		return formatter.Success(ex)
	}
	writeExplanation(formatter, ex)
	return nil
}

func explainMapping(local, remote *schema.Entity, field string, m *compositefk.Mapping) (*Explanation, error) {
	ex := &Explanation{
		Reference:   local.Name + "." + field,
		Remote:      remote.Name,
		Mapping:     m.String(),
		Nullable:    m.IsNullable(),
		Unique:      m.IsUnique(),
		OnDelete:    string(m.OnDeleteAction()),
		RelatedName: m.RelatedName(local.Name),
	}
	for _, cp := range m.JoinPairs() {
		ex.Join = append(ex.Join, fmt.Sprintf("%s.%s = %s.%s", remote.Table, cp.Remote, local.Table, cp.Local))
	}

	lookup, err := m.Lookup(local, remote, nil)
	if err != nil {
		return nil, err
	}
	if ex.Lookup, err = render(lookup); err != nil {
		return nil, err
	}

	reverse, err := m.ReverseLookup(local, remote, nil)
	if err != nil {
		return nil, err
	}
	if ex.ReverseLookup, err = render(reverse); err != nil {
		return nil, err
	}
	return ex, nil
}

// explainForward mirrors the accessor: sentinels first, then NULL local
// columns, then the query.
func explainForward(m *compositefk.Mapping, remote *schema.Entity, inst *schema.Instance, values map[string]string) (*ForwardExplanation, error) {
	fwd := &ForwardExplanation{Local: values}

	res, err := m.Resolve(inst)
	if err != nil {
		return nil, err
	}
	if res.Absent {
		fwd.Absent = true
		fwd.Reason = fmt.Sprintf("%s equals null_if_equal sentinel %s", res.Sentinel.Field, ir.Format(res.Sentinel.Value))
		return fwd, nil
	}

	for _, col := range m.LocalColumns() {
		if ir.IsNull(inst.Get(col)) {
			fwd.Absent = true
			if m.IsNullable() {
				fwd.Reason = fmt.Sprintf("local column %s is NULL", col)
			} else {
				fwd.Reason = fmt.Sprintf("local column %s is NULL; the reference is required, reading it fails", col)
			}
			return fwd, nil
		}
	}

	stmt, err := render(queryir.Select{From: remote.Table, Filter: res.Filter})
	if err != nil {
		return nil, err
	}
	fwd.Query = &stmt
	return fwd, nil
}

// resolveRow runs the forward query through an accessor bound to the
// database at opts.Database.
func resolveRow(cmd *cobra.Command, opts *ExplainOptions, reg *schema.Registry, entity, field string, inst *schema.Instance) (map[string]string, error) {
	st, err := store.Open(opts.Database, reg, store.WithLogger(opts.logger()))
	if err != nil {
		return nil, &LoadError{Code: ErrCodeWriteFailed, Message: err.Error()}
	}
	defer st.Close()

	acc, err := compositefk.NewAccessor(reg, entity, field, st)
	if err != nil {
		return nil, err
	}
	ref, err := acc.Get(cmd.Context(), inst)
	if err != nil {
		return nil, err
	}
	if ref == nil {
		return nil, nil
	}
	return formatValues(ref.Values()), nil
}

// buildInstance creates an instance of e from col=value assignments.
// Values are parsed by column kind; "null" is NULL.
func buildInstance(e *schema.Entity, assignments []string) (*schema.Instance, map[string]string, error) {
	inst := schema.NewInstance(e)
	for _, a := range assignments {
		col, raw, ok := strings.Cut(a, "=")
		if !ok || col == "" {
			return nil, nil, &LoadError{Code: ErrCodeBadArgument, Message: fmt.Sprintf("assignment must be col=value, got %q", a)}
		}
		f, ok := e.Field(col)
		if !ok || f.Virtual() {
			return nil, nil, &LoadError{Code: ErrCodeBadArgument, Message: fmt.Sprintf("%s has no column %q", e.Name, col)}
		}
		v, err := parseValue(f.Kind, raw)
		if err != nil {
			return nil, nil, &LoadError{Code: ErrCodeBadArgument, Message: fmt.Sprintf("%s.%s: %v", e.Name, col, err)}
		}
		if err := inst.Set(col, v); err != nil {
			return nil, nil, &LoadError{Code: ErrCodeBadArgument, Message: err.Error()}
		}
	}
	return inst, formatValues(inst.Values()), nil
}

func parseValue(kind schema.Kind, raw string) (ir.IRValue, error) {
	if raw == "null" {
		return ir.IRNull{}, nil
	}
	switch kind {
	case schema.KindInt:
		i, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%q is not an int", raw)
		}
		return ir.IRInt(i), nil
	case schema.KindBool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, fmt.Errorf("%q is not a bool", raw)
		}
		return ir.IRBool(b), nil
	default:
		return ir.IRString(raw), nil
	}
}

func formatValues(obj ir.IRObject) map[string]string {
	out := make(map[string]string, len(obj))
	for k, v := range obj {
		out[k] = ir.Format(v)
	}
	return out
}

func render(q queryir.Query) (SQLStatement, error) {
	sql, args, err := querysql.NewSQLCompiler().Compile(q)
	if err != nil {
		return SQLStatement{}, err
	}
	if args == nil {
		args = []any{}
	}
	return SQLStatement{SQL: sql, Args: args}, nil
}

func writeExplanation(formatter *OutputFormatter, ex *Explanation) {
	w := formatter.Writer
	fmt.Fprintf(w, "%s → %s\n", ex.Reference, ex.Remote)
	fmt.Fprintf(w, "  %s\n", ex.Mapping)
	fmt.Fprintf(w, "  nullable: %t, unique: %t, on_delete: %s, related_name: %s\n",
		ex.Nullable, ex.Unique, ex.OnDelete, ex.RelatedName)
	fmt.Fprintf(w, "  join: %s\n", strings.Join(ex.Join, " AND "))
	fmt.Fprintf(w, "  lookup: %s\n", formatStatement(ex.Lookup))
	fmt.Fprintf(w, "  reverse lookup: %s\n", formatStatement(ex.ReverseLookup))

	if fwd := ex.Forward; fwd != nil {
		fmt.Fprintln(w)
		switch {
		case fwd.Absent:
			fmt.Fprintf(w, "forward: absent (%s)\n", fwd.Reason)
		default:
			fmt.Fprintf(w, "forward: %s\n", formatStatement(*fwd.Query))
		}
		if fwd.Row != nil {
			fmt.Fprintf(w, "  row: %s\n", formatRow(fwd.Row))
		}
	}

	if rev := ex.Reverse; rev != nil {
		fmt.Fprintln(w)
		fmt.Fprintf(w, "reverse: %s\n", formatStatement(rev.Query))
	}
}

func formatStatement(s SQLStatement) string {
	if len(s.Args) == 0 {
		return s.SQL
	}
	args := make([]string, len(s.Args))
	for i, a := range s.Args {
		if str, ok := a.(string); ok {
			args[i] = strconv.Quote(str)
			continue
		}
		args[i] = fmt.Sprint(a)
	}
	return fmt.Sprintf("%s [%s]", s.SQL, strings.Join(args, ", "))
}

func formatRow(row map[string]string) string {
	keys := make([]string, 0, len(row))
	for k := range row {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + "=" + row[k]
	}
	return strings.Join(parts, " ")
}
