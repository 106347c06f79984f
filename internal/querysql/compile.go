package querysql

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/roach88/compositefk/internal/ir"
	"github.com/roach88/compositefk/internal/queryir"
)

// SQLCompiler compiles QueryIR to parameterized SQL for SQLite.
//
// CRITICAL: Every SELECT includes ORDER BY on the primary key so result
// order is deterministic.
// CRITICAL: All values are parameterized (never interpolated).
type SQLCompiler struct {
	// PrimaryKey is the column used for deterministic ordering.
	PrimaryKey string
}

// NewSQLCompiler creates a new SQLCompiler ordering by "id".
func NewSQLCompiler() *SQLCompiler {
	return &SQLCompiler{PrimaryKey: "id"}
}

// identPattern restricts table and column names. Identifiers cannot be
// parameterized, so anything else is rejected instead of quoted.
var identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

func checkIdent(kind, name string) error {
	if !identPattern.MatchString(name) {
		return fmt.Errorf("invalid %s name %q", kind, name)
	}
	return nil
}

// Compile converts a QueryIR query to parameterized SQL.
// Returns (sql, params, error) tuple.
func (c *SQLCompiler) Compile(q queryir.Query) (string, []any, error) {
	if q == nil {
		return "", nil, fmt.Errorf("cannot compile nil query")
	}

	switch query := q.(type) {
	case queryir.Select:
		return c.compileSelect(query)
	case queryir.Join:
		return c.compileJoin(query)
	case queryir.Insert:
		return c.compileInsert(query)
	case queryir.Update:
		return c.compileUpdate(query)
	case queryir.Delete:
		return c.compileDelete(query)
	default:
		return "", nil, fmt.Errorf("unsupported query type: %T", q)
	}
}

// compileSelect compiles a queryir.Select to SQL.
func (c *SQLCompiler) compileSelect(q queryir.Select) (string, []any, error) {
	if err := checkIdent("table", q.From); err != nil {
		return "", nil, err
	}

	columns, err := c.compileColumns("", q.Columns)
	if err != nil {
		return "", nil, err
	}

	var whereClause string
	var params []any
	if q.Filter != nil {
		filterSQL, filterParams, err := c.compilePredicate(q.Filter, "")
		if err != nil {
			return "", nil, fmt.Errorf("compile filter: %w", err)
		}
		whereClause = " WHERE " + filterSQL
		params = filterParams
	}

	sql := fmt.Sprintf("SELECT %s FROM %s%s ORDER BY %s ASC",
		columns,
		q.From,
		whereClause,
		c.PrimaryKey)

	return sql, params, nil
}

// compileColumns renders a column list, qualified when qualifier is set.
func (c *SQLCompiler) compileColumns(qualifier string, columns []string) (string, error) {
	prefix := ""
	if qualifier != "" {
		prefix = qualifier + "."
	}
	if len(columns) == 0 {
		return prefix + "*", nil
	}

	parts := make([]string, 0, len(columns))
	for _, col := range columns {
		if err := checkIdent("column", col); err != nil {
			return "", err
		}
		parts = append(parts, prefix+col)
	}
	return strings.Join(parts, ", "), nil
}

// compileJoin compiles a queryir.Join to an INNER JOIN returning the left
// side's rows once each.
//
// Tables are aliased l and r so a mapping from an entity to itself joins
// correctly; ColumnRef tables naming either the table or the alias are
// rewritten to the alias.
func (c *SQLCompiler) compileJoin(j queryir.Join) (string, []any, error) {
	if j.On == nil {
		return "", nil, fmt.Errorf("join of %s and %s requires a condition", j.Left.From, j.Right.From)
	}
	if err := checkIdent("table", j.Left.From); err != nil {
		return "", nil, err
	}
	if err := checkIdent("table", j.Right.From); err != nil {
		return "", nil, err
	}

	aliases := joinAliases{left: j.Left.From, right: j.Right.From}

	columns, err := c.compileColumns("l", j.Left.Columns)
	if err != nil {
		return "", nil, err
	}

	onSQL, allParams, err := c.compileJoinPredicate(j.On, aliases)
	if err != nil {
		return "", nil, fmt.Errorf("compile join ON: %w", err)
	}

	var where []string
	if j.Left.Filter != nil {
		sql, params, err := c.compilePredicate(j.Left.Filter, "l")
		if err != nil {
			return "", nil, fmt.Errorf("compile left filter: %w", err)
		}
		where = append(where, sql)
		allParams = append(allParams, params...)
	}
	if j.Right.Filter != nil {
		sql, params, err := c.compilePredicate(j.Right.Filter, "r")
		if err != nil {
			return "", nil, fmt.Errorf("compile right filter: %w", err)
		}
		where = append(where, sql)
		allParams = append(allParams, params...)
	}

	sql := fmt.Sprintf("SELECT DISTINCT %s FROM %s AS l INNER JOIN %s AS r ON %s",
		columns,
		j.Left.From,
		j.Right.From,
		onSQL)
	if len(where) > 0 {
		sql += " WHERE " + strings.Join(where, " AND ")
	}
	sql += " ORDER BY l." + c.PrimaryKey + " ASC"

	return sql, allParams, nil
}

type joinAliases struct {
	left, right string
}

// alias maps a ColumnRef table to the join alias.
// The left table wins when both sides are the same table; callers wanting
// the right side of a self-join use queryir.RightSide.
func (a joinAliases) alias(table string) (string, error) {
	switch table {
	case queryir.LeftSide, a.left:
		return queryir.LeftSide, nil
	case queryir.RightSide, a.right:
		return queryir.RightSide, nil
	default:
		return "", fmt.Errorf("column table %q is not part of the join", table)
	}
}

func (c *SQLCompiler) compileJoinPredicate(p queryir.Predicate, aliases joinAliases) (string, []any, error) {
	switch pred := p.(type) {
	case queryir.ColumnEquals:
		left, err := aliases.alias(pred.Left.Table)
		if err != nil {
			return "", nil, err
		}
		right, err := aliases.alias(pred.Right.Table)
		if err != nil {
			return "", nil, err
		}
		if err := checkIdent("column", pred.Left.Column); err != nil {
			return "", nil, err
		}
		if err := checkIdent("column", pred.Right.Column); err != nil {
			return "", nil, err
		}
		return fmt.Sprintf("%s.%s = %s.%s", left, pred.Left.Column, right, pred.Right.Column), nil, nil
	case queryir.And:
		return c.compileJunction(pred.Predicates, " AND ", "1 = 1", func(sub queryir.Predicate) (string, []any, error) {
			return c.compileJoinPredicate(sub, aliases)
		})
	case queryir.Or:
		return c.compileJunction(pred.Predicates, " OR ", "1 = 0", func(sub queryir.Predicate) (string, []any, error) {
			return c.compileJoinPredicate(sub, aliases)
		})
	default:
		// Literal comparisons inside ON refer to the right side.
		return c.compilePredicate(p, "r")
	}
}

// compileInsert compiles a queryir.Insert to SQL. An insert without values
// uses DEFAULT VALUES.
func (c *SQLCompiler) compileInsert(ins queryir.Insert) (string, []any, error) {
	if err := checkIdent("table", ins.Into); err != nil {
		return "", nil, err
	}
	if len(ins.Values) == 0 {
		return "INSERT INTO " + ins.Into + " DEFAULT VALUES", nil, nil
	}

	cols := make([]string, 0, len(ins.Values))
	marks := make([]string, 0, len(ins.Values))
	params := make([]any, 0, len(ins.Values))
	for _, a := range ins.Values {
		if err := checkIdent("column", a.Column); err != nil {
			return "", nil, err
		}
		param, err := irValueToParam(a.Value)
		if err != nil {
			return "", nil, fmt.Errorf("convert value for %s: %w", a.Column, err)
		}
		cols = append(cols, a.Column)
		marks = append(marks, "?")
		params = append(params, param)
	}

	sql := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		ins.Into, strings.Join(cols, ", "), strings.Join(marks, ", "))
	return sql, params, nil
}

// compileUpdate compiles a queryir.Update to SQL.
func (c *SQLCompiler) compileUpdate(u queryir.Update) (string, []any, error) {
	if err := checkIdent("table", u.Table); err != nil {
		return "", nil, err
	}
	if len(u.Set) == 0 {
		return "", nil, fmt.Errorf("update of %s sets no column", u.Table)
	}

	sets := make([]string, 0, len(u.Set))
	params := make([]any, 0, len(u.Set))
	for _, a := range u.Set {
		if err := checkIdent("column", a.Column); err != nil {
			return "", nil, err
		}
		param, err := irValueToParam(a.Value)
		if err != nil {
			return "", nil, fmt.Errorf("convert value for %s: %w", a.Column, err)
		}
		sets = append(sets, a.Column+" = ?")
		params = append(params, param)
	}

	sql := fmt.Sprintf("UPDATE %s SET %s", u.Table, strings.Join(sets, ", "))
	if u.Filter != nil {
		filterSQL, filterParams, err := c.compilePredicate(u.Filter, "")
		if err != nil {
			return "", nil, fmt.Errorf("compile filter: %w", err)
		}
		sql += " WHERE " + filterSQL
		params = append(params, filterParams...)
	}

	return sql, params, nil
}

// compileDelete compiles a queryir.Delete to SQL.
func (c *SQLCompiler) compileDelete(d queryir.Delete) (string, []any, error) {
	if err := checkIdent("table", d.From); err != nil {
		return "", nil, err
	}

	sql := "DELETE FROM " + d.From
	var params []any
	if d.Filter != nil {
		filterSQL, filterParams, err := c.compilePredicate(d.Filter, "")
		if err != nil {
			return "", nil, fmt.Errorf("compile filter: %w", err)
		}
		sql += " WHERE " + filterSQL
		params = filterParams
	}

	return sql, params, nil
}

// compilePredicate compiles a queryir.Predicate to a WHERE clause fragment.
// Field names are prefixed with qualifier when it is non-empty.
// CRITICAL: Values NEVER interpolated - always use ? placeholders.
func (c *SQLCompiler) compilePredicate(p queryir.Predicate, qualifier string) (string, []any, error) {
	switch pred := p.(type) {
	case nil:
		return "1 = 1", nil, nil
	case queryir.Equals:
		return c.compileEquals(pred, qualifier)
	case queryir.ColumnEquals:
		return "", nil, fmt.Errorf("column comparison %s = %s is only valid in a join condition", pred.Left, pred.Right)
	case queryir.And:
		return c.compileJunction(pred.Predicates, " AND ", "1 = 1", func(sub queryir.Predicate) (string, []any, error) {
			return c.compilePredicate(sub, qualifier)
		})
	case queryir.Or:
		return c.compileJunction(pred.Predicates, " OR ", "1 = 0", func(sub queryir.Predicate) (string, []any, error) {
			return c.compilePredicate(sub, qualifier)
		})
	default:
		return "", nil, fmt.Errorf("unsupported predicate type: %T", p)
	}
}

// compileEquals compiles an Equals predicate to "field = ?".
func (c *SQLCompiler) compileEquals(eq queryir.Equals, qualifier string) (string, []any, error) {
	if err := checkIdent("column", eq.Field); err != nil {
		return "", nil, err
	}

	param, err := irValueToParam(eq.Value)
	if err != nil {
		return "", nil, fmt.Errorf("convert value: %w", err)
	}

	field := eq.Field
	if qualifier != "" {
		field = qualifier + "." + field
	}
	return field + " = ?", []any{param}, nil
}

// compileJunction joins sub-predicates with op. Compound children are
// parenthesized so AND/OR precedence never depends on SQL rules.
func (c *SQLCompiler) compileJunction(
	preds []queryir.Predicate,
	op, empty string,
	compile func(queryir.Predicate) (string, []any, error),
) (string, []any, error) {
	if len(preds) == 0 {
		return empty, nil, nil
	}

	var sqlParts []string
	var allParams []any
	for _, pred := range preds {
		sql, params, err := compile(pred)
		if err != nil {
			return "", nil, err
		}
		if isCompound(pred) {
			sql = "(" + sql + ")"
		}
		sqlParts = append(sqlParts, sql)
		allParams = append(allParams, params...)
	}

	return strings.Join(sqlParts, op), allParams, nil
}

func isCompound(p queryir.Predicate) bool {
	switch pred := p.(type) {
	case queryir.And:
		return len(pred.Predicates) > 1
	case queryir.Or:
		return len(pred.Predicates) > 1
	default:
		return false
	}
}

// irValueToParam converts an ir.IRValue to a Go native type for SQL parameter.
// Supports string, int, bool and null.
func irValueToParam(v ir.IRValue) (any, error) {
	switch val := v.(type) {
	case ir.IRString:
		return string(val), nil
	case ir.IRInt:
		return int64(val), nil
	case ir.IRBool:
		return bool(val), nil
	case nil, ir.IRNull:
		return nil, nil
	case ir.IRArray:
		return nil, fmt.Errorf("IRArray cannot be used as SQL parameter directly")
	case ir.IRObject:
		return nil, fmt.Errorf("IRObject cannot be used as SQL parameter directly")
	default:
		return nil, fmt.Errorf("unsupported IRValue type for SQL parameter: %T", v)
	}
}
