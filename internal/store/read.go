package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/roach88/compositefk/internal/ir"
	"github.com/roach88/compositefk/internal/queryir"
	"github.com/roach88/compositefk/internal/schema"
)

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Execute runs a Select or a Join and returns the selected rows as fresh
// instances of the entity owning the selected table. Rows are ordered by
// primary key.
//
// Returns an empty slice (not nil) when nothing matches.
func (s *Store) Execute(ctx context.Context, q queryir.Query) ([]*schema.Instance, error) {
	return s.execute(ctx, s.db, q)
}

func (s *Store) execute(ctx context.Context, db querier, q queryir.Query) ([]*schema.Instance, error) {
	var table string
	switch query := q.(type) {
	case queryir.Select:
		if len(query.Columns) > 0 {
			return nil, fmt.Errorf("execute: partial rows of %s cannot become instances", query.From)
		}
		table = query.From
	case queryir.Join:
		table = query.Left.From
	default:
		return nil, fmt.Errorf("execute: unsupported query type %T", q)
	}

	e, ok := s.entityByTable(table)
	if !ok {
		return nil, fmt.Errorf("execute: no entity stored in table %s", table)
	}

	sqlStr, params, err := s.compiler.Compile(q)
	if err != nil {
		return nil, fmt.Errorf("compile query: %w", err)
	}

	if res := queryir.Validate(q); !res.Valid {
		s.logger.Debug("query cannot match as intended", "table", table, "warnings", res.Warnings)
	}
	s.logger.Debug("executing query", "sql", sqlStr, "params", len(params))

	rows, err := db.QueryContext(ctx, sqlStr, params...)
	if err != nil {
		return nil, fmt.Errorf("execute query: %w", err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("get columns: %w", err)
	}

	instances := []*schema.Instance{}
	for rows.Next() {
		inst, err := scanInstance(rows, e, columns)
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", e.Name, err)
		}
		instances = append(instances, inst)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}

	return instances, nil
}

// Get loads one row by primary key.
// Returns sql.ErrNoRows if not found.
func (s *Store) Get(ctx context.Context, entity string, id int64) (*schema.Instance, error) {
	e, ok := s.entity(entity)
	if !ok {
		return nil, &schema.NotFoundError{Entity: entity}
	}

	rows, err := s.Execute(ctx, queryir.Select{
		From:   e.Table,
		Filter: queryir.Equals{Field: schema.PrimaryKey, Value: ir.IRInt(id)},
	})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, sql.ErrNoRows
	}
	return rows[0], nil
}

func (s *Store) entity(name string) (*schema.Entity, bool) {
	if s.reg == nil {
		return nil, false
	}
	return s.reg.Entity(name)
}

func (s *Store) entityByTable(table string) (*schema.Entity, bool) {
	if s.reg == nil {
		return nil, false
	}
	return s.reg.EntityByTable(table)
}

// scanInstance scans the current row into a new instance of e.
func scanInstance(rows *sql.Rows, e *schema.Entity, columns []string) (*schema.Instance, error) {
	values := make([]any, len(columns))
	valuePtrs := make([]any, len(columns))
	for i := range values {
		valuePtrs[i] = &values[i]
	}

	if err := rows.Scan(valuePtrs...); err != nil {
		return nil, fmt.Errorf("scan row: %w", err)
	}

	inst := schema.NewInstance(e)
	for i, col := range columns {
		f, ok := e.Field(col)
		if !ok {
			return nil, fmt.Errorf("column %s is not a field of %s", col, e.Name)
		}
		v, err := sqlToIRValue(values[i], f.Kind)
		if err != nil {
			return nil, fmt.Errorf("convert column %s: %w", col, err)
		}
		if err := inst.Set(col, v); err != nil {
			return nil, err
		}
	}
	return inst, nil
}

// sqlToIRValue converts a value from database/sql to an ir.IRValue of the
// field's kind.
func sqlToIRValue(v any, kind schema.Kind) (ir.IRValue, error) {
	if v == nil {
		return ir.IRNull{}, nil
	}

	switch val := v.(type) {
	case int64:
		if kind == schema.KindBool {
			return ir.IRBool(val != 0), nil
		}
		return ir.IRInt(val), nil
	case float64:
		// Floats are forbidden in IR: use INTEGER or TEXT columns.
		return nil, fmt.Errorf("float64 values are forbidden in IR: %v", val)
	case string:
		return ir.IRString(val), nil
	case []byte:
		return ir.IRString(string(val)), nil
	case bool:
		return ir.IRBool(val), nil
	default:
		return nil, fmt.Errorf("unsupported SQL type: %T", v)
	}
}
