package store

import (
	"context"
	"fmt"

	"github.com/roach88/compositefk/internal/compositefk"
	"github.com/roach88/compositefk/internal/querysql"
	"github.com/roach88/compositefk/internal/schema"
)

// createTables creates one table per registered entity and one index per
// composite reference over its local columns. Unique references get a
// UNIQUE index.
func (s *Store) createTables(ctx context.Context) error {
	if s.reg == nil {
		return nil
	}
	if diags := compositefk.CheckAll(s.reg); len(diags) > 0 {
		return fmt.Errorf("%d invalid composite references, first: %s", len(diags), diags[0])
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	for _, e := range s.reg.Entities() {
		stmts, err := entityDDL(e)
		if err != nil {
			return err
		}
		for _, stmt := range stmts {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("entity %s: %w", e.Name, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	s.logger.Info("entity tables ready", "entities", len(s.reg.Entities()))
	return nil
}

// entityDDL renders the CREATE statements of one entity.
func entityDDL(e *schema.Entity) ([]string, error) {
	cols := make([]querysql.ColumnDef, 0, len(e.Columns()))
	for _, f := range e.Columns() {
		typ, err := sqlType(f.Kind)
		if err != nil {
			return nil, fmt.Errorf("entity %s: field %s: %w", e.Name, f.Name, err)
		}
		cols = append(cols, querysql.ColumnDef{Name: f.Name, Type: typ, NotNull: !f.Nullable})
	}

	table, err := querysql.CreateTable(e.Table, schema.PrimaryKey, cols)
	if err != nil {
		return nil, fmt.Errorf("entity %s: %w", e.Name, err)
	}
	stmts := []string{table}

	for _, f := range e.References() {
		m, ok := f.Reference.(*compositefk.Mapping)
		if !ok {
			continue
		}
		index, err := querysql.CreateIndex(
			fmt.Sprintf("idx_%s_%s", e.Table, f.Name), e.Table, m.LocalColumns(), m.IsUnique())
		if err != nil {
			return nil, fmt.Errorf("entity %s: reference %s: %w", e.Name, f.Name, err)
		}
		stmts = append(stmts, index)
	}
	return stmts, nil
}

// sqlType maps a field kind to its SQLite column type. Booleans are stored
// as 0/1 integers.
func sqlType(k schema.Kind) (string, error) {
	switch k {
	case schema.KindString:
		return "TEXT", nil
	case schema.KindInt, schema.KindBool:
		return "INTEGER", nil
	default:
		return "", fmt.Errorf("kind %q has no column type", k)
	}
}
