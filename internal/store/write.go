package store

import (
	"context"
	"fmt"

	"github.com/roach88/compositefk/internal/ir"
	"github.com/roach88/compositefk/internal/queryir"
	"github.com/roach88/compositefk/internal/schema"
)

// Insert writes inst as a new row. When its primary key is NULL the key
// assigned by SQLite is written back to inst.
//
// Returns inst so fixtures can chain.
func (s *Store) Insert(ctx context.Context, inst *schema.Instance) (*schema.Instance, error) {
	if err := s.insert(ctx, s.db, inst); err != nil {
		return nil, err
	}
	return inst, nil
}

func (s *Store) insert(ctx context.Context, db querier, inst *schema.Instance) error {
	if _, ok := s.entityByTable(inst.Entity.Table); !ok {
		return fmt.Errorf("insert %s: entity not registered", inst.Entity.Name)
	}

	assignKey := ir.IsNull(inst.PK())
	values := make([]queryir.Assignment, 0, len(inst.Entity.Columns()))
	for _, f := range inst.Entity.Columns() {
		if f.Name == schema.PrimaryKey && assignKey {
			continue
		}
		values = append(values, queryir.Assignment{Column: f.Name, Value: inst.Get(f.Name)})
	}

	sqlStr, params, err := s.compiler.Compile(queryir.Insert{Into: inst.Entity.Table, Values: values})
	if err != nil {
		return fmt.Errorf("insert %s: %w", inst.Entity.Name, err)
	}

	result, err := db.ExecContext(ctx, sqlStr, params...)
	if err != nil {
		return fmt.Errorf("insert %s: %w", inst.Entity.Name, err)
	}

	if assignKey {
		id, err := result.LastInsertId()
		if err != nil {
			return fmt.Errorf("insert %s: last insert id: %w", inst.Entity.Name, err)
		}
		if err := inst.Set(schema.PrimaryKey, ir.IRInt(id)); err != nil {
			return fmt.Errorf("insert %s: %w", inst.Entity.Name, err)
		}
	}
	return nil
}

// Update writes every column of inst to its row.
// The row must exist.
func (s *Store) Update(ctx context.Context, inst *schema.Instance) error {
	sets := make([]queryir.Assignment, 0, len(inst.Entity.Columns()))
	for _, f := range inst.Entity.Columns() {
		if f.Name == schema.PrimaryKey {
			continue
		}
		sets = append(sets, queryir.Assignment{Column: f.Name, Value: inst.Get(f.Name)})
	}
	if len(sets) == 0 {
		return nil
	}
	return s.updateColumns(ctx, s.db, inst, sets)
}

// updateColumns writes sets to the row of inst.
func (s *Store) updateColumns(ctx context.Context, db querier, inst *schema.Instance, sets []queryir.Assignment) error {
	if ir.IsNull(inst.PK()) {
		return fmt.Errorf("update %s: instance has no primary key", inst.Entity.Name)
	}

	sqlStr, params, err := s.compiler.Compile(queryir.Update{
		Table:  inst.Entity.Table,
		Set:    sets,
		Filter: queryir.Equals{Field: schema.PrimaryKey, Value: inst.PK()},
	})
	if err != nil {
		return fmt.Errorf("update %s: %w", inst, err)
	}

	result, err := db.ExecContext(ctx, sqlStr, params...)
	if err != nil {
		return fmt.Errorf("update %s: %w", inst, err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update %s: rows affected: %w", inst, err)
	}
	if n == 0 {
		return fmt.Errorf("update %s: row does not exist", inst)
	}
	return nil
}
