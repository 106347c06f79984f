package store

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/roach88/compositefk/internal/compositefk"
	"github.com/roach88/compositefk/internal/ir"
	"github.com/roach88/compositefk/internal/queryir"
	"github.com/roach88/compositefk/internal/schema"
)

// DeletionSummary counts the rows a deletion touched, per entity.
type DeletionSummary struct {
	Deleted map[string]int
	Updated map[string]int
}

// Collector deletes rows and applies the on_delete action of every
// composite reference that resolves to them:
//   - CASCADE deletes the referencing rows, recursively
//   - SET_NULL writes the reference's clear values, never the reference
//     pseudo-column itself
//   - DO_NOTHING leaves the referencing rows dangling
//
// A deletion runs in one transaction.
type Collector struct {
	store  *Store
	logger *slog.Logger
}

// NewCollector creates a collector over s.
func NewCollector(s *Store) *Collector {
	return &Collector{store: s, logger: s.logger}
}

// Delete removes the row of inst with its dependents.
func (s *Store) Delete(ctx context.Context, inst *schema.Instance) (DeletionSummary, error) {
	return NewCollector(s).Delete(ctx, inst)
}

// Delete removes the row of inst with its dependents.
func (c *Collector) Delete(ctx context.Context, inst *schema.Instance) (DeletionSummary, error) {
	sum := DeletionSummary{Deleted: map[string]int{}, Updated: map[string]int{}}
	if ir.IsNull(inst.PK()) {
		return sum, fmt.Errorf("delete %s: instance has no primary key", inst.Entity.Name)
	}

	tx, err := c.store.db.BeginTx(ctx, nil)
	if err != nil {
		return sum, fmt.Errorf("delete %s: begin tx: %w", inst, err)
	}
	defer tx.Rollback() // No-op if committed

	if err := c.collect(ctx, tx, inst, &sum, make(map[string]bool)); err != nil {
		return DeletionSummary{Deleted: map[string]int{}, Updated: map[string]int{}}, err
	}

	if err := tx.Commit(); err != nil {
		return sum, fmt.Errorf("delete %s: commit: %w", inst, err)
	}

	c.logger.Info("deleted", "row", inst.String(), "deleted", sum.Deleted, "updated", sum.Updated)
	return sum, nil
}

func (c *Collector) collect(ctx context.Context, db querier, inst *schema.Instance, sum *DeletionSummary, visited map[string]bool) error {
	key := inst.String()
	if visited[key] {
		return nil
	}
	visited[key] = true

	for _, e := range c.store.reg.Entities() {
		for _, f := range e.References() {
			m, ok := f.Reference.(*compositefk.Mapping)
			if !ok || m.RemoteEntity() != inst.Entity.Name {
				continue
			}
			reference := e.Name + "." + f.Name

			if m.OnDeleteAction() == compositefk.DoNothing {
				c.logger.Debug("on_delete ignored", "reference", reference, "row", key)
				continue
			}

			refs, err := c.referencing(ctx, db, e, m, inst)
			if err != nil {
				return fmt.Errorf("delete %s: %s: %w", key, reference, err)
			}

			for _, ref := range refs {
				switch m.OnDeleteAction() {
				case compositefk.Cascade:
					c.logger.Debug("cascade", "reference", reference, "from", key, "to", ref.String())
					if err := c.collect(ctx, db, ref, sum, visited); err != nil {
						return err
					}
				case compositefk.SetNull:
					if err := c.clear(ctx, db, m, ref); err != nil {
						return fmt.Errorf("delete %s: %s: %w", key, reference, err)
					}
					sum.Updated[e.Name]++
				}
			}
		}
	}

	sqlStr, params, err := c.store.compiler.Compile(queryir.Delete{
		From:   inst.Entity.Table,
		Filter: queryir.Equals{Field: schema.PrimaryKey, Value: inst.PK()},
	})
	if err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	if _, err := db.ExecContext(ctx, sqlStr, params...); err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	sum.Deleted[inst.Entity.Name]++
	return nil
}

// referencing returns the rows of local whose reference m resolves to
// remote. Raw and computed parts must match remote's own values, and rows
// collapsed by a null_if_equal sentinel reference nothing.
func (c *Collector) referencing(ctx context.Context, db querier, local *schema.Entity, m *compositefk.Mapping, remote *schema.Instance) ([]*schema.Instance, error) {
	extra, err := m.ExtraFilter()
	if err != nil {
		return nil, err
	}
	for _, p := range extra {
		eq, ok := p.(queryir.Equals)
		if ok && !ir.Equal(remote.Get(eq.Field), eq.Value) {
			return nil, nil
		}
	}

	filter, err := m.FilterFor(remote)
	if err != nil {
		return nil, err
	}
	rows, err := c.store.execute(ctx, db, queryir.Select{From: local.Table, Filter: filter})
	if err != nil {
		return nil, err
	}

	refs := rows[:0]
	for _, row := range rows {
		res, err := m.Resolve(row)
		if err != nil {
			return nil, err
		}
		if !res.Absent {
			refs = append(refs, row)
		}
	}
	return refs, nil
}

// clear writes the clear values of m to the row of ref. Every field of the
// referencing entity is offered to the mapping, and the ones it suppresses
// are skipped: the reference pseudo-column and the columns it leaves alone.
func (c *Collector) clear(ctx context.Context, db querier, m *compositefk.Mapping, ref *schema.Instance) error {
	values := make(map[string]ir.IRValue)
	for _, fv := range m.ClearUpdates() {
		values[fv.Field] = fv.Value
	}

	var sets []queryir.Assignment
	for _, f := range ref.Entity.Fields() {
		if m.SuppressUpdate(f.Name) {
			continue
		}
		sets = append(sets, queryir.Assignment{Column: f.Name, Value: values[f.Name]})
	}
	if len(sets) == 0 {
		return nil
	}
	return c.store.updateColumns(ctx, db, ref, sets)
}
