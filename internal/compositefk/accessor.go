package compositefk

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/roach88/compositefk/internal/ir"
	"github.com/roach88/compositefk/internal/queryir"
	"github.com/roach88/compositefk/internal/schema"
)

// QueryEngine executes queries and materializes the matching rows.
// Implemented by store.Store.
type QueryEngine interface {
	Execute(ctx context.Context, q queryir.Query) ([]*schema.Instance, error)
}

// Accessor reads and writes one reference field of a local entity.
// The outcome of a read is cached in the instance's slot for the field.
type Accessor struct {
	local   *schema.Entity
	field   string
	remote  *schema.Entity
	mapping *Mapping
	engine  QueryEngine
	logger  *slog.Logger
}

// NewAccessor binds the reference field entity.field to engine.
func NewAccessor(s Schema, entity, field string, engine QueryEngine) (*Accessor, error) {
	b, err := bind(s, entity, field)
	if err != nil {
		return nil, err
	}
	return &Accessor{
		local:   b.local,
		field:   field,
		remote:  b.remote,
		mapping: b.mapping,
		engine:  engine,
		logger:  b.mapping.logger.With("reference", entity+"."+field),
	}, nil
}

type binding struct {
	local   *schema.Entity
	remote  *schema.Entity
	mapping *Mapping
}

func bind(s Schema, entity, field string) (binding, error) {
	local, ok := s.Entity(entity)
	if !ok {
		return binding{}, &schema.NotFoundError{Entity: entity}
	}
	f, ok := local.Field(field)
	if !ok {
		return binding{}, &schema.NotFoundError{Entity: entity, Field: field}
	}
	m, ok := f.Reference.(*Mapping)
	if !ok {
		return binding{}, fmt.Errorf("%s.%s is not a composite reference", entity, field)
	}
	remote, ok := s.Entity(m.remote)
	if !ok {
		return binding{}, &schema.NotFoundError{Entity: m.remote}
	}
	return binding{local: local, remote: remote, mapping: m}, nil
}

// Mapping returns the mapping of the field.
func (a *Accessor) Mapping() *Mapping { return a.mapping }

// Field returns the name of the reference field.
func (a *Accessor) Field() string { return a.field }

// Get returns the instance referenced by inst, or nil when the reference is
// absent. The first call resolves and queries; later calls return the cached
// outcome until Set runs or the slot is invalidated.
//
// A NULL in one of the local columns makes the reference absent for a
// nullable mapping, and missing otherwise, without querying.
func (a *Accessor) Get(ctx context.Context, inst *schema.Instance) (*schema.Instance, error) {
	if err := a.checkLocal(inst); err != nil {
		return nil, err
	}

	switch slot := inst.Slot(a.field); slot.State {
	case schema.Absent:
		a.logger.Debug("reference cache hit", "instance", inst.ID, "state", slot.State)
		return nil, nil
	case schema.Resolved:
		a.logger.Debug("reference cache hit", "instance", inst.ID, "state", slot.State)
		return slot.Ref, nil
	}

	res, err := a.mapping.Resolve(inst)
	if err != nil {
		return nil, err
	}
	if res.Absent {
		a.logger.Debug("reference collapsed to absent",
			"field", res.Sentinel.Field,
			"sentinel", ir.Format(res.Sentinel.Value))
		inst.SetSlot(a.field, schema.AbsentSlot())
		return nil, nil
	}

	if col, ok := a.nullLocalColumn(inst); ok {
		if a.mapping.nullRef {
			a.logger.Debug("local column is null, reference absent", "column", col)
			inst.SetSlot(a.field, schema.AbsentSlot())
			return nil, nil
		}
		return nil, &RelatedObjectNotFoundError{Entity: a.local.Name, Field: a.field, Remote: a.remote.Name}
	}

	q := queryir.Select{From: a.remote.Table, Filter: res.Filter}
	a.logger.Debug("resolving reference", "instance", inst.ID, "remote", a.remote.Name)

	rows, err := a.engine.Execute(ctx, q)
	if err != nil {
		return nil, err
	}

	switch len(rows) {
	case 0:
		return nil, &RelatedObjectNotFoundError{Entity: a.local.Name, Field: a.field, Remote: a.remote.Name, Query: q}
	case 1:
	default:
		return nil, configErrorf(a.remote.Name, "%s.%s matched %d rows; the pairings do not identify a unique row",
			a.local.Name, a.field, len(rows))
	}

	ref := rows[0]
	inst.SetSlot(a.field, schema.ResolvedSlot(ref))
	if a.mapping.unique {
		ref.SetSlot(a.mapping.RelatedName(a.local.Name), schema.ResolvedSlot(inst))
	}
	return ref, nil
}

// nullLocalColumn returns the first LocalColumn target holding NULL.
func (a *Accessor) nullLocalColumn(inst *schema.Instance) (string, bool) {
	for _, col := range a.mapping.LocalColumns() {
		if ir.IsNull(inst.Get(col)) {
			return col, true
		}
	}
	return "", false
}

// Set assigns ref (nil for absent) to the reference of inst.
//
// The local columns are written by Propagate, the reverse slot of the
// previously cached referenced row is invalidated when the row changes, and
// the new outcome is cached so a following Get does not query. For unique
// mappings the reverse slot of ref is pointed back at inst.
//
// When Propagate fails the columns of inst are unchanged and its slot is
// reset, so the next Get queries.
func (a *Accessor) Set(inst, ref *schema.Instance) error {
	if err := a.checkLocal(inst); err != nil {
		return err
	}
	if ref != nil && ref.Entity != a.remote {
		return fmt.Errorf("%s.%s must reference %s, got %s", a.local.Name, a.field, a.remote.Name, ref.Entity.Name)
	}

	old := inst.Slot(a.field)
	if err := a.mapping.Propagate(inst, ref); err != nil {
		inst.Invalidate(a.field)
		return err
	}

	related := a.mapping.RelatedName(a.local.Name)
	if old.State == schema.Resolved && old.Ref != nil && !schema.SameRow(old.Ref, ref) {
		old.Ref.Invalidate(related)
	}

	if ref == nil {
		inst.SetSlot(a.field, schema.AbsentSlot())
		return nil
	}

	inst.SetSlot(a.field, schema.ResolvedSlot(ref))
	if a.mapping.unique {
		ref.SetSlot(related, schema.ResolvedSlot(inst))
	}
	return nil
}

func (a *Accessor) checkLocal(inst *schema.Instance) error {
	if inst == nil {
		return fmt.Errorf("%s.%s: nil instance", a.local.Name, a.field)
	}
	if inst.Entity != a.local {
		return fmt.Errorf("%s.%s used on a %s instance", a.local.Name, a.field, inst.Entity.Name)
	}
	return nil
}

// ReverseAccessor reads the local rows referencing a remote instance.
type ReverseAccessor struct {
	local   *schema.Entity
	field   string
	remote  *schema.Entity
	mapping *Mapping
	engine  QueryEngine
	logger  *slog.Logger
}

// NewReverseAccessor binds the reverse side of the reference entity.field.
func NewReverseAccessor(s Schema, entity, field string, engine QueryEngine) (*ReverseAccessor, error) {
	b, err := bind(s, entity, field)
	if err != nil {
		return nil, err
	}
	return &ReverseAccessor{
		local:   b.local,
		field:   field,
		remote:  b.remote,
		mapping: b.mapping,
		engine:  engine,
		logger:  b.mapping.logger.With("reference", entity+"."+field, "reverse", true),
	}, nil
}

// Name returns the related name of the reverse relation.
func (r *ReverseAccessor) Name() string {
	return r.mapping.RelatedName(r.local.Name)
}

// All returns every local row referencing remote. It is never cached.
func (r *ReverseAccessor) All(ctx context.Context, remote *schema.Instance) ([]*schema.Instance, error) {
	if err := r.checkRemote(remote); err != nil {
		return nil, err
	}

	filter, err := r.mapping.FilterFor(remote)
	if err != nil {
		return nil, err
	}

	r.logger.Debug("fetching referencing rows", "instance", remote.ID)
	return r.engine.Execute(ctx, queryir.Select{From: r.local.Table, Filter: filter})
}

// One returns the single local row referencing remote through a unique
// mapping, or nil when there is none. The outcome is cached on remote under
// the related name.
func (r *ReverseAccessor) One(ctx context.Context, remote *schema.Instance) (*schema.Instance, error) {
	if !r.mapping.unique {
		return nil, configErrorf(r.remote.Name, "%s.%s is not unique; use All", r.local.Name, r.field)
	}
	if err := r.checkRemote(remote); err != nil {
		return nil, err
	}

	name := r.Name()
	switch slot := remote.Slot(name); slot.State {
	case schema.Absent:
		return nil, nil
	case schema.Resolved:
		return slot.Ref, nil
	}

	rows, err := r.All(ctx, remote)
	if err != nil {
		return nil, err
	}

	switch len(rows) {
	case 0:
		remote.SetSlot(name, schema.AbsentSlot())
		return nil, nil
	case 1:
	default:
		return nil, configErrorf(r.remote.Name, "%s.%s is unique but %d rows reference %s",
			r.local.Name, r.field, len(rows), remote)
	}

	local := rows[0]
	remote.SetSlot(name, schema.ResolvedSlot(local))
	local.SetSlot(r.field, schema.ResolvedSlot(remote))
	return local, nil
}

func (r *ReverseAccessor) checkRemote(inst *schema.Instance) error {
	if inst == nil {
		return fmt.Errorf("%s: nil instance", r.Name())
	}
	if inst.Entity != r.remote {
		return fmt.Errorf("%s used on a %s instance, want %s", r.Name(), inst.Entity.Name, r.remote.Name)
	}
	return nil
}
