package schema

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/roach88/compositefk/internal/ir"
)

// SlotState is the resolution state of a cached reference.
type SlotState int

const (
	Unresolved SlotState = iota
	Absent
	Resolved
)

func (s SlotState) String() string {
	switch s {
	case Unresolved:
		return "unresolved"
	case Absent:
		return "absent"
	case Resolved:
		return "resolved"
	default:
		return fmt.Sprintf("SlotState(%d)", int(s))
	}
}

// Slot caches the outcome of resolving one reference of one instance.
type Slot struct {
	State SlotState
	Ref   *Instance // set only when State == Resolved
}

// AbsentSlot is a slot resolved to no reference.
func AbsentSlot() Slot {
	return Slot{State: Absent}
}

// ResolvedSlot is a slot resolved to ref.
func ResolvedSlot(ref *Instance) Slot {
	return Slot{State: Resolved, Ref: ref}
}

// Instance is an in-memory row of an entity.
type Instance struct {
	// ID identifies the in-memory object, independent of the row key.
	ID     uuid.UUID
	Entity *Entity

	values map[string]ir.IRValue
	slots  map[string]Slot
}

// NewInstance creates an instance with every column set to its default.
func NewInstance(e *Entity) *Instance {
	inst := &Instance{
		ID:     newInstanceID(),
		Entity: e,
		values: make(map[string]ir.IRValue, len(e.fields)),
	}
	for _, f := range e.Columns() {
		if f.Default != nil {
			inst.values[f.Name] = f.Default
		}
	}
	return inst
}

// newInstanceID returns a time-ordered UUID so instances sort by creation.
func newInstanceID() uuid.UUID {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.New()
	}
	return id
}

// Get returns the value of a column, IRNull when unset or unknown.
func (i *Instance) Get(name string) ir.IRValue {
	if v, ok := i.values[name]; ok {
		return v
	}
	return ir.IRNull{}
}

// Set writes a column. Reference fields are not columns and are rejected.
// Cache slots are not invalidated.
func (i *Instance) Set(name string, v ir.IRValue) error {
	if err := i.CheckSet(name, v); err != nil {
		return err
	}
	if v == nil {
		v = ir.IRNull{}
	}
	i.values[name] = v
	return nil
}

// CheckSet reports the error Set would return for name and v without
// writing anything.
func (i *Instance) CheckSet(name string, v ir.IRValue) error {
	f, ok := i.Entity.Field(name)
	if !ok {
		return &NotFoundError{Entity: i.Entity.Name, Field: name}
	}
	if f.Virtual() {
		return fmt.Errorf("%s.%s is a reference, not a column", i.Entity.Name, name)
	}
	if !f.Accepts(v) {
		return fmt.Errorf("%s.%s: %s is not a %s", i.Entity.Name, name, ir.Format(v), f.Kind)
	}
	return nil
}

// MustSet is Set that panics on error. Intended for fixtures.
func (i *Instance) MustSet(name string, v ir.IRValue) *Instance {
	if err := i.Set(name, v); err != nil {
		panic(err)
	}
	return i
}

// PK returns the primary key value.
func (i *Instance) PK() ir.IRValue {
	return i.Get(PrimaryKey)
}

// Values returns every column value, NULL included.
func (i *Instance) Values() ir.IRObject {
	obj := make(ir.IRObject, len(i.values))
	for _, f := range i.Entity.Columns() {
		obj[f.Name] = i.Get(f.Name)
	}
	return obj
}

// SameRow reports whether a and b denote the same stored row: the same
// object, or the same entity with equal non-null primary keys.
func SameRow(a, b *Instance) bool {
	if a == nil || b == nil {
		return a == b
	}
	if a == b {
		return true
	}
	if a.Entity != b.Entity || ir.IsNull(a.PK()) {
		return false
	}
	return ir.Equal(a.PK(), b.PK())
}

// Slot returns the cache slot of a reference, Unresolved when never set.
func (i *Instance) Slot(name string) Slot {
	return i.slots[name]
}

// SetSlot stores the cache slot of a reference.
func (i *Instance) SetSlot(name string, s Slot) {
	if i.slots == nil {
		i.slots = make(map[string]Slot)
	}
	i.slots[name] = s
}

// Invalidate resets the cache slot of a reference to Unresolved.
func (i *Instance) Invalidate(name string) {
	delete(i.slots, name)
}

// String renders the instance for logs and CLI output.
func (i *Instance) String() string {
	return fmt.Sprintf("%s(%s)", i.Entity.Name, ir.Format(i.PK()))
}
