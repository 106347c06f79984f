package schema

import (
	"errors"
	"fmt"
)

// NotFoundError reports a missing entity or field.
type NotFoundError struct {
	Entity string
	Field  string // empty when the entity itself is missing
}

func (e *NotFoundError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("entity %s not found", e.Entity)
	}
	return fmt.Sprintf("field %s.%s not found", e.Entity, e.Field)
}

// IsNotFound checks if an error is a NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// Registry holds entities in registration order.
type Registry struct {
	entities []*Entity
	byName   map[string]*Entity
	byTable  map[string]*Entity
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byName:  make(map[string]*Entity),
		byTable: make(map[string]*Entity),
	}
}

// Register adds entities. Names and tables must be unique.
func (r *Registry) Register(entities ...*Entity) error {
	for _, e := range entities {
		if _, dup := r.byName[e.Name]; dup {
			return fmt.Errorf("entity %s already registered", e.Name)
		}
		if other, dup := r.byTable[e.Table]; dup {
			return fmt.Errorf("entity %s: table %s already used by %s", e.Name, e.Table, other.Name)
		}
		r.entities = append(r.entities, e)
		r.byName[e.Name] = e
		r.byTable[e.Table] = e
	}
	return nil
}

// Entity looks up an entity by name.
func (r *Registry) Entity(name string) (*Entity, bool) {
	e, ok := r.byName[name]
	return e, ok
}

// EntityByTable looks up an entity by its table name.
func (r *Registry) EntityByTable(table string) (*Entity, bool) {
	e, ok := r.byTable[table]
	return e, ok
}

// Entities returns every entity in registration order.
func (r *Registry) Entities() []*Entity {
	out := make([]*Entity, len(r.entities))
	copy(out, r.entities)
	return out
}

// HasField reports whether entity declares a field called name.
// An unknown entity has no fields.
func (r *Registry) HasField(entity, name string) bool {
	e, ok := r.byName[entity]
	return ok && e.HasField(name)
}

// GetField returns the descriptor of entity.name or a *NotFoundError.
func (r *Registry) GetField(entity, name string) (*Field, error) {
	e, ok := r.byName[entity]
	if !ok {
		return nil, &NotFoundError{Entity: entity}
	}
	f, ok := e.Field(name)
	if !ok {
		return nil, &NotFoundError{Entity: entity, Field: name}
	}
	return f, nil
}

// Fields returns the fields of entity in declaration order, or nil.
func (r *Registry) Fields(entity string) []*Field {
	e, ok := r.byName[entity]
	if !ok {
		return nil
	}
	return e.Fields()
}
