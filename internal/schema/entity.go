package schema

import (
	"fmt"
	"strings"

	"github.com/roach88/compositefk/internal/ir"
)

// PrimaryKey is the implicit integer key column of every entity.
const PrimaryKey = "id"

// Kind is the storage type of a field.
type Kind string

const (
	KindString Kind = "string"
	KindInt    Kind = "int"
	KindBool   Kind = "bool"

	// KindReference marks a virtual field holding a composite reference.
	KindReference Kind = "reference"
)

// Reference is the descriptor carried by a KindReference field.
// It is implemented by compositefk.Mapping.
type Reference interface {
	RemoteEntity() string
}

// Field describes one field of an entity.
type Field struct {
	Name     string
	Kind     Kind
	Nullable bool

	// Default is the value of a new instance's field (nil = NULL).
	Default ir.IRValue

	// Reference is set only for KindReference fields.
	Reference Reference
}

// Virtual reports whether the field has no physical column.
func (f *Field) Virtual() bool {
	return f.Kind == KindReference
}

// Accepts reports whether v can be stored in the field.
// NULL is accepted for every column; NOT NULL is enforced by the store.
func (f *Field) Accepts(v ir.IRValue) bool {
	if ir.IsNull(v) {
		return true
	}
	switch f.Kind {
	case KindString:
		_, ok := v.(ir.IRString)
		return ok
	case KindInt:
		_, ok := v.(ir.IRInt)
		return ok
	case KindBool:
		_, ok := v.(ir.IRBool)
		return ok
	default:
		return false
	}
}

// Entity is an ordered set of fields stored in one table.
type Entity struct {
	Name  string
	Table string

	fields []*Field
	index  map[string]int
}

// NewEntity builds an entity from fields in declaration order.
// The table defaults to the lower-cased entity name. An integer "id"
// primary key is prepended unless declared.
func NewEntity(name string, fields ...Field) (*Entity, error) {
	if name == "" {
		return nil, fmt.Errorf("entity name is required")
	}

	e := &Entity{
		Name:  name,
		Table: strings.ToLower(name),
		index: make(map[string]int, len(fields)+1),
	}

	hasPK := false
	for _, f := range fields {
		if f.Name == PrimaryKey {
			hasPK = true
			break
		}
	}
	if !hasPK {
		if err := e.addField(Field{Name: PrimaryKey, Kind: KindInt, Nullable: true}); err != nil {
			return nil, err
		}
	}

	for _, f := range fields {
		if err := e.addField(f); err != nil {
			return nil, fmt.Errorf("entity %s: %w", name, err)
		}
	}
	return e, nil
}

// MustEntity is NewEntity that panics on error. Intended for fixtures.
func MustEntity(name string, fields ...Field) *Entity {
	e, err := NewEntity(name, fields...)
	if err != nil {
		panic(err)
	}
	return e
}

func (e *Entity) addField(f Field) error {
	if f.Name == "" {
		return fmt.Errorf("field name is required")
	}
	if _, dup := e.index[f.Name]; dup {
		return fmt.Errorf("duplicate field %q", f.Name)
	}

	switch f.Kind {
	case KindString, KindInt, KindBool:
		if f.Reference != nil {
			return fmt.Errorf("field %q: only reference fields carry a reference", f.Name)
		}
		if !f.Accepts(f.Default) {
			return fmt.Errorf("field %q: default %s is not a %s", f.Name, ir.Format(f.Default), f.Kind)
		}
	case KindReference:
		if f.Reference == nil {
			return fmt.Errorf("field %q: reference field without reference", f.Name)
		}
	default:
		return fmt.Errorf("field %q: unknown kind %q", f.Name, f.Kind)
	}

	field := f
	e.index[f.Name] = len(e.fields)
	e.fields = append(e.fields, &field)
	return nil
}

// Fields returns every field in declaration order.
func (e *Entity) Fields() []*Field {
	out := make([]*Field, len(e.fields))
	copy(out, e.fields)
	return out
}

// Field looks up a field by name.
func (e *Entity) Field(name string) (*Field, bool) {
	i, ok := e.index[name]
	if !ok {
		return nil, false
	}
	return e.fields[i], true
}

// HasField reports whether the entity declares name.
func (e *Entity) HasField(name string) bool {
	_, ok := e.index[name]
	return ok
}

// Position returns the declaration index of name, or -1.
func (e *Entity) Position(name string) int {
	i, ok := e.index[name]
	if !ok {
		return -1
	}
	return i
}

// Columns returns the physical fields in declaration order.
func (e *Entity) Columns() []*Field {
	var out []*Field
	for _, f := range e.fields {
		if !f.Virtual() {
			out = append(out, f)
		}
	}
	return out
}

// References returns the virtual reference fields in declaration order.
func (e *Entity) References() []*Field {
	var out []*Field
	for _, f := range e.fields {
		if f.Virtual() {
			out = append(out, f)
		}
	}
	return out
}
