package compiler

import (
	"fmt"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/errors"
	"gopkg.in/yaml.v3"

	"github.com/roach88/compositefk/internal/ir"
)

// EntityDecl is a declared entity: its fields in declaration order.
type EntityDecl struct {
	Name   string      `json:"name"`
	Fields []FieldDecl `json:"fields"`
	Pos    Position    `json:"-"`
}

// FieldDecl is one declared field. Exactly one of Type and Reference is
// set.
type FieldDecl struct {
	Name      string         `json:"name"`
	Type      string         `json:"type,omitempty"` // "string" | "int" | "bool"
	Nullable  bool           `json:"nullable,omitempty"`
	Default   ir.IRValue     `json:"default,omitempty"` // nil = NULL
	Reference *ReferenceDecl `json:"reference,omitempty"`
	Pos       Position       `json:"-"`
}

// ReferenceDecl is a declared composite reference.
type ReferenceDecl struct {
	Remote         string         `json:"remote"`
	ToFields       []PairDecl     `json:"to_fields"`
	Null           bool           `json:"null,omitempty"`
	NullIfEqual    []SentinelDecl `json:"null_if_equal,omitempty"`
	NullableFields []NullableDecl `json:"nullable_fields,omitempty"`
	Unique         bool           `json:"unique,omitempty"`
	RelatedName    string         `json:"related_name,omitempty"`
	OnDelete       string         `json:"on_delete,omitempty"`
	Pos            Position       `json:"-"`
}

// PairDecl pairs a remote column with exactly one of a local column, a raw
// value or a computed value name.
type PairDecl struct {
	Remote   string     `json:"remote"`
	Local    string     `json:"local,omitempty"`
	Raw      ir.IRValue `json:"raw,omitempty"`
	Computed string     `json:"computed,omitempty"`
	Pos      Position   `json:"-"`
}

// SentinelDecl is one null_if_equal entry.
type SentinelDecl struct {
	Field string     `json:"field"`
	Value ir.IRValue `json:"value"`
}

// NullableDecl is one nullable_fields entry. A nil Null means NULL.
type NullableDecl struct {
	Field string     `json:"field"`
	Null  ir.IRValue `json:"null,omitempty"`
}

// CompileEntity parses a CUE value into an EntityDecl.
// Uses CUE SDK's Go API directly (not CLI subprocess).
//
// The CUE value should be the entity struct itself, e.g.:
//
//	ctx := cuecontext.New()
//	v := ctx.CompileString(`entity: Customer: { fields: { ... } }`)
//	decl, err := CompileEntity(v.LookupPath(cue.ParsePath("entity.Customer")))
func CompileEntity(v cue.Value) (*EntityDecl, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	// Parse entity name from struct label (the path selector)
	var name string
	labels := v.Path().Selectors()
	if len(labels) > 0 {
		name = strings.Trim(labels[len(labels)-1].String(), `"`)
	}

	n, err := fromCUE(v)
	if err != nil {
		return nil, err
	}
	return decodeEntity(name, n)
}

// CompileYAML parses a YAML document declaring entities under the
// top-level "entity" key, in document order.
func CompileYAML(file string, data []byte) ([]EntityDecl, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, &CompileError{Field: "yaml", Message: err.Error(), Pos: Position{File: file}}
	}

	root, err := fromYAML(file, &doc)
	if err != nil {
		return nil, err
	}
	if root.kind != objectNode {
		return nil, &CompileError{Field: "yaml", Message: "document must be a mapping", Pos: root.pos}
	}

	entities, ok := root.get("entity")
	if !ok {
		return nil, nil
	}
	if entities.kind != objectNode {
		return nil, &CompileError{Field: "entity", Message: "must map entity names to entities", Pos: entities.pos}
	}

	decls := make([]EntityDecl, 0, len(entities.keys))
	for _, name := range entities.keys {
		decl, err := decodeEntity(name, entities.fields[name])
		if err != nil {
			return nil, err
		}
		decls = append(decls, *decl)
	}
	return decls, nil
}

func decodeEntity(name string, n *node) (*EntityDecl, error) {
	path := "entity." + name
	if n.kind != objectNode {
		return nil, typeError(path, "an object", n)
	}
	if err := checkKeys(path, n, "fields"); err != nil {
		return nil, err
	}

	decl := &EntityDecl{Name: name, Pos: n.pos}

	fields, ok := n.get("fields")
	if !ok {
		return nil, &CompileError{Field: path + ".fields", Message: "fields are required", Pos: n.pos}
	}
	if fields.kind != objectNode {
		return nil, typeError(path+".fields", "an object", fields)
	}

	for _, fieldName := range fields.keys {
		f, err := decodeField(path+".fields."+fieldName, fieldName, fields.fields[fieldName])
		if err != nil {
			return nil, err
		}
		decl.Fields = append(decl.Fields, *f)
	}
	return decl, nil
}

func decodeField(path, name string, n *node) (*FieldDecl, error) {
	// Shorthand: `name: "string"`
	if s, ok := n.value.(ir.IRString); ok && n.kind == scalarNode {
		return &FieldDecl{Name: name, Type: string(s), Pos: n.pos}, nil
	}
	if n.kind != objectNode {
		return nil, typeError(path, "a type name or an object", n)
	}
	if err := checkKeys(path, n, "type", "nullable", "default", "reference"); err != nil {
		return nil, err
	}

	f := &FieldDecl{Name: name, Pos: n.pos}

	if ref, ok := n.get("reference"); ok {
		if _, typed := n.get("type"); typed {
			return nil, &CompileError{Field: path, Message: "a reference field has no type", Pos: n.pos}
		}
		r, err := decodeReference(path+".reference", ref)
		if err != nil {
			return nil, err
		}
		f.Reference = r
		return f, nil
	}

	var err error
	if f.Type, err = stringAt(path, n, "type", true); err != nil {
		return nil, err
	}
	if f.Nullable, err = boolAt(path, n, "nullable"); err != nil {
		return nil, err
	}
	if d, ok := n.get("default"); ok {
		if d.kind != scalarNode {
			return nil, typeError(path+".default", "a scalar", d)
		}
		f.Default = d.value
	}
	return f, nil
}

func decodeReference(path string, n *node) (*ReferenceDecl, error) {
	if n.kind != objectNode {
		return nil, typeError(path, "an object", n)
	}
	if err := checkKeys(path, n, "remote", "to_fields", "null", "null_if_equal",
		"nullable_fields", "unique", "related_name", "on_delete"); err != nil {
		return nil, err
	}

	r := &ReferenceDecl{Pos: n.pos}
	var err error
	if r.Remote, err = stringAt(path, n, "remote", true); err != nil {
		return nil, err
	}
	if r.ToFields, err = decodeToFields(path+".to_fields", n); err != nil {
		return nil, err
	}
	if r.Null, err = boolAt(path, n, "null"); err != nil {
		return nil, err
	}
	if r.Unique, err = boolAt(path, n, "unique"); err != nil {
		return nil, err
	}
	if r.RelatedName, err = stringAt(path, n, "related_name", false); err != nil {
		return nil, err
	}
	if r.OnDelete, err = stringAt(path, n, "on_delete", false); err != nil {
		return nil, err
	}

	if list, ok := n.get("null_if_equal"); ok {
		err := eachObject(path+".null_if_equal", list, []string{"field", "value"}, func(p string, item *node) error {
			field, err := stringAt(p, item, "field", true)
			if err != nil {
				return err
			}
			v, ok := item.get("value")
			if !ok || v.kind != scalarNode {
				return &CompileError{Field: p + ".value", Message: "a scalar value is required", Pos: item.pos}
			}
			r.NullIfEqual = append(r.NullIfEqual, SentinelDecl{Field: field, Value: v.value})
			return nil
		})
		if err != nil {
			return nil, err
		}
	}

	if list, ok := n.get("nullable_fields"); ok {
		err := eachObject(path+".nullable_fields", list, []string{"field", "null"}, func(p string, item *node) error {
			field, err := stringAt(p, item, "field", true)
			if err != nil {
				return err
			}
			nf := NullableDecl{Field: field}
			if v, ok := item.get("null"); ok {
				if v.kind != scalarNode {
					return typeError(p+".null", "a scalar", v)
				}
				nf.Null = v.value
			}
			r.NullableFields = append(r.NullableFields, nf)
			return nil
		})
		if err != nil {
			return nil, err
		}
	}

	return r, nil
}

// decodeToFields accepts a list whose items are either a column name
// (same name on both sides) or an object with remote and one of local, raw
// or computed.
func decodeToFields(path string, ref *node) ([]PairDecl, error) {
	n, ok := ref.get("to_fields")
	if !ok {
		return nil, nil
	}
	if n.kind != listNode {
		return nil, typeError(path, "a list", n)
	}

	pairs := make([]PairDecl, 0, len(n.items))
	for i, item := range n.items {
		p := fmt.Sprintf("%s[%d]", path, i)

		if s, ok := item.value.(ir.IRString); ok && item.kind == scalarNode {
			pairs = append(pairs, PairDecl{Remote: string(s), Local: string(s), Pos: item.pos})
			continue
		}
		if item.kind != objectNode {
			return nil, typeError(p, "a column name or an object", item)
		}
		if err := checkKeys(p, item, "remote", "local", "raw", "computed"); err != nil {
			return nil, err
		}

		pair := PairDecl{Pos: item.pos}
		var err error
		if pair.Remote, err = stringAt(p, item, "remote", true); err != nil {
			return nil, err
		}
		if pair.Local, err = stringAt(p, item, "local", false); err != nil {
			return nil, err
		}
		if pair.Computed, err = stringAt(p, item, "computed", false); err != nil {
			return nil, err
		}
		if raw, ok := item.get("raw"); ok {
			if raw.kind != scalarNode {
				return nil, typeError(p+".raw", "a scalar", raw)
			}
			pair.Raw = raw.value
		}
		pairs = append(pairs, pair)
	}
	return pairs, nil
}

func eachObject(path string, n *node, keys []string, fn func(string, *node) error) error {
	if n.kind != listNode {
		return typeError(path, "a list", n)
	}
	for i, item := range n.items {
		p := fmt.Sprintf("%s[%d]", path, i)
		if item.kind != objectNode {
			return typeError(p, "an object", item)
		}
		if err := checkKeys(p, item, keys...); err != nil {
			return err
		}
		if err := fn(p, item); err != nil {
			return err
		}
	}
	return nil
}

func checkKeys(path string, n *node, allowed ...string) error {
	for _, k := range n.keys {
		known := false
		for _, a := range allowed {
			if k == a {
				known = true
				break
			}
		}
		if !known {
			return &CompileError{Field: path + "." + k, Message: "unknown key", Pos: n.fields[k].pos}
		}
	}
	return nil
}

func stringAt(path string, n *node, key string, required bool) (string, error) {
	v, ok := n.get(key)
	if !ok {
		if required {
			return "", &CompileError{Field: path + "." + key, Message: key + " is required", Pos: n.pos}
		}
		return "", nil
	}
	s, ok := v.value.(ir.IRString)
	if !ok || v.kind != scalarNode {
		return "", typeError(path+"."+key, "a string", v)
	}
	return string(s), nil
}

func boolAt(path string, n *node, key string) (bool, error) {
	v, ok := n.get(key)
	if !ok {
		return false, nil
	}
	b, ok := v.value.(ir.IRBool)
	if !ok || v.kind != scalarNode {
		return false, typeError(path+"."+key, "a bool", v)
	}
	return bool(b), nil
}

func typeError(path, want string, got *node) *CompileError {
	return &CompileError{
		Field:   path,
		Message: fmt.Sprintf("must be %s, got %s", want, got.kindName()),
		Pos:     got.pos,
	}
}

// CompileError represents a compilation error with source position.
type CompileError struct {
	Field   string
	Message string
	Pos     Position
}

func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s: %s: %s", e.Pos, e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}

	// CUE errors may contain multiple errors
	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}

	// Return first error with position info
	firstErr := errs[0]
	positions := errors.Positions(firstErr)
	if len(positions) > 0 {
		p := positions[0]
		return &CompileError{
			Field:   "cue",
			Message: firstErr.Error(),
			Pos:     Position{File: p.Filename(), Line: p.Line(), Column: p.Column()},
		}
	}

	return err
}
