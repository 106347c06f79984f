package compositefk

import (
	"fmt"

	"github.com/roach88/compositefk/internal/ir"
	"github.com/roach88/compositefk/internal/queryir"
	"github.com/roach88/compositefk/internal/schema"
)

// FilterFor builds the filter selecting the local rows that reference
// remote: local column = remote value for every LocalColumn pairing.
// Raw and computed pairings have no local column and are skipped.
func (m *Mapping) FilterFor(remote *schema.Instance) (queryir.And, error) {
	var preds []queryir.Predicate
	for _, p := range m.pairs {
		switch part := p.Part.(type) {
		case LocalColumn:
			preds = append(preds, queryir.Equals{Field: part.Name, Value: remote.Get(p.Remote)})
		case RawValue, ComputedValue:
		default:
			return queryir.And{}, configErrorf(m.remote, "remote column %s: unsupported part %T", p.Remote, p.Part)
		}
	}
	return queryir.And{Predicates: preds}, nil
}

// Propagate writes the consequence of assigning remote to the reference of
// local.
//
// A concrete remote copies its value of each paired remote column into the
// LocalColumn target. A nil remote resets every LocalColumn target to NULL,
// or, when nullable fields are declared, only those fields to their
// configured null values. Raw and computed pairings never write.
//
// Every write is checked before the first one is applied: on error local
// is left unchanged.
func (m *Mapping) Propagate(local, remote *schema.Instance) error {
	if remote == nil {
		return applyWrites(local, m.ClearUpdates(), "clear %s: %w")
	}

	writes, err := m.copyUpdates(remote)
	if err != nil {
		return err
	}
	return applyWrites(local, writes, "propagate to %s: %w")
}

// copyUpdates lists the writes copying remote's values into the LocalColumn
// targets.
func (m *Mapping) copyUpdates(remote *schema.Instance) ([]FieldValue, error) {
	var out []FieldValue
	for _, p := range m.pairs {
		switch part := p.Part.(type) {
		case LocalColumn:
			out = append(out, FieldValue{Field: part.Name, Value: remote.Get(p.Remote)})
		case RawValue, ComputedValue:
		default:
			return nil, configErrorf(m.remote, "remote column %s: unsupported part %T", p.Remote, p.Part)
		}
	}
	return out, nil
}

func applyWrites(local *schema.Instance, writes []FieldValue, format string) error {
	for _, fv := range writes {
		if err := local.CheckSet(fv.Field, fv.Value); err != nil {
			return fmt.Errorf(format, fv.Field, err)
		}
	}
	for _, fv := range writes {
		if err := local.Set(fv.Field, fv.Value); err != nil {
			return fmt.Errorf(format, fv.Field, err)
		}
	}
	return nil
}

// FieldValue is one column write.
type FieldValue struct {
	Field string
	Value ir.IRValue
}

// ClearUpdates lists the writes that clear the reference: the nullable
// fields with their null values, or every LocalColumn target set to NULL.
func (m *Mapping) ClearUpdates() []FieldValue {
	if len(m.nullable) > 0 {
		out := make([]FieldValue, 0, len(m.nullable))
		for _, nf := range m.nullable {
			out = append(out, FieldValue{Field: nf.Field, Value: nf.Null})
		}
		return out
	}

	var out []FieldValue
	for _, col := range m.LocalColumns() {
		out = append(out, FieldValue{Field: col, Value: ir.IRNull{}})
	}
	return out
}

// SuppressUpdate reports whether a deletion collector must skip writing
// column when clearing references to a deleted row. Only the columns of
// ClearUpdates exist and may be written; the reference field itself is a
// pseudo-column.
func (m *Mapping) SuppressUpdate(column string) bool {
	for _, fv := range m.ClearUpdates() {
		if fv.Field == column {
			return false
		}
	}
	return true
}
