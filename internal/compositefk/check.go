package compositefk

import (
	"fmt"
	"strings"

	"github.com/roach88/compositefk/internal/ir"
	"github.com/roach88/compositefk/internal/schema"
)

// Diagnostic codes reported by Check.
const (
	DiagNullIfEqualNotNullable = "E001" // null_if_equal on a reference that cannot be absent
	DiagUnknownSentinelField   = "E002" // null_if_equal or nullable_fields names a missing local field
	DiagUnknownLocalColumn     = "E003" // LocalColumn names a missing local field
	DiagUnknownRemoteColumn    = "E004" // remote column or remote entity missing
	DiagChainedReference       = "E005" // LocalColumn targets another reference
	DiagLateDependency         = "E006" // LocalColumn target declared after the reference
)

// Severity grades a diagnostic.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Diagnostic is one problem found by Check.
type Diagnostic struct {
	ID       string   `json:"id"`
	Message  string   `json:"message"`
	Severity Severity `json:"severity"`
	Subject  string   `json:"subject"` // Entity.field of the reference
	Hint     string   `json:"hint,omitempty"`
}

// String renders the diagnostic on one line.
func (d Diagnostic) String() string {
	return fmt.Sprintf("[%s] %s: %s", d.ID, d.Subject, d.Message)
}

// Schema is the introspection Check and the accessors need.
// Implemented by schema.Registry.
type Schema interface {
	Entity(name string) (*schema.Entity, bool)
	Entities() []*schema.Entity
	HasField(entity, name string) bool
	GetField(entity, name string) (*schema.Field, error)
}

// Check validates every composite reference declared on entity.
// Every applicable diagnostic is returned; checking never stops early.
// An unknown entity has no diagnostics.
func Check(s Schema, entity string) []Diagnostic {
	e, ok := s.Entity(entity)
	if !ok {
		return nil
	}

	var diags []Diagnostic
	for _, f := range e.References() {
		m, ok := f.Reference.(*Mapping)
		if !ok {
			continue
		}
		diags = append(diags, checkMapping(s, e, f.Name, m)...)
	}
	return diags
}

// CheckAll runs Check on every entity in registration order.
func CheckAll(s Schema) []Diagnostic {
	var diags []Diagnostic
	for _, e := range s.Entities() {
		diags = append(diags, Check(s, e.Name)...)
	}
	return diags
}

func checkMapping(s Schema, e *schema.Entity, field string, m *Mapping) []Diagnostic {
	subject := e.Name + "." + field
	var diags []Diagnostic
	add := func(id, hint, format string, args ...any) {
		diags = append(diags, Diagnostic{
			ID:       id,
			Message:  fmt.Sprintf(format, args...),
			Severity: SeverityError,
			Subject:  subject,
			Hint:     hint,
		})
	}

	// E001: sentinels need a reference that can be absent
	if len(m.nullIfEqual) > 0 && !m.nullRef {
		add(DiagNullIfEqualNotNullable, "declare the reference Nullable()",
			"null_if_equal is set but the reference cannot be absent")
	}

	// E002: sentinel fields must exist
	for _, sentinel := range m.nullIfEqual {
		if !s.HasField(e.Name, sentinel.Field) {
			add(DiagUnknownSentinelField, "",
				"null_if_equal field %q does not exist on %s", sentinel.Field, e.Name)
		}
	}

	// E002: nullable fields must be columns accepting their null value
	for _, nf := range m.nullable {
		target, err := s.GetField(e.Name, nf.Field)
		switch {
		case err != nil:
			add(DiagUnknownSentinelField, "",
				"nullable_fields field %q does not exist on %s", nf.Field, e.Name)
		case target.Virtual():
			add(DiagUnknownSentinelField, "list plain columns only",
				"nullable_fields field %q is a composite reference", nf.Field)
		case !target.Accepts(nf.Null):
			add(DiagUnknownSentinelField, "",
				"nullable_fields field %q cannot hold %s", nf.Field, ir.Format(nf.Null))
		}
	}

	// E003: local columns must exist
	for _, col := range m.LocalColumns() {
		if !s.HasField(e.Name, col) {
			add(DiagUnknownLocalColumn, "",
				"local column %q does not exist on %s", col, e.Name)
		}
	}

	// E004: remote columns must exist
	if remote, ok := s.Entity(m.remote); !ok {
		add(DiagUnknownRemoteColumn, "",
			"remote entity %s does not exist", m.remote)
	} else {
		for _, p := range m.pairs {
			rf, ok := remote.Field(p.Remote)
			if !ok || rf.Virtual() {
				add(DiagUnknownRemoteColumn, "",
					"remote column %q does not exist on %s", p.Remote, remote.Name)
			}
		}
	}

	// E005: no chaining through another reference
	for _, col := range m.LocalColumns() {
		target, err := s.GetField(e.Name, col)
		if err == nil && target.Virtual() {
			add(DiagChainedReference, "target a plain column",
				"local column %q is itself a composite reference", col)
		}
	}

	// E006: dependencies must be declared first
	pos := e.Position(field)
	var late []string
	for _, col := range m.LocalColumns() {
		if p := e.Position(col); p > pos {
			late = append(late, col)
		}
	}
	if len(late) > 0 {
		add(DiagLateDependency, "declare them before "+field,
			"local columns %s are declared after %s", strings.Join(late, ", "), field)
	}

	return diags
}
