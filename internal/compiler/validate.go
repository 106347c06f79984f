package compiler

import (
	"fmt"

	"github.com/roach88/compositefk/internal/compositefk"
	"github.com/roach88/compositefk/internal/ir"
	"github.com/roach88/compositefk/internal/schema"
)

// Validation error codes (E100-E199)
const (
	// Entity errors (E100-E104)
	ErrDuplicateEntity = "E100" // entity declared twice
	ErrEntityNoFields  = "E101" // at least one field required
	ErrDuplicateField  = "E102" // field declared twice in one entity
	ErrInvalidType     = "E103" // unknown field type
	ErrInvalidDefault  = "E104" // default does not match the field type

	// Reference errors (E110-E119)
	ErrReferenceNoRemote   = "E110" // remote entity missing
	ErrReferenceNoFields   = "E111" // to_fields missing or empty
	ErrInvalidPairing      = "E112" // pairing must set exactly one part
	ErrInvalidOnDelete     = "E113" // unknown on_delete action
	ErrUnknownValueFunc    = "E114" // computed value not registered
	ErrReferenceNullable   = "E115" // nullable reference field
	ErrReferenceHasDefault = "E116" // reference field with a default
)

// ValidationError represents a declaration validation error.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
	Line    int    `json:"line,omitempty"`
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("[%s] line %d: %s: %s", e.Code, e.Line, e.Field, e.Message)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Field, e.Message)
}

// Validate checks declarations before they are built.
// Returns all errors found (does not fail-fast).
//
// Computed value names are checked against funcs; a nil funcs skips the
// check. Cross-entity rules (remote columns, local columns, ordering) are
// the composite reference checks run on the built registry.
func Validate(decls []EntityDecl, funcs *compositefk.FuncRegistry) []ValidationError {
	var errs []ValidationError

	entityNames := make(map[string]bool)
	for _, e := range decls {
		path := "entity." + e.Name

		// E100: duplicate entity
		if entityNames[e.Name] {
			errs = append(errs, ValidationError{
				Field:   path,
				Message: fmt.Sprintf("duplicate entity name: %q", e.Name),
				Code:    ErrDuplicateEntity,
				Line:    e.Pos.Line,
			})
		}
		entityNames[e.Name] = true

		// E101: at least one field
		if len(e.Fields) == 0 {
			errs = append(errs, ValidationError{
				Field:   path + ".fields",
				Message: "at least one field is required",
				Code:    ErrEntityNoFields,
				Line:    e.Pos.Line,
			})
		}

		fieldNames := make(map[string]bool)
		for _, f := range e.Fields {
			fpath := path + ".fields." + f.Name

			// E102: duplicate field
			if fieldNames[f.Name] {
				errs = append(errs, ValidationError{
					Field:   fpath,
					Message: fmt.Sprintf("duplicate field name: %q", f.Name),
					Code:    ErrDuplicateField,
					Line:    f.Pos.Line,
				})
			}
			fieldNames[f.Name] = true

			if f.Reference != nil {
				errs = append(errs, validateReferenceField(fpath, f, funcs)...)
				continue
			}
			errs = append(errs, validateColumnField(fpath, f)...)
		}
	}

	return errs
}

func validateColumnField(path string, f FieldDecl) []ValidationError {
	kind := schema.Kind(f.Type)
	switch kind {
	case schema.KindString, schema.KindInt, schema.KindBool:
	default:
		// E103: unknown type
		return []ValidationError{{
			Field:   path + ".type",
			Message: fmt.Sprintf("invalid type %q for field %q, want string, int or bool", f.Type, f.Name),
			Code:    ErrInvalidType,
			Line:    f.Pos.Line,
		}}
	}

	// E104: default must match
	probe := schema.Field{Name: f.Name, Kind: kind}
	if f.Default != nil && !probe.Accepts(f.Default) {
		return []ValidationError{{
			Field:   path + ".default",
			Message: fmt.Sprintf("default %s is not a %s", ir.Format(f.Default), f.Type),
			Code:    ErrInvalidDefault,
			Line:    f.Pos.Line,
		}}
	}
	return nil
}

func validateReferenceField(path string, f FieldDecl, funcs *compositefk.FuncRegistry) []ValidationError {
	var errs []ValidationError
	r := f.Reference
	rpath := path + ".reference"

	// E115/E116: nullability and defaults belong to the reference options
	if f.Nullable {
		errs = append(errs, ValidationError{
			Field:   path + ".nullable",
			Message: "reference fields declare nullability with reference.null",
			Code:    ErrReferenceNullable,
			Line:    f.Pos.Line,
		})
	}
	if f.Default != nil {
		errs = append(errs, ValidationError{
			Field:   path + ".default",
			Message: "reference fields have no default",
			Code:    ErrReferenceHasDefault,
			Line:    f.Pos.Line,
		})
	}

	// E110: remote required
	if r.Remote == "" {
		errs = append(errs, ValidationError{
			Field:   rpath + ".remote",
			Message: "remote entity is required",
			Code:    ErrReferenceNoRemote,
			Line:    r.Pos.Line,
		})
	}

	// E111: to_fields required
	if len(r.ToFields) == 0 {
		errs = append(errs, ValidationError{
			Field:   rpath + ".to_fields",
			Message: "at least one pairing is required",
			Code:    ErrReferenceNoFields,
			Line:    r.Pos.Line,
		})
	}

	for i, p := range r.ToFields {
		ppath := fmt.Sprintf("%s.to_fields[%d]", rpath, i)

		// E112: exactly one part
		set := 0
		if p.Local != "" {
			set++
		}
		if p.Raw != nil {
			set++
		}
		if p.Computed != "" {
			set++
		}
		if set != 1 {
			errs = append(errs, ValidationError{
				Field:   ppath,
				Message: fmt.Sprintf("remote column %q needs exactly one of local, raw or computed, got %d", p.Remote, set),
				Code:    ErrInvalidPairing,
				Line:    p.Pos.Line,
			})
			continue
		}

		// E114: computed value registered
		if p.Computed != "" && funcs != nil {
			if _, ok := funcs.Lookup(p.Computed); !ok {
				errs = append(errs, ValidationError{
					Field:   ppath + ".computed",
					Message: fmt.Sprintf("unknown value function %q (%s)", p.Computed, funcs.Available()),
					Code:    ErrUnknownValueFunc,
					Line:    p.Pos.Line,
				})
			}
		}
	}

	// E113: on_delete
	switch compositefk.OnDeleteAction(r.OnDelete) {
	case "", compositefk.Cascade, compositefk.SetNull, compositefk.DoNothing:
	default:
		errs = append(errs, ValidationError{
			Field:   rpath + ".on_delete",
			Message: fmt.Sprintf("invalid on_delete %q, must be CASCADE, SET_NULL or DO_NOTHING", r.OnDelete),
			Code:    ErrInvalidOnDelete,
			Line:    r.Pos.Line,
		})
	}

	return errs
}
