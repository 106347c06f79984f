package queryir

import (
	"fmt"

	"github.com/roach88/compositefk/internal/ir"
)

// ValidationResult contains the analysis of a query before execution.
type ValidationResult struct {
	// Valid is true when the query has no warnings.
	Valid bool

	// Warnings lists problems that make the query useless or unsafe:
	// NULL comparisons that never match, missing tables, missing join
	// conditions, non-scalar literals.
	Warnings []string
}

// Validate checks a query for constructs that SQL would accept but that
// cannot mean what the caller intended.
//
// Validate is a pure function with no side effects.
func Validate(query Query) ValidationResult {
	v := &validator{
		warnings: []string{},
	}
	v.validateQuery(query)

	return ValidationResult{
		Valid:    len(v.warnings) == 0,
		Warnings: v.warnings,
	}
}

// validator accumulates warnings during traversal.
type validator struct {
	warnings []string
}

func (v *validator) addWarning(format string, args ...any) {
	v.warnings = append(v.warnings, fmt.Sprintf(format, args...))
}

func (v *validator) validateQuery(q Query) {
	if q == nil {
		v.addWarning("nil query")
		return
	}

	switch query := q.(type) {
	case Select:
		v.validateSelect(query)
	case Join:
		v.validateSelect(query.Left)
		v.validateSelect(query.Right)
		if query.On == nil {
			v.addWarning("join of %s and %s has no condition", query.Left.From, query.Right.From)
		} else {
			v.validatePredicate(query.On)
		}
	case Insert:
		if query.Into == "" {
			v.addWarning("insert without table")
		}
		for _, a := range query.Values {
			if !ir.IsScalar(a.Value) {
				v.addWarning("column '%s' assigned non-scalar value %T", a.Column, a.Value)
			}
		}
	case Update:
		if query.Table == "" {
			v.addWarning("update without table")
		}
		if len(query.Set) == 0 {
			v.addWarning("update of %s sets no column", query.Table)
		}
		for _, a := range query.Set {
			if !ir.IsScalar(a.Value) {
				v.addWarning("column '%s' assigned non-scalar value %T", a.Column, a.Value)
			}
		}
		v.validatePredicate(query.Filter)
	case Delete:
		if query.From == "" {
			v.addWarning("delete without table")
		}
		v.validatePredicate(query.Filter)
	default:
		v.addWarning("unknown query type: %T", q)
	}
}

func (v *validator) validateSelect(sel Select) {
	if sel.From == "" {
		v.addWarning("select without table")
	}
	v.validatePredicate(sel.Filter)
}

func (v *validator) validatePredicate(p Predicate) {
	switch pred := p.(type) {
	case nil:
		// nil predicates are valid (no filter)
	case Equals:
		if ir.IsNull(pred.Value) {
			v.addWarning("field '%s' compared to NULL never matches", pred.Field)
		} else if !ir.IsScalar(pred.Value) {
			v.addWarning("field '%s' compared to non-scalar value %T", pred.Field, pred.Value)
		}
	case ColumnEquals:
		if pred.Left.Table == "" || pred.Right.Table == "" {
			v.addWarning("column comparison %s = %s must name both tables", pred.Left, pred.Right)
		}
	case And:
		for _, sub := range pred.Predicates {
			v.validatePredicate(sub)
		}
	case Or:
		for _, sub := range pred.Predicates {
			v.validatePredicate(sub)
		}
	default:
		v.addWarning("unknown predicate type: %T", p)
	}
}
