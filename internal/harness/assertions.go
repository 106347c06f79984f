package harness

import (
	"context"
	"fmt"
	"strings"

	"github.com/roach88/compositefk/internal/ir"
	"github.com/roach88/compositefk/internal/queryir"
	"github.com/roach88/compositefk/internal/schema"
	"github.com/roach88/compositefk/internal/store"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for _, event := range e.Trace {
			fmt.Fprintf(&buf, "  [%d] %s %s\n", event.Seq, event.Key(), event.Outcome)
		}
	}

	return buf.String()
}

// matchEvent reports whether event is an op on subject. An empty subject
// matches any.
func matchEvent(event TraceEvent, op, subject string) bool {
	return event.Op == op && (subject == "" || event.Subject == subject)
}

func describe(op, subject string) string {
	if subject == "" {
		return op
	}
	return op + " " + subject
}

// assertTraceContains checks if the trace contains an op on the subject.
func assertTraceContains(trace []TraceEvent, assertion Assertion) error {
	for _, event := range trace {
		if matchEvent(event, assertion.Op, assertion.Subject) {
			return nil
		}
	}

	return &AssertionError{
		Type:     AssertTraceContains,
		Expected: describe(assertion.Op, assertion.Subject),
		Actual:   "not found in trace",
		Trace:    trace,
	}
}

// assertTraceOrder checks if events appear in the specified order.
// Events don't need to be consecutive (intervening events are allowed).
func assertTraceOrder(trace []TraceEvent, assertion Assertion) error {
	// First position of each expected event, 1-indexed for readability
	positions := make(map[string]int)
	for i, event := range trace {
		key := event.Key()
		if positions[key] == 0 {
			positions[key] = i + 1
		}
	}

	for _, key := range assertion.Events {
		if positions[key] == 0 {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("all events present: %v", assertion.Events),
				Actual:   fmt.Sprintf("missing event: %s", key),
				Trace:    trace,
			}
		}
	}

	for i := 1; i < len(assertion.Events); i++ {
		prev := assertion.Events[i-1]
		curr := assertion.Events[i]
		if positions[prev] >= positions[curr] {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("events in order: %v", assertion.Events),
				Actual: fmt.Sprintf("%s (pos %d) should be before %s (pos %d)",
					prev, positions[prev], curr, positions[curr]),
				Trace: trace,
			}
		}
	}
	return nil
}

// assertTraceCount checks if the op appears exactly the specified number of times.
func assertTraceCount(trace []TraceEvent, assertion Assertion) error {
	count := 0
	for _, event := range trace {
		if matchEvent(event, assertion.Op, assertion.Subject) {
			count++
		}
	}

	if count != *assertion.Count {
		return &AssertionError{
			Type:     AssertTraceCount,
			Expected: fmt.Sprintf("%d occurrences of %s", *assertion.Count, describe(assertion.Op, assertion.Subject)),
			Actual:   fmt.Sprintf("%d occurrences", count),
			Trace:    trace,
		}
	}
	return nil
}

// assertFinalState queries an entity's table and checks the matching rows.
// With Count set the number of matching rows must equal it; with Expect set
// exactly one row must match and hold the expected values (subset match).
func assertFinalState(ctx context.Context, st *store.Store, reg *schema.Registry, assertion Assertion) error {
	e, ok := reg.Entity(assertion.Entity)
	if !ok {
		return fmt.Errorf("final_state: unknown entity %q", assertion.Entity)
	}

	filter, err := buildFilter(e, assertion.Where)
	if err != nil {
		return fmt.Errorf("final_state: %w", err)
	}

	rows, err := st.Execute(ctx, queryir.Select{From: e.Table, Filter: filter})
	if err != nil {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("query %s", e.Name),
			Actual:   fmt.Sprintf("query error: %v", err),
		}
	}

	whereDesc := formatWhere(assertion.Where)
	if assertion.Count != nil && len(rows) != *assertion.Count {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("%d row(s) in %s where %s", *assertion.Count, e.Name, whereDesc),
			Actual:   fmt.Sprintf("%d row(s)", len(rows)),
		}
	}
	if len(assertion.Expect) == 0 {
		return nil
	}

	switch len(rows) {
	case 0:
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("row in %s where %s", e.Name, whereDesc),
			Actual:   "row not found",
		}
	case 1:
	default:
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("exactly one row in %s where %s", e.Name, whereDesc),
			Actual:   "multiple rows matched (assertion is ambiguous)",
		}
	}

	row := rows[0]
	for _, col := range sortedKeys(assertion.Expect) {
		if f, ok := e.Field(col); !ok || f.Virtual() {
			return &AssertionError{
				Type:     AssertFinalState,
				Expected: fmt.Sprintf("column %q to exist", col),
				Actual:   fmt.Sprintf("%s has no column %q", e.Name, col),
			}
		}
		want, err := convertToIRValue(assertion.Expect[col])
		if err != nil {
			return fmt.Errorf("final_state: expect %q: %w", col, err)
		}
		if got := row.Get(col); !ir.Equal(want, got) {
			return &AssertionError{
				Type:     AssertFinalState,
				Expected: fmt.Sprintf("column %q = %s", col, ir.Format(want)),
				Actual:   fmt.Sprintf("column %q = %s", col, ir.Format(got)),
			}
		}
	}
	return nil
}

// buildFilter turns where into an equality filter. Keys are sorted for
// determinism. As in SQL, a NULL value matches no row.
func buildFilter(e *schema.Entity, where map[string]any) (queryir.Predicate, error) {
	if len(where) == 0 {
		return nil, nil
	}
	preds := make([]queryir.Predicate, 0, len(where))
	for _, col := range sortedKeys(where) {
		if f, ok := e.Field(col); !ok || f.Virtual() {
			return nil, fmt.Errorf("%s has no column %q", e.Name, col)
		}
		v, err := convertToIRValue(where[col])
		if err != nil {
			return nil, fmt.Errorf("where %q: %w", col, err)
		}
		preds = append(preds, queryir.Equals{Field: col, Value: v})
	}
	return queryir.And{Predicates: preds}, nil
}

// formatWhere formats where for error messages.
func formatWhere(where map[string]any) string {
	if len(where) == 0 {
		return "(all rows)"
	}
	parts := make([]string, 0, len(where))
	for _, col := range sortedKeys(where) {
		parts = append(parts, fmt.Sprintf("%s=%v", col, where[col]))
	}
	return strings.Join(parts, ", ")
}

// AssertionContext provides context for evaluating assertions.
type AssertionContext struct {
	Store    *store.Store
	Registry *schema.Registry
	Ctx      context.Context
}

// EvaluateAssertions evaluates all assertions against the result.
// Returns a slice of error messages for failed assertions.
// The actx parameter provides database access for final_state assertions.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var errors []string

	for i, assertion := range assertions {
		var err error

		switch assertion.Type {
		case AssertTraceContains:
			err = assertTraceContains(result.Trace, assertion)
		case AssertTraceOrder:
			err = assertTraceOrder(result.Trace, assertion)
		case AssertTraceCount:
			if assertion.Count == nil {
				err = fmt.Errorf("assertion[%d]: trace_count requires count", i)
			} else {
				err = assertTraceCount(result.Trace, assertion)
			}
		case AssertFinalState:
			if actx == nil || actx.Store == nil || actx.Registry == nil {
				err = fmt.Errorf("assertion[%d]: final_state requires database context", i)
			} else {
				err = assertFinalState(actx.Ctx, actx.Store, actx.Registry, assertion)
			}
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, assertion.Type)
		}

		if err != nil {
			errors = append(errors, err.Error())
		}
	}

	return errors
}
