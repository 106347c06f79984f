// Package queryir provides the abstract query intermediate representation
// (IR) that composite references hand to a query engine.
//
// QueryIR is the abstraction boundary between predicate construction
// (internal/compositefk) and query execution (internal/store):
//
//	[composite mapping] → [Query IR] → [SQL backend (querysql + store)]
//
// PREDICATES:
//
// A predicate is a composable AND/OR tree whose leaves are equalities:
//   - Equals(field, literal) - one pairing of a forward or reverse filter
//   - ColumnEquals(left, right) - one column pair of a physical join
//   - And / Or - conjunction / disjunction (empty And is true, empty Or is false)
//
// QUERIES:
//   - Select(from, columns, filter) - fetch rows of one entity
//   - Join(left, right, on) - fetch left rows related to filtered right rows
//   - Update(table, set, filter) - used by the deletion collector for SET NULL
//   - Delete(from, filter) - used by the deletion collector for CASCADE
//
// SEALED INTERFACES:
//
// Query and Predicate are sealed interfaces using the marker method pattern.
// Only types in this package can implement them, which lets backends use
// exhaustive type switches:
//
//	switch q := query.(type) {
//	case Select:
//	    // Handle select
//	case Join:
//	    // Handle join
//	...
//	default:
//	    // Unreachable for values built by this module
//	}
//
// All literal values are ir.IRValue scalars. Comparing a column to IRNull
// never matches in SQL; Validate reports such predicates.
package queryir
