package queryir

import "github.com/roach88/compositefk/internal/ir"

// Query represents an abstract query in the QueryIR.
//
// This is a sealed interface - only types in this package implement it.
type Query interface {
	queryNode() // Marker method - seals interface to this package
}

// Predicate represents a filter condition in the QueryIR.
//
// This is a sealed interface - only types in this package implement it.
// Predicate types:
//   - Equals: field = literal_value
//   - ColumnEquals: left.column = right.column
//   - And: all predicates must be true
//   - Or: at least one predicate must be true
type Predicate interface {
	predicateNode() // Marker method - seals interface to this package
}

// Select fetches rows of one table.
//
// Semantics:
//
//	SELECT <columns> FROM <from> WHERE <filter>
//
// Example:
//
//	Select{
//	  From: "address",
//	  Filter: And{Predicates: []Predicate{
//	    Equals{Field: "tiers_id", Value: ir.IRInt(7)},
//	    Equals{Field: "company", Value: ir.IRInt(3)},
//	    Equals{Field: "type_tiers", Value: ir.IRString("C")},
//	  }},
//	}
//
// translates to:
//
//	SELECT * FROM address
//	WHERE tiers_id = ? AND company = ? AND type_tiers = ?
type Select struct {
	From    string    // Table name
	Columns []string  // Selected columns (nil = every column)
	Filter  Predicate // WHERE conditions (nil = no filter)
}

func (Select) queryNode() {}

// Join fetches rows of Left that match at least one row of Right.
//
// Semantics:
//
//	SELECT DISTINCT left.* FROM <left> INNER JOIN <right> ON <on>
//	WHERE <left.filter> AND <right.filter>
//
// Field names inside Left.Filter and Right.Filter are qualified with their
// own table; ColumnEquals leaves in On carry explicit tables. LeftSide and
// RightSide name the two sides when both read the same table.
type Join struct {
	Left  Select    // Rows returned
	Right Select    // Rows the left side must relate to
	On    Predicate // Join condition (required)
}

func (Join) queryNode() {}

// Table names that always refer to one side of a Join.
const (
	LeftSide  = "l"
	RightSide = "r"
)

// Assignment is one column write of an Update.
type Assignment struct {
	Column string
	Value  ir.IRValue
}

// Insert adds one row. Columns missing from Values take their SQL default.
type Insert struct {
	Into   string
	Values []Assignment // Column order of the statement
}

func (Insert) queryNode() {}

// Update writes columns on every row matching Filter.
type Update struct {
	Table  string
	Set    []Assignment // Applied in order
	Filter Predicate    // nil = every row
}

func (Update) queryNode() {}

// Delete removes every row matching Filter.
type Delete struct {
	From   string
	Filter Predicate // nil = every row
}

func (Delete) queryNode() {}

// Equals represents a field-equals-literal predicate.
//
// Semantics:
//
//	<field> = <value>
type Equals struct {
	Field string     // Column name in the current query source
	Value ir.IRValue // Literal value (scalar)
}

func (Equals) predicateNode() {}

// ColumnRef names a column of a specific table.
type ColumnRef struct {
	Table  string
	Column string
}

// String renders the reference as table.column.
func (c ColumnRef) String() string {
	return c.Table + "." + c.Column
}

// ColumnEquals compares two columns; it is the leaf of a physical join.
type ColumnEquals struct {
	Left  ColumnRef
	Right ColumnRef
}

func (ColumnEquals) predicateNode() {}

// And represents a conjunction of predicates (all must be true).
// An empty And is always true.
type And struct {
	Predicates []Predicate
}

func (And) predicateNode() {}

// Or represents a disjunction of predicates (at least one must be true).
// An empty Or is always false.
type Or struct {
	Predicates []Predicate
}

func (Or) predicateNode() {}

// Leaves returns the equality leaves of p in depth-first order.
func Leaves(p Predicate) []Predicate {
	var leaves []Predicate
	var walk func(Predicate)
	walk = func(p Predicate) {
		switch pred := p.(type) {
		case nil:
		case Equals, ColumnEquals:
			leaves = append(leaves, pred)
		case And:
			for _, sub := range pred.Predicates {
				walk(sub)
			}
		case Or:
			for _, sub := range pred.Predicates {
				walk(sub)
			}
		}
	}
	walk(p)
	return leaves
}
