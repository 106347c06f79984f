// Package compositefk implements composite foreign keys: a reference from a
// local entity to a remote entity identified by several columns at once.
//
// A Mapping pairs each remote column with a Part:
//
//	compositefk.New("Address", []compositefk.Pairing{
//	    {Remote: "tiers_id", Part: compositefk.Local("customer_id")},
//	    {Remote: "company", Part: compositefk.Local("company")},
//	    {Remote: "type_tiers", Part: compositefk.Raw("C")},
//	})
//
// resolves a customer's address with
//
//	tiers_id = customer.customer_id AND company = customer.company AND type_tiers = 'C'
//
// Only LocalColumn parts form the physical join and receive values when a
// reference is assigned. RawValue and ComputedValue parts only filter.
//
// # Resolution
//
// Resolve builds the forward filter, or reports the reference absent when a
// null_if_equal sentinel matches. FilterFor and Propagate work in the
// reverse direction. None of them query; Accessor and ReverseAccessor hand
// the filters to a QueryEngine and cache outcomes in the instance's slots.
//
// # Validation
//
// Check reports declaration problems against the schemas as diagnostics
// E001 to E006. Problems of shape are ConfigurationErrors returned by New.
//
// # Concurrency
//
// Mappings are immutable and may be shared. Instances, and therefore
// accessor calls on them, must be serialized by the caller.
package compositefk
