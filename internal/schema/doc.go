// Package schema describes entities and holds their in-memory instances.
//
// An Entity is an ordered list of fields backed by one table. Most fields
// are physical columns; reference fields are virtual pseudo-columns that
// carry a composite reference descriptor and are never materialized.
//
// Field order is significant: it is the declaration order of the entity and
// the order in which the host constructs instances, so dependency checks
// compare positions.
//
// An Instance stores column values and a side-table of cache slots keyed by
// reference field name. Slots are invalidated explicitly; changing a column
// with Set does not touch them. Instances are not safe for concurrent use.
package schema
