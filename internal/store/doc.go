// Package store provides SQLite-backed storage for entities related by
// composite references.
//
// The store provides:
//   - Entity tables: one table per registered entity, one column per
//     concrete field; reference fields have no column
//   - Reference indexes: one index per composite reference over its local
//     columns, UNIQUE for one-to-one references
//   - Query execution: compiled QueryIR selects and joins, materialized as
//     schema instances (Store satisfies compositefk.QueryEngine)
//   - Deletion collection: on_delete actions applied in one transaction
//   - Declaration records: canonical declarations of every reference, so a
//     changed reference is noticed on the next run
//
// # Critical Patterns
//
// Deterministic Query Results
//   - Every SELECT orders by primary key
//   - Rows are returned once each, even through joins
//
// Parameterized SQL
//   - Values are always bound as ? parameters
//   - Identifiers are validated, never quoted
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
//
// Declaration fingerprints are computed by compositefk.Declaration using
// RFC 8785 canonical JSON and SHA-256 with domain separation.
package store
