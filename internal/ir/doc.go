// Package ir provides the constrained value types shared by every layer of
// compositefk: column values on instances, literals in predicates, sentinels
// in null-if-equal rules and constructor arguments in mapping declarations.
//
// This package imports nothing internal. All other internal packages import
// ir, which keeps it the foundational layer with no circular dependencies.
//
// Key design constraints:
//   - NO float types anywhere - column values are string, int64 or bool
//   - IRNull is the explicit "absent" value; a nil IRValue is never valid
//   - Scalar values are comparable with == (see Equal)
//   - Declarations serialize through MarshalCanonical (RFC 8785) so their
//     fingerprints are stable across processes
package ir
