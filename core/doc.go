// Package core defines the domain model shared by every Vigil component.
//
// # Entities
//
// The console tracks three entity kinds plus one aggregate:
//   - Threat: a detection with an ordered lifecycle (active, mitigating, resolved)
//   - Alert: an operator notification with a one-way read flag
//   - LogEntry: an immutable log observation with an anomaly score
//   - Stats: dashboard counters reported by the backend
//
// # Patches
//
// Snapshot items and push payloads never arrive as complete entities. They are
// decoded into *Patch types whose pointer fields distinguish "absent" from
// "zero", validated, and then merged by the store. Merge rules live in the
// store package; this package only defines the orderings the rules rely on.
//
// # Errors
//
// errors.go holds the error taxonomy. Every typed error matches one sentinel
// via errors.Is so callers can classify without type switches.
package core
