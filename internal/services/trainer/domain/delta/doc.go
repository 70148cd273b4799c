// Package delta encodes the difference between two snapshots of one session
// and rebuilds a snapshot from a base plus a record.
//
// A Record names changed fields with namespaced keys:
//   - payload.<key> for exercise payload fields,
//   - difficulty.<category> for difficulty states,
//   - phase, phase_deadline, round_index and stopped for the scalars.
//
// Records are only valid against the snapshot whose version equals
// FromVersion. When the server no longer retains that base it sends a Full
// record instead (Removed = ["*"]), which applies to any base, so client
// reconciliation stays a single Apply call.
package delta
