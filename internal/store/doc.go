// Package store provides the SQLite-backed conversion journal.
//
// Every conversion attempt made through the gateway is appended as one
// record: direction, outcome, exit code, and content digests of the input
// and output. Artifacts themselves are never stored, only their digests and
// sizes.
//
// Records are grouped by session (one per process run) and ordered by the
// session's logical clock, never by wall time:
//
//   - All queries order by seq ASC, id ASC COLLATE BINARY
//   - Writes are idempotent on the record ID
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
//
// The default DSN ":memory:" keeps the journal for the life of the process.
package store
