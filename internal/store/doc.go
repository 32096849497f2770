// Package store provides SQLite-backed durable storage for the OTA
// requestor.
//
// It persists two kinds of state:
//   - The ongoing-OTA context: a single row restored at startup so an
//     interrupted update is visible after restart.
//   - Append-only audit logs: state transitions, download errors and
//     applied versions, ordered by insertion.
//
// Ordering uses the rowid (logical sequence), never wall-clock
// timestamps; transition records carry the loop's elapsed-ms instead so
// traces stay deterministic under fast-forwarded time.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
package store
