// Package repositories implements SQLite persistence for the cache's database collaborator.
//
// Key Implementations:
//   - [TrackRepository] : track rows with sync status, pin flag, recency and size bookkeeping
//   - [SourceRepository] : registered storage roots, unique by root path
//
// Every mutation is a single statement; no call spans more than one statement except
// sequence generation, which runs in its own transaction.
//
// Sequence numbers provide stable, human-readable ordering independent of UUIDs and creation timestamps.
// The [NextSequence] function atomically increments per-table sequence counters in dedicated sequence tables.
package repositories
