// Package store persists workflow state in SQLite: instances, per-stage
// configuration snapshots, run history, and the append-only user edit log.
// A file lock on the data directory keeps concurrent processes from opening
// the same database for writing.
package store
