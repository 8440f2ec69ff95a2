// Package store persists Process documents in SQLite.
//
// Every mutation goes through Mutate, a read-modify-write inside one
// immediate transaction, so sibling branch completions racing on the same
// record never lose updates. The job ledger is mirrored into process_jobs,
// whose primary key guarantees a job id belongs to exactly one
// (process, stage) pair.
package store
