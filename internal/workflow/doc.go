// Package workflow hosts the stage Coordinator.
//
// The Coordinator is purely event driven. Each stage-completion or failure
// event is applied to the Process record in one atomic read-modify-write that
// validates the result, updates progress and the ledger, and records the job
// ids of every stage whose prerequisites are now all satisfied. The jobs are
// enqueued after the record commits; a crash in between leaves ledger ids
// without queue rows, which the reconciliation sweep re-enqueues from the
// same deterministic payload.
//
// Handlers are idempotent per (process, stage, unit). Duplicate deliveries
// are logged and discarded, results arriving after a process failed are kept
// for diagnostics without issuing further stages, and write-backs for
// deleted processes are dropped.
package workflow
