// Package api defines the wire-format types and the service layer shared by
// the HTTP server and the CLI. It translates process records and queue jobs
// into transport-friendly DTOs so consumers never couple to the store's
// document layout.
//
// # Key Types
//
// Service: submit, status, list, delete, the operator overrides
// (force-advance, force-complete, repair) and queue inspection, all routed
// through the coordinator so every mutation keeps the record's invariants.
//
// ProcessItem / QueueJob: list-row views of processes and stage jobs.
//
// DaemonStatus: running state, process and queue counts, stage health and
// external dependencies.
//
// # Design Notes
//
// DTOs use camelCase JSON tags. Timestamps use RFC3339 with milliseconds.
// Errors carry the services taxonomy; StatusCode maps it onto HTTP status
// codes so guard failures surface as 409 rather than a generic 500.
package api
