// Package daemon coordinates the long-running mediaflow process.
//
// It wires the worker pool, the reconciliation loop and the HTTP API into a
// single lifecycle with flock-based locking to prevent two instances from
// sharing one database. The daemon exposes status summaries combining
// process counts, queue depth, stage health and external dependencies.
//
// Keep orchestration logic here: stage semantics live in the handler
// packages and every record mutation goes through the workflow coordinator.
package daemon
