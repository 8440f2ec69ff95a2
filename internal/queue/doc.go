// Package queue implements the durable job queue on the shared SQLite
// database: at-least-once delivery through leased claims, per-stage
// channels, bounded attempts, and a result store that retains each job's
// return value by id for reconciliation.
package queue
