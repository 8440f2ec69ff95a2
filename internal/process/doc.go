// Package process models the Process record: one in-flight media job with its
// status, progress, stage outputs, job ledger, and the append-only history and
// error log.
//
// All mutation helpers validate on write. List- and vector-typed fields are
// rejected when mis-shaped rather than coerced, and Detect reports persisted
// documents whose fields were stored in an unexpected shape so they can be
// routed to the explicit repair migration.
package process
