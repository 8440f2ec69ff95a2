// Package database opens the shared SQLite file that backs both the process
// document store and the durable job queue, applies the schema, and exposes
// busy-retry helpers used by both.
package database
