// Package reconcile sweeps processes with outstanding stage jobs and closes
// the gaps the normal event path can leave behind: results stored in the
// queue but never written back, ledger ids whose queue row was never
// inserted, and jobs that failed without the failure reaching the record.
//
// Every repair goes through the coordinator, so a sweep that races the
// worker pool is harmless.
package reconcile
