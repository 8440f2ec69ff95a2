// Package daemonrun assembles the mediaflow runtime: database, ledger store,
// job queue, coordinator, stage handlers and the daemon that hosts them.
// The CLI uses the same builders for one-shot commands such as reconcile and
// the heavy-tier worker child.
package daemonrun
