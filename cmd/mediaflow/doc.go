// Package main hosts the mediaflow CLI entrypoint and command graph.
//
// The Cobra command tree runs the daemon, submits media, polls process
// status, inspects the stage job queue and exposes the operator repair
// surface. Commands talk to a running daemon over its HTTP API and fall back
// to the local database when no daemon answers, so queue inspection and
// repairs keep working while the daemon is down.
//
// Keep this package lean: behavior belongs in the internal packages and is
// surfaced here through commands and flags.
package main
