// Package services defines shared utilities consumed by the stage handlers,
// the coordinator, and external integrations.
//
// Key responsibilities:
//   - Context helpers that stamp process IDs, job IDs, stage names, worker
//     tiers, and correlation identifiers for logging and tracing.
//   - Structured error markers plus the Wrap helper, and the Classify and
//     Retryable helpers that map failures onto ledger categories and retry
//     decisions.
//
// Use these helpers when wiring new stage logic so operational behaviour (error
// handling, observability, retries) stays uniform across the pipeline.
package services
