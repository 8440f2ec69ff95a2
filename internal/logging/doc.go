// Package logging builds the slog loggers used by the daemon, the CLI and
// the stage workers.
//
// Two formats exist: a console line format that leads with process_id, stage
// and job_id after the message, and a JSON format with ts/level/msg keys.
// WithContext copies identifiers from a context onto a logger, and
// WarnWithContext/ErrorWithContext guarantee the event_type and error_hint
// fields that operators filter on.
package logging
