// Package ffprobe provides a typed wrapper around ffprobe JSON output.
//
// Inspect runs ffprobe and returns the parsed Result; Prober wraps it as an
// injectable function so stage handlers can be tested without the binary.
// Helper methods on Result expose stream counts, the primary video stream,
// duration and bitrate.
package ffprobe
