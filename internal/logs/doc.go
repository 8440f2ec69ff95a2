// Package logs reads the daemon log file for `mediaflow logs`.
//
// Tail returns the last N matching lines and the byte offset to resume from;
// Follow polls from that offset until the context ends, restarting from the
// top when the file is truncated.
package logs
