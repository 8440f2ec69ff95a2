// Package notifications pushes terminal process outcomes to ntfy.
//
// The topic comes from the [notifications] section of config.toml. When no
// topic is configured NewService returns a no-op, so callers never need to
// check whether notifications are enabled before sending.
package notifications
