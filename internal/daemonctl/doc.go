// Package daemonctl controls a running mediaflow daemon from the CLI: it
// launches and stops the background process and talks to its HTTP API.
package daemonctl
