// Package stageexec runs stage jobs from the queue.
//
// A Pool runs one set of workers per tier. Heavy-tier jobs execute in a
// child process (`mediaflow worker exec`) so a crashing transcoder cannot
// take the orchestrator down; light-tier jobs run in-process with bounded
// concurrency. Every job result is validated, stored on the queue row and
// then handed to the coordinator as an event. A lease reaper returns jobs
// whose worker vanished to the queue.
package stageexec
