// Package stage defines the worker contract: the Request each job carries,
// the Handler that executes a stage type, and the Failure payload returned
// when a job cannot produce its result.
package stage
