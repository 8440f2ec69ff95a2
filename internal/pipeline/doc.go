// Package pipeline declares the fixed media stage graph: stage names, the
// prerequisite sets evaluated by the coordinator, the worker tier of each
// stage, the progress weight table, and the tagged result payload each stage
// produces.
package pipeline
