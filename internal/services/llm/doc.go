// Package llm is the HTTP client behind the analysis stages. It speaks the
// OpenAI-compatible chat completions and embeddings protocols.
//
// Requests are retried on HTTP 408, 429 and 5xx, on network timeouts and on
// empty completions, with exponential backoff (1s doubling to 10s, five
// attempts by default) that honours Retry-After. Errors that survive the
// retries carry services markers from Classify: a rejected key fails the
// stage at once while throttling consumes the job retry budget.
package llm
